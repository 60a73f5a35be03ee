package track

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"track-simulator/internal/geo"
)

// ErrDuplicateID is returned when two features resolve to the same path id.
var ErrDuplicateID = errors.New("duplicate path id")

// Load reads a GeoJSON FeatureCollection of LineStrings from file.
func Load(file string, unit geo.Unit) ([]Path, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open tracks: %w", err)
	}
	defer f.Close()
	return Parse(f, unit)
}

// Parse decodes a FeatureCollection and measures every path once. A feature
// without an id is identified by its index in the collection. Two features
// with the same explicit id are rejected.
func Parse(r io.Reader, unit geo.Unit) ([]Path, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read tracks: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse tracks: %w", err)
	}
	if len(fc.Features) == 0 {
		return nil, errors.New("tracks: feature collection is empty")
	}

	explicit := make(map[string]bool, len(fc.Features))
	for _, f := range fc.Features {
		if id, ok := featureID(f.ID); ok {
			explicit[id] = true
		}
	}

	paths := make([]Path, 0, len(fc.Features))
	seen := make(map[string]int, len(fc.Features))
	for i, f := range fc.Features {
		id, ok := featureID(f.ID)
		if !ok {
			id = positionalID(i, explicit)
		}
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("feature %d: %w %q (first used by feature %d)", i, ErrDuplicateID, id, prev)
		}
		seen[id] = i

		ls, ok := f.Geometry.(orb.LineString)
		if !ok {
			kind := "null"
			if f.Geometry != nil {
				kind = f.Geometry.GeoJSONType()
			}
			return nil, fmt.Errorf("feature %d (%s): geometry is %s, want LineString", i, id, kind)
		}
		if err := geo.Validate(ls); err != nil {
			return nil, fmt.Errorf("feature %d (%s): %w", i, id, err)
		}

		rev := ls.Clone()
		rev.Reverse()
		paths = append(paths, Path{
			ID:         id,
			Geometry:   ls,
			Reversed:   rev,
			Length:     geo.PathLength(ls, unit),
			Properties: f.Properties,
		})
	}
	return paths, nil
}

func featureID(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		if v != "" {
			return v, true
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	}
	return "", false
}

// positionalID names an id-less feature after its index, suffixed when a
// feature elsewhere in the collection claims that id explicitly.
func positionalID(index int, taken map[string]bool) string {
	id := strconv.Itoa(index)
	for n := 1; taken[id]; n++ {
		id = fmt.Sprintf("%d#%d", index, n)
	}
	return id
}
