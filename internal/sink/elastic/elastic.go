package elastic

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog"

	"track-simulator/internal/sink"
	"track-simulator/internal/track"
)

type Config struct {
	URL         string
	Username    string
	Password    string
	InsecureTLS bool
}

// Sink writes samples to an Elasticsearch index through the bulk API.
type Sink struct {
	es  *elasticsearch.Client
	log zerolog.Logger
}

var _ sink.Sink = (*Sink)(nil)

func New(cfg Config, log zerolog.Logger) (*Sink, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureTLS}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: tr,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return &Sink{es: es, log: log}, nil
}

func (s *Sink) Ping(ctx context.Context) (bool, error) {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return false, err
	}
	defer drain(res)
	return !res.IsError(), nil
}

func (s *Sink) Exists(ctx context.Context, name string) (bool, error) {
	res, err := s.es.Indices.Exists([]string{name}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, err
	}
	defer drain(res)
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, fmt.Errorf("index exists: %s", res.Status())
}

func (s *Sink) Create(ctx context.Context, name string, schema sink.Schema) error {
	body, err := json.Marshal(IndexBody(schema))
	if err != nil {
		return err
	}
	res, err := s.es.Indices.Create(name,
		s.es.Indices.Create.WithBody(bytes.NewReader(body)),
		s.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("create index: %s", res.String())
	}
	return nil
}

func (s *Sink) Delete(ctx context.Context, name string) error {
	res, err := s.es.Indices.Delete([]string{name}, s.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return err
	}
	defer drain(res)
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete index: %s", res.String())
	}
	return nil
}

// Emit sends the batch as one bulk request. Items rejected by the cluster
// are reported together in a *sink.PartialError.
func (s *Sink) Emit(ctx context.Context, name string, batch []track.Sample) error {
	if len(batch) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, sample := range batch {
		buf.WriteString(`{"index":{}}` + "\n")
		if err := enc.Encode(sink.Document(sample)); err != nil {
			return fmt.Errorf("encode sample %s: %w", sample.EntityID, err)
		}
	}

	res, err := s.es.Bulk(bytes.NewReader(buf.Bytes()),
		s.es.Bulk.WithIndex(name),
		s.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk: %s", res.String())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !br.Errors {
		return nil
	}
	var failed []string
	for i, item := range br.Items {
		for _, r := range item {
			if r.Error != nil {
				failed = append(failed, fmt.Sprintf("%s: %s: %s", batch[i].EntityID, r.Error.Type, r.Error.Reason))
			}
		}
	}
	return fmt.Errorf("bulk: %w", &sink.PartialError{
		Accepted: len(batch) - len(failed),
		Rejected: len(failed),
		Err:      errors.New(strings.Join(failed, "; ")),
	})
}

func (s *Sink) Close() error { return nil }

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// IndexBody builds the create-index request: mappings for every schema
// field and, for the time-series variant, time_series index settings routed
// on the entity id.
func IndexBody(schema sink.Schema) map[string]any {
	props := make(map[string]any)
	for _, f := range schema.Fields() {
		m := map[string]any{}
		switch f.Kind {
		case sink.KindGeoPoint:
			m["type"] = "geo_point"
			if f.Metric {
				m["time_series_metric"] = "position"
			} else {
				m["ignore_malformed"] = true
			}
		case sink.KindKeyword:
			m["type"] = "keyword"
			if f.Dimension {
				m["time_series_dimension"] = true
			}
		case sink.KindNumber:
			m["type"] = "double"
		case sink.KindDate:
			m["type"] = "date"
		}
		props[f.Name] = m
	}

	body := map[string]any{
		"mappings": map[string]any{"properties": props},
	}
	if schema.TimeSeries {
		body["settings"] = map[string]any{
			"index": map[string]any{
				"mode":         "time_series",
				"routing_path": []string{sink.FieldEntityID},
			},
		}
	}
	return body
}

func drain(res *esapi.Response) {
	_, _ = io.Copy(io.Discard, res.Body)
	res.Body.Close()
}
