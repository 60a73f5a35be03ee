package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"track-simulator/internal/prompt"
)

// ErrUnreachable is returned when the startup ping fails.
var ErrUnreachable = errors.New("sink unreachable")

// RecreatePolicy decides what happens when the index already exists.
type RecreatePolicy string

const (
	RecreateAsk    RecreatePolicy = "ask"
	RecreateAlways RecreatePolicy = "always"
	RecreateNever  RecreatePolicy = "never"
)

func ParseRecreatePolicy(s string) (RecreatePolicy, error) {
	switch p := RecreatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case RecreateAsk, RecreateAlways, RecreateNever:
		return p, nil
	case "":
		return RecreateAsk, nil
	}
	return "", fmt.Errorf("unknown recreate policy %q", s)
}

// Provision makes sure index name exists before the first tick. An existing
// index is only deleted and recreated when the policy (or the operator, for
// RecreateAsk) agrees; otherwise samples go into the schema already there.
func Provision(ctx context.Context, p Provisioner, name string, schema Schema, policy RecreatePolicy, confirm prompt.Confirmer, log zerolog.Logger) error {
	ok, err := p.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if !ok {
		return ErrUnreachable
	}

	exists, err := p.Exists(ctx, name)
	if err != nil {
		return fmt.Errorf("check index %s: %w", name, err)
	}
	if !exists {
		log.Info().Str("index", name).Bool("timeSeries", schema.TimeSeries).Msg("Create index")
		if err := p.Create(ctx, name, schema); err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
		return nil
	}

	recreate, err := shouldRecreate(name, policy, confirm)
	if err != nil {
		return err
	}
	if !recreate {
		log.Info().Str("index", name).Msg("Retaining existing index")
		return nil
	}

	log.Info().Str("index", name).Msg("Deleting index")
	if err := p.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete index %s: %w", name, err)
	}
	log.Info().Str("index", name).Bool("timeSeries", schema.TimeSeries).Msg("Recreate index")
	if err := p.Create(ctx, name, schema); err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

func shouldRecreate(name string, policy RecreatePolicy, confirm prompt.Confirmer) (bool, error) {
	switch policy {
	case RecreateAlways:
		return true, nil
	case RecreateNever:
		return false, nil
	}
	if confirm == nil {
		return false, nil
	}
	yes, err := confirm.Confirm(fmt.Sprintf("Index %s exists. Should delete and recreate? [n|Y]", name))
	if err != nil {
		return false, fmt.Errorf("confirm recreate: %w", err)
	}
	return yes, nil
}
