package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/goplan"
	"github.com/aretw0/goplan/internal/config"
	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/planner"
	"github.com/aretw0/goplan/pkg/ports"
)

// offline stands in for every provider when no LLM key is configured, so
// store-only commands (status, cancel, session) still work.
type offline struct{}

func (offline) Extract(context.Context, string, []domain.Message) (ports.ExtractResult, error) {
	return ports.ExtractResult{}, config.ErrMissingAPIKey
}

func (offline) Recommend(context.Context, ports.Criteria) (string, error) {
	return "", config.ErrMissingAPIKey
}

func (offline) Synthesize(context.Context, ports.Criteria, map[string]domain.Result) (string, error) {
	return "", config.ErrMissingAPIKey
}

// openEngine builds an engine over the configured store. With requireProviders
// a missing LLM key is an error; otherwise offline providers are used.
func openEngine(ctx context.Context, requireProviders bool, extra ...goplan.Option) (*goplan.Engine, func(), error) {
	providers, err := app.cfg.Providers(time.Now)
	if errors.Is(err, config.ErrMissingAPIKey) && !requireProviders {
		providers, err = planner.Providers{
			Extractor: offline{}, Flights: offline{}, Hotels: offline{}, Activities: offline{}, Synthesizer: offline{},
		}, nil
	}
	if err != nil {
		return nil, nil, err
	}

	backend, err := config.OpenStore(ctx, app.cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s store: %w", app.cfg.Store.Backend, err)
	}

	opts := append(app.cfg.EngineOptions(backend), goplan.WithLogger(app.logger))
	opts = append(opts, extra...)
	engine, err := goplan.New(providers, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	return engine, func() {
		if err := backend.Close(); err != nil {
			app.logger.Warn("failed to close store", "err", err)
		}
	}, nil
}
