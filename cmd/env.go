package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/outreachly/lead-engine/internal/config"
	"github.com/outreachly/lead-engine/internal/orchestrator"
	"github.com/outreachly/lead-engine/internal/store"
	"github.com/outreachly/lead-engine/internal/tenant"
	"github.com/outreachly/lead-engine/internal/tracking"
	"github.com/outreachly/lead-engine/pkg/actor"
	"github.com/outreachly/lead-engine/pkg/airtable"
	"github.com/outreachly/lead-engine/pkg/gemini"
)

// engine bundles everything a batch run or the serve loop needs.
type engine struct {
	st   store.Store
	repo *tracking.Repository
	orch *orchestrator.Orchestrator
}

func (e *engine) Close() {
	if e.st != nil {
		_ = e.st.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "lead-engine.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// masterClient connects to the master base holding the tracking tables and
// the tenant directory.
func masterClient(c *config.Config) airtable.Client {
	return airtable.NewClient(c.Airtable.APIKey, c.Airtable.BaseID,
		airtable.WithRateLimit(c.Airtable.RateLimitRPS))
}

// tenantClients builds per-tenant base clients sharing the master API key.
func tenantClients(c *config.Config) orchestrator.ClientFactory {
	return func(baseID string) airtable.Client {
		return airtable.NewClient(c.Airtable.APIKey, baseID,
			airtable.WithRateLimit(c.Airtable.RateLimitRPS))
	}
}

// initEngine wires the full pipeline. Standalone batches skip the mapping
// store so nothing is persisted; serve mode passes needStore because webhook
// correlation reads mappings regardless.
func initEngine(ctx context.Context, standalone, needStore bool, stream int, source string) (*engine, error) {
	master := masterClient(cfg)
	repo := tracking.NewRepository(master)
	reporter := tracking.NewReporter(repo)
	directory := tenant.NewDirectory(master)
	leads := orchestrator.NewAirtableLeadSource(tenantClients(cfg), 0)

	scorer, err := gemini.NewScorer(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model,
		gemini.WithTimeout(time.Duration(cfg.Gemini.TimeoutSecs)*time.Second))
	if err != nil {
		return nil, eris.Wrap(err, "init gemini scorer")
	}

	actors := actor.NewClient(cfg.Actor.Token, actor.WithBaseURL(cfg.Actor.BaseURL))

	var st store.Store
	if needStore {
		st, err = initStore(ctx)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
	}

	orch := orchestrator.New(repo, reporter, directory, leads, scorer, actors, st, nil,
		binder.Root(), orchestrator.Config{
			Stream:      stream,
			ActorID:     cfg.Actor.ActorID,
			GeminiModel: cfg.Gemini.Model,
			Standalone:  standalone,
			Source:      source,
		}).WithBinder(binder)

	return &engine{st: st, repo: repo, orch: orch}, nil
}
