// Package app assembles the Ishikawa service: dataset store, resolver,
// query executor, synthesizer, sessions, and the HTTP / Matrix frontends.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bdobrica/Ishikawa/internal/ishikawa/answer"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/api"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/config"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/dataset"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/engine"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/matrix"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/query"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/resolver"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/session"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/tools"
)

// Secrets are the credentials read from the environment, never from the
// config file.
type Secrets struct {
	ModelAPIKey string
	MatrixToken string
}

// App is the assembled service.
type App struct {
	cfg     *config.Config
	store   *dataset.Store
	engine  *engine.Engine
	api     *api.Server
	gateway *matrix.Gateway
}

// New wires the service from configuration. The dataset is ingested from the
// CSV source when the table does not exist yet.
func New(ctx context.Context, cfg *config.Config, secrets Secrets) (*App, error) {
	store, err := dataset.New(cfg.Dataset.Path, dataset.Options{
		Table:       cfg.Dataset.Table,
		SampleRows:  cfg.Dataset.SampleRows,
		SortColumns: cfg.Query.SortColumns,
	})
	if err != nil {
		return nil, err
	}

	if err := ensureData(ctx, store, cfg); err != nil {
		store.Close()
		return nil, err
	}

	provider := resolver.NewProvider(resolver.Config{
		APIKey:  secrets.ModelAPIKey,
		BaseURL: cfg.Model.Endpoint,
		Model:   cfg.Model.Name,
		Timeout: time.Duration(cfg.Model.Timeout),
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	res := resolver.New(
		provider,
		tools.MustRegistry(),
		resolver.NewRateLimiter(0, 0),
		resolver.PromptOptions{
			ValueColumn:    cfg.Query.ValueColumn,
			CategoryColumn: cfg.Query.CategoryColumn,
			DefaultLimit:   cfg.Query.DefaultLimit,
		},
	)
	exec := query.New(store, query.Options{
		DefaultLimit:   cfg.Query.DefaultLimit,
		MaxLimit:       cfg.Query.MaxLimit,
		ValueColumn:    cfg.Query.ValueColumn,
		CategoryColumn: cfg.Query.CategoryColumn,
	})
	eng := engine.New(
		store, res, exec,
		answer.NewSynthesizer(provider),
		session.NewStore(session.DefaultConfig()),
		engine.NewMetrics(registry),
	)

	a := &App{cfg: cfg, store: store, engine: eng}

	if cfg.HTTP.Addr != "" {
		a.api = api.NewServer(cfg.HTTP.Addr, eng, store, registry)
	}
	if cfg.MatrixEnabled() {
		gateway, err := matrix.New(&matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: secrets.MatrixToken,
			Rooms:       cfg.Matrix.Rooms,
		}, eng)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.gateway = gateway
	}
	if a.api == nil && a.gateway == nil {
		store.Close()
		return nil, fmt.Errorf("app: no frontend configured, set http.addr or the matrix section")
	}

	return a, nil
}

// Run starts the configured frontends and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.api != nil {
		if err := a.api.Start(ctx); err != nil {
			return err
		}
	}
	if a.gateway != nil {
		if err := a.gateway.Start(ctx); err != nil {
			return err
		}
		slog.Info("matrix gateway connected",
			"homeserver", a.cfg.Matrix.Homeserver, "rooms", len(a.cfg.Matrix.Rooms))
	}

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// Stop tears the service down.
func (a *App) Stop() {
	if a.gateway != nil {
		a.gateway.Stop()
	}
	if a.api != nil {
		a.api.Stop()
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("closing dataset store", "err", err)
	}
}

// ensureData ingests the CSV source when the dataset table is missing.
func ensureData(ctx context.Context, store *dataset.Store, cfg *config.Config) error {
	exists, err := store.TableExists()
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if cfg.Dataset.CSVPath == "" {
		return fmt.Errorf("app: table %q does not exist and dataset.csv_path is not set",
			cfg.Dataset.Table)
	}

	slog.Info("dataset table missing, ingesting csv", "csv", cfg.Dataset.CSVPath)
	if _, err := store.IngestCSV(ctx, cfg.Dataset.CSVPath); err != nil {
		return err
	}
	return nil
}
