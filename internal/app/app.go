// Package app wires configuration, record store, cache and services for
// the HTTP server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/config"
	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/importer"
	"github.com/patrimonium/ressarcimentos/internal/infra/cache"
	"github.com/patrimonium/ressarcimentos/internal/infra/memory"
	"github.com/patrimonium/ressarcimentos/internal/infra/observability"
	"github.com/patrimonium/ressarcimentos/internal/infra/postgres"
	"github.com/patrimonium/ressarcimentos/internal/infra/resilience"
	"github.com/patrimonium/ressarcimentos/internal/infra/sqlite"
	"github.com/patrimonium/ressarcimentos/internal/infra/supabase"
	"github.com/patrimonium/ressarcimentos/internal/port"
	"github.com/patrimonium/ressarcimentos/internal/service"
)

// App is the assembled application.
type App struct {
	Store     port.RecordStore
	Portfolio *service.PortfolioService
	Importer  *importer.Importer
	Metrics   *observability.Metrics

	closers []func()
}

// New opens the configured record store and builds the services on top.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics()
	dashboards := cache.New[*domain.Dashboard](cfg.CacheTTL)

	portfolio := service.NewPortfolioService(store, dashboards, metrics, logger,
		service.WithBackend(cfg.StoreBackend),
	)
	return &App{
		Store:     store,
		Portfolio: portfolio,
		Importer:  importer.New(portfolio, metrics, logger),
		Metrics:   metrics,
		closers:   []func(){dashboards.Close, closeStore},
	}, nil
}

// Close releases the store and background workers.
func (a *App) Close() {
	for _, c := range a.closers {
		c()
	}
}

// OpenStore constructs the record store selected by STORE_BACKEND.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.RecordStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("using in-memory record store, data is lost on exit")
		return memory.New(), func() {}, nil

	case config.BackendSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Info("using SQLite record store", zap.String("path", cfg.SQLitePath))
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("closing sqlite store", zap.Error(err))
			}
		}, nil

	case config.BackendPostgres:
		s, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres store: %w", err)
		}
		logger.Info("using PostgreSQL record store")
		return s, s.Close, nil

	case config.BackendSupabase:
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		s := supabase.NewClient(httpClient, cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.SupabaseKey(),
			resilience.Config{
				MaxRetries:     cfg.MaxRetries,
				InitialBackoff: cfg.InitialBackoff,
				MaxConcurrency: cfg.MaxConcurrency,
			}, logger)
		logger.Info("using Supabase record store", zap.String("supabase_url", cfg.SupabaseURL))
		return s, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
