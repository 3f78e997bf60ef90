package app

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vitruvius-bim/vitruvius-backend/internal/config"
	"github.com/vitruvius-bim/vitruvius-backend/internal/data/db"
	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos"
	"github.com/vitruvius-bim/vitruvius-backend/internal/observability"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

const closeTimeout = 10 * time.Second

type Options struct {
	Version string
	// Migrate runs AutoMigrateAll and EnsureIndexes before wiring.
	Migrate bool
}

type App struct {
	Log      *logger.Logger
	Cfg      config.Config
	DB       *gorm.DB
	Repos    *repos.Set
	Metrics  *observability.Metrics
	Clients  Clients
	Services Services

	dbService    *db.Service
	otelShutdown func(context.Context) error
}

func New(ctx context.Context, cfg config.Config, log *logger.Logger, opts Options) (*App, error) {
	otelShutdown := observability.InitOTel(ctx, log, cfg.Otel, opts.Version)

	pg, err := db.Open(cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if opts.Migrate {
		if err := pg.AutoMigrateAll(); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("automigrate: %w", err)
		}
	}
	theDB := pg.DB()
	metrics := observability.NewMetrics()
	reposet := repos.NewSet(theDB, log)

	clients, err := wireClients(ctx, log, cfg, metrics)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	serviceset, err := wireServices(log, cfg, theDB, reposet, clients, metrics)
	if err != nil {
		clients.close(ctx, log)
		_ = pg.Close()
		return nil, err
	}

	return &App{
		Log:          log,
		Cfg:          cfg,
		DB:           theDB,
		Repos:        reposet,
		Metrics:      metrics,
		Clients:      clients,
		Services:     serviceset,
		dbService:    pg,
		otelShutdown: otelShutdown,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	a.Clients.close(ctx, a.Log)
	if a.dbService != nil {
		if err := a.dbService.Close(); err != nil {
			a.Log.Warn("database close failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	a.Log.Sync()
}
