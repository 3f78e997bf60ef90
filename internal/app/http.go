package app

import (
	"context"

	"go.temporal.io/sdk/client"

	httpserver "github.com/vitruvius-bim/vitruvius-backend/internal/http"
	httpH "github.com/vitruvius-bim/vitruvius-backend/internal/http/handlers"
)

// HTTPServer builds the ops surface.
func (a *App) HTTPServer() *httpserver.Server {
	var cacheHandler *httpH.CacheHandler
	if a.Clients.Cache != nil {
		cacheHandler = httpH.NewCacheHandler(a.Log, a.Clients.Cache)
	}
	serviceName := ""
	if a.Cfg.Otel.Enabled {
		serviceName = a.Cfg.Otel.ServiceName
	}
	return httpserver.NewServer(a.Log, a.Cfg.HTTP.Addr, httpserver.RouterConfig{
		Log:           a.Log,
		Metrics:       a.Metrics,
		ServiceName:   serviceName,
		HealthHandler: httpH.NewHealthHandler(a.readinessChecks()),
		CacheHandler:  cacheHandler,
	})
}

func (a *App) readinessChecks() map[string]httpH.CheckFunc {
	checks := map[string]httpH.CheckFunc{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if rdb := a.Clients.Redis; rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if nc := a.Clients.Neo4j; nc != nil {
		checks["neo4j"] = func(ctx context.Context) error { return nc.Driver.VerifyConnectivity(ctx) }
	}
	if tc := a.Clients.Temporal; tc != nil {
		checks["temporal"] = func(ctx context.Context) error {
			_, err := tc.CheckHealth(ctx, &client.CheckHealthRequest{})
			return err
		}
	}
	return checks
}
