package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/vitruvius-bim/vitruvius-backend/internal/jobs/worker"
	"github.com/vitruvius-bim/vitruvius-backend/internal/temporalx/jobrun"
	"github.com/vitruvius-bim/vitruvius-backend/internal/temporalx/temporalworker"
)

// RunWorker runs the job executor and, when enabled, the ops HTTP server
// until ctx is done or one of them fails. The Temporal worker replaces the
// database poller whenever a Temporal client is configured.
func (a *App) RunWorker(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB, 0)
	if a.Clients.Redis != nil {
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis, 0)
	}

	if a.Clients.Temporal != nil {
		runner, err := temporalworker.NewRunner(a.Log, a.Clients.Temporal, a.Cfg.Temporal, a.activities(), a.Cfg.Worker.Concurrency)
		if err != nil {
			return err
		}
		g.Go(func() error { return runner.Run(ctx) })
	} else {
		w := worker.NewWorker(a.DB, a.Log, a.Repos.JobRuns, a.Services.Registry, a.Services.JobNotifier, a.Cfg.Worker, a.Metrics)
		g.Go(func() error { return w.Run(ctx) })
	}

	if a.Services.ClashTrigger != nil {
		if err := a.Services.ClashTrigger.Start(ctx); err != nil {
			return err
		}
	}

	if a.Cfg.HTTP.Enabled {
		srv := a.HTTPServer()
		g.Go(func() error { return srv.Run(ctx) })
	}

	return g.Wait()
}

func (a *App) activities() *jobrun.Activities {
	return &jobrun.Activities{
		Log:         a.Log,
		DB:          a.DB,
		Jobs:        a.Repos.JobRuns,
		Registry:    a.Services.Registry,
		Notify:      a.Services.JobNotifier,
		Metrics:     a.Metrics,
		MaxAttempts: a.Cfg.Worker.MaxAttempts,
		RetryDelay:  a.Cfg.Worker.RetryDelay,
	}
}
