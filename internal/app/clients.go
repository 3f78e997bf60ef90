package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/vitruvius-bim/vitruvius-backend/internal/cache"
	"github.com/vitruvius-bim/vitruvius-backend/internal/config"
	"github.com/vitruvius-bim/vitruvius-backend/internal/observability"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
	"github.com/vitruvius-bim/vitruvius-backend/internal/platform/gcp"
	"github.com/vitruvius-bim/vitruvius-backend/internal/platform/neo4jdb"
	"github.com/vitruvius-bim/vitruvius-backend/internal/realtime/bus"
	"github.com/vitruvius-bim/vitruvius-backend/internal/temporalx"
)

// Clients holds the external connections. Every field but Bus may be nil:
// Redis, Neo4j and object storage degrade to "feature off", and a nil
// Temporal client selects the database worker.
type Clients struct {
	Redis    *goredis.Client
	Cache    *cache.ResultCache
	Bus      bus.Bus
	Temporal temporalsdkclient.Client
	Neo4j    *neo4jdb.Client
	Objects  *gcp.ObjectFetcher
}

func wireClients(ctx context.Context, log *logger.Logger, cfg config.Config, metrics *observability.Metrics) (Clients, error) {
	out := Clients{Bus: bus.Nop{}}

	if cfg.Redis.Enabled {
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			// the pipeline fails open without a cache
			log.Warn("Redis unavailable; result cache and event bus disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			out.Redis = rdb
			rc, err := cache.New(cache.NewRedisBackend(rdb), log,
				cache.WithPrefix(cfg.Redis.Prefix),
				cache.WithTTL(cfg.Redis.TTL),
				cache.WithCompression(cfg.Redis.Compress),
				cache.WithSettings(settingsFingerprint(cfg.Pipeline), cache.KindConflicts, cache.KindAnalysis, cache.KindMetadata),
				cache.WithMetrics(metrics),
			)
			if err != nil {
				out.close(ctx, log)
				return Clients{}, fmt.Errorf("init result cache: %w", err)
			}
			out.Cache = rc
			b, err := bus.NewRedisBus(log, rdb, cfg.Redis.Channel)
			if err != nil {
				out.close(ctx, log)
				return Clients{}, fmt.Errorf("init event bus: %w", err)
			}
			out.Bus = b
		}
	}

	tc, err := temporalx.NewClient(log, cfg.Temporal)
	if err != nil {
		out.close(ctx, log)
		return Clients{}, fmt.Errorf("init temporal: %w", err)
	}
	out.Temporal = tc

	nc, err := neo4jdb.New(ctx, log, cfg.Neo4j)
	if err != nil {
		log.Warn("Neo4j unavailable; conflict graph projection disabled", "uri", cfg.Neo4j.URI, "error", err)
	} else {
		out.Neo4j = nc
	}

	if cfg.Storage.Bucket != "" || cfg.Storage.EmulatorHost != "" {
		f, err := gcp.NewObjectFetcher(ctx, log, cfg.Storage)
		if err != nil {
			out.close(ctx, log)
			return Clients{}, fmt.Errorf("init object storage: %w", err)
		}
		out.Objects = f
	}

	return out, nil
}

func (c Clients) close(ctx context.Context, log *logger.Logger) {
	if c.Objects != nil {
		if err := c.Objects.Close(); err != nil {
			log.Warn("object storage close failed", "error", err)
		}
	}
	if c.Neo4j != nil {
		if err := c.Neo4j.Close(ctx); err != nil {
			log.Warn("neo4j close failed", "error", err)
		}
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Warn("redis close failed", "error", err)
		}
	}
}

// settingsFingerprint changes whenever a setting that shapes detected
// conflicts or their analysis changes.
func settingsFingerprint(p config.Pipeline) string {
	return cache.Fingerprint(p.ClashMode, p.ClearanceMM, p.BaseProjectCost, p.BaseProjectTimeDays)
}
