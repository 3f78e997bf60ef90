package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

// Metrics is nil-safe: every method is a no-op on a nil receiver so callers
// never branch on whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	stageDuration    *prometheus.HistogramVec
	cacheOps         *prometheus.CounterVec
	conflicts        *prometheus.CounterVec
	solutions        prometheus.Counter
	sandboxRuns      *prometheus.CounterVec
	sandboxDuration  prometheus.Histogram
	jobRuns          *prometheus.CounterVec
	activityTime     *prometheus.HistogramVec
	apiRequests      *prometheus.CounterVec
	apiLatency       *prometheus.HistogramVec
	apiInflight      prometheus.Gauge
	pgStats          *prometheus.GaugeVec
	redisUp          prometheus.Gauge
	redisPing        prometheus.Gauge
}

// NewMetrics registers every collector on a fresh registry together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		pipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitruvius_pipeline_runs_total",
			Help: "IFC pipeline runs by final status.",
		}, []string{"status"}),
		pipelineDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vitruvius_pipeline_duration_seconds",
			Help:    "End-to-end IFC pipeline duration by final status.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vitruvius_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage duration by stage and source (cache or computed).",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"stage", "source"}),
		cacheOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitruvius_cache_operations_total",
			Help: "Result cache operations by artifact kind and result.",
		}, []string{"kind", "result"}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitruvius_conflicts_persisted_total",
			Help: "Newly persisted conflicts by severity.",
		}, []string{"severity"}),
		solutions: f.NewCounter(prometheus.CounterOpts{
			Name: "vitruvius_solutions_persisted_total",
			Help: "Newly persisted solution suggestions.",
		}),
		sandboxRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitruvius_sandbox_runs_total",
			Help: "Sandboxed extractions by outcome code.",
		}, []string{"outcome"}),
		sandboxDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vitruvius_sandbox_duration_seconds",
			Help:    "Wall time of sandboxed extractions.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitruvius_job_runs_total",
			Help: "Background job runs by type and final status.",
		}, []string{"job_type", "status"}),
		activityTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vitruvius_activity_duration_seconds",
			Help:    "Workflow activity duration by activity and status.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"activity", "status"}),
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitruvius_api_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vitruvius_api_request_duration_seconds",
			Help:    "HTTP request latency by method, route and status.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route", "status"}),
		apiInflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "vitruvius_api_inflight_requests",
			Help: "In-flight HTTP requests.",
		}),
		pgStats: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vitruvius_postgres_pool",
			Help: "database/sql pool statistics.",
		}, []string{"stat"}),
		redisUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "vitruvius_redis_up",
			Help: "1 when the last Redis ping succeeded.",
		}),
		redisPing: f.NewGauge(prometheus.GaugeOpts{
			Name: "vitruvius_redis_ping_seconds",
			Help: "Latency of the last Redis ping.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObservePipeline(status string, dur time.Duration) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.pipelineRuns.WithLabelValues(status).Inc()
	m.pipelineDuration.WithLabelValues(status).Observe(dur.Seconds())
}

func (m *Metrics) ObserveStage(stage string, fromCache bool, dur time.Duration) {
	if m == nil {
		return
	}
	source := "computed"
	if fromCache {
		source = "cache"
	}
	m.stageDuration.WithLabelValues(stage, source).Observe(dur.Seconds())
}

// IncCache records one cache operation; result is hit, miss, write or error.
func (m *Metrics) IncCache(kind, result string) {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) AddConflicts(severity string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.conflicts.WithLabelValues(severity).Add(float64(n))
}

func (m *Metrics) AddSolutions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.solutions.Add(float64(n))
}

func (m *Metrics) ObserveSandbox(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.sandboxRuns.WithLabelValues(outcome).Inc()
	m.sandboxDuration.Observe(dur.Seconds())
}

func (m *Metrics) IncJobRun(jobType, status string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(jobType, status).Inc()
}

func (m *Metrics) ObserveActivity(activity, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.activityTime.WithLabelValues(activity, status).Observe(dur.Seconds())
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) APIInflight(delta float64) {
	if m == nil {
		return
	}
	m.apiInflight.Add(delta)
}

// StartPostgresCollector samples the connection pool every interval until ctx
// is done.
func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB, interval time.Duration) {
	if m == nil || db == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: postgres stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
				m.pgStats.WithLabelValues("in_use").Set(float64(stats.InUse))
				m.pgStats.WithLabelValues("idle").Set(float64(stats.Idle))
				m.pgStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
				m.pgStats.WithLabelValues("wait_duration_seconds").Set(stats.WaitDuration.Seconds())
				m.pgStats.WithLabelValues("max_open_connections").Set(float64(stats.MaxOpenConnections))
			}
		}
	}()
}

// StartRedisCollector pings rdb every interval until ctx is done.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb goredis.UniversalClient, interval time.Duration) {
	if m == nil || rdb == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}
