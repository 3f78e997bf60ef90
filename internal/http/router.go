package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/vitruvius-bim/vitruvius-backend/internal/http/handlers"
	httpMW "github.com/vitruvius-bim/vitruvius-backend/internal/http/middleware"
	"github.com/vitruvius-bim/vitruvius-backend/internal/observability"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string

	HealthHandler *httpH.HealthHandler
	CacheHandler  *httpH.CacheHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log, "/healthz", "/readyz", "/metrics"))
	r.Use(httpMW.Metrics(cfg.Metrics))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.Healthz)
		r.GET("/readyz", cfg.HealthHandler.Readyz)
	}

	// Prometheus
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	v1 := r.Group("/v1")
	{
		// Cache
		if cfg.CacheHandler != nil {
			v1.GET("/cache/stats", cfg.CacheHandler.Stats)
			v1.DELETE("/cache/:hash", cfg.CacheHandler.Invalidate)
		}
	}

	return r
}
