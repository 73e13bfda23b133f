// Package httpapi wires the ops HTTP transport (Gin) of the reminder
// service: health probes, Prometheus metrics, and the dispatch endpoints
// that trigger a sweep by hand or show the last run's report.
//
// Middleware order:
//  1. OpenTelemetry: trace everything
//  2. RequestID, Logger, Recovery: correlated logs, panics as JSON 500
//  3. Body size limit
//  4. HTTP metrics
//  5. Security headers
//
// The manual trigger additionally sits behind a per-client rate limiter.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/medcia/medreminder/internal/config"
	"github.com/medcia/medreminder/internal/http/handlers"
	"github.com/medcia/medreminder/internal/http/middleware"
)

// maxBodyBytes caps request bodies; no endpoint accepts a payload.
const maxBodyBytes = 64 << 10

// Deps are the collaborators the routes need.
type Deps struct {
	Dispatcher handlers.Dispatcher
	// DB is pinged by /ready; nil makes /ready always succeed.
	DB *gorm.DB
	// Registry receives the HTTP collectors and is served on /metrics.
	// nil uses the default Prometheus registry.
	Registry *prometheus.Registry
	// Extra gatherers served on /metrics next to Registry, e.g. the
	// dispatch metrics.
	Gatherers []prometheus.Gatherer
}

// RegisterRoutes attaches middleware and endpoints to r.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) error {
	if deps.Dispatcher == nil {
		return errors.New("httpapi: dispatcher is required")
	}
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID(), middleware.Logger(), middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))

	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if deps.Registry != nil {
		reg, gatherer = deps.Registry, deps.Registry
	}
	httpMetrics, err := middleware.NewHTTPMetrics(reg)
	if err != nil {
		return err
	}
	r.Use(httpMetrics.Handler())

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
		NoStore:    true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	gatherers := append(prometheus.Gatherers{gatherer}, deps.Gatherers...)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(deps.DB))

	h := handlers.NewDispatchHandler(deps.Dispatcher, cfg.Dispatch.RunTimeout)
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/dispatch/runs", rl.Handler(), h.TriggerRun)
		api.GET("/dispatch/last", h.LastRun)
		api.GET("/dispatch/pending", h.Pending)
	}
	return nil
}

// readiness pings the reminder store.
func readiness(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(ctx)
			}
			if err != nil {
				middleware.LoggerFrom(c).Warn().Err(err).Msg("readiness check failed")
				handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeStoreUnavailable, "reminder store unavailable")
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// limitBody caps the request body at maxBytes.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
