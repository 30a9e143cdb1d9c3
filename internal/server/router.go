// Package server exposes upload sessions over HTTP.
//
// A client opens a session, streams audio as a sequence of raw chunk
// uploads, and finishes or aborts it. Sessions are addressed by an opaque id
// and dropped from the server once they end.
package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxtrail/audiostream/metrics"
)

// Route paths.
const (
	PathHealth   = "/healthz"
	PathSessions = "/v1/sessions"
)

// RouterOption configures the router.
type RouterOption func(*routerConfig)

type routerConfig struct {
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	metricsPath string
}

// WithMetrics records request metrics in m and serves the gatherer's
// metrics at path.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer, path string) RouterOption {
	return func(c *routerConfig) {
		c.metrics = m
		c.gatherer = gatherer
		c.metricsPath = path
	}
}

// NewRouter builds the HTTP router.
func NewRouter(sessions *SessionHandler, opts ...RouterOption) http.Handler {
	cfg := routerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.metrics != nil {
		r.Use(instrument(cfg.metrics))
	}

	r.GET(PathHealth, health(sessions.registry))
	if cfg.gatherer != nil && cfg.metricsPath != "" {
		r.GET(cfg.metricsPath, gin.WrapH(promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group(PathSessions)
	{
		v1.POST("", sessions.CreateSession)
		v1.GET("/:id", sessions.Get)
		v1.PUT("/:id/chunks", sessions.PushChunk)
		v1.POST("/:id/finish", sessions.Finish)
		v1.DELETE("/:id", sessions.Abort)
	}

	return r
}

func health(registry *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"service":  "audiostream",
			"sessions": registry.Len(),
		})
	}
}

func instrument(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		clock := m.Clock()
		start := clock.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), clock.Since(start))
	}
}
