package fhirapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"fhirdoc/internal/core"
	"fhirdoc/internal/encoding"
	"fhirdoc/internal/observability"
	"fhirdoc/internal/platform/logger"
)

// RouterConfig collects the router dependencies.
type RouterConfig struct {
	Service     *core.Service
	Encoders    *encoding.Registry
	Logger      *logger.Logger
	Metrics     *observability.Metrics
	CORSOrigins []string
	ServiceName string
}

// NewRouter builds the gin engine with middleware, FHIR routes, /healthz and
// /metrics.
func NewRouter(cfg RouterConfig) *gin.Engine {
	name := cfg.ServiceName
	if name == "" {
		name = "fhirdoc"
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(name),
		RequestID(),
		RequestLogger(cfg.Logger),
		Metrics(cfg.Metrics),
		CORS(cfg.CORSOrigins),
	)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	NewHandler(cfg.Service, cfg.Encoders, cfg.Logger).Register(router)
	return router
}
