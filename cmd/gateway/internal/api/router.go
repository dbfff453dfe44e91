package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Haadesx/Saas/cmd/gateway/internal/bus"
	"github.com/Haadesx/Saas/cmd/gateway/internal/gateway"
	"github.com/Haadesx/Saas/cmd/gateway/internal/hub"
	"github.com/Haadesx/Saas/cmd/gateway/internal/metrics"
)

// Deps is everything the HTTP surface needs. Gatherer may be nil to leave
// /metrics unregistered.
type Deps struct {
	Logger   *zap.Logger
	Hub      *hub.Hub
	Bus      *bus.Bus
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Session  gateway.Options
	AppName  string
}

func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(d.Logger))

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, d.AppName)
	})
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/api/market_data", marketData)

	streams := NewStreamHandler(d.Hub, d.Bus, d.Logger, d.Metrics, d.Session)
	r.GET("/ws", streams.Upgrade)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	return r
}
