package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/Haadesx/Saas/cmd/gateway/internal/bus"
	"github.com/Haadesx/Saas/cmd/gateway/internal/gateway"
	"github.com/Haadesx/Saas/cmd/gateway/internal/hub"
	"github.com/Haadesx/Saas/cmd/gateway/internal/metrics"
)

type StreamHandler struct {
	hub     *hub.Hub
	bus     *bus.Bus
	logger  *zap.Logger
	metrics *metrics.Metrics
	opts    gateway.Options
}

func NewStreamHandler(h *hub.Hub, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics, opts gateway.Options) *StreamHandler {
	return &StreamHandler{hub: h, bus: b, logger: logger, metrics: m, opts: opts}
}

// Upgrade switches the request to WebSocket and serves the session until it
// ends.
func (sh *StreamHandler) Upgrade(c *gin.Context) {
	conn, rw, _, err := ws.UpgradeHTTP(c.Request, c.Writer)
	if err != nil {
		sh.logger.Warn("WebSocket upgrade failed", zap.Error(err), zap.String("ip", c.ClientIP()))
		return
	}

	s := gateway.NewSession(conn, sh.hub, sh.bus, sh.logger, sh.metrics, sh.opts)
	if rw != nil {
		s.WithReader(rw.Reader)
	}

	if err := sh.hub.Serve(s); errors.Is(err, hub.ErrShuttingDown) {
		sh.logger.Info("Rejected session during shutdown", zap.String("session_id", s.ID()))
	}
}
