package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Haadesx/Saas/cmd/gateway/internal/metrics"
	"github.com/Haadesx/Saas/cmd/gateway/internal/protocol"
)

var ErrShuttingDown = errors.New("hub: shutting down")

// Client is one live subscriber connection as seen by the registry.
type Client interface {
	ID() string
	Run(ctx context.Context) error
	Close()
}

// Hub tracks live sessions and interprets their control messages. It is not
// on the delivery path: events reach sessions through the bus.
type Hub struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	clients  map[string]Client
	draining bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		logger:  logger,
		metrics: m,
		clients: make(map[string]Client),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Serve registers c, runs it until it ends and unregisters it. It blocks for
// the lifetime of the session.
func (h *Hub) Serve(c Client) error {
	if !h.register(c) {
		c.Close()
		return ErrShuttingDown
	}
	defer h.wg.Done()

	start := time.Now()
	h.metrics.SessionOpened()
	h.logger.Info("Session started", zap.String("session_id", c.ID()), zap.Int("sessions", h.Count()))

	err := c.Run(h.ctx)

	h.unregister(c)
	h.metrics.SessionClosed(time.Since(start).Seconds())

	fields := []zap.Field{
		zap.String("session_id", c.ID()),
		zap.Duration("duration", time.Since(start)),
		zap.Int("sessions", h.Count()),
	}
	if err != nil {
		h.logger.Warn("Session ended with error", append(fields, zap.Error(err))...)
	} else {
		h.logger.Info("Session closed", fields...)
	}
	return err
}

func (h *Hub) register(c Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.draining {
		return false
	}
	h.clients[c.ID()] = c
	h.wg.Add(1)
	return true
}

func (h *Hub) unregister(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.ID())
}

// HandleCommand dispatches one inbound control message. Unknown actions are
// ignored.
func (h *Hub) HandleCommand(c Client, req protocol.ClientRequest) {
	switch req.Action {
	case protocol.ActionSubscribe:
		h.metrics.Inbound("accepted")
		h.logger.Info("Client subscribed to market data",
			zap.String("session_id", c.ID()),
			zap.Strings("symbols", req.Symbols),
			zap.String("exchange", req.Exchange),
			zap.String("request_id", req.ID),
		)
	default:
		h.metrics.Inbound("ignored")
		h.logger.Debug("Ignoring client action",
			zap.String("session_id", c.ID()),
			zap.String("action", req.Action),
		)
	}
}

// Count is the number of live sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown stops accepting sessions, closes the live ones and waits for them
// to finish or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	live := make([]Client, 0, len(h.clients))
	for _, c := range h.clients {
		live = append(live, c)
	}
	h.mu.Unlock()

	h.cancel()
	for _, c := range live {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("All sessions closed", zap.Int("closed", len(live)))
		return nil
	case <-ctx.Done():
		h.logger.Warn("Session drain timed out", zap.Int("remaining", h.Count()))
		return ctx.Err()
	}
}
