package simulator

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Haadesx/Saas/pkg/models"
)

var DefaultExchanges = []models.ExchangeState{
	{Name: "binance", Status: "simulated", Note: "Real Binance connection available in production environment"},
	{Name: "coinbase", Status: "planned", Note: "Will be implemented next"},
	{Name: "kraken", Status: "planned", Note: "Will be implemented next"},
}

// StatusSource periodically reports exchange connectivity.
type StatusSource struct {
	logger    *zap.Logger
	clock     clockwork.Clock
	exchanges []models.ExchangeState
	interval  time.Duration
}

func NewStatusSource(logger *zap.Logger, clock clockwork.Clock, exchanges []models.ExchangeState, interval time.Duration) *StatusSource {
	return &StatusSource{
		logger:    logger,
		clock:     clock,
		exchanges: exchanges,
		interval:  interval,
	}
}

func (ss *StatusSource) Name() string { return "exchange_status" }

func (ss *StatusSource) Run(ctx context.Context, pub Publisher) error {
	ss.logger.Info("Starting exchange connection simulator", zap.Duration("interval", ss.interval))

	ticker := ss.clock.NewTicker(ss.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			payload, err := models.MarketEvent{
				Type:      models.EventExchangeStatus,
				Status:    "connected",
				Exchanges: ss.exchanges,
				Timestamp: ss.clock.Now(),
			}.Marshal()
			if err != nil {
				ss.logger.Error("JSON Marshal Error", zap.Error(err))
				continue
			}
			pub.Publish(payload)
			ss.logger.Debug("Exchange connection status updated")
		}
	}
}
