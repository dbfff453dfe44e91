package simulator

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Haadesx/Saas/pkg/models"
)

var DefaultPriceSymbols = []string{"BTC/USD", "ETH/USD", "SOL/USD", "ADA/USD"}

const (
	priceStart    = 100.0
	priceMaxDelta = 1.0
)

// PriceSource random-walks a price per symbol and emits price_update events.
type PriceSource struct {
	logger   *zap.Logger
	clock    clockwork.Clock
	rand     Rand
	symbols  []string
	interval time.Duration
	prices   map[string]float64
}

func NewPriceSource(logger *zap.Logger, clock clockwork.Clock, rnd Rand, symbols []string, interval time.Duration) *PriceSource {
	prices := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		prices[s] = priceStart
	}
	return &PriceSource{
		logger:   logger,
		clock:    clock,
		rand:     rnd,
		symbols:  symbols,
		interval: interval,
		prices:   prices,
	}
}

func (ps *PriceSource) Name() string { return "price" }

func (ps *PriceSource) Run(ctx context.Context, pub Publisher) error {
	ps.logger.Info("Price simulator started", zap.Strings("symbols", ps.symbols), zap.Duration("interval", ps.interval))

	ticker := ps.clock.NewTicker(ps.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			ps.tick(pub)
		}
	}
}

func (ps *PriceSource) tick(pub Publisher) {
	now := ps.clock.Now()
	for _, symbol := range ps.symbols {
		change := (ps.rand.Float64() - 0.5) * 2 * priceMaxDelta
		price := ps.prices[symbol] + change
		if price <= 0 {
			price = ps.prices[symbol]
		}
		ps.prices[symbol] = price

		payload, err := models.MarketEvent{
			Type:      models.EventPriceUpdate,
			Symbol:    symbol,
			Price:     price,
			Timestamp: now,
			Exchange:  "simulated",
		}.Marshal()
		if err != nil {
			ps.logger.Error("JSON Marshal Error", zap.Error(err))
			continue
		}

		pub.Publish(payload)
		ps.logger.Debug("Market data update", zap.String("symbol", symbol), zap.Float64("price", price))
	}
}
