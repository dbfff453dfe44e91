package simulator

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Haadesx/Saas/pkg/models"
)

// Instrument is a simulated Binance symbol with the band its price stays in
// and the range trade quantities are drawn from.
type Instrument struct {
	Symbol   string
	MinPrice float64
	MaxPrice float64
	MinQty   float64
	MaxQty   float64
	QtyStep  float64
}

var DefaultInstruments = []Instrument{
	{Symbol: "BTCUSDT", MinPrice: 50000, MaxPrice: 60000, MinQty: 0.001, MaxQty: 1, QtyStep: 0.001},
	{Symbol: "ETHUSDT", MinPrice: 3000, MaxPrice: 4000, MinQty: 0.1, MaxQty: 10, QtyStep: 0.1},
	{Symbol: "SOLUSDT", MinPrice: 100, MaxPrice: 200, MinQty: 1, MaxQty: 100, QtyStep: 1},
	{Symbol: "ADAUSDT", MinPrice: 1, MaxPrice: 2, MinQty: 100, MaxQty: 10000, QtyStep: 1},
}

// maxMove is the width of the relative price band per tick, so a single
// move stays within ±0.25%.
const maxMove = 0.005

// BinanceSource emits trade events shaped like the Binance trade stream.
type BinanceSource struct {
	logger      *zap.Logger
	clock       clockwork.Clock
	rand        Rand
	instruments []Instrument
	interval    time.Duration
	prices      []float64
	tradeID     int64
	orderID     int64
}

func NewBinanceSource(logger *zap.Logger, clock clockwork.Clock, rnd Rand, instruments []Instrument, interval time.Duration) *BinanceSource {
	prices := make([]float64, len(instruments))
	for i, in := range instruments {
		prices[i] = in.MinPrice
	}
	return &BinanceSource{
		logger:      logger,
		clock:       clock,
		rand:        rnd,
		instruments: instruments,
		interval:    interval,
		prices:      prices,
		tradeID:     100000000,
		orderID:     500000000,
	}
}

func (bs *BinanceSource) Name() string { return "binance" }

func (bs *BinanceSource) Run(ctx context.Context, pub Publisher) error {
	bs.logger.Info("Starting Binance data simulator", zap.Int("instruments", len(bs.instruments)), zap.Duration("interval", bs.interval))

	ticker := bs.clock.NewTicker(bs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			bs.tick(pub)
		}
	}
}

func (bs *BinanceSource) tick(pub Publisher) {
	now := bs.clock.Now()
	for i, in := range bs.instruments {
		price := bs.prices[i] * (1 + (bs.rand.Float64()-0.5)*maxMove)
		price = math.Min(math.Max(price, in.MinPrice), in.MaxPrice)
		bs.prices[i] = price

		qty := in.MinQty + bs.rand.Float64()*(in.MaxQty-in.MinQty)
		if in.QtyStep > 0 {
			qty = math.Max(in.MinQty, math.Round(qty/in.QtyStep)*in.QtyStep)
		}

		bs.tradeID++
		bs.orderID += 2
		millis := now.UnixMilli()

		payload, err := models.MarketEvent{
			Type:      models.EventTrade,
			Symbol:    in.Symbol,
			Price:     price,
			Quantity:  qty,
			Timestamp: now,
			Exchange:  "binance",
			Raw: &models.BinanceTrade{
				EventType:     "trade",
				EventTime:     millis,
				Symbol:        in.Symbol,
				TradeID:       bs.tradeID,
				Price:         strconv.FormatFloat(price, 'f', 2, 64),
				Quantity:      strconv.FormatFloat(qty, 'f', 8, 64),
				BuyerOrderID:  bs.orderID,
				SellerOrderID: bs.orderID + 1,
				TradeTime:     millis,
				IsBuyerMaker:  bs.rand.Intn(2) == 0,
				Ignore:        true,
			},
		}.Marshal()
		if err != nil {
			bs.logger.Error("JSON Marshal Error", zap.Error(err))
			continue
		}

		pub.Publish(payload)
		bs.logger.Debug("Binance trade", zap.String("symbol", in.Symbol), zap.Float64("price", price), zap.Float64("qty", qty))
	}
}
