package simulator

import (
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Haadesx/Saas/pkg/config"
)

// FromConfig builds the enabled simulators with their default instruments.
// Each source gets its own generator derived from seed.
func FromConfig(sc config.SourcesConfig, logger *zap.Logger, clock clockwork.Clock, seed int64) []Source {
	var sources []Source
	if sc.Price.Enabled {
		sources = append(sources, NewPriceSource(logger, clock, NewRealRand(seed), DefaultPriceSymbols, sc.Price.Interval))
	}
	if sc.Binance.Enabled {
		sources = append(sources, NewBinanceSource(logger, clock, NewRealRand(seed+1), DefaultInstruments, sc.Binance.Interval))
	}
	if sc.Status.Enabled {
		sources = append(sources, NewStatusSource(logger, clock, DefaultExchanges, sc.Status.Interval))
	}
	return sources
}
