package main

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Haadesx/Saas/cmd/gateway/internal/relay"
	"github.com/Haadesx/Saas/cmd/gateway/internal/repository"
	"github.com/Haadesx/Saas/pkg/config"
	"github.com/Haadesx/Saas/pkg/simulator"
)

// buildSources assembles the enabled event sources. The returned func
// releases the external connections once the sources have stopped.
func buildSources(ctx context.Context, cfg *config.Config, logger *zap.Logger, clock clockwork.Clock) ([]simulator.Source, func(), error) {
	var (
		sources []simulator.Source
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("Error closing source", zap.Error(err))
			}
		}
	}

	sources = append(sources, simulator.FromConfig(cfg.Sources, logger, clock, time.Now().UnixNano())...)

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store, err := repository.NewRedisStore(ctx, rdb, cfg.Redis.Channels...)
		if err != nil {
			_ = rdb.Close()
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, store.Close)
		sources = append(sources, relay.NewRedisSource(store, logger))
	}

	if cfg.Kafka.Enabled {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			GroupID:  cfg.Kafka.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  200 * time.Millisecond,
		})
		closers = append(closers, reader.Close)
		sources = append(sources, relay.NewKafkaSource(reader, logger, clock))
	}

	return sources, closeAll, nil
}
