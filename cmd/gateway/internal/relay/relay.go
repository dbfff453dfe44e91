// Package relay turns external feeds into event sources for the bus.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Haadesx/Saas/cmd/gateway/internal/repository"
	"github.com/Haadesx/Saas/pkg/simulator"
)

const DefaultRetryDelay = 500 * time.Millisecond

var (
	_ simulator.Source = (*RedisSource)(nil)
	_ simulator.Source = (*KafkaSource)(nil)
)

// KafkaReader abstracts the input stream
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// RedisSource republishes every JSON message arriving on the feed channels.
type RedisSource struct {
	store  repository.FeedStore
	logger *zap.Logger
}

func NewRedisSource(store repository.FeedStore, logger *zap.Logger) *RedisSource {
	return &RedisSource{store: store, logger: logger}
}

func (rs *RedisSource) Name() string { return "redis" }

func (rs *RedisSource) Run(ctx context.Context, pub simulator.Publisher) error {
	rs.logger.Info("Redis relay started", zap.Strings("channels", rs.store.Channels()))

	err := rs.store.RunPubSub(ctx, func(channel, payload string) {
		if !json.Valid([]byte(payload)) {
			rs.logger.Warn("Dropping invalid feed payload", zap.String("channel", channel), zap.Int("bytes", len(payload)))
			return
		}
		pub.Publish([]byte(payload))
	})
	switch {
	case errors.Is(err, repository.ErrFeedClosed):
		// The store never resubscribes once its subscription is gone.
		return fmt.Errorf("redis relay: %w: %w", simulator.ErrPermanent, err)
	case err != nil:
		return fmt.Errorf("redis relay: %w", err)
	}
	return nil
}

// KafkaSource republishes every JSON message value read from a topic.
type KafkaSource struct {
	reader     KafkaReader
	logger     *zap.Logger
	clock      clockwork.Clock
	RetryDelay time.Duration
}

func NewKafkaSource(reader KafkaReader, logger *zap.Logger, clock clockwork.Clock) *KafkaSource {
	return &KafkaSource{
		reader:     reader,
		logger:     logger,
		clock:      clock,
		RetryDelay: DefaultRetryDelay,
	}
}

func (ks *KafkaSource) Name() string { return "kafka" }

func (ks *KafkaSource) Run(ctx context.Context, pub simulator.Publisher) error {
	ks.logger.Info("Kafka relay started")

	for {
		m, err := ks.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			ks.logger.Error("Kafka Read Error", zap.Error(err))

			select {
			case <-ctx.Done():
				return nil
			case <-ks.clock.After(ks.RetryDelay):
			}
			continue
		}

		if !json.Valid(m.Value) {
			ks.logger.Warn("Dropping invalid feed payload",
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset))
			continue
		}
		pub.Publish(m.Value)
	}
}
