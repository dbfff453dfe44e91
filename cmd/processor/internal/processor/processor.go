// Package processor bridges the Kafka market feed onto Redis pub/sub so any
// number of gateways can relay it.
package processor

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Haadesx/Saas/pkg/config"
	"github.com/Haadesx/Saas/pkg/models"
)

const (
	DefaultChannel = "market.events"
	lastKeyPrefix  = "market:last:"
	workerBuffer   = 100

	DefaultRetryDelay = 500 * time.Millisecond
)

// Reader is satisfied by *kafka.Reader.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Pipeliner is satisfied by *redis.Client.
type Pipeliner interface {
	Pipeline() redis.Pipeliner
}

type Processor struct {
	logger     *zap.Logger
	clock      clockwork.Clock
	rdb        Pipeliner
	reader     Reader
	numWorkers int
	channel    string
	ttl        time.Duration

	// RetryDelay is the pause after a failed read.
	RetryDelay time.Duration
}

func NewProcessor(cfg *config.Config, logger *zap.Logger, clock clockwork.Clock, rdb Pipeliner, reader Reader) *Processor {
	channel := DefaultChannel
	if len(cfg.Redis.Channels) > 0 {
		channel = cfg.Redis.Channels[0]
	}
	workers := cfg.Processor.NumWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		logger:     logger,
		clock:      clock,
		rdb:        rdb,
		reader:     reader,
		numWorkers: workers,
		channel:    channel,
		ttl:        cfg.Processor.LastValueTTL,
		RetryDelay: DefaultRetryDelay,
	}
}

// Run consumes until ctx is done, then lets the workers drain what they
// already hold.
func (p *Processor) Run(ctx context.Context) error {
	shards := make([]chan kafka.Message, p.numWorkers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan kafka.Message, workerBuffer)
		wg.Add(1)
		go func(id int, in <-chan kafka.Message) {
			defer wg.Done()
			p.work(id, in)
		}(i, shards[i])
	}

	p.logger.Info("Processor started", zap.Int("workers", p.numWorkers), zap.String("channel", p.channel))
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		p.consume(ctx, shards)
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping processor...")

	// No send may race with the close below.
	<-readerDone
	for _, ch := range shards {
		close(ch)
	}
	wg.Wait()
	p.logger.Info("Processor drained")
	return nil
}

func (p *Processor) consume(ctx context.Context, shards []chan kafka.Message) {
	for {
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("Kafka read failed", zap.Error(err), zap.Duration("retry_in", p.RetryDelay))
			select {
			case <-ctx.Done():
				return
			case <-p.clock.After(p.RetryDelay):
			}
			continue
		}

		id := shardFor(m.Key, len(shards))
		select {
		case shards[id] <- m:
		case <-ctx.Done():
			return
		default:
			p.logger.Warn("Dropping slow packet", zap.ByteString("key", m.Key), zap.Int("worker_id", id))
		}
	}
}

type partition struct {
	topic string
	id    int
}

// work owns every key hashed to its shard. A redelivered message keeps its
// key, so it comes back to the same worker with an offset at or below the
// one already relayed for its partition.
func (p *Processor) work(id int, in <-chan kafka.Message) {
	ctx := context.Background()
	watermark := make(map[partition]int64)

	for m := range in {
		part := partition{topic: m.Topic, id: m.Partition}
		if last, seen := watermark[part]; seen && m.Offset <= last {
			p.logger.Debug("Skipping redelivered message",
				zap.String("topic", m.Topic), zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))
			continue
		}

		payload := m.Value
		var ev models.MarketEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			p.logger.Error("Undecodable event", zap.Error(err), zap.Int64("offset", m.Offset))
			watermark[part] = m.Offset
			continue
		}

		pipe := p.rdb.Pipeline()
		pipe.Set(ctx, lastKey(ev), payload, p.ttl)
		pipe.Publish(ctx, p.channel, payload)
		if _, err := pipe.Exec(ctx); err != nil {
			p.logger.Error("Redis pipeline failed", zap.Error(err), zap.String("symbol", ev.Symbol))
			continue
		}

		watermark[part] = m.Offset
		p.logger.Debug("Relayed", zap.String("type", string(ev.Type)), zap.String("symbol", ev.Symbol), zap.Int("worker_id", id))
	}
}

// lastKey is where the most recent event of a symbol, or of a symbol-less
// event type, is kept.
func lastKey(ev models.MarketEvent) string {
	if ev.Symbol != "" {
		return lastKeyPrefix + ev.Symbol
	}
	return lastKeyPrefix + string(ev.Type)
}

func shardFor(key []byte, n int) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}
