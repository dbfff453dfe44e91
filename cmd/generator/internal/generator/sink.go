package generator

import (
	"context"
	"sync/atomic"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Haadesx/Saas/pkg/models"
	"github.com/Haadesx/Saas/pkg/simulator"
)

const DefaultSinkBuffer = 1024

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

var _ simulator.Publisher = (*KafkaSink)(nil)

// KafkaSink publishes events to a Kafka topic keyed by symbol, so every
// update for one symbol lands on the same partition in order. Publish never
// blocks: when the buffer is full the event is dropped.
type KafkaSink struct {
	logger  *zap.Logger
	writer  MessageWriter
	queue   chan []byte
	dropped atomic.Uint64
}

func NewKafkaSink(logger *zap.Logger, writer MessageWriter, buffer int) *KafkaSink {
	if buffer <= 0 {
		buffer = DefaultSinkBuffer
	}
	return &KafkaSink{
		logger: logger,
		writer: writer,
		queue:  make(chan []byte, buffer),
	}
}

func (ks *KafkaSink) Publish(payload []byte) {
	select {
	case ks.queue <- payload:
	default:
		ks.dropped.Add(1)
		ks.logger.Warn("Dropping slow packet", zap.String("symbol", models.SymbolOf(payload)))
	}
}

// Dropped is the number of events discarded because the buffer was full.
func (ks *KafkaSink) Dropped() uint64 { return ks.dropped.Load() }

// Run writes queued events until ctx is done, then flushes whatever is still
// buffered.
func (ks *KafkaSink) Run(ctx context.Context) {
	ks.logger.Info("Kafka sink started")
	for {
		select {
		case <-ctx.Done():
			ks.flush()
			return
		case payload := <-ks.queue:
			ks.write(ctx, payload)
		}
	}
}

func (ks *KafkaSink) flush() {
	for {
		select {
		case payload := <-ks.queue:
			ks.write(context.Background(), payload)
		default:
			return
		}
	}
}

func (ks *KafkaSink) write(ctx context.Context, payload []byte) {
	symbol := models.SymbolOf(payload)
	msg := kafka.Message{Value: payload}
	if symbol != "" {
		msg.Key = []byte(symbol) // Key ensures partition ordering
	}

	if err := ks.writer.WriteMessages(ctx, msg); err != nil {
		ks.logger.Error("Kafka Write Error", zap.Error(err), zap.String("symbol", symbol))
		return
	}
	ks.logger.Debug("Sent update", zap.String("symbol", symbol))
}
