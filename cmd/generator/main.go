package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Haadesx/Saas/cmd/generator/internal/generator"
	"github.com/Haadesx/Saas/pkg/config"
	"github.com/Haadesx/Saas/pkg/simulator"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. Initialize Zap Logger
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Fatal("KAFKA_BROKERS must be set for the generator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewRealClock()

	// 3. Create Topic (Ensure it exists)
	dialer := generator.BrokerDialer{Dialer: &kafka.Dialer{Timeout: 10 * time.Second}}
	if err := generator.NewTopicCreator(logger, dialer, clock).Create(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
		logger.Warn("Topic not confirmed, writing anyway", zap.Error(err))
	}

	// 4. Setup Kafka Writer (Production Tuning)
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{}, // same symbol, same partition
		// Optimization: Send batches to reduce network IO
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}

	sink := generator.NewKafkaSink(logger, writer, generator.DefaultSinkBuffer)

	sources := simulator.FromConfig(cfg.Sources, logger, clock, time.Now().UnixNano())
	runner := simulator.NewRunner(logger, clock, sink, sources...)
	runner.RestartDelay = cfg.Sources.RestartDelay

	// 5. Generator loops
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sink.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		runner.Run(ctx)
	}()
	logger.Info("Generator Started", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic), zap.Int("sources", len(sources)))

	// 6. Wait for Shutdown Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()
	wg.Wait()

	// 7. Flush Kafka Buffer
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly", zap.Uint64("dropped", sink.Dropped()))
	}
}
