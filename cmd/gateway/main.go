package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/Haadesx/Saas/cmd/gateway/internal/api"
	"github.com/Haadesx/Saas/cmd/gateway/internal/bus"
	"github.com/Haadesx/Saas/cmd/gateway/internal/gateway"
	"github.com/Haadesx/Saas/cmd/gateway/internal/hub"
	"github.com/Haadesx/Saas/cmd/gateway/internal/metrics"
	"github.com/Haadesx/Saas/pkg/config"
	"github.com/Haadesx/Saas/pkg/simulator"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	var (
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		gatherer = reg
	}

	b := bus.New(cfg.Bus.Capacity, bus.WithLogger(logger), bus.WithMetrics(m))
	wsHub := hub.NewHub(logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	sources, closeSources, err := buildSources(ctx, cfg, logger, clock)
	if err != nil {
		logger.Fatal("Failed to set up event sources", zap.Error(err))
	}

	runner := simulator.NewRunner(logger, clock, b, sources...)
	runner.RestartDelay = cfg.Sources.RestartDelay
	runner.OnRestart = m.SourceRestarted

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Run(ctx)
	}()

	router := api.NewRouter(api.Deps{
		Logger:   logger,
		Hub:      wsHub,
		Bus:      b,
		Metrics:  m,
		Gatherer: gatherer,
		Session:  sessionOptions(cfg.Session),
		AppName:  cfg.App.Name,
	})
	srv := &http.Server{Addr: cfg.App.Addr(), Handler: router}

	go func() {
		logger.Info("Server Started", zap.String("addr", cfg.App.Addr()), zap.Int("sources", len(sources)))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if err := wsHub.Shutdown(shutdownCtx); err != nil {
		logger.Error("Session drain incomplete", zap.Error(err))
	}

	cancel()
	wg.Wait()
	closeSources()
	b.Close()

	logger.Info("Shutdown Complete")
}

func sessionOptions(sc config.SessionConfig) gateway.Options {
	return gateway.Options{
		PingPeriod:     sc.PingPeriod,
		PongWait:       sc.PongWait,
		WriteWait:      sc.WriteWait,
		MaxMessageSize: sc.MaxMessageSize,
		InboundRate:    sc.InboundRate,
		InboundBurst:   sc.InboundBurst,
	}
}
