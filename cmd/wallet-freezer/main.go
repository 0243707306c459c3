package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"gallera-exchange/internal/config"
	"gallera-exchange/internal/db"
	"gallera-exchange/internal/events"
	"gallera-exchange/internal/logger"
	"gallera-exchange/internal/metrics"
	"gallera-exchange/internal/wallet"
)

func main() {
	cfg := config.Load("wallet-freezer")

	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db open", zap.Error(err))
	}
	defer store.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	metricsSrv := metrics.NewServer(cfg.MetricsPort, prometheus.DefaultGatherer, store.Ping)
	go func() {
		log.Info("metrics listening", zap.String("port", cfg.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()

	reader := events.NewReader(brokers, cfg.TopicBetMatched, cfg.FreezerGroupID)
	defer reader.Close()

	p := &wallet.Processor{
		Log:    log,
		Reader: reader,
		Store:  store,
		OnOutcome: func(outcome string) {
			m.WalletFreezes.WithLabelValues(outcome).Inc()
		},
	}

	log.Info("wallet freezer started",
		zap.String("topic", cfg.TopicBetMatched), zap.String("group", cfg.FreezerGroupID))
	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("processor stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("wallet freezer stopped")
}
