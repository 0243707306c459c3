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

	"gallera-exchange/internal/api"
	"gallera-exchange/internal/auth"
	"gallera-exchange/internal/cache"
	"gallera-exchange/internal/config"
	"gallera-exchange/internal/db"
	"gallera-exchange/internal/engine"
	"gallera-exchange/internal/events"
	"gallera-exchange/internal/logger"
	"gallera-exchange/internal/metrics"
	"gallera-exchange/internal/ws"
)

func main() {
	cfg := config.Load("betting-server")

	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB
	store, err := db.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db open", zap.Error(err))
	}
	defer store.Close()
	log.Info("connected to database", zap.String("driver", cfg.DBDriver))

	if err := store.Migrate(cfg.MigrationsDir); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	log.Info("migrations applied")

	// Fight status cache
	fights := cache.NewFightCache(nil, store, cfg.FightCacheTTL, log)
	if cfg.RedisAddr != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Warn("redis unavailable, reading fight status from postgres", zap.Error(err))
		} else {
			defer rdb.Close()
			fights.R = rdb
			log.Info("redis connected", zap.String("addr", cfg.RedisAddr))
		}
	}

	// Metrics
	m := metrics.New(prometheus.DefaultRegisterer)
	metricsSrv := metrics.NewServer(cfg.MetricsPort, prometheus.DefaultGatherer, store.Ping)
	go func() {
		log.Info("metrics listening", zap.String("port", cfg.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()

	// Event bus
	var sink engine.EventSink = events.Noop{}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		pub := events.NewKafkaPublisher(brokers, cfg.TopicBetMatched, cfg.TopicSettlementAlerts, log)
		pub.OnError = func(topic string) { m.PublishErrors.WithLabelValues(topic).Inc() }
		defer pub.Close()
		sink = pub
		log.Info("kafka publisher ready", zap.Strings("brokers", brokers))
	} else {
		log.Warn("KAFKA_BROKERS not set, bet events are not published")
	}

	// Hub + engine
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	hub := ws.NewHub(ws.Options{
		MaxConnections: cfg.MaxConnections,
		IdleTimeout:    cfg.IdleTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	}, issuer, m, log)
	eng := engine.New(engine.Options{
		MaxTTL:         cfg.OfferMaxTTL,
		DefaultTTL:     cfg.OfferDefaultTTL,
		SettleTimeout:  cfg.SettleTimeout,
		PublishTimeout: cfg.PublishTimeout,
	}, fights, store, sink, hub, m, log)
	hub.SetBetting(eng)
	go hub.RunSweeper(ctx, cfg.SweepInterval)

	// HTTP
	srv := api.NewServer(store, eng, fights, hub, issuer, log)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("listening", zap.String("port", cfg.HTTPPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	eng.Flush()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
