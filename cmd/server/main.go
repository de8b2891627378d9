// Command server wires configuration, persistence, the live price feed, the
// kline fetcher, the round service, the background schedulers, and the HTTP
// API into one running process, following the teacher's main.go shape: load
// config, construct dependencies top-down, start background work, serve
// until a signal arrives, then shut everything down in reverse order.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"btc-tournament/config"
	"btc-tournament/internal/advancer"
	"btc-tournament/internal/api"
	"btc-tournament/internal/cache"
	"btc-tournament/internal/database"
	"btc-tournament/internal/events"
	"btc-tournament/internal/klines"
	"btc-tournament/internal/logging"
	"btc-tournament/internal/metrics"
	"btc-tournament/internal/pricefeed"
	"btc-tournament/internal/round"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		Component:  "tournament",
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	}))
	log := logging.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(ctx, database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()
	repo := database.NewRepository(db)

	cacheSvc, err := cache.NewCacheService(cfg.RedisConfig)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis cache")
	}
	defer cacheSvc.Close()

	fetcher := klines.New(cfg.KlineConfig, cacheSvc)
	feed := pricefeed.New(cfg.PriceFeedConfig)
	bus := events.NewBus()

	roundSvc := round.New(repo, feed, fetcher, cfg.RoundConfig, cfg.RetentionConfig, bus)

	var reg *metrics.Registry
	if cfg.MetricsConfig.Enabled {
		reg = metrics.NewRegistry()
	}

	schedulerCfg := advancer.DefaultSchedulerConfig()
	roundScheduler := advancer.NewScheduler(roundSvc, reg, schedulerCfg)
	if err := roundScheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start state advancer scheduler")
	}
	defer roundScheduler.Stop()

	sweepScheduler := advancer.NewSweepScheduler(repo, fetcher, round.Symbol, cfg.RoundConfig.FlatThresholdPct, 0, reg, schedulerCfg)
	if err := sweepScheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start reason rule sweep scheduler")
	}
	defer sweepScheduler.Stop()

	serverCfg := api.NewServerConfig(cfg.ServerConfig, cfg.AuthConfig, cfg.RoundConfig)
	server := api.NewServer(serverCfg, repo, roundSvc, fetcher, feed, reg, bus)

	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("error during http server shutdown")
	}
}
