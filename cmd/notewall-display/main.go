package main

import (
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/heptiolabs/healthcheck"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"

	"github.com/splashdigilab/willMusic/internal"
	"github.com/splashdigilab/willMusic/pkg/channel"
	"github.com/splashdigilab/willMusic/pkg/config"
	"github.com/splashdigilab/willMusic/pkg/display"
	"github.com/splashdigilab/willMusic/pkg/logger"
	"github.com/splashdigilab/willMusic/pkg/metrics"
	"github.com/splashdigilab/willMusic/pkg/store"
)

var buildtime string

func main() {
	logger.Initialize()
	defer func() {
		_ = logger.Sync()
	}()
	log := logger.For(logger.ComponentDisplay)
	log.Infof("This is notewall-display build date: %s", buildtime)

	configPath, err := env.GetAsString("CONFIG_PATH", false, "config.yaml")
	if err != nil {
		log.Fatalf("Failed to read CONFIG_PATH: %s", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %s", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Database,
	})

	noteStore := store.NewRedisStore(store.RedisOptions{
		Client:       rdb,
		Prefix:       cfg.Redis.KeyPrefix,
		PollInterval: cfg.Redis.PollInterval(),
		Logger:       logger.For(logger.ComponentStore),
	})

	syncChannel := channel.NewRedisChannel(rdb, cfg.Redis.ChannelName, logger.For(logger.ComponentChannel))

	orchestrator := display.NewOrchestrator(display.Options{
		Store:         noteStore,
		Channel:       syncChannel,
		Renderer:      display.NewLogRenderer(),
		Hold:          cfg.Display.Hold(),
		Transition:    cfg.Display.Transition(),
		BorrowTimeout: cfg.Display.BorrowTimeout(),
		IdlePoolSize:  cfg.Display.IdlePoolSize,
	})
	orchestrator.Start()

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(500))
	health.AddReadinessCheck("redis", noteStore.HealthCheck())
	healthAddress, err := env.GetAsString("HEALTH_ADDRESS", false, "0.0.0.0:8086")
	if err != nil {
		log.Fatalf("Failed to read HEALTH_ADDRESS: %s", err)
	}
	go func() {
		if err := http.ListenAndServe(healthAddress, health); err != nil {
			log.Errorf("Health endpoint failed: %s", err)
		}
	}()

	metricsServer := metrics.SetupMetricsEndpoint(cfg.MetricsAddress, log)

	internal.NewGracefulShutdown(func() error {
		orchestrator.Stop()
		_ = metricsServer.Close()
		_ = syncChannel.Close()
		if err := noteStore.Close(); err != nil {
			return err
		}
		return rdb.Close()
	}).Wait()

	zap.S().Info("notewall-display exited")
}
