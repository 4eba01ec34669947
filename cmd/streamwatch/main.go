// Package main wires together the stream-monitoring crawler service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/streamwatch/crawler/internal/api"
	"github.com/streamwatch/crawler/internal/clock/system"
	"github.com/streamwatch/crawler/internal/config"
	"github.com/streamwatch/crawler/internal/health"
	"github.com/streamwatch/crawler/internal/id/uuid"
	"github.com/streamwatch/crawler/internal/logging"
	"github.com/streamwatch/crawler/internal/metrics"
	"github.com/streamwatch/crawler/internal/monitor"
	"github.com/streamwatch/crawler/internal/platform/rest"
	"github.com/streamwatch/crawler/internal/platform/youtube"
	"github.com/streamwatch/crawler/internal/probe"
	"github.com/streamwatch/crawler/internal/publish"
	"github.com/streamwatch/crawler/internal/quota"
	"github.com/streamwatch/crawler/internal/repository"
	"github.com/streamwatch/crawler/internal/scheduler"
	"github.com/streamwatch/crawler/internal/state"
	"github.com/streamwatch/crawler/internal/watch"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("crawler exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	idGen := uuid.NewUUIDGenerator()

	repo, err := repository.NewPostgres(ctx, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repo.Close()

	broker := publish.NewRedisBroker(publish.RedisConfig{
		Addr:     cfg.Broker.Addr,
		Password: cfg.Broker.Password,
		DB:       cfg.Broker.DB,
	})
	publisher := publish.New(broker, clock, publish.Config{
		KeyPrefix: cfg.Broker.KeyPrefix,
	}, logger.Named("publisher"))

	store := state.New()
	tracker := quota.NewTracker(clock, quotaBudgets(cfg))
	saver := repository.NewRetryingSaver(repo, clock, repository.RetryConfig{
		MaxAttempts: cfg.Crawler.SaveMaxAttempts,
		Budget:      time.Duration(cfg.Crawler.SaveBudgetSeconds) * time.Second,
	}, logger.Named("saver"))

	monitorCfg := monitor.Config{
		MaxRetries:           cfg.Crawler.MaxRetries,
		CallTimeout:          time.Duration(cfg.Crawler.CallTimeoutSeconds) * time.Second,
		ViewerDeltaThreshold: int64(cfg.Crawler.ViewerDeltaThreshold),
		// A monitor that misses three whole poll cycles is wedged.
		StaleAfter: 3 * cfg.PollInterval(),
	}

	var (
		monitors []*monitor.Monitor
		members  watch.MembersContentAPI
	)
	for name, pc := range cfg.Platforms {
		if !pc.Enabled {
			continue
		}
		client, err := buildClient(ctx, watch.Platform(name), pc)
		if err != nil {
			return fmt.Errorf("init %s client: %w", name, err)
		}
		monitors = append(monitors, monitor.New(client, store, tracker, clock, idGen, monitorCfg, logger.Named("monitor")))
		if yc, ok := client.(*youtube.Client); ok {
			members = yc
		}
	}

	var prober *probe.Prober
	if members != nil {
		rng := rand.New(rand.NewSource(clock.Now().UnixNano())) //nolint:gosec
		prober = probe.New(members, repo, rng, clock, logger.Named("probe"))
	}

	checkers := []health.Checker{
		health.NewPingChecker("repository", clock, repo.Ping),
		health.NewPingChecker("broker", clock, broker.Ping),
		publisher,
	}
	for _, m := range monitors {
		checkers = append(checkers, m)
	}
	aggregator := health.NewAggregator(clock,
		time.Duration(cfg.Crawler.HealthTimeoutSeconds)*time.Second, checkers...)

	sched := scheduler.New(scheduler.Deps{
		Repo:      repo,
		Saver:     saver,
		Broker:    broker,
		Publisher: publisher,
		Monitors:  monitors,
		Prober:    prober,
		Tracker:   tracker,
		Store:     store,
		Health:    aggregator,
		Clock:     clock,
		IDs:       idGen,
		Logger:    logger.Named("scheduler"),
	}, scheduler.Config{
		PollInterval:        cfg.PollInterval(),
		MaintenanceInterval: cfg.MaintenanceInterval(),
		StopGrace:           time.Duration(cfg.Crawler.StopGraceSeconds) * time.Second,
		StaleRetention:      time.Duration(cfg.Crawler.StaleRetentionHours) * time.Hour,
	})

	apiServer := api.NewServer(aggregator, store, tracker, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	return sched.Run(ctx)
}

func buildClient(ctx context.Context, platform watch.Platform, pc config.PlatformConfig) (watch.PlatformClient, error) {
	if platform == watch.PlatformVideo {
		return youtube.New(ctx, pc.APIKey)
	}
	return rest.New(rest.Config{
		Platform: platform,
		BaseURL:  pc.BaseURL,
		APIKey:   pc.APIKey,
		CallCost: pc.CallCost,
	}), nil
}

func quotaBudgets(cfg config.Config) map[watch.Platform]quota.Budget {
	budgets := make(map[watch.Platform]quota.Budget)
	for name, pc := range cfg.Platforms {
		if !pc.Enabled || pc.QuotaLimit <= 0 {
			continue
		}
		budgets[watch.Platform(name)] = quota.Budget{
			LimitUnits: pc.QuotaLimit,
			Window:     pc.QuotaWindow(),
			PacingRPS:  pc.PacingRPS,
		}
	}
	return budgets
}
