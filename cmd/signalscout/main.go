package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/feedhawk/signalscout/internal/analyzer"
	"github.com/feedhawk/signalscout/internal/budget"
	"github.com/feedhawk/signalscout/internal/config"
	"github.com/feedhawk/signalscout/internal/logger"
	"github.com/feedhawk/signalscout/internal/pipeline"
	"github.com/feedhawk/signalscout/internal/registry"
	"github.com/feedhawk/signalscout/internal/scheduler"
	"github.com/feedhawk/signalscout/internal/storage"
	"github.com/feedhawk/signalscout/internal/telegram"
	"github.com/feedhawk/signalscout/internal/twitter"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	reg, err := registry.New(store, cfg.Twitter.BackoffBase, cfg.Twitter.BackoffCeiling)
	if err != nil {
		logger.Fatal("Failed to initialize account registry: %v", err)
	}
	logger.Info("Registry loaded with %d enabled accounts", len(reg.ListEnabled()))

	budgetTracker := budget.New(cfg.Twitter.RateCapacity, cfg.Twitter.RateWindow)

	fetcher := twitter.NewClient(
		cfg.Twitter.APIURL,
		cfg.Twitter.BearerToken,
		cfg.Twitter.MaxResultsPerPoll,
		cfg.Twitter.FetchTimeout,
		cfg.Twitter.MaxRetries,
		cfg.Twitter.RetryDelayBase,
	)
	oracle := analyzer.NewClient(
		cfg.Analysis.APIURL,
		cfg.Analysis.APIKey,
		cfg.Analysis.Model,
		cfg.Analysis.Timeout,
		cfg.Analysis.MaxRetries,
		cfg.Analysis.RetryDelayBase,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var deliverer pipeline.Deliverer
	var queue *telegram.Queue
	if cfg.Telegram.Enabled {
		tgClient, err := telegram.NewClient(
			cfg.Telegram.BotToken,
			cfg.Telegram.ChatID,
			cfg.Telegram.RetryAttempts,
			cfg.Telegram.RetryDelayBase,
			cfg.Telegram.SendTimeout,
			cfg.Telegram.MessagesPerSec,
			store,
			reg,
			budgetTracker,
		)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		tgClient.ListenForCommands(ctx)

		queue = telegram.NewQueue(tgClient, store, 64)
		queue.Start(ctx)
		deliverer = queue
		logger.Info("Telegram delivery initialized")
	} else {
		logger.Debug("Telegram delivery disabled")
	}

	pipe := pipeline.New(store, pipeline.Config{
		MinConfidence:           cfg.Signals.MinConfidence,
		MinRiskRewardRatio:      cfg.Signals.MinRiskRewardRatio,
		PriceDeviationThreshold: cfg.Signals.PriceDeviationThreshold,
		MaxDailySignals:         cfg.Signals.MaxDailySignals,
		CapScope:                cfg.Signals.CapScope,
	}, deliverer)

	sched := scheduler.New(scheduler.Config{
		TickInterval:    cfg.Twitter.TickInterval,
		PerFetchCost:    cfg.Twitter.PerFetchCost,
		Workers:         cfg.Twitter.Workers,
		FetchTimeout:    cfg.Twitter.FetchTimeout,
		AnalysisTimeout: cfg.Analysis.Timeout,
	}, budgetTracker, reg, fetcher, oracle, pipe)

	// Daily retention sweep: pending signals older than the expiry window
	// flip to expired at midnight UTC.
	sweeper := cron.New(cron.WithLocation(time.UTC))
	if _, err := sweeper.AddFunc("0 0 * * *", func() {
		n, err := store.ExpireSignals(time.Now().Add(-cfg.Signals.Expiry))
		if err != nil {
			logger.Error("Expiry sweep failed: %v", err)
			return
		}
		if n > 0 {
			logger.Info("Expired %d stale signals", n)
		}
	}); err != nil {
		logger.Fatal("Failed to schedule expiry sweep: %v", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	sched.Start(ctx)
	logger.Info("Monitoring %d accounts (tick: %v, budget: %d/%v)",
		len(reg.ListEnabled()),
		cfg.Twitter.TickInterval,
		cfg.Twitter.RateCapacity,
		cfg.Twitter.RateWindow,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, draining...")
	sched.Stop()
	if queue != nil {
		queue.Stop()
	}
	cancel()
	logger.Info("Shutdown complete")
}
