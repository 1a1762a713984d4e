package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"resizeme/internal/config"
	"resizeme/internal/logger"
	"resizeme/internal/pubsub"
	"resizeme/internal/recent"
	"resizeme/internal/repository"
	"resizeme/internal/service"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// The sweeper finalizes subscriptions whose cancel-at-period-end date has
// passed and rolls over elapsed usage periods for users who have been idle.
func main() {
	logger := logger.New()

	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repository.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	var publisher pubsub.Publisher = pubsub.NoopPublisher{}
	if cfg.PubSubBillingTopic != "" {
		p, err := pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			logger.Fatal().Msgf("Failed to create publisher: %v", err)
		}
		defer p.Close()
		publisher = p
	}

	plans := service.NewPlanMap(cfg)
	subs := service.NewSubscriptionService(
		repository.NewSubscriptionRepo(pool),
		service.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, plans, logger),
		plans,
		service.NewSignatureVerifier(cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret),
		pubsub.NewBillingPublisher(publisher, cfg.PubSubBillingTopic),
		service.SubscriptionOptions{VerifyTimeout: cfg.VerifyTimeout(), Currency: cfg.Currency},
		time.Now,
		logger,
	)
	usage := service.NewUsageService(repository.NewUsageRepo(pool), recent.NewMemoryStore(), time.Now, logger)

	timeout := time.Duration(cfg.SweepTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(cfg.SweepSchedule, func() { sweep(ctx, subs, usage, timeout, logger) }); err != nil {
		logger.Fatal().Msgf("Invalid sweep schedule %q: %v", cfg.SweepSchedule, err)
	}

	// Run once at startup so a restart never delays finalization by a full interval.
	sweep(ctx, subs, usage, timeout, logger)

	c.Start()
	logger.Info().Str("schedule", cfg.SweepSchedule).Msg("Sweeper started")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received, waiting for running sweep...")
	<-c.Stop().Done()
	logger.Info().Msg("Sweeper stopped")
}

func sweep(parent context.Context, subs service.SubscriptionService, usage service.UsageService, timeout time.Duration, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	finalized, err := subs.FinalizeElapsed(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to finalize elapsed subscriptions")
	}
	reset, err := usage.ResetElapsedPeriods(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reset elapsed usage periods")
	}
	logger.Info().Int("finalized", finalized).Int64("reset", reset).Msg("Sweep completed")
}
