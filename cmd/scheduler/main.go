package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/segyhp/settlement-engine/internal/app"
	"github.com/segyhp/settlement-engine/internal/config"
	"github.com/segyhp/settlement-engine/pkg/logger"
	"github.com/segyhp/settlement-engine/pkg/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	appLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format).With("component", "scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize node: %v", err)
	}
	defer node.Close(context.Background())

	location, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		log.Fatalf("Invalid SCHEDULER_TIMEZONE %q: %v", cfg.Scheduler.Timezone, err)
	}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(location),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if err := setupCronJobs(ctx, c, cfg, node, appLogger); err != nil {
		log.Fatalf("Failed to schedule jobs: %v", err)
	}

	c.Start()
	appLogger.Info("scheduler started", "resume_spec", cfg.Scheduler.ResumeSpec, "default_spec", cfg.Scheduler.DefaultSpec)

	<-ctx.Done()
	appLogger.Info("shutting down scheduler")
	<-c.Stop().Done()
	appLogger.Info("scheduler stopped")
}

func setupCronJobs(ctx context.Context, c *cron.Cron, cfg *config.Config, node *app.App, logger *slog.Logger) error {
	if _, err := c.AddFunc(cfg.Scheduler.ResumeSpec, func() {
		resumeVerifications(ctx, node, logger)
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc(cfg.Scheduler.DefaultSpec, func() {
		reportDefaults(ctx, node, logger)
	}); err != nil {
		return err
	}
	return nil
}

// resumeVerifications asks the oracle again about every payment still in flight.
func resumeVerifications(ctx context.Context, node *app.App, logger *slog.Logger) {
	done, err := node.Orchestrator.ResumeAll(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "verification resume run failed", "error", err, "concluded", done)
		return
	}
	logger.InfoContext(ctx, "verification resume run finished", "concluded", done)
}

func reportDefaults(ctx context.Context, node *app.App, logger *slog.Logger) {
	defaulted, err := node.Obligations.ListInDefault(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "default scan failed", "error", err)
		return
	}
	now := time.Now()
	for _, v := range defaulted {
		o := v.Obligation
		logger.WarnContext(ctx, "obligation in default",
			"linear_id", o.LinearID,
			"obligor", o.Obligor.String(),
			"obligee", o.Obligee.String(),
			"outstanding", o.Outstanding().String(),
			"days_overdue", utils.DaysOverdue(*o.DueBy, now),
		)
	}
	logger.InfoContext(ctx, "default scan finished", "in_default", len(defaulted))
}
