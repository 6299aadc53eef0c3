package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/practicehq/engage/internal/automation"
	"github.com/practicehq/engage/internal/clock"
	"github.com/practicehq/engage/internal/core/config"
	"github.com/practicehq/engage/internal/core/db"
	"github.com/practicehq/engage/internal/logging"
	"github.com/practicehq/engage/internal/loyalty"
	"github.com/practicehq/engage/internal/platform"
	"github.com/practicehq/engage/internal/segments"
	"github.com/practicehq/engage/internal/trigger"
)

const Version = "0.1.0"

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Run the trigger consumer and automation engine",
	RunE:  runEngine,
}

func init() {
	rootCmd.AddCommand(engineCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(logLevel, logFormat)

	if dbURL != "" {
		cfg.DB.URL = dbURL
	}
	if cfg.DB.URL == "" {
		return fmt.Errorf("--db-url or ENGAGE_DB_URL required")
	}
	database, err := db.Open(cfg.DB.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	var migrationID string
	checkQuery := `SELECT migration_id FROM migrations WHERE migration_id = '001_initial_schema.sql'`
	err = database.Get(&migrationID, database.Rebind(checkQuery))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("migration 001_initial_schema not applied - run 'engage migrate up' first")
		}
		return fmt.Errorf("failed to check migrations: %w", err)
	}

	queries, err := db.LoadQueries(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}

	accrual, err := cfg.Loyalty.AccrualRule()
	if err != nil {
		return err
	}

	fabric, err := platform.Connect(platform.Config{
		URLs:            cfg.NATS.URLs,
		OutboundPrefix:  cfg.Platform.OutboundPrefix,
		AttributePrefix: cfg.Platform.AttributePrefix,
		RequestTimeout:  cfg.Platform.RequestTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect platform fabric: %w", err)
	}
	defer fabric.Close()

	clk := clock.RealClock{}
	ledger := loyalty.NewLedger(loyalty.NewSQLStore(queries), accrual, clk, logger)
	segmentStore := segments.NewSQLStore(queries)
	evaluator := segments.NewEvaluator(segmentStore, fabric, clk, logger)
	refresher := segments.NewRefresher(evaluator, segmentStore, clk, cfg.Engine.SegmentRefreshInterval, logger)

	executor := automation.NewExecutor(fabric, ledger, segmentStore, nil, logger)
	pipeline := automation.NewPipeline(executor, cfg.Engine.ActionTimeout, logger)
	engine := automation.NewEngine(
		automation.NewSQLRuleStore(queries),
		automation.NewSQLExecutionStore(queries),
		fabric, pipeline, clk, logger)

	subscriber, err := trigger.NewSubscriber(ctx, trigger.Config{
		URLs:          cfg.NATS.URLs,
		Stream:        cfg.NATS.Stream,
		Subject:       cfg.NATS.Subject,
		ConsumerName:  cfg.NATS.ConsumerName,
		DeliverGroup:  cfg.NATS.DeliverGroup,
		AckWait:       cfg.NATS.AckWait,
		NackDelay:     cfg.NATS.NackDelay,
		MaxDeliver:    cfg.NATS.MaxDeliver,
		MaxAckPending: cfg.NATS.MaxAckPending,
		MaxConcurrent: cfg.NATS.MaxConcurrent,
	}, engine, logger)
	if err != nil {
		return fmt.Errorf("failed to start trigger consumer: %w", err)
	}

	go func() {
		_ = refresher.Run(ctx)
	}()

	logger.Info("engage engine started",
		"version", Version, "stream", cfg.NATS.Stream, "subject", cfg.NATS.Subject)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")
	cancel()
	return subscriber.Close()
}
