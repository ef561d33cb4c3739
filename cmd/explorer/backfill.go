package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rentalscope/internal/chain"
	"rentalscope/internal/explorer"
	"rentalscope/internal/metrics"
	"rentalscope/internal/rental"
	"rentalscope/internal/storage/postgres"
)

// runBackfill performs one bounded historical pass and archives the result,
// without entering live mode. Useful for seeding the archive or smoke
// testing an endpoint.
func runBackfill(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	sinks, closeSinks, err := buildSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	decoder, err := rental.NewDecoder()
	if err != nil {
		return err
	}

	contract := common.HexToAddress(cfg.Contract)
	backfill := explorer.NewBackfill(explorer.BackfillConfig{
		Contract:     contract,
		WindowSize:   cfg.WindowSize,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, chainClient, decoder, metrics.NewExplorerMetrics(), logger)

	result, err := backfill.Run(ctx)
	if err != nil {
		return err
	}

	for _, sink := range sinks {
		if err := sink.PutEventBatch(ctx, result.Events); err != nil {
			return fmt.Errorf("archive events: %w", err)
		}
	}

	counters, err := rental.FetchCounters(ctx, chainClient, contract)
	if err != nil {
		logger.Warn("counter poll failed", zap.Error(err))
	} else {
		for _, sink := range sinks {
			if pgStore, ok := sink.(*postgres.Store); ok {
				if err := pgStore.SaveCounters(ctx, counters); err != nil {
					logger.Warn("save counters failed", zap.Error(err))
				}
			}
		}
		logger.Info("contract counters",
			zap.Uint64("listings", counters.Listings),
			zap.Uint64("bookings", counters.Bookings),
		)
	}

	for kind, kindErr := range result.Failed {
		logger.Warn("kind failed", zap.String("kind", string(kind)), zap.Error(kindErr))
	}

	logger.Info("backfill done",
		zap.Uint64("from", result.FromBlock),
		zap.Uint64("to", result.ToBlock),
		zap.Int("events", len(result.Events)),
		zap.Int("skipped_logs", result.SkippedLogs),
	)
	return nil
}
