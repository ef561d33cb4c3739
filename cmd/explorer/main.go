package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"rentalscope/internal/api"
	"rentalscope/internal/chain"
	"rentalscope/internal/config"
	"rentalscope/internal/explorer"
	"rentalscope/internal/metrics"
	"rentalscope/internal/notify"
	"rentalscope/internal/storage"
	"rentalscope/internal/storage/postgres"
	"rentalscope/internal/view"
)

func main() {
	root := &cobra.Command{
		Use:          "explorer",
		Short:        "Rental platform event explorer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Backfill recent history, then follow live events",
		RunE:  runExplorer,
	}
	addCommonFlags(runCmd.Flags())
	runCmd.Flags().String("http-addr", ":8080", "HTTP listen address")
	root.AddCommand(runCmd)

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Run one backfill pass and archive the snapshot",
		RunE:  runBackfill,
	}
	addCommonFlags(backfillCmd.Flags())
	root.AddCommand(backfillCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "ledger RPC URL (websocket required for live mode)")
	flags.String("contract", "", "rental platform contract address")
	flags.Uint64("window", 10000, "backfill window in blocks")
	flags.Uint64("batch-size", 2000, "blocks per log query")
	flags.Int("max-retries", 5, "maximum retry attempts")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.String("out", "", "optional event archive JSONL path")
	flags.String("pg-dsn", "", "optional Postgres DSN for the event archive")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}

	if cfg.RPCURL == "" {
		return config.Config{}, nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Contract) {
		return config.Config{}, nil, fmt.Errorf("contract address %q is invalid", cfg.Contract)
	}
	if cfg.WindowSize == 0 {
		return config.Config{}, nil, fmt.Errorf("window must be greater than zero")
	}

	return cfg, logger, nil
}

func runExplorer(cmd *cobra.Command, _ []string) error {
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

	store := view.NewStore()
	service, err := explorer.NewService(explorer.Config{
		Contract:     common.HexToAddress(cfg.Contract),
		WindowSize:   cfg.WindowSize,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, chainClient, store, explorer.Deps{
		Notifier: notify.NewLogNotifier(logger),
		Metrics:  metrics.NewExplorerMetrics(),
		Sinks:    sinks,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.HTTPAddr, store, service, logger)

	logger.Info("explorer start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("contract", cfg.Contract),
		zap.Uint64("window", cfg.WindowSize),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("http_addr", cfg.HTTPAddr),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return service.Run(groupCtx)
	})
	group.Go(func() error {
		return server.ListenAndServe()
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func buildSinks(ctx context.Context, cfg config.Config) ([]storage.EventSink, func(), error) {
	var sinks []storage.EventSink
	closeFn := func() {}

	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlSink(cfg.Out))
	}
	if cfg.PostgresDSN != "" {
		pgStore, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		sinks = append(sinks, pgStore)
		closeFn = pgStore.Close
	}

	return sinks, closeFn, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
