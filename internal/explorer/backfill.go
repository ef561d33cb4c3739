package explorer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"rentalscope/internal/metrics"
	"rentalscope/internal/model"
	"rentalscope/internal/rental"
)

// ErrTotalBackfill is returned when every per-kind query failed. Partial
// failure is not an error: the store becomes ready with whatever succeeded.
var ErrTotalBackfill = errors.New("backfill failed for every event kind")

// BackfillConfig bounds the historical reconstruction.
type BackfillConfig struct {
	Contract     common.Address
	WindowSize   uint64
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// Backfill reconstructs the recent event history with one bounded query
// flow per event kind. Events older than the window are invisible by
// design; the window trades completeness for responsiveness.
type Backfill struct {
	cfg     BackfillConfig
	source  LedgerSource
	decoder *rental.Decoder
	metrics *metrics.ExplorerMetrics
	logger  *zap.Logger
}

// NewBackfill builds a backfill engine. metrics may be nil.
func NewBackfill(cfg BackfillConfig, source LedgerSource, decoder *rental.Decoder, m *metrics.ExplorerMetrics, logger *zap.Logger) *Backfill {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	return &Backfill{cfg: cfg, source: source, decoder: decoder, metrics: m, logger: logger}
}

// Result is the per-kind outcome of one backfill pass.
type Result struct {
	FromBlock uint64
	ToBlock   uint64
	// Events merges all successful kinds, ordered most recent first.
	Events []model.Event
	// Failed enumerates the kinds whose queries failed.
	Failed map[model.EventKind]error
	// SkippedLogs counts records dropped by decode failures.
	SkippedLogs int
}

// Run queries every event kind over [latest-window, latest]. The per-kind
// flows run concurrently and are joined at the end, so total latency is
// bounded by the slowest kind, and one hanging or failing kind cannot
// block the others.
func (b *Backfill) Run(ctx context.Context) (Result, error) {
	var latest uint64
	err := withRetry(ctx, b.cfg.MaxRetries, b.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		latest, err = b.source.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("get latest block: %w", err)
	}

	fromBlock := uint64(0)
	if latest > b.cfg.WindowSize {
		fromBlock = latest - b.cfg.WindowSize
	}

	kinds := model.Kinds()
	type kindOutcome struct {
		events  []model.Event
		skipped int
		err     error
	}
	outcomes := make([]kindOutcome, len(kinds))

	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind model.EventKind) {
			defer wg.Done()
			events, skipped, err := b.queryKind(ctx, kind, fromBlock, latest)
			outcomes[i] = kindOutcome{events: events, skipped: skipped, err: err}
		}(i, kind)
	}
	wg.Wait()

	result := Result{
		FromBlock: fromBlock,
		ToBlock:   latest,
		Failed:    make(map[model.EventKind]error),
	}
	for i, kind := range kinds {
		outcome := outcomes[i]
		if outcome.err != nil {
			result.Failed[kind] = outcome.err
			b.logger.Warn("backfill kind failed", zap.String("kind", string(kind)), zap.Error(outcome.err))
			if b.metrics != nil {
				b.metrics.BackfillFailures.WithLabelValues(string(kind)).Inc()
			}
			continue
		}
		result.Events = append(result.Events, outcome.events...)
		result.SkippedLogs += outcome.skipped
	}

	if len(result.Failed) == len(kinds) {
		return result, fmt.Errorf("%w: %v", ErrTotalBackfill, result.Failed)
	}

	sort.SliceStable(result.Events, func(i, j int) bool {
		return result.Events[i].MoreRecent(result.Events[j])
	})

	b.logger.Info("backfill complete",
		zap.Uint64("from", fromBlock),
		zap.Uint64("to", latest),
		zap.Int("events", len(result.Events)),
		zap.Int("skipped_logs", result.SkippedLogs),
		zap.Int("failed_kinds", len(result.Failed)),
	)

	return result, nil
}

func (b *Backfill) queryKind(ctx context.Context, kind model.EventKind, fromBlock, toBlock uint64) ([]model.Event, int, error) {
	ranges, err := SplitRange(fromBlock, toBlock, b.cfg.BatchSize)
	if err != nil {
		return nil, 0, err
	}

	addresses := []common.Address{b.cfg.Contract}
	topic := []common.Hash{b.decoder.KindTopic(kind)}
	blocks := retryingBlocks{source: b.source, maxRetries: b.cfg.MaxRetries, backoff: b.cfg.RetryBackoff}

	var events []model.Event
	var skipped int
	for _, blockRange := range ranges {
		var batch []types.Log
		err := withRetry(ctx, b.cfg.MaxRetries, b.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			batch, err = b.source.FilterLogs(ctx, blockRange.From, blockRange.To, addresses, topic)
			if err != nil {
				b.logger.Warn("filter logs failed",
					zap.String("kind", string(kind)),
					zap.Uint64("from", blockRange.From),
					zap.Uint64("to", blockRange.To),
					zap.Error(err),
				)
			}
			return err
		})
		if err != nil {
			return nil, skipped, fmt.Errorf("filter %s logs [%d,%d]: %w", kind, blockRange.From, blockRange.To, err)
		}

		for _, log := range batch {
			event, err := b.decoder.Decode(ctx, log, blocks)
			if err != nil {
				var decodeErr *model.DecodeError
				if errors.As(err, &decodeErr) {
					skipped++
					b.logger.Warn("skipping undecodable log", zap.Error(decodeErr))
					if b.metrics != nil {
						b.metrics.DecodeFailures.WithLabelValues(decodeReason(err)).Inc()
					}
					continue
				}
				// Block lookup failure: connectivity, fails the kind.
				return nil, skipped, err
			}
			events = append(events, event)
			if b.metrics != nil {
				b.metrics.EventsDecoded.WithLabelValues(string(kind)).Inc()
			}
		}
	}

	return events, skipped, nil
}

func decodeReason(err error) string {
	switch {
	case errors.Is(err, model.ErrUnknownEventKind):
		return "unknown_kind"
	case errors.Is(err, model.ErrMalformedLog):
		return "malformed"
	default:
		return "block_lookup"
	}
}

// retryingBlocks adds the backfill retry policy to block timestamp lookups.
type retryingBlocks struct {
	source     LedgerSource
	maxRetries int
	backoff    time.Duration
}

func (r retryingBlocks) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	var ts uint64
	err := withRetry(ctx, r.maxRetries, r.backoff, func(ctx context.Context) error {
		var err error
		ts, err = r.source.BlockTimestamp(ctx, number)
		return err
	})
	return ts, err
}
