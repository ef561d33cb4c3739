package explorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"rentalscope/internal/metrics"
	"rentalscope/internal/model"
	"rentalscope/internal/notify"
	"rentalscope/internal/rental"
	"rentalscope/internal/storage"
	"rentalscope/internal/view"
)

// errRefreshRequested unwinds the live stream when an explicit refresh
// arrives.
var errRefreshRequested = errors.New("refresh requested")

// Config holds the runtime settings for the explorer service.
type Config struct {
	Contract     common.Address
	WindowSize   uint64
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// Deps are the service collaborators. Notifier defaults to a nop, Logger to
// zap.NewNop; Metrics and Sinks may be empty.
type Deps struct {
	Notifier notify.Notifier
	Metrics  *metrics.ExplorerMetrics
	Sinks    []storage.EventSink
	Logger   *zap.Logger
}

// MergeOutcome reports whether an observed event was merged or dropped as a
// duplicate.
type MergeOutcome struct {
	Applied bool
}

// Service owns the view store and reconciles the two arrival modes: one
// bounded backfill pass installs the snapshot, then live deliveries are
// merged one at a time. A failed live subscription freezes the views on the
// last good snapshot until an explicit Refresh.
type Service struct {
	cfg      Config
	source   LedgerSource
	decoder  *rental.Decoder
	store    *view.Store
	backfill *Backfill
	notifier notify.Notifier
	metrics  *metrics.ExplorerMetrics
	sinks    []storage.EventSink
	logger   *zap.Logger

	refreshCh chan struct{}
}

// NewService builds the explorer service around an existing store.
func NewService(cfg Config, source LedgerSource, store *view.Store, deps Deps) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("ledger source is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("view store is nil")
	}

	decoder, err := rental.NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}

	if deps.Notifier == nil {
		deps.Notifier = notify.NopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	backfill := NewBackfill(BackfillConfig{
		Contract:     cfg.Contract,
		WindowSize:   cfg.WindowSize,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, source, decoder, deps.Metrics, deps.Logger)

	return &Service{
		cfg:       cfg,
		source:    source,
		decoder:   decoder,
		store:     store,
		backfill:  backfill,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		sinks:     deps.Sinks,
		logger:    deps.Logger,
		refreshCh: make(chan struct{}, 1),
	}, nil
}

// Store exposes the view store for the rendering boundary.
func (s *Service) Store() *view.Store {
	return s.store
}

// Refresh requests a full re-backfill. It never blocks; concurrent requests
// coalesce into one pass.
func (s *Service) Refresh() {
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

// Run drives the service until ctx is done: backfill, install the
// snapshot, then merge live deliveries. Connectivity failures are surfaced
// and the service idles until the next Refresh; it never auto-retries, so
// a flapping endpoint cannot cause a request storm.
func (s *Service) Run(ctx context.Context) error {
	for {
		if err := s.backfillAndReset(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("backfill failed", zap.Error(err))
			s.notifier.ConnectionLost(ctx, err)
			if !s.awaitRefresh(ctx) {
				return err
			}
			continue
		}

		err := s.stream(ctx)
		switch {
		case errors.Is(err, errRefreshRequested):
			s.logger.Info("refresh requested")
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			s.logger.Warn("live stream stopped", zap.Error(err))
			s.notifier.ConnectionLost(ctx, err)
			if s.metrics != nil {
				s.metrics.SubscriptionDrops.Inc()
			}
			if !s.awaitRefresh(ctx) {
				return err
			}
		}
	}
}

// Observe merges one live event. Idempotent on the (tx hash, log index)
// identity: a record redelivered after backfill or a reconnect is dropped
// without notifying. Counters are re-polled, never incremented locally.
func (s *Service) Observe(ctx context.Context, event model.Event) MergeOutcome {
	applied, err := s.store.Insert(event)
	if err != nil {
		s.logger.Error("merge rejected", zap.Error(err))
		return MergeOutcome{}
	}
	if !applied {
		s.logger.Debug("duplicate event dropped",
			zap.String("tx_hash", event.TxHash),
			zap.Uint64("log_index", event.LogIndex),
		)
		if s.metrics != nil {
			s.metrics.DuplicatesSkipped.Inc()
		}
		return MergeOutcome{}
	}

	if s.metrics != nil {
		s.metrics.EventsMerged.WithLabelValues(string(event.Kind)).Inc()
	}

	if counters, err := rental.FetchCounters(ctx, s.source, s.cfg.Contract); err != nil {
		// Keep the previous totals; they are a mirror, not an invariant.
		s.logger.Warn("counter refresh failed", zap.Error(err))
	} else {
		s.store.SetCounters(counters)
	}

	s.archive(ctx, []model.Event{event})
	s.notifier.EventApplied(ctx, event)
	return MergeOutcome{Applied: true}
}

func (s *Service) backfillAndReset(ctx context.Context) error {
	result, err := s.backfill.Run(ctx)
	if err != nil {
		return err
	}

	counters := s.store.Counters()
	if fresh, err := rental.FetchCounters(ctx, s.source, s.cfg.Contract); err != nil {
		s.logger.Warn("counter poll failed after backfill", zap.Error(err))
	} else {
		counters = fresh
	}

	if err := s.store.Reset(result.Events, counters); err != nil {
		return fmt.Errorf("install snapshot: %w", err)
	}
	if s.metrics != nil {
		s.metrics.StoreReady.Set(1)
	}

	for kind, kindErr := range result.Failed {
		s.logger.Warn("kind missing from snapshot",
			zap.String("kind", string(kind)),
			zap.Error(kindErr),
		)
	}

	s.archive(ctx, result.Events)
	return nil
}

func (s *Service) stream(ctx context.Context) error {
	ch := make(chan types.Log, 64)
	sub, err := s.source.SubscribeLogs(ctx, []common.Address{s.cfg.Contract}, s.decoder.Topics(), ch)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	s.logger.Info("live subscription established")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.refreshCh:
			return errRefreshRequested
		case err := <-sub.Err():
			return fmt.Errorf("subscription: %w", err)
		case log := <-ch:
			s.handleLive(ctx, log)
		}
	}
}

func (s *Service) handleLive(ctx context.Context, log types.Log) {
	if log.Removed {
		s.logger.Warn("ignoring removed log",
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Uint64("block_number", log.BlockNumber),
		)
		return
	}

	blocks := retryingBlocks{source: s.source, maxRetries: s.cfg.MaxRetries, backoff: s.cfg.RetryBackoff}
	event, err := s.decoder.Decode(ctx, log, blocks)
	if err != nil {
		var decodeErr *model.DecodeError
		if errors.As(err, &decodeErr) {
			s.logger.Warn("skipping undecodable live log", zap.Error(decodeErr))
		} else {
			s.logger.Warn("live block lookup failed", zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.DecodeFailures.WithLabelValues(decodeReason(err)).Inc()
		}
		return
	}

	if s.metrics != nil {
		s.metrics.EventsDecoded.WithLabelValues(string(event.Kind)).Inc()
	}
	s.Observe(ctx, event)
}

func (s *Service) archive(ctx context.Context, events []model.Event) {
	if len(events) == 0 {
		return
	}
	for _, sink := range s.sinks {
		if err := sink.PutEventBatch(ctx, events); err != nil {
			s.logger.Warn("event archive failed", zap.Error(err))
		}
	}
}

// awaitRefresh blocks until a refresh request or shutdown. It reports
// false when ctx ended.
func (s *Service) awaitRefresh(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.refreshCh:
		return true
	}
}
