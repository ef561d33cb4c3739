package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rentalscope/internal/model"
	"rentalscope/internal/rental"
)

// Store archives decoded events and counter readings in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// PutEventBatch inserts events, ignoring ones already archived under the
// same (tx_hash, log_index).
func (s *Store) PutEventBatch(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, event := range events {
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload %s: %w", event.DedupKey(), err)
		}
		batch.Queue(`
			INSERT INTO rental_events (
				tx_hash, log_index, kind, block_number, event_ts, payload, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (tx_hash, log_index) DO NOTHING
		`,
			event.TxHash,
			int64(event.LogIndex),
			string(event.Kind),
			int64(event.BlockNumber),
			int64(event.Timestamp),
			payload,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// SaveCounters records the latest polled contract totals.
func (s *Store) SaveCounters(ctx context.Context, counters rental.Counters) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rental_counters (id, listing_count, booking_count, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE
		SET listing_count = EXCLUDED.listing_count,
			booking_count = EXCLUDED.booking_count,
			updated_at = now()
	`, int64(counters.Listings), int64(counters.Bookings))
	return err
}
