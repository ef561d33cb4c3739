package storage

import (
	"context"

	"rentalscope/internal/model"
)

// EventSink archives decoded events. Sinks must tolerate being handed the
// same event twice; dedup on (tx hash, log index) is their responsibility.
type EventSink interface {
	PutEventBatch(ctx context.Context, events []model.Event) error
}
