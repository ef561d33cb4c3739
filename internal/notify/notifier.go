package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rentalscope/internal/model"
)

// Notifier receives one signal per newly merged event plus transient
// connectivity problems. Duplicates never reach it.
type Notifier interface {
	EventApplied(ctx context.Context, event model.Event)
	ConnectionLost(ctx context.Context, err error)
}

// LogNotifier renders each signal as one human-readable log line, the
// explorer's stand-in for the dashboard's banner.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a notifier over the given logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) EventApplied(_ context.Context, event model.Event) {
	n.logger.Info("new event",
		zap.String("headline", Headline(event)),
		zap.String("tx_hash", event.TxHash),
		zap.Uint64("block_number", event.BlockNumber),
	)
}

func (n *LogNotifier) ConnectionLost(_ context.Context, err error) {
	n.logger.Warn("ledger connection lost, views frozen until refresh", zap.Error(err))
}

// Headline describes an event in one line.
func Headline(event model.Event) string {
	switch payload := event.Payload.(type) {
	case *model.IdentityRegisteredData:
		return fmt.Sprintf("user %q registered (%s)", payload.Name, shortAddress(payload.Account))
	case *model.ListingRegisteredData:
		return fmt.Sprintf("listing %s %q registered by %s", payload.ListingID, payload.Title, shortAddress(payload.Owner))
	case *model.BookingCreatedData:
		return fmt.Sprintf("booking %s created for listing %s by %s", payload.BookingID, payload.ListingID, shortAddress(payload.Tenant))
	case *model.BookingConfirmedData:
		return fmt.Sprintf("booking %s confirmed", payload.BookingID)
	case *model.BookingCompletedData:
		return fmt.Sprintf("booking %s completed", payload.BookingID)
	case *model.ReviewSubmittedData:
		return fmt.Sprintf("listing %s rated %d/5 by %s", payload.ListingID, payload.Rating, shortAddress(payload.Reviewer))
	default:
		return string(event.Kind)
	}
}

func shortAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}

// NopNotifier discards all signals.
type NopNotifier struct{}

func (NopNotifier) EventApplied(context.Context, model.Event) {}

func (NopNotifier) ConnectionLost(context.Context, error) {}
