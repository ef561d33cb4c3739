package model

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies one of the six contract events. The set is closed:
// adding a kind means adding a payload variant and a decode rule.
type EventKind string

const (
	KindIdentityRegistered EventKind = "IdentityRegistered"
	KindListingRegistered  EventKind = "ListingRegistered"
	KindBookingCreated     EventKind = "BookingCreated"
	KindBookingConfirmed   EventKind = "BookingConfirmed"
	KindBookingCompleted   EventKind = "BookingCompleted"
	KindReviewSubmitted    EventKind = "ReviewSubmitted"
)

// Kinds returns all event kinds in a stable order.
func Kinds() []EventKind {
	return []EventKind{
		KindIdentityRegistered,
		KindListingRegistered,
		KindBookingCreated,
		KindBookingConfirmed,
		KindBookingCompleted,
		KindReviewSubmitted,
	}
}

// Category is one of the five grouped views maintained by the store.
type Category string

const (
	CategoryAll      Category = "all"
	CategoryIdentity Category = "identity"
	CategoryListing  Category = "listing"
	CategoryBooking  Category = "booking"
	CategoryReview   Category = "review"
)

// Categories returns the category views in a stable order.
func Categories() []Category {
	return []Category{CategoryAll, CategoryIdentity, CategoryListing, CategoryBooking, CategoryReview}
}

// CategoryOf maps an event kind to its category bucket. All three booking
// lifecycle kinds share the booking bucket.
func CategoryOf(kind EventKind) (Category, error) {
	switch kind {
	case KindIdentityRegistered:
		return CategoryIdentity, nil
	case KindListingRegistered:
		return CategoryListing, nil
	case KindBookingCreated, KindBookingConfirmed, KindBookingCompleted:
		return CategoryBooking, nil
	case KindReviewSubmitted:
		return CategoryReview, nil
	default:
		return "", fmt.Errorf("unknown event kind: %s", kind)
	}
}

// Event is a decoded contract event. Timestamp comes from the enclosing
// block; (TxHash, LogIndex) is the unique identity. Events are immutable
// once built.
type Event struct {
	Kind        EventKind    `json:"kind"`
	BlockNumber uint64       `json:"block_number"`
	TxHash      string       `json:"tx_hash"`
	LogIndex    uint64       `json:"log_index"`
	Timestamp   uint64       `json:"timestamp"`
	Payload     EventPayload `json:"payload"`
}

// DedupKey uniquely identifies the event across backfill and live delivery.
func (e Event) DedupKey() string {
	return fmt.Sprintf("%s:%d", e.TxHash, e.LogIndex)
}

// MoreRecent reports whether e sorts before other in the descending
// (timestamp, block number, log index) view order.
func (e Event) MoreRecent(other Event) bool {
	if e.Timestamp != other.Timestamp {
		return e.Timestamp > other.Timestamp
	}
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber > other.BlockNumber
	}
	return e.LogIndex > other.LogIndex
}

type eventJSON struct {
	Kind        EventKind       `json:"kind"`
	BlockNumber uint64          `json:"block_number"`
	TxHash      string          `json:"tx_hash"`
	LogIndex    uint64          `json:"log_index"`
	Timestamp   uint64          `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// UnmarshalJSON decodes the payload into the concrete variant for the kind.
func (e *Event) UnmarshalJSON(data []byte) error {
	var aux eventJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	payload, err := payloadForKind(aux.Kind)
	if err != nil {
		return err
	}
	if len(aux.Payload) > 0 {
		if err := json.Unmarshal(aux.Payload, payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", aux.Kind, err)
		}
	}

	e.Kind = aux.Kind
	e.BlockNumber = aux.BlockNumber
	e.TxHash = aux.TxHash
	e.LogIndex = aux.LogIndex
	e.Timestamp = aux.Timestamp
	e.Payload = payload
	return nil
}

func payloadForKind(kind EventKind) (EventPayload, error) {
	switch kind {
	case KindIdentityRegistered:
		return &IdentityRegisteredData{}, nil
	case KindListingRegistered:
		return &ListingRegisteredData{}, nil
	case KindBookingCreated:
		return &BookingCreatedData{}, nil
	case KindBookingConfirmed:
		return &BookingConfirmedData{}, nil
	case KindBookingCompleted:
		return &BookingCompletedData{}, nil
	case KindReviewSubmitted:
		return &ReviewSubmittedData{}, nil
	default:
		return nil, fmt.Errorf("unknown event kind: %s", kind)
	}
}
