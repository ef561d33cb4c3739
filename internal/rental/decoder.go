package rental

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"rentalscope/internal/model"
)

// BlockSource resolves block timestamps. Logs carry no timestamp of their
// own, so decoding needs one extra ledger lookup per block.
type BlockSource interface {
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// Decoder maps raw contract logs to typed domain events.
type Decoder struct {
	contractABI abi.ABI
	topicToKind map[common.Hash]model.EventKind
}

// NewDecoder builds a decoder over the six known event signatures.
func NewDecoder() (*Decoder, error) {
	contractABI, err := PlatformABI()
	if err != nil {
		return nil, err
	}

	topicToKind := make(map[common.Hash]model.EventKind, len(model.Kinds()))
	for _, kind := range model.Kinds() {
		event, ok := contractABI.Events[string(kind)]
		if !ok {
			return nil, fmt.Errorf("abi is missing event %s", kind)
		}
		topicToKind[event.ID] = kind
	}

	return &Decoder{
		contractABI: contractABI,
		topicToKind: topicToKind,
	}, nil
}

// CanDecode reports whether topic0 matches a known event signature.
func (d *Decoder) CanDecode(topic0 common.Hash) bool {
	_, ok := d.topicToKind[topic0]
	return ok
}

// Topics returns the topic0 hashes of all six event kinds, in kind order.
func (d *Decoder) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(model.Kinds()))
	for _, kind := range model.Kinds() {
		topics = append(topics, d.contractABI.Events[string(kind)].ID)
	}
	return topics
}

// KindTopic returns the topic0 hash for a single event kind.
func (d *Decoder) KindTopic(kind model.EventKind) common.Hash {
	return d.contractABI.Events[string(kind)].ID
}

// Decode converts a raw log into a typed event. Schema failures come back
// as *model.DecodeError wrapping ErrUnknownEventKind or ErrMalformedLog;
// a block timestamp lookup failure is returned untouched so callers can
// tell connectivity apart from bad data.
func (d *Decoder) Decode(ctx context.Context, log types.Log, blocks BlockSource) (model.Event, error) {
	if len(log.Topics) == 0 {
		return model.Event{}, decodeError(log, fmt.Errorf("%w: missing topic0", model.ErrMalformedLog))
	}

	kind, ok := d.topicToKind[log.Topics[0]]
	if !ok {
		return model.Event{}, decodeError(log, fmt.Errorf("%w: topic0 %s", model.ErrUnknownEventKind, log.Topics[0].Hex()))
	}

	payload, err := d.decodePayload(kind, log)
	if err != nil {
		return model.Event{}, decodeError(log, err)
	}

	ts, err := blocks.BlockTimestamp(ctx, log.BlockNumber)
	if err != nil {
		return model.Event{}, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
	}

	return model.Event{
		Kind:        kind,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
		Timestamp:   ts,
		Payload:     payload,
	}, nil
}

func (d *Decoder) decodePayload(kind model.EventKind, log types.Log) (model.EventPayload, error) {
	switch kind {
	case model.KindIdentityRegistered:
		return d.decodeIdentityRegistered(log)
	case model.KindListingRegistered:
		return d.decodeListingRegistered(log)
	case model.KindBookingCreated:
		return d.decodeBookingCreated(log)
	case model.KindBookingConfirmed:
		return d.decodeBookingRef(kind, log)
	case model.KindBookingCompleted:
		return d.decodeBookingRef(kind, log)
	case model.KindReviewSubmitted:
		return d.decodeReviewSubmitted(log)
	default:
		return nil, fmt.Errorf("%w: kind %s", model.ErrUnknownEventKind, kind)
	}
}

func (d *Decoder) decodeIdentityRegistered(log types.Log) (model.EventPayload, error) {
	event := d.contractABI.Events[string(model.KindIdentityRegistered)]

	var indexed struct {
		Account common.Address
	}
	if err := parseIndexed(&indexed, event, log.Topics); err != nil {
		return nil, err
	}

	values, err := unpackNonIndexed(event, log.Data, 2)
	if err != nil {
		return nil, err
	}
	name, ok := values[0].(string)
	if !ok {
		return nil, malformed(event, fmt.Errorf("name is %T, not string", values[0]))
	}
	registeredAt, err := asBigInt(values[1])
	if err != nil {
		return nil, malformed(event, err)
	}
	if !registeredAt.IsUint64() {
		return nil, malformed(event, fmt.Errorf("timestamp out of range: %s", registeredAt))
	}

	return &model.IdentityRegisteredData{
		Account:      indexed.Account.Hex(),
		Name:         name,
		RegisteredAt: registeredAt.Uint64(),
	}, nil
}

func (d *Decoder) decodeListingRegistered(log types.Log) (model.EventPayload, error) {
	event := d.contractABI.Events[string(model.KindListingRegistered)]

	var indexed struct {
		ListingId *big.Int
		Owner     common.Address
	}
	if err := parseIndexed(&indexed, event, log.Topics); err != nil {
		return nil, err
	}

	values, err := unpackNonIndexed(event, log.Data, 1)
	if err != nil {
		return nil, err
	}
	title, ok := values[0].(string)
	if !ok {
		return nil, malformed(event, fmt.Errorf("title is %T, not string", values[0]))
	}

	return &model.ListingRegisteredData{
		ListingID: indexed.ListingId.String(),
		Owner:     indexed.Owner.Hex(),
		Title:     title,
	}, nil
}

func (d *Decoder) decodeBookingCreated(log types.Log) (model.EventPayload, error) {
	event := d.contractABI.Events[string(model.KindBookingCreated)]

	var indexed struct {
		BookingId *big.Int
		ListingId *big.Int
		Tenant    common.Address
	}
	if err := parseIndexed(&indexed, event, log.Topics); err != nil {
		return nil, err
	}
	if _, err := unpackNonIndexed(event, log.Data, 0); err != nil {
		return nil, err
	}

	return &model.BookingCreatedData{
		BookingID: indexed.BookingId.String(),
		ListingID: indexed.ListingId.String(),
		Tenant:    indexed.Tenant.Hex(),
	}, nil
}

// decodeBookingRef covers BookingConfirmed and BookingCompleted, which the
// contract emits with the booking id alone.
func (d *Decoder) decodeBookingRef(kind model.EventKind, log types.Log) (model.EventPayload, error) {
	event := d.contractABI.Events[string(kind)]

	var indexed struct {
		BookingId *big.Int
	}
	if err := parseIndexed(&indexed, event, log.Topics); err != nil {
		return nil, err
	}
	if _, err := unpackNonIndexed(event, log.Data, 0); err != nil {
		return nil, err
	}

	if kind == model.KindBookingConfirmed {
		return &model.BookingConfirmedData{BookingID: indexed.BookingId.String()}, nil
	}
	return &model.BookingCompletedData{BookingID: indexed.BookingId.String()}, nil
}

func (d *Decoder) decodeReviewSubmitted(log types.Log) (model.EventPayload, error) {
	event := d.contractABI.Events[string(model.KindReviewSubmitted)]

	var indexed struct {
		ListingId *big.Int
		Reviewer  common.Address
	}
	if err := parseIndexed(&indexed, event, log.Topics); err != nil {
		return nil, err
	}

	values, err := unpackNonIndexed(event, log.Data, 1)
	if err != nil {
		return nil, err
	}
	rating, err := asBigInt(values[0])
	if err != nil {
		return nil, malformed(event, err)
	}
	if !rating.IsUint64() || rating.Uint64() > math.MaxUint8 {
		return nil, malformed(event, fmt.Errorf("rating out of range: %s", rating))
	}

	return &model.ReviewSubmittedData{
		ListingID: indexed.ListingId.String(),
		Reviewer:  indexed.Reviewer.Hex(),
		Rating:    uint8(rating.Uint64()),
	}, nil
}

func parseIndexed(out interface{}, event abi.Event, topics []common.Hash) error {
	args := indexedArguments(event.Inputs)
	if len(topics) != len(args)+1 {
		return malformed(event, fmt.Errorf("expected %d topics, got %d", len(args)+1, len(topics)))
	}
	if err := abi.ParseTopics(out, args, topics[1:]); err != nil {
		return malformed(event, fmt.Errorf("parse topics: %v", err))
	}
	return nil
}

func unpackNonIndexed(event abi.Event, data []byte, want int) ([]interface{}, error) {
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, malformed(event, fmt.Errorf("unpack data: %v", err))
	}
	if len(values) != want {
		return nil, malformed(event, fmt.Errorf("expected %d data fields, got %d", want, len(values)))
	}
	return values, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func malformed(event abi.Event, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrMalformedLog, event.Name, err)
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func decodeError(log types.Log, err error) *model.DecodeError {
	topic0 := ""
	if len(log.Topics) > 0 {
		topic0 = log.Topics[0].Hex()
	}
	return &model.DecodeError{
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
		Topic0:      topic0,
		Err:         err,
	}
}
