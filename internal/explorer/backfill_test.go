package explorer

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"rentalscope/internal/model"
	"rentalscope/internal/rental"
)

type fakeSub struct {
	errCh chan error
}

func newFakeSub() *fakeSub {
	return &fakeSub{errCh: make(chan error, 1)}
}

func (s *fakeSub) Unsubscribe() {}

func (s *fakeSub) Err() <-chan error { return s.errCh }

// fakeSource is an in-memory LedgerSource serving canned logs per topic0.
type fakeSource struct {
	mu          sync.Mutex
	latest      uint64
	latestErr   error
	logsByTopic map[common.Hash][]types.Log
	failTopics  map[common.Hash]error
	timestamps  map[uint64]uint64
	listings    uint64
	bookings    uint64
	counterErr  error

	queriedRanges []BlockRange
	liveCh        chan<- types.Log
	sub           *fakeSub
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	return f.latest, f.latestErr
}

func (f *fakeSource) FilterLogs(_ context.Context, fromBlock, toBlock uint64, _ []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	f.queriedRanges = append(f.queriedRanges, BlockRange{From: fromBlock, To: toBlock})
	f.mu.Unlock()

	if len(topic0) != 1 {
		return nil, errors.New("fake expects exactly one topic0 per backfill query")
	}
	if err, ok := f.failTopics[topic0[0]]; ok {
		return nil, err
	}

	var out []types.Log
	for _, log := range f.logsByTopic[topic0[0]] {
		if log.BlockNumber >= fromBlock && log.BlockNumber <= toBlock {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeSource) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	ts, ok := f.timestamps[number]
	if !ok {
		return 0, errors.New("unknown block")
	}
	return ts, nil
}

func (f *fakeSource) SubscribeLogs(_ context.Context, _ []common.Address, _ []common.Hash, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveCh = ch
	f.sub = newFakeSub()
	return f.sub, nil
}

func (f *fakeSource) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.counterErr != nil {
		return nil, f.counterErr
	}
	contractABI, err := rental.PlatformABI()
	if err != nil {
		return nil, err
	}
	listingCall, _ := contractABI.Pack("listingCount")
	if bytes.Equal(msg.Data, listingCall) {
		return common.BigToHash(new(big.Int).SetUint64(f.listings)).Bytes(), nil
	}
	return common.BigToHash(new(big.Int).SetUint64(f.bookings)).Bytes(), nil
}

func mustDecoder(t *testing.T) *rental.Decoder {
	t.Helper()
	decoder, err := rental.NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	return decoder
}

func bookingCreatedLog(t *testing.T, decoder *rental.Decoder, bookingID, listingID int64, block uint64, index uint) types.Log {
	t.Helper()
	return types.Log{
		Address: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Topics: []common.Hash{
			decoder.KindTopic(model.KindBookingCreated),
			common.BigToHash(big.NewInt(bookingID)),
			common.BigToHash(big.NewInt(listingID)),
			common.BytesToHash(common.HexToAddress("0x2222222222222222222222222222222222222222").Bytes()),
		},
		BlockNumber: block,
		TxHash:      common.HexToHash(common.Bytes2Hex(big.NewInt(int64(block)*1000 + int64(index)).Bytes())),
		Index:       index,
	}
}

func bookingConfirmedLog(decoder *rental.Decoder, bookingID int64, block uint64, index uint) types.Log {
	return types.Log{
		Address: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Topics: []common.Hash{
			decoder.KindTopic(model.KindBookingConfirmed),
			common.BigToHash(big.NewInt(bookingID)),
		},
		BlockNumber: block,
		TxHash:      common.HexToHash(common.Bytes2Hex(big.NewInt(int64(block)*1000 + int64(index)).Bytes())),
		Index:       index,
	}
}

func blockClock(from, to uint64) map[uint64]uint64 {
	timestamps := make(map[uint64]uint64)
	for b := from; b <= to; b++ {
		timestamps[b] = 1700000000 + b
	}
	return timestamps
}

func TestBackfillWindowArithmetic(t *testing.T) {
	decoder := mustDecoder(t)
	source := &fakeSource{
		latest:      500,
		logsByTopic: map[common.Hash][]types.Log{},
		timestamps:  blockClock(0, 500),
	}

	backfill := NewBackfill(BackfillConfig{
		Contract:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		WindowSize: 100,
		BatchSize:  1000,
	}, source, decoder, nil, nil)

	result, err := backfill.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.FromBlock != 400 || result.ToBlock != 500 {
		t.Fatalf("range = [%d,%d], want [400,500]", result.FromBlock, result.ToBlock)
	}
	for _, queried := range source.queriedRanges {
		if queried.From != 400 || queried.To != 500 {
			t.Fatalf("queried range %+v outside window", queried)
		}
	}
}

func TestBackfillWindowLargerThanChain(t *testing.T) {
	decoder := mustDecoder(t)
	source := &fakeSource{
		latest:      50,
		logsByTopic: map[common.Hash][]types.Log{},
		timestamps:  blockClock(0, 50),
	}

	backfill := NewBackfill(BackfillConfig{WindowSize: 10000, BatchSize: 1000}, source, decoder, nil, nil)
	result, err := backfill.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.FromBlock != 0 {
		t.Fatalf("from block = %d, want 0", result.FromBlock)
	}
}

func TestBackfillBookingScenario(t *testing.T) {
	decoder := mustDecoder(t)
	source := &fakeSource{
		latest: 500,
		logsByTopic: map[common.Hash][]types.Log{
			decoder.KindTopic(model.KindBookingCreated): {
				bookingCreatedLog(t, decoder, 1, 10, 410, 0),
				bookingCreatedLog(t, decoder, 2, 11, 490, 0),
			},
			decoder.KindTopic(model.KindBookingConfirmed): {
				bookingConfirmedLog(decoder, 1, 495, 0),
			},
		},
		timestamps: blockClock(0, 500),
	}

	backfill := NewBackfill(BackfillConfig{WindowSize: 100, BatchSize: 1000}, source, decoder, nil, nil)
	result, err := backfill.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", result.Failed)
	}
	if len(result.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(result.Events))
	}

	blocks := []uint64{result.Events[0].BlockNumber, result.Events[1].BlockNumber, result.Events[2].BlockNumber}
	if blocks[0] != 495 || blocks[1] != 490 || blocks[2] != 410 {
		t.Fatalf("events not descending: %v", blocks)
	}

	// The confirmed event carries only the booking id it references.
	confirmed, ok := result.Events[0].Payload.(*model.BookingConfirmedData)
	if !ok {
		t.Fatalf("expected confirmed payload first, got %T", result.Events[0].Payload)
	}
	if confirmed.BookingID != "1" {
		t.Fatalf("confirmed booking id = %s, want 1", confirmed.BookingID)
	}
}

func TestBackfillPartialFailureIsolation(t *testing.T) {
	decoder := mustDecoder(t)
	reviewErr := errors.New("rpc timeout")
	source := &fakeSource{
		latest: 500,
		logsByTopic: map[common.Hash][]types.Log{
			decoder.KindTopic(model.KindBookingCreated): {
				bookingCreatedLog(t, decoder, 1, 10, 450, 0),
			},
		},
		failTopics: map[common.Hash]error{
			decoder.KindTopic(model.KindReviewSubmitted): reviewErr,
		},
		timestamps: blockClock(0, 500),
	}

	backfill := NewBackfill(BackfillConfig{WindowSize: 100, BatchSize: 1000}, source, decoder, nil, nil)
	result, err := backfill.Run(context.Background())
	if err != nil {
		t.Fatalf("partial failure must not be an error: %v", err)
	}

	if len(result.Events) != 1 {
		t.Fatalf("surviving kinds must still backfill, got %d events", len(result.Events))
	}
	kindErr, ok := result.Failed[model.KindReviewSubmitted]
	if !ok {
		t.Fatalf("review failure not recorded: %v", result.Failed)
	}
	if !errors.Is(kindErr, reviewErr) {
		t.Fatalf("recorded error mismatch: %v", kindErr)
	}
}

func TestBackfillTotalFailure(t *testing.T) {
	decoder := mustDecoder(t)
	source := &fakeSource{
		latest:      500,
		failTopics:  map[common.Hash]error{},
		logsByTopic: map[common.Hash][]types.Log{},
		timestamps:  blockClock(0, 500),
	}
	for _, kind := range model.Kinds() {
		source.failTopics[decoder.KindTopic(kind)] = errors.New("rpc down")
	}

	backfill := NewBackfill(BackfillConfig{WindowSize: 100, BatchSize: 1000}, source, decoder, nil, nil)
	if _, err := backfill.Run(context.Background()); !errors.Is(err, ErrTotalBackfill) {
		t.Fatalf("expected ErrTotalBackfill, got %v", err)
	}
}

func TestBackfillSkipsUndecodableLog(t *testing.T) {
	decoder := mustDecoder(t)

	good := bookingCreatedLog(t, decoder, 1, 10, 450, 0)
	// Same topic0 but missing the tenant topic.
	bad := types.Log{
		Address:     good.Address,
		Topics:      good.Topics[:3],
		BlockNumber: 451,
		TxHash:      common.HexToHash("0xbad"),
		Index:       0,
	}

	source := &fakeSource{
		latest: 500,
		logsByTopic: map[common.Hash][]types.Log{
			decoder.KindTopic(model.KindBookingCreated): {bad, good},
		},
		timestamps: blockClock(0, 500),
	}

	backfill := NewBackfill(BackfillConfig{WindowSize: 100, BatchSize: 1000}, source, decoder, nil, nil)
	result, err := backfill.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("good log must survive a bad sibling, got %d events", len(result.Events))
	}
	if result.SkippedLogs != 1 {
		t.Fatalf("skipped = %d, want 1", result.SkippedLogs)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("decode failure must not fail the kind: %v", result.Failed)
	}
}
