package rental

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Counters mirrors the contract's running totals. They are authoritative:
// the explorer polls them and never derives them from local event counts.
type Counters struct {
	Listings uint64 `json:"listings"`
	Bookings uint64 `json:"bookings"`
}

// FetchCounters reads listingCount() and bookingCount() from the contract.
func FetchCounters(ctx context.Context, caller ContractCaller, contract common.Address) (Counters, error) {
	listings, err := callCountMethod(ctx, caller, contract, "listingCount")
	if err != nil {
		return Counters{}, err
	}
	bookings, err := callCountMethod(ctx, caller, contract, "bookingCount")
	if err != nil {
		return Counters{}, err
	}
	return Counters{Listings: listings, Bookings: bookings}, nil
}

func callCountMethod(ctx context.Context, caller ContractCaller, contract common.Address, method string) (uint64, error) {
	contractABI, err := PlatformABI()
	if err != nil {
		return 0, fmt.Errorf("parse abi: %w", err)
	}

	data, err := contractABI.Pack(method)
	if err != nil {
		return 0, fmt.Errorf("pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &contract, Data: data}
	resp, err := caller.CallContract(ctx, msg, nil)
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := contractABI.Unpack(method, resp)
	if err != nil {
		return 0, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("unpack %s: expected 1 value, got %d", method, len(values))
	}
	count, err := asBigInt(values[0])
	if err != nil {
		return 0, fmt.Errorf("unpack %s: %w", method, err)
	}
	if !count.IsUint64() {
		return 0, fmt.Errorf("%s out of range: %s", method, count)
	}
	return count.Uint64(), nil
}
