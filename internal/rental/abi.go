package rental

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const platformABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "account", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "name", "type": "string"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "IdentityRegistered",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "listingId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "title", "type": "string"}
    ],
    "name": "ListingRegistered",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "bookingId", "type": "uint256"},
      {"indexed": true, "internalType": "uint256", "name": "listingId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "tenant", "type": "address"}
    ],
    "name": "BookingCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "bookingId", "type": "uint256"}
    ],
    "name": "BookingConfirmed",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "bookingId", "type": "uint256"}
    ],
    "name": "BookingCompleted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "listingId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "reviewer", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "rating", "type": "uint256"}
    ],
    "name": "ReviewSubmitted",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "listingCount",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "bookingCount",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	platformABI     abi.ABI
	platformABIOnce sync.Once
	platformABIErr  error
)

// PlatformABI returns the parsed rental platform contract ABI.
func PlatformABI() (abi.ABI, error) {
	platformABIOnce.Do(func() {
		platformABI, platformABIErr = abi.JSON(strings.NewReader(platformABIJSON))
	})
	return platformABI, platformABIErr
}
