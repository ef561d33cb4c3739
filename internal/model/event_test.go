package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestMoreRecentOrdering(t *testing.T) {
	base := Event{Timestamp: 1700000000, BlockNumber: 400, LogIndex: 2}

	cases := []struct {
		name  string
		other Event
		want  bool
	}{
		{"newer timestamp", Event{Timestamp: 1699999999, BlockNumber: 500, LogIndex: 9}, true},
		{"older timestamp", Event{Timestamp: 1700000001, BlockNumber: 1, LogIndex: 0}, false},
		{"same ts higher block", Event{Timestamp: 1700000000, BlockNumber: 399, LogIndex: 9}, true},
		{"same ts same block higher index", Event{Timestamp: 1700000000, BlockNumber: 400, LogIndex: 1}, true},
		{"identical position", Event{Timestamp: 1700000000, BlockNumber: 400, LogIndex: 2}, false},
	}

	for _, tc := range cases {
		if got := base.MoreRecent(tc.other); got != tc.want {
			t.Errorf("%s: MoreRecent = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCategoryOfBookingLifecycle(t *testing.T) {
	for _, kind := range []EventKind{KindBookingCreated, KindBookingConfirmed, KindBookingCompleted} {
		cat, err := CategoryOf(kind)
		if err != nil {
			t.Fatalf("CategoryOf(%s) failed: %v", kind, err)
		}
		if cat != CategoryBooking {
			t.Fatalf("CategoryOf(%s) = %s, want %s", kind, cat, CategoryBooking)
		}
	}

	if _, err := CategoryOf(EventKind("Transfer")); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	original := Event{
		Kind:        KindBookingCreated,
		BlockNumber: 410,
		TxHash:      "0xdef456",
		LogIndex:    3,
		Timestamp:   1700000000,
		Payload: &BookingCreatedData{
			BookingID: "7",
			ListingID: "12",
			Tenant:    "0x2222222222222222222222222222222222222222",
		},
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("round-trip mismatch: %+v != %+v", original, decoded)
	}
}

func TestEventJSONUnknownKind(t *testing.T) {
	var decoded Event
	err := json.Unmarshal([]byte(`{"kind":"Transfer","payload":{}}`), &decoded)
	if err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestDedupKey(t *testing.T) {
	a := Event{TxHash: "0xabc", LogIndex: 1}
	b := Event{TxHash: "0xabc", LogIndex: 2}
	if a.DedupKey() == b.DedupKey() {
		t.Fatalf("distinct log indexes must produce distinct dedup keys")
	}
	if a.DedupKey() != (Event{TxHash: "0xabc", LogIndex: 1, BlockNumber: 99}).DedupKey() {
		t.Fatalf("dedup key must depend only on tx hash and log index")
	}
}
