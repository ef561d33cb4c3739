package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"rentalscope/internal/model"
	"rentalscope/internal/rental"
	"rentalscope/internal/view"
)

type fakeRefresher struct {
	calls int
}

func (f *fakeRefresher) Refresh() { f.calls++ }

func readyStore(t *testing.T) *view.Store {
	t.Helper()
	store := view.NewStore()
	events := []model.Event{
		{
			Kind:        model.KindBookingCreated,
			BlockNumber: 410,
			TxHash:      "0xaa",
			LogIndex:    0,
			Timestamp:   1700000410,
			Payload:     &model.BookingCreatedData{BookingID: "1", ListingID: "10", Tenant: "0x22"},
		},
		{
			Kind:        model.KindListingRegistered,
			BlockNumber: 420,
			TxHash:      "0xbb",
			LogIndex:    1,
			Timestamp:   1700000420,
			Payload:     &model.ListingRegisteredData{ListingID: "10", Owner: "0x33", Title: "loft"},
		},
	}
	if err := store.Reset(events, rental.Counters{Listings: 3, Bookings: 8}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	return store
}

func TestEventsEndpointNotReady(t *testing.T) {
	server := NewServer(":0", view.NewStore(), nil, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/all", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before the first snapshot", rec.Code)
	}
}

func TestEventsEndpointByCategory(t *testing.T) {
	server := NewServer(":0", readyStore(t), nil, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/booking", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Category string        `json:"category"`
		Events   []model.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Kind != model.KindBookingCreated {
		t.Fatalf("booking view = %+v", resp.Events)
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/nonsense", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown category status = %d, want 404", rec.Code)
	}
}

func TestCountersEndpoint(t *testing.T) {
	server := NewServer(":0", readyStore(t), nil, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/counters", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Listings uint64 `json:"listings"`
		Bookings uint64 `json:"bookings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Listings != 3 || resp.Bookings != 8 {
		t.Fatalf("counters = %+v, want 3/8", resp)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	refresher := &fakeRefresher{}
	server := NewServer(":0", readyStore(t), refresher, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if refresher.calls != 1 {
		t.Fatalf("refresh calls = %d, want 1", refresher.calls)
	}
}
