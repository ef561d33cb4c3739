package view

import (
	"sort"
	"sync"

	"rentalscope/internal/model"
	"rentalscope/internal/rental"
)

// Store holds the five categorized event sequences and the contract's
// aggregate counters behind a single mutex. All mutation goes through it;
// readers only ever get point-in-time copies, so a reset or live merge can
// never expose a partially updated bucket.
type Store struct {
	mu       sync.RWMutex
	buckets  map[model.Category][]model.Event
	seen     map[string]struct{}
	counters rental.Counters
	ready    bool
}

// NewStore returns an empty, not-yet-ready store.
func NewStore() *Store {
	return &Store{
		buckets: emptyBuckets(),
		seen:    make(map[string]struct{}),
	}
}

func emptyBuckets() map[model.Category][]model.Event {
	buckets := make(map[model.Category][]model.Event, len(model.Categories()))
	for _, cat := range model.Categories() {
		buckets[cat] = nil
	}
	return buckets
}

// Ready reports whether a backfill snapshot has been installed.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Snapshot returns a point-in-time copy of a category bucket, most recent
// event first.
func (s *Store) Snapshot(category model.Category) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.buckets[category]
	out := make([]model.Event, len(bucket))
	copy(out, bucket)
	return out
}

// Counters returns the last polled contract totals.
func (s *Store) Counters() rental.Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters
}

// SetCounters replaces the mirrored contract totals.
func (s *Store) SetCounters(counters rental.Counters) {
	s.mu.Lock()
	s.counters = counters
	s.mu.Unlock()
}

// Reset atomically replaces every bucket with the given events and marks
// the store ready. Events are deduplicated by (tx hash, log index) and
// ordered most recent first.
func (s *Store) Reset(events []model.Event, counters rental.Counters) error {
	buckets := emptyBuckets()
	seen := make(map[string]struct{}, len(events))

	sorted := make([]model.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MoreRecent(sorted[j])
	})

	for _, event := range sorted {
		key := event.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		category, err := model.CategoryOf(event.Kind)
		if err != nil {
			return err
		}
		seen[key] = struct{}{}
		buckets[model.CategoryAll] = append(buckets[model.CategoryAll], event)
		buckets[category] = append(buckets[category], event)
	}

	s.mu.Lock()
	s.buckets = buckets
	s.seen = seen
	s.counters = counters
	s.ready = true
	s.mu.Unlock()
	return nil
}

// Insert merges one event into the aggregate bucket and its category
// bucket, preserving descending order. It reports false for an already
// seen (tx hash, log index), which makes live redelivery a no-op.
func (s *Store) Insert(event model.Event) (bool, error) {
	category, err := model.CategoryOf(event.Kind)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := event.DedupKey()
	if _, dup := s.seen[key]; dup {
		return false, nil
	}
	s.seen[key] = struct{}{}

	s.buckets[model.CategoryAll] = sortedInsert(s.buckets[model.CategoryAll], event)
	s.buckets[category] = sortedInsert(s.buckets[category], event)
	return true, nil
}

// sortedInsert places the event by its ordering key rather than at the
// head: live events usually arrive in block order, but a reorged or late
// delivery must still land in the right position.
func sortedInsert(bucket []model.Event, event model.Event) []model.Event {
	idx := sort.Search(len(bucket), func(i int) bool {
		return event.MoreRecent(bucket[i])
	})

	bucket = append(bucket, model.Event{})
	copy(bucket[idx+1:], bucket[idx:])
	bucket[idx] = event
	return bucket
}
