package rollup

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Query selects rollup buckets. VariantID < 0 matches all variants,
// EventType "" matches all event types.
type Query struct {
	ExperimentID int64
	VariantID    int64
	EventType    string
	Granularity  Granularity
	From         time.Time
	To           time.Time
}

// Store holds the materialized rollup buckets. Buckets are never closed:
// late events merge into whichever bucket their timestamp selects.
type Store struct {
	mu      sync.RWMutex
	buckets map[Key]*Accumulator
	log     *zap.Logger
}

// NewStore creates an empty rollup store
func NewStore(log *zap.Logger) *Store {
	return &Store{
		buckets: make(map[Key]*Accumulator),
		log:     log,
	}
}

// Accumulator returns the bucket for the key, creating it if absent.
// Callers may observe into the returned accumulator concurrently; its own
// lock makes the merge safe.
func (s *Store) Accumulator(key Key) *Accumulator {
	s.mu.RLock()
	acc, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return acc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok = s.buckets[key]; ok {
		return acc
	}
	acc = NewAccumulator()
	s.buckets[key] = acc
	return acc
}

// Merge folds a partial accumulator into the bucket for the key
func (s *Store) Merge(key Key, partial *Accumulator) {
	s.Accumulator(key).Merge(partial)
}

// Query returns snapshots of the matching buckets ordered by bucket start,
// then variant, then event type
func (s *Store) Query(q Query) []Snapshot {
	s.mu.RLock()
	matched := make(map[Key]*Accumulator)
	for key, acc := range s.buckets {
		if key.ExperimentID != q.ExperimentID || key.Granularity != q.Granularity {
			continue
		}
		if q.VariantID >= 0 && key.VariantID != q.VariantID {
			continue
		}
		if q.EventType != "" && key.EventType != q.EventType {
			continue
		}
		bucket := time.Unix(key.BucketStart, 0).UTC()
		if !q.From.IsZero() && bucket.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && bucket.After(q.To) {
			continue
		}
		matched[key] = acc
	}
	s.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(matched))
	for key, acc := range matched {
		snaps = append(snaps, acc.snapshot(key))
	}

	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].BucketStart.Equal(snaps[j].BucketStart) {
			return snaps[i].BucketStart.Before(snaps[j].BucketStart)
		}
		if snaps[i].VariantID != snaps[j].VariantID {
			return snaps[i].VariantID < snaps[j].VariantID
		}
		return snaps[i].EventType < snaps[j].EventType
	})

	return snaps
}

// Len returns the number of materialized buckets
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

// Reset drops all buckets, for a rebuild from the events store
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = make(map[Key]*Accumulator)
}
