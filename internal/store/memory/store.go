// Package memory implements the events store as an in-process,
// month-partitioned append-only log. It carries the same partition and
// retention semantics as the ClickHouse store and backs every test.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/variantlab/experiment-analytics-service/internal/domain"
	"github.com/variantlab/experiment-analytics-service/internal/store"
)

type partition struct {
	month  string
	events []*domain.Event
	maxTS  time.Time
}

// Store is an in-memory EventStore
type Store struct {
	mu          sync.RWMutex
	partitions  map[string]*partition
	lastArrival time.Time
	log         *zap.Logger
}

// New creates an empty in-memory events store
func New(log *zap.Logger) *Store {
	return &Store{
		partitions: make(map[string]*partition),
		log:        log,
	}
}

// Append stores events into their month partitions. Arrival stamps are
// assigned here and are strictly increasing so the arrival scan watermark
// never skips an event.
func (s *Store) Append(ctx context.Context, events []*domain.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range events {
		arrival := time.Now().UTC()
		if !arrival.After(s.lastArrival) {
			arrival = s.lastArrival.Add(time.Nanosecond)
		}
		s.lastArrival = arrival
		event.ProcessedAt = arrival

		month := event.Month()
		p, ok := s.partitions[month]
		if !ok {
			p = &partition{month: month}
			s.partitions[month] = p
		}
		p.events = append(p.events, event)
		if event.Timestamp.After(p.maxTS) {
			p.maxTS = event.Timestamp
		}
	}

	return len(events), nil
}

// Scan returns events for the experiment (and variant, if non-negative)
// within the time range, ascending by timestamp.
func (s *Store) Scan(ctx context.Context, query store.ScanQuery) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.Event
	for _, p := range s.partitions {
		for _, event := range p.events {
			if event.ExperimentID != query.ExperimentID {
				continue
			}
			if query.VariantID >= 0 && event.VariantID != query.VariantID {
				continue
			}
			if !query.From.IsZero() && event.Timestamp.Before(query.From) {
				continue
			}
			if !query.To.IsZero() && event.Timestamp.After(query.To) {
				continue
			}
			matched = append(matched, event)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	return matched, nil
}

// ScanArrivals returns up to limit events appended after the watermark, in
// arrival order.
func (s *Store) ScanArrivals(ctx context.Context, since time.Time, limit int) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.Event
	for _, p := range s.partitions {
		for _, event := range p.events {
			if event.ProcessedAt.After(since) {
				matched = append(matched, event)
			}
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ProcessedAt.Before(matched[j].ProcessedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

// Partitions lists the month partitions currently held
func (s *Store) Partitions(ctx context.Context) ([]store.PartitionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]store.PartitionInfo, 0, len(s.partitions))
	for _, p := range s.partitions {
		infos = append(infos, store.PartitionInfo{
			Month:        p.month,
			Rows:         int64(len(p.events)),
			MaxTimestamp: p.maxTS,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Month < infos[j].Month })

	return infos, nil
}

// DropPartition removes a whole month partition. The map swap happens under
// the write lock, so scans see the partition fully or not at all.
func (s *Store) DropPartition(ctx context.Context, month string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.partitions[month]; !ok {
		return nil
	}
	delete(s.partitions, month)
	s.log.Info("Dropped partition", zap.String("month", month))
	return nil
}

// DeleteOlderThan removes individual rows older than the cutoff
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for month, p := range s.partitions {
		kept := p.events[:0]
		var maxTS time.Time
		for _, event := range p.events {
			if event.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, event)
			if event.Timestamp.After(maxTS) {
				maxTS = event.Timestamp
			}
		}
		if len(kept) == 0 {
			delete(s.partitions, month)
			continue
		}
		p.events = kept
		p.maxTS = maxTS
	}

	return removed, nil
}

// Stats reports totals across all partitions
func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &store.Stats{}
	users := make(map[string]struct{})
	for _, p := range s.partitions {
		stats.TotalEvents += int64(len(p.events))
		for _, event := range p.events {
			users[event.UserID] = struct{}{}
		}
	}
	stats.UniqueUsers = uint64(len(users))

	return stats, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }
