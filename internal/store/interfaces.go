package store

import (
	"context"
	"errors"
	"time"

	"github.com/variantlab/experiment-analytics-service/internal/domain"
)

// ErrUnavailable marks a transient storage fault. Callers retry appends
// that fail with it; anything else is treated as permanent.
var ErrUnavailable = errors.New("events store unavailable")

// ScanQuery selects events by key prefix and time range. VariantID < 0
// means all variants of the experiment.
type ScanQuery struct {
	ExperimentID int64
	VariantID    int64
	From         time.Time
	To           time.Time
}

// PartitionInfo describes one month partition of the events store
type PartitionInfo struct {
	Month        string
	Rows         int64
	MaxTimestamp time.Time
}

// Stats summarizes the events store for the maintenance surface
type Stats struct {
	TotalEvents int64
	UniqueUsers uint64
}

// EventStore is the append-only, time-partitioned durable log of validated
// events. Events are immutable once appended; corrections arrive as new
// events. Partitions are the unit of retention.
type EventStore interface {
	// Append durably stores a batch of events and returns how many were
	// written. Appends are not deduplicated here; the ingestion adapter's
	// dedup window is the only id-level suppression.
	Append(ctx context.Context, events []*domain.Event) (int, error)

	// Scan returns events matching the query in ascending timestamp order.
	Scan(ctx context.Context, query ScanQuery) ([]*domain.Event, error)

	// ScanArrivals returns up to limit events appended after the given
	// arrival watermark, in arrival order. This is the append stream the
	// aggregation engine tails; late events surface here no matter how old
	// their own timestamps are.
	ScanArrivals(ctx context.Context, since time.Time, limit int) ([]*domain.Event, error)

	// Partitions lists the store's month partitions.
	Partitions(ctx context.Context) ([]PartitionInfo, error)

	// DropPartition removes one month partition wholesale. Concurrent
	// readers observe the partition fully or not at all.
	DropPartition(ctx context.Context, month string) error

	// DeleteOlderThan removes individual rows with timestamps before the
	// cutoff and returns how many were removed. Row-granular maintenance
	// path; the retention manager itself works on whole partitions.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Stats reports store-wide totals.
	Stats(ctx context.Context) (*Stats, error)

	Ping(ctx context.Context) error
	Close() error
}
