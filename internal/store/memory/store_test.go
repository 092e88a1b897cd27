package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/variantlab/experiment-analytics-service/internal/domain"
	"github.com/variantlab/experiment-analytics-service/internal/store"
)

func testEvent(id string, experimentID, variantID int64, userID string, ts time.Time) *domain.Event {
	return &domain.Event{
		ID:           id,
		ExperimentID: experimentID,
		UserID:       userID,
		VariantID:    variantID,
		EventType:    "click",
		Timestamp:    ts,
		AssignmentAt: ts.Add(-time.Hour),
		Properties:   "{}",
	}
}

func TestStore_AppendAndScan_OrderedByTimestamp(t *testing.T) {
	s := New(zap.NewNop())
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Append out of timestamp order.
	n, err := s.Append(ctx, []*domain.Event{
		testEvent("e2", 42, 7, "u1", base.Add(time.Minute)),
		testEvent("e1", 42, 7, "u1", base),
		testEvent("e3", 42, 7, "u2", base.Add(2*time.Minute)),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	events, err := s.Scan(ctx, store.ScanQuery{ExperimentID: 42, VariantID: -1})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)
	assert.Equal(t, "e3", events[2].ID)
}

func TestStore_Scan_VariantAndRangeFilters(t *testing.T) {
	s := New(zap.NewNop())
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Append(ctx, []*domain.Event{
		testEvent("e1", 42, 7, "u1", base),
		testEvent("e2", 42, 8, "u1", base.Add(time.Minute)),
		testEvent("e3", 42, 7, "u2", base.Add(time.Hour)),
		testEvent("e4", 99, 7, "u1", base),
	})
	require.NoError(t, err)

	events, err := s.Scan(ctx, store.ScanQuery{ExperimentID: 42, VariantID: 7})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = s.Scan(ctx, store.ScanQuery{
		ExperimentID: 42,
		VariantID:    -1,
		From:         base,
		To:           base.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)
}

func TestStore_Partitions_GroupedByMonth(t *testing.T) {
	s := New(zap.NewNop())
	ctx := context.Background()

	_, err := s.Append(ctx, []*domain.Event{
		testEvent("e1", 42, 7, "u1", time.Date(2025, 5, 31, 23, 0, 0, 0, time.UTC)),
		testEvent("e2", 42, 7, "u1", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		testEvent("e3", 42, 7, "u2", time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)

	partitions, err := s.Partitions(ctx)
	require.NoError(t, err)
	require.Len(t, partitions, 2)

	assert.Equal(t, "202505", partitions[0].Month)
	assert.Equal(t, int64(1), partitions[0].Rows)
	assert.Equal(t, "202506", partitions[1].Month)
	assert.Equal(t, int64(2), partitions[1].Rows)
	assert.Equal(t, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC), partitions[1].MaxTimestamp)
}

func TestStore_DropPartition_RemovesWholeMonth(t *testing.T) {
	s := New(zap.NewNop())
	ctx := context.Background()

	_, err := s.Append(ctx, []*domain.Event{
		testEvent("e1", 42, 7, "u1", time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)),
		testEvent("e2", 42, 7, "u1", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)

	require.NoError(t, s.DropPartition(ctx, "202505"))

	events, err := s.Scan(ctx, store.ScanQuery{ExperimentID: 42, VariantID: -1})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].ID)

	// Dropping a missing partition is a no-op.
	assert.NoError(t, s.DropPartition(ctx, "202401"))
}

func TestStore_DeleteOlderThan(t *testing.T) {
	s := New(zap.NewNop())
	ctx := context.Background()

	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Append(ctx, []*domain.Event{
		testEvent("e1", 42, 7, "u1", cutoff.Add(-time.Hour)),
		testEvent("e2", 42, 7, "u1", cutoff),
		testEvent("e3", 42, 7, "u2", cutoff.Add(time.Hour)),
	})
	require.NoError(t, err)

	removed, err := s.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	events, err := s.Scan(ctx, store.ScanQuery{ExperimentID: 42, VariantID: -1})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestStore_ScanArrivals_WatermarkAndLimit(t *testing.T) {
	s := New(zap.NewNop())
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Append(ctx, []*domain.Event{
		testEvent("e1", 42, 7, "u1", base),
		testEvent("e2", 42, 7, "u1", base.Add(time.Minute)),
	})
	require.NoError(t, err)

	first, err := s.ScanArrivals(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "e1", first[0].ID)
	assert.Equal(t, "e2", first[1].ID)

	watermark := first[1].ProcessedAt

	// A late event with an old timestamp still surfaces past the watermark.
	_, err = s.Append(ctx, []*domain.Event{
		testEvent("e3", 42, 7, "u2", base.Add(-24*time.Hour)),
	})
	require.NoError(t, err)

	late, err := s.ScanArrivals(ctx, watermark, 0)
	require.NoError(t, err)
	require.Len(t, late, 1)
	assert.Equal(t, "e3", late[0].ID)

	limited, err := s.ScanArrivals(ctx, time.Time{}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStore_ScanArrivals_StampsStrictlyIncrease(t *testing.T) {
	s := New(zap.NewNop())
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	events := make([]*domain.Event, 0, 100)
	for i := 0; i < 100; i++ {
		events = append(events, testEvent("e", 42, 7, "u1", base))
	}
	_, err := s.Append(ctx, events)
	require.NoError(t, err)

	scanned, err := s.ScanArrivals(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, scanned, 100)

	for i := 1; i < len(scanned); i++ {
		assert.True(t, scanned[i].ProcessedAt.After(scanned[i-1].ProcessedAt))
	}
}

func TestStore_Stats(t *testing.T) {
	s := New(zap.NewNop())
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Append(ctx, []*domain.Event{
		testEvent("e1", 42, 7, "u1", base),
		testEvent("e2", 42, 7, "u1", base.Add(time.Minute)),
		testEvent("e3", 42, 8, "u2", base),
	})
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalEvents)
	assert.Equal(t, uint64(2), stats.UniqueUsers)
}
