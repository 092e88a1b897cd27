package rollup

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variantlab/experiment-analytics-service/internal/domain"
)

func valueEvent(id, userID string, value float64, ts time.Time) *domain.Event {
	return &domain.Event{
		ID:           id,
		ExperimentID: 42,
		UserID:       userID,
		VariantID:    7,
		EventType:    "conversion",
		Timestamp:    ts,
		AssignmentAt: ts.Add(-time.Hour),
		Properties:   fmt.Sprintf(`{"value": %g}`, value),
	}
}

func snapshotKey() Key {
	return Key{
		ExperimentID: 42,
		VariantID:    7,
		EventType:    "conversion",
		Granularity:  Hourly,
		BucketStart:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Unix(),
	}
}

func TestAccumulator_Observe_CountsAndAverage(t *testing.T) {
	acc := NewAccumulator()
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	acc.Observe(valueEvent("e1", "u1", 10, ts), false)
	acc.Observe(valueEvent("e2", "u1", 20, ts), false)
	acc.Observe(valueEvent("e3", "u2", 30, ts), false)

	snap := acc.snapshot(snapshotKey())
	assert.Equal(t, int64(3), snap.EventCount)
	assert.Equal(t, int64(3), snap.ValidEvents)
	assert.Equal(t, uint64(2), snap.UniqueUsers)
	assert.Equal(t, int64(3), snap.ValueCount)
	assert.InDelta(t, 20.0, snap.AvgValue, 1e-9)
}

func TestAccumulator_Observe_EventWithoutValue(t *testing.T) {
	acc := NewAccumulator()
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	event := valueEvent("e1", "u1", 0, ts)
	event.Properties = "{}"
	acc.Observe(event, false)

	snap := acc.snapshot(snapshotKey())
	assert.Equal(t, int64(1), snap.EventCount)
	assert.Equal(t, uint64(1), snap.UniqueUsers)
	assert.Equal(t, int64(0), snap.ValueCount)
	assert.Equal(t, 0.0, snap.AvgValue)
}

func TestAccumulator_Observe_ValidOnlyValues(t *testing.T) {
	acc := NewAccumulator()
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	// Event timestamp precedes its assignment, so it is invalid.
	invalid := valueEvent("e1", "u1", 100, ts)
	invalid.AssignmentAt = ts.Add(time.Hour)
	valid := valueEvent("e2", "u2", 10, ts)

	acc.Observe(invalid, true)
	acc.Observe(valid, true)

	snap := acc.snapshot(snapshotKey())
	assert.Equal(t, int64(2), snap.EventCount)
	assert.Equal(t, int64(1), snap.ValidEvents)
	// Only the valid event's value contributes.
	assert.Equal(t, int64(1), snap.ValueCount)
	assert.InDelta(t, 10.0, snap.AvgValue, 1e-9)

	// Without the valid-only restriction both values contribute.
	all := NewAccumulator()
	all.Observe(invalid, false)
	all.Observe(valid, false)

	snap = all.snapshot(snapshotKey())
	assert.Equal(t, int64(2), snap.ValueCount)
	assert.InDelta(t, 55.0, snap.AvgValue, 1e-9)
}

func TestAccumulator_Merge_MatchesSequentialObserve(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	events := make([]*domain.Event, 0, 200)
	for i := 0; i < 200; i++ {
		events = append(events, valueEvent(
			fmt.Sprintf("e%d", i),
			fmt.Sprintf("u%d", i%50),
			float64(i),
			ts,
		))
	}

	sequential := NewAccumulator()
	for _, event := range events {
		sequential.Observe(event, false)
	}

	left := NewAccumulator()
	right := NewAccumulator()
	for i, event := range events {
		if i%2 == 0 {
			left.Observe(event, false)
		} else {
			right.Observe(event, false)
		}
	}
	left.Merge(right)

	want := sequential.snapshot(snapshotKey())
	got := left.snapshot(snapshotKey())

	assert.Equal(t, want.EventCount, got.EventCount)
	assert.Equal(t, want.ValidEvents, got.ValidEvents)
	assert.Equal(t, want.ValueCount, got.ValueCount)
	assert.InDelta(t, want.AvgValue, got.AvgValue, 1e-9)
	assert.Equal(t, want.UniqueUsers, got.UniqueUsers)
	// Sketch merge keeps the relative accuracy guarantee.
	assert.InEpsilon(t, want.MedianValue, got.MedianValue, 2*sketchAccuracy)
	assert.InEpsilon(t, want.P95Value, got.P95Value, 2*sketchAccuracy)
}

func TestAccumulator_ConcurrentCrossMerge(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	a := NewAccumulator()
	b := NewAccumulator()
	a.Observe(valueEvent("e1", "u1", 10, ts), false)
	b.Observe(valueEvent("e2", "u2", 20, ts), false)

	// Merging the same pair in both directions at once must complete.
	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				a.Merge(b)
			}()
			go func() {
				defer wg.Done()
				b.Merge(a)
			}()
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cross-merges did not complete")
	}

	// Self-merge is a no-op, not a double-count.
	snap := a.snapshot(snapshotKey())
	a.Merge(a)
	assert.Equal(t, snap.EventCount, a.snapshot(snapshotKey()).EventCount)
}

func TestAccumulator_Quantiles_WithinRelativeAccuracy(t *testing.T) {
	acc := NewAccumulator()
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	for i := 1; i <= 1000; i++ {
		acc.Observe(valueEvent(fmt.Sprintf("e%d", i), "u1", float64(i), ts), false)
	}

	snap := acc.snapshot(snapshotKey())
	require.Equal(t, int64(1000), snap.ValueCount)
	assert.InEpsilon(t, 500.0, snap.MedianValue, 2*sketchAccuracy)
	assert.InEpsilon(t, 950.0, snap.P95Value, 2*sketchAccuracy)
	assert.InEpsilon(t, 990.0, snap.P99Value, 2*sketchAccuracy)
}

func TestAccumulator_UniqueUsers_WithinErrorBudget(t *testing.T) {
	acc := NewAccumulator()
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	const users = 10000
	for i := 0; i < users; i++ {
		acc.Observe(valueEvent(fmt.Sprintf("e%d", i), fmt.Sprintf("u%d", i), 1, ts), false)
	}

	snap := acc.snapshot(snapshotKey())
	assert.InEpsilon(t, float64(users), float64(snap.UniqueUsers), 0.02)
}

func TestParseGranularity(t *testing.T) {
	g, ok := ParseGranularity("hour")
	assert.True(t, ok)
	assert.Equal(t, Hourly, g)

	g, ok = ParseGranularity("day")
	assert.True(t, ok)
	assert.Equal(t, Daily, g)

	_, ok = ParseGranularity("week")
	assert.False(t, ok)
}
