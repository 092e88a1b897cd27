package rollup

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/axiomhq/hyperloglog"
	"github.com/variantlab/experiment-analytics-service/internal/domain"
)

// sketchAccuracy is the DDSketch relative accuracy for quantile estimates.
// Merges are commutative and associative; the estimate error stays within
// 1% of the true value regardless of merge order.
const sketchAccuracy = 0.01

// The HyperLogLog sketch uses 2^14 registers, a standard error of ~0.81%
// on unique-user estimates. Well inside the 2% budget.

// Granularity of a rollup bucket
type Granularity string

const (
	Hourly Granularity = "hour"
	Daily  Granularity = "day"
)

// ParseGranularity validates a granularity string from the query surface
func ParseGranularity(s string) (Granularity, bool) {
	switch Granularity(s) {
	case Hourly:
		return Hourly, true
	case Daily:
		return Daily, true
	}
	return "", false
}

// Key identifies one rollup bucket
type Key struct {
	ExperimentID int64
	VariantID    int64
	EventType    string
	Granularity  Granularity
	BucketStart  int64 // Unix seconds
}

// Snapshot is a point-in-time read of one rollup bucket
type Snapshot struct {
	ExperimentID int64
	VariantID    int64
	EventType    string
	Granularity  Granularity
	BucketStart  time.Time
	EventCount   int64
	ValidEvents  int64
	UniqueUsers  uint64
	ValueCount   int64
	AvgValue     float64
	MedianValue  float64
	P95Value     float64
	P99Value     float64
}

// accumulatorSeq orders lock acquisition across accumulators.
var accumulatorSeq atomic.Uint64

// Accumulator maintains the mergeable state of one rollup bucket: counters,
// a distinct-user sketch, a running sum for the average and a quantile
// sketch for median/p95/p99.
type Accumulator struct {
	mu  sync.Mutex
	seq uint64

	eventCount  int64
	validEvents int64
	users       *hyperloglog.Sketch
	sum         float64
	valueCount  int64
	sketch      *ddsketch.DDSketch
}

// NewAccumulator creates an empty accumulator
func NewAccumulator() *Accumulator {
	a := &Accumulator{
		seq:   accumulatorSeq.Add(1),
		users: hyperloglog.New14(),
	}
	if sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy); err == nil {
		a.sketch = sketch
	}
	return a
}

// Observe merges a single event's contribution. When validOnlyValues is
// set, the numeric value only contributes for valid events; counts and the
// user sketch always update. Events without an extractable value touch
// counts and users only.
func (a *Accumulator) Observe(event *domain.Event, validOnlyValues bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	valid := event.IsValid()

	a.eventCount++
	if valid {
		a.validEvents++
	}
	a.users.Insert([]byte(event.UserID))

	if validOnlyValues && !valid {
		return
	}

	value, ok := event.Value()
	if !ok {
		return
	}

	a.sum += value
	a.valueCount++
	if a.sketch != nil {
		// Add only fails for values outside the sketch's representable
		// range; dropping the point degrades precision instead of
		// failing the merge.
		_ = a.sketch.Add(value)
	}
}

// Merge folds another accumulator into this one. Commutative and
// associative: counter addition, HLL union and sketch merge all are.
// Both locks are taken in creation order, so concurrent cross-merges of
// the same pair cannot deadlock.
func (a *Accumulator) Merge(other *Accumulator) {
	if other == nil || other == a {
		return
	}

	first, second := a, other
	if first.seq > second.seq {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	a.eventCount += other.eventCount
	a.validEvents += other.validEvents
	a.sum += other.sum
	a.valueCount += other.valueCount

	if err := a.users.Merge(other.users); err != nil {
		// Precision mismatch: keep the side that has seen more users.
		if other.users.Estimate() > a.users.Estimate() {
			a.users = other.users.Clone()
		}
	}

	if a.sketch != nil && other.sketch != nil {
		if err := a.sketch.MergeWith(other.sketch); err != nil {
			if other.sketch.GetCount() > a.sketch.GetCount() {
				a.sketch = other.sketch.Copy()
			}
		}
	} else if a.sketch == nil {
		a.sketch = other.sketch
	}
}

func (a *Accumulator) snapshot(key Key) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		ExperimentID: key.ExperimentID,
		VariantID:    key.VariantID,
		EventType:    key.EventType,
		Granularity:  key.Granularity,
		BucketStart:  time.Unix(key.BucketStart, 0).UTC(),
		EventCount:   a.eventCount,
		ValidEvents:  a.validEvents,
		UniqueUsers:  a.users.Estimate(),
		ValueCount:   a.valueCount,
	}

	if a.valueCount > 0 {
		snap.AvgValue = a.sum / float64(a.valueCount)
	}

	if a.sketch != nil && a.valueCount > 0 {
		if v, err := a.sketch.GetValueAtQuantile(0.50); err == nil {
			snap.MedianValue = v
		}
		if v, err := a.sketch.GetValueAtQuantile(0.95); err == nil {
			snap.P95Value = v
		}
		if v, err := a.sketch.GetValueAtQuantile(0.99); err == nil {
			snap.P99Value = v
		}
	}

	return snap
}
