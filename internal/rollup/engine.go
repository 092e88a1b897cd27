package rollup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/variantlab/experiment-analytics-service/internal/domain"
	"github.com/variantlab/experiment-analytics-service/internal/store"
)

// EngineConfig tunes the aggregation engine
type EngineConfig struct {
	Workers       int
	PollInterval  time.Duration
	PollBatchSize int
}

// Engine incrementally maintains the rollup store from the events store's
// append stream. It tails arrivals by their append stamp, so out-of-order
// and late events merge into already-materialized buckets without any
// reprocessing of history.
type Engine struct {
	rollups *Store
	events  store.EventStore
	config  EngineConfig
	log     *zap.Logger

	mu        sync.Mutex
	watermark time.Time
}

// NewEngine creates a new aggregation engine over the given stores
func NewEngine(rollups *Store, events store.EventStore, config EngineConfig, log *zap.Logger) *Engine {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.PollBatchSize <= 0 {
		config.PollBatchSize = 5000
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}

	return &Engine{
		rollups: rollups,
		events:  events,
		config:  config,
		log:     log,
	}
}

// Apply merges one event's contribution into the hourly and daily buckets
// for its (experiment, variant, event_type). Daily numeric statistics only
// include valid events; hourly numeric statistics include every event.
func (e *Engine) Apply(event *domain.Event) {
	hourKey := Key{
		ExperimentID: event.ExperimentID,
		VariantID:    event.VariantID,
		EventType:    event.EventType,
		Granularity:  Hourly,
		BucketStart:  event.HourBucket().Unix(),
	}
	e.rollups.Accumulator(hourKey).Observe(event, false)

	dayKey := Key{
		ExperimentID: event.ExperimentID,
		VariantID:    event.VariantID,
		EventType:    event.EventType,
		Granularity:  Daily,
		BucketStart:  event.DayBucket().Unix(),
	}
	e.rollups.Accumulator(dayKey).Observe(event, true)
}

// Poll consumes one batch of the append stream and returns how many events
// were merged
func (e *Engine) Poll(ctx context.Context) (int, error) {
	e.mu.Lock()
	since := e.watermark
	e.mu.Unlock()

	events, err := e.events.ScanArrivals(ctx, since, e.config.PollBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to scan append stream: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	// Fan the batch out over workers. Bucket merges are commutative, so
	// application order within the batch does not matter.
	in := make(chan *domain.Event, len(events))
	for _, event := range events {
		in <- event
	}
	close(in)

	var wg sync.WaitGroup
	for i := 0; i < e.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for event := range in {
				e.Apply(event)
			}
		}()
	}
	wg.Wait()

	// Arrival order is ascending; the last event carries the new watermark.
	e.mu.Lock()
	if last := events[len(events)-1].ProcessedAt; last.After(e.watermark) {
		e.watermark = last
	}
	e.mu.Unlock()

	return len(events), nil
}

// Run tails the append stream until the context is cancelled
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("Aggregation engine shutting down")
			return
		case <-ticker.C:
			e.drain(ctx)
		}
	}
}

// drain polls until the stream is caught up
func (e *Engine) drain(ctx context.Context) {
	for {
		n, err := e.Poll(ctx)
		if err != nil {
			e.log.Error("Aggregation poll failed", zap.Error(err))
			return
		}
		if n > 0 {
			e.log.Debug("Merged events into rollups", zap.Int("count", n))
		}
		if n < e.config.PollBatchSize {
			return
		}
	}
}

// Rebuild discards all rollup state and re-derives it from the events
// store. Rollups are owned by the engine and fully replayable.
func (e *Engine) Rebuild(ctx context.Context) error {
	e.log.Info("Rebuilding rollups from events store")

	e.rollups.Reset()
	e.mu.Lock()
	e.watermark = time.Time{}
	e.mu.Unlock()

	total := 0
	for {
		n, err := e.Poll(ctx)
		if err != nil {
			return fmt.Errorf("rebuild failed: %w", err)
		}
		total += n
		if n < e.config.PollBatchSize {
			break
		}
	}

	e.log.Info("Rollup rebuild complete",
		zap.Int("events", total),
		zap.Int("buckets", e.rollups.Len()))

	return nil
}
