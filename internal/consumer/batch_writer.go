package consumer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/variantlab/experiment-analytics-service/internal/domain"
	"github.com/variantlab/experiment-analytics-service/internal/store"
)

// BatchWriterConfig configures the batch writer
type BatchWriterConfig struct {
	MaxBatchSize  int
	FlushTimeout  time.Duration
	AppendRetries uint64
}

// DedupWindow releases event ids whose append failed. The dedup stage
// records an id when it forwards the envelope, before the append is
// durable; without the release, the shard's redelivery of a failed batch
// would be suppressed as a duplicate and the events lost.
type DedupWindow interface {
	Forget(id string)
}

// BatchWriter batches envelopes and appends them to the events store.
// Append faults are retried with backoff; a batch that still fails is
// nacked so the shard redelivers it, and the pipeline keeps going.
type BatchWriter struct {
	store   store.EventStore
	window  DedupWindow
	config  BatchWriterConfig
	metrics *Metrics
	log     *zap.Logger
}

// NewBatchWriter creates a new batch writer. The window may be nil when no
// dedup stage sits upstream.
func NewBatchWriter(eventStore store.EventStore, window DedupWindow, config BatchWriterConfig, metrics *Metrics, log *zap.Logger) *BatchWriter {
	if config.AppendRetries == 0 {
		config.AppendRetries = 5
	}

	return &BatchWriter{
		store:   eventStore,
		window:  window,
		config:  config,
		metrics: metrics,
		log:     log,
	}
}

// Start begins processing envelopes, batching, and appending to the store
func (w *BatchWriter) Start(ctx context.Context, in <-chan *Envelope) {
	ticker := time.NewTicker(w.config.FlushTimeout)
	defer ticker.Stop()

	batch := make([]*Envelope, 0, w.config.MaxBatchSize)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Batch writer shutting down")
			if len(batch) > 0 {
				w.log.Info("Flushing final batch", zap.Int("envelope_count", len(batch)))
				w.processBatch(context.WithoutCancel(ctx), batch)
			}
			return

		case envelope, ok := <-in:
			if !ok {
				w.log.Info("Batch writer input channel closed")
				if len(batch) > 0 {
					w.log.Info("Flushing final batch", zap.Int("envelope_count", len(batch)))
					w.processBatch(ctx, batch)
				}
				return
			}

			batch = append(batch, envelope)

			if len(batch) >= w.config.MaxBatchSize {
				w.processBatch(ctx, batch)
				batch = make([]*Envelope, 0, w.config.MaxBatchSize)
				ticker.Reset(w.config.FlushTimeout)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.processBatch(ctx, batch)
				batch = make([]*Envelope, 0, w.config.MaxBatchSize)
			}
		}
	}
}

// processBatch appends the batch, then acks on success or nacks so the
// shard redelivers
func (w *BatchWriter) processBatch(ctx context.Context, envelopes []*Envelope) {
	if len(envelopes) == 0 {
		return
	}

	events := make([]*domain.Event, len(envelopes))
	for i, env := range envelopes {
		events[i] = env.Event
	}

	appended, err := w.appendWithRetry(ctx, events)

	if err != nil {
		w.log.Error("Failed to append batch, leaving messages for redelivery",
			zap.Error(err),
			zap.Int("event_count", len(events)))
		w.nackAll(ctx, envelopes)
		return
	}

	if appended != len(events) {
		w.log.Warn("Partial append",
			zap.Int("appended", appended),
			zap.Int("expected", len(events)))
		w.nackAll(ctx, envelopes)
		return
	}

	w.metrics.Appended.Add(float64(appended))
	w.log.Info("Appended events to store", zap.Int("count", appended))
	w.ackAll(ctx, envelopes)
}

// appendWithRetry retries transient store faults with exponential backoff
func (w *BatchWriter) appendWithRetry(ctx context.Context, events []*domain.Event) (int, error) {
	var appended int

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), w.config.AppendRetries)
	operation := func() error {
		var err error
		appended, err = w.store.Append(ctx, events)
		if err != nil {
			w.log.Warn("Store append failed, retrying", zap.Error(err))
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return 0, err
	}

	return appended, nil
}

// ackAll acknowledges all envelopes (deletes from the shard queue)
func (w *BatchWriter) ackAll(ctx context.Context, envelopes []*Envelope) {
	for _, env := range envelopes {
		if err := env.Ack(ctx); err != nil {
			w.log.Error("Failed to ack envelope", zap.Error(err))
		}
	}
}

// nackAll leaves all envelopes on the shard queue for retry. Their ids are
// released from the dedup window first so the redelivered copies pass the
// dedup stage again.
func (w *BatchWriter) nackAll(ctx context.Context, envelopes []*Envelope) {
	for _, env := range envelopes {
		if w.window != nil {
			w.window.Forget(env.Event.ID)
		}
		if err := env.Nack(ctx); err != nil {
			w.log.Error("Failed to nack envelope", zap.Error(err))
		}
	}
}
