package consumer

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Deduper suppresses exact duplicate event ids within a bounded recent
// window. The bus delivers at least once; a duplicate inside the window is
// acked away without reaching the store. Duplicates older than the window
// slip through and double-count, a bounded accuracy cost of the
// fixed-capacity window.
type Deduper struct {
	seen    *lru.Cache[string, struct{}]
	metrics *Metrics
	log     *zap.Logger
}

// NewDeduper creates a dedup stage with the given window capacity
func NewDeduper(windowSize int, metrics *Metrics, log *zap.Logger) (*Deduper, error) {
	seen, err := lru.New[string, struct{}](windowSize)
	if err != nil {
		return nil, err
	}

	return &Deduper{
		seen:    seen,
		metrics: metrics,
		log:     log,
	}, nil
}

// Start filters envelopes from in to out, dropping duplicates
func (d *Deduper) Start(ctx context.Context, in <-chan *Envelope, out chan<- *Envelope) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			d.log.Info("Dedup stage shutting down")
			return
		case envelope, ok := <-in:
			if !ok {
				d.log.Info("Dedup stage input channel closed")
				return
			}

			if d.Seen(envelope.Event.ID) {
				d.metrics.Deduped.Inc()
				d.log.Debug("Duplicate event suppressed",
					zap.String("id", envelope.Event.ID))
				if err := envelope.Ack(ctx); err != nil {
					d.log.Error("Failed to ack duplicate",
						zap.String("id", envelope.Event.ID),
						zap.Error(err))
				}
				continue
			}
			d.seen.Add(envelope.Event.ID, struct{}{})

			select {
			case <-ctx.Done():
				return
			case out <- envelope:
			}
		}
	}
}

// Seen reports whether the id is inside the recent window
func (d *Deduper) Seen(id string) bool {
	return d.seen.Contains(id)
}

// Forget releases an id from the window. The batch writer calls this for
// every event in a batch it could not append, so the shard's redelivery of
// those messages is not mistaken for a duplicate.
func (d *Deduper) Forget(id string) {
	d.seen.Remove(id)
}
