package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/variantlab/experiment-analytics-service/internal/domain"
)

func newTestMetrics(threshold int) *Metrics {
	return NewMetrics(prometheus.NewRegistry(), threshold)
}

func testEnvelope(id string, acked *int) *Envelope {
	event := &domain.Event{
		ID:           id,
		ExperimentID: 42,
		UserID:       "user123",
		EventType:    "test_event",
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		AssignmentAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
	}

	ack := func(ctx context.Context) error {
		if acked != nil {
			*acked++
		}
		return nil
	}

	return NewEnvelope(event, ack, nil)
}

func runDeduper(t *testing.T, deduper *Deduper, envelopes []*Envelope) []*Envelope {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan *Envelope, len(envelopes))
	out := make(chan *Envelope, len(envelopes))

	for _, env := range envelopes {
		in <- env
	}
	close(in)

	go deduper.Start(ctx, in, out)

	var forwarded []*Envelope
	for env := range out {
		forwarded = append(forwarded, env)
	}
	return forwarded
}

func TestDeduper_SuppressesDuplicateWithinWindow(t *testing.T) {
	log := zap.NewNop()
	deduper, err := NewDeduper(100, newTestMetrics(0), log)
	require.NoError(t, err)

	var acked int
	forwarded := runDeduper(t, deduper, []*Envelope{
		testEnvelope("e1", nil),
		testEnvelope("e1", &acked),
		testEnvelope("e2", nil),
	})

	require.Len(t, forwarded, 2)
	assert.Equal(t, "e1", forwarded[0].Event.ID)
	assert.Equal(t, "e2", forwarded[1].Event.ID)
	// The duplicate was acked away, not forwarded.
	assert.Equal(t, 1, acked)
}

func TestDeduper_DuplicateOutsideWindowPassesThrough(t *testing.T) {
	log := zap.NewNop()
	deduper, err := NewDeduper(2, newTestMetrics(0), log)
	require.NoError(t, err)

	// Window holds two ids; e1 is evicted by e2+e3 and double-counts.
	forwarded := runDeduper(t, deduper, []*Envelope{
		testEnvelope("e1", nil),
		testEnvelope("e2", nil),
		testEnvelope("e3", nil),
		testEnvelope("e1", nil),
	})

	assert.Len(t, forwarded, 4)
}

func TestDeduper_Seen(t *testing.T) {
	log := zap.NewNop()
	deduper, err := NewDeduper(10, newTestMetrics(0), log)
	require.NoError(t, err)

	runDeduper(t, deduper, []*Envelope{testEnvelope("e1", nil)})

	assert.True(t, deduper.Seen("e1"))
	assert.False(t, deduper.Seen("e2"))
}
