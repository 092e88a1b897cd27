// Package retention prunes event partitions past the configured horizon.
// It runs on its own schedule, owns the only delete path in the system and
// never participates in a transaction with ingestion or aggregation:
// dropped partitions simply stop appearing in scans.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/variantlab/experiment-analytics-service/internal/store"
)

// Config tunes the retention manager
type Config struct {
	Horizon       time.Duration
	CheckInterval time.Duration
}

// Manager is the background partition-dropping task
type Manager struct {
	store  store.EventStore
	config Config
	log    *zap.Logger
}

// NewManager creates a retention manager over the events store
func NewManager(eventStore store.EventStore, config Config, log *zap.Logger) *Manager {
	if config.Horizon <= 0 {
		config.Horizon = 90 * 24 * time.Hour
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Hour
	}

	return &Manager{
		store:  eventStore,
		config: config,
		log:    log,
	}
}

// Start runs retention cycles until the context is cancelled
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.RunCycle(ctx, time.Now().UTC())

	for {
		select {
		case <-ctx.Done():
			m.log.Info("Retention manager shutting down")
			return
		case <-ticker.C:
			m.RunCycle(ctx, time.Now().UTC())
		}
	}
}

// RunCycle drops every partition whose newest event is older than the
// horizon. Returns the number of partitions dropped.
func (m *Manager) RunCycle(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-m.config.Horizon)

	partitions, err := m.store.Partitions(ctx)
	if err != nil {
		m.log.Error("Failed to list partitions for retention", zap.Error(err))
		return 0
	}

	dropped := 0
	for _, p := range partitions {
		if !p.MaxTimestamp.Before(cutoff) {
			continue
		}

		m.log.Info("Partition past retention horizon",
			zap.String("month", p.Month),
			zap.Int64("rows", p.Rows),
			zap.Time("max_timestamp", p.MaxTimestamp))

		if err := m.dropWithRetry(ctx, p.Month); err != nil {
			// Context cancelled mid-retry; the next cycle picks it up.
			m.log.Warn("Partition drop abandoned",
				zap.String("month", p.Month),
				zap.Error(err))
			continue
		}
		dropped++
	}

	return dropped
}

// dropWithRetry retries the drop with exponential backoff until it
// succeeds or the context ends. Failures never reach the write or read
// path.
func (m *Manager) dropWithRetry(ctx context.Context, month string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 5 * time.Minute
	policy.MaxElapsedTime = 0 // retry until the context ends

	operation := func() error {
		if err := m.store.DropPartition(ctx, month); err != nil {
			m.log.Warn("Partition drop failed, will retry",
				zap.String("month", month),
				zap.Error(err))
			return err
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

// Cleanup removes rows older than the given number of days and returns how
// many were removed. Row-granular path for the external maintenance layer;
// scheduled retention stays partition-granular.
func (m *Manager) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", days)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	removed, err := m.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}

	m.log.Info("Cleanup removed rows",
		zap.Int("days", days),
		zap.Int64("rows", removed))

	return removed, nil
}
