// Package registry holds the versioned user→variant assignment store.
// Writers never coordinate: conflicts resolve by keeping the maximum
// version per key, regardless of arrival order.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/variantlab/experiment-analytics-service/internal/domain"
)

type key struct {
	experimentID int64
	userID       string
}

// Registry is the in-memory assignment registry
type Registry struct {
	mu      sync.RWMutex
	records map[key]*domain.Assignment
	log     *zap.Logger
}

// New creates an empty assignment registry
func New(log *zap.Logger) *Registry {
	return &Registry{
		records: make(map[key]*domain.Assignment),
		log:     log,
	}
}

// Upsert applies an assignment write. The highest version for a key wins;
// a lower or equal version arriving later is a no-op for visibility, never
// an error. An enrollment-confirm write (higher version, zero variant id)
// inherits the variant of the record it supersedes.
func (r *Registry) Upsert(a *domain.Assignment) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{experimentID: a.ExperimentID, userID: a.UserID}
	current, ok := r.records[k]
	if ok && current.Version >= a.Version {
		r.log.Debug("Superseded assignment write ignored",
			zap.Int64("experiment_id", a.ExperimentID),
			zap.String("user_id", a.UserID),
			zap.Uint64("version", a.Version),
			zap.Uint64("current_version", current.Version))
		return false
	}

	next := *a
	if ok {
		// Two-phase enrollment: the confirm write may carry only
		// enrolled_at and must keep the assigned variant.
		if next.VariantID == 0 && next.VariantKey == "" {
			next.VariantID = current.VariantID
			next.VariantKey = current.VariantKey
		}
		if next.AssignedAt.IsZero() {
			next.AssignedAt = current.AssignedAt
		}
		if next.EnrolledAt == nil {
			next.EnrolledAt = current.EnrolledAt
		}
	}

	r.records[k] = &next
	return true
}

// Get returns the current highest-version assignment for the key, or false
// when the user has none for the experiment
func (r *Registry) Get(experimentID int64, userID string) (*domain.Assignment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.records[key{experimentID: experimentID, userID: userID}]
	if !ok {
		return nil, false
	}
	copied := *a
	return &copied, true
}

// ListByExperiment returns all current assignments of one experiment,
// ordered by user id
func (r *Registry) ListByExperiment(experimentID int64) []*domain.Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Assignment
	for k, a := range r.records {
		if k.experimentID != experimentID {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })

	return out
}

// Count returns the number of current assignments across all experiments
func (r *Registry) Count() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.records))
}
