// Package catalog holds experiment and variant definitions. Experiments
// resolve concurrent writes last-write-wins by version; variants carry no
// version, so the last physical write wins.
package catalog

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/variantlab/experiment-analytics-service/internal/domain"
)

// Catalog is the in-memory metadata catalog
type Catalog struct {
	mu          sync.RWMutex
	experiments map[int64]*domain.Experiment
	byKey       map[string]int64
	variants    map[int64]map[int64]*domain.Variant
	log         *zap.Logger
}

// New creates an empty metadata catalog
func New(log *zap.Logger) *Catalog {
	return &Catalog{
		experiments: make(map[int64]*domain.Experiment),
		byKey:       make(map[string]int64),
		variants:    make(map[int64]map[int64]*domain.Variant),
		log:         log,
	}
}

// UpsertExperiment applies an experiment write, keeping the highest version
func (c *Catalog) UpsertExperiment(e *domain.Experiment) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.experiments[e.ID]
	if ok && current.Version >= e.Version {
		return false
	}

	next := *e
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}
	if ok {
		next.CreatedAt = current.CreatedAt
		if current.Key != next.Key {
			delete(c.byKey, current.Key)
		}
	} else if next.CreatedAt.IsZero() {
		next.CreatedAt = next.UpdatedAt
	}

	c.experiments[e.ID] = &next
	c.byKey[next.Key] = next.ID
	return true
}

// UpsertVariant applies a variant write, last physical write wins
func (c *Catalog) UpsertVariant(v *domain.Variant) {
	c.mu.Lock()
	defer c.mu.Unlock()

	vs, ok := c.variants[v.ExperimentID]
	if !ok {
		vs = make(map[int64]*domain.Variant)
		c.variants[v.ExperimentID] = vs
	}
	copied := *v
	vs[v.ID] = &copied
}

// Experiment returns the latest version of an experiment by id
func (c *Catalog) Experiment(id int64) (*domain.Experiment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.experiments[id]
	if !ok {
		return nil, false
	}
	copied := *e
	return &copied, true
}

// ExperimentByKey returns the latest version of an experiment by key
func (c *Catalog) ExperimentByKey(key string) (*domain.Experiment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byKey[key]
	if !ok {
		return nil, false
	}
	e, ok := c.experiments[id]
	if !ok {
		return nil, false
	}
	copied := *e
	return &copied, true
}

// Variants returns the variants of an experiment ordered by id
func (c *Catalog) Variants(experimentID int64) []*domain.Variant {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*domain.Variant
	for _, v := range c.variants[experimentID] {
		copied := *v
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}
