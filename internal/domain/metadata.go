package domain

import "time"

// Experiment is a versioned experiment definition in the metadata catalog
type Experiment struct {
	ID        int64
	Key       string
	Name      string
	Status    string
	Version   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Variant is one arm of an experiment. Variants carry no version field;
// catalog upserts for them resolve by last physical write.
type Variant struct {
	ID            int64
	ExperimentID  int64
	Key           string
	Name          string
	AllocationPct float64
	IsControl     bool
}
