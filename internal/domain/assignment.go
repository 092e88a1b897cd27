package domain

import "time"

// Assignment records a user→variant mapping for an experiment. The registry
// keeps the highest Version per (ExperimentID, UserID); enrollment is
// confirmed by a later, higher-version write that fills EnrolledAt.
type Assignment struct {
	ExperimentID int64
	UserID       string
	VariantID    int64
	VariantKey   string
	AssignedAt   time.Time
	EnrolledAt   *time.Time
	Version      uint64
	Source       string
}
