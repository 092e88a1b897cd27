package dto

import "time"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"validation_error"`
	Message string `json:"message,omitempty" example:"experiment_id is required"`
}

// PublishEventResponse acknowledges an event published to the bus
type PublishEventResponse struct {
	ID     string `json:"id" example:"evt_1a2b3c"`
	Status string `json:"status" example:"accepted"`
}

// RollupBucket is one time bucket of a rollup query result
type RollupBucket struct {
	VariantID   int64     `json:"variant_id" example:"7"`
	EventType   string    `json:"event_type" example:"conversion"`
	BucketStart time.Time `json:"bucket_start"`
	EventCount  int64     `json:"event_count" example:"150"`
	UniqueUsers uint64    `json:"unique_users" example:"120"`
	ValidEvents int64     `json:"valid_events" example:"148"`
	AvgValue    float64   `json:"avg_value" example:"12.5"`
	MedianValue float64   `json:"median_value" example:"10"`
	P95Value    float64   `json:"p95_value" example:"40"`
	P99Value    float64   `json:"p99_value" example:"80"`
}

// RollupQueryResponse is the rollup query result
type RollupQueryResponse struct {
	ExperimentID int64          `json:"experiment_id" example:"42"`
	Granularity  string         `json:"granularity" example:"hour"`
	Buckets      []RollupBucket `json:"buckets"`
}

// AssignmentResponse is the current visible assignment for a key
type AssignmentResponse struct {
	ExperimentID int64      `json:"experiment_id" example:"1"`
	UserID       string     `json:"user_id" example:"user_123"`
	VariantID    int64      `json:"variant_id" example:"7"`
	VariantKey   string     `json:"variant_key" example:"treatment"`
	AssignedAt   time.Time  `json:"assigned_at"`
	EnrolledAt   *time.Time `json:"enrolled_at,omitempty"`
	Version      uint64     `json:"version" example:"2"`
	Source       string     `json:"source" example:"sdk"`
}

// ExperimentResponse is an experiment definition
type ExperimentResponse struct {
	ID        int64     `json:"id" example:"42"`
	Key       string    `json:"key" example:"checkout_redesign"`
	Name      string    `json:"name" example:"Checkout redesign"`
	Status    string    `json:"status" example:"running"`
	Version   uint64    `json:"version" example:"3"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VariantResponse is a variant definition
type VariantResponse struct {
	ID            int64   `json:"id" example:"7"`
	ExperimentID  int64   `json:"experiment_id" example:"42"`
	Key           string  `json:"key" example:"treatment"`
	Name          string  `json:"name" example:"Treatment"`
	AllocationPct float64 `json:"allocation_pct" example:"50"`
	IsControl     bool    `json:"is_control" example:"false"`
}

// StatsResponse summarizes the platform for the maintenance surface
type StatsResponse struct {
	TotalAssignments int64   `json:"total_assignments" example:"1200"`
	TotalEvents      int64   `json:"total_events" example:"45000"`
	ConversionRate   float64 `json:"conversion_rate" example:"37.5"`
}

// CleanupResponse reports rows removed by a cleanup call
type CleanupResponse struct {
	RowsRemoved int64 `json:"rows_removed" example:"1024"`
}
