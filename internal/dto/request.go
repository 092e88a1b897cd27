package dto

import "time"

// PublishEventRequest publishes a single event onto the bus
type PublishEventRequest struct {
	ID           string                 `json:"id" binding:"required" example:"evt_1a2b3c"`
	ExperimentID int64                  `json:"experiment_id" binding:"required" example:"42"`
	UserID       string                 `json:"user_id" binding:"required" example:"user_123"`
	VariantID    int64                  `json:"variant_id" binding:"required" example:"7"`
	VariantKey   string                 `json:"variant_key" example:"treatment"`
	EventType    string                 `json:"event_type" binding:"required" example:"conversion"`
	Timestamp    time.Time              `json:"timestamp" binding:"required"`
	AssignmentAt time.Time              `json:"assignment_at" binding:"required"`
	Properties   map[string]interface{} `json:"properties"`
}

// RollupQueryRequest selects rollup buckets
type RollupQueryRequest struct {
	ExperimentID int64  `form:"experiment_id" binding:"required" example:"42"`
	VariantID    *int64 `form:"variant_id" example:"7"`
	EventType    string `form:"event_type" example:"conversion"`
	Granularity  string `form:"granularity" binding:"required" example:"hour"`
	From         int64  `form:"from" example:"1723475612"`
	To           int64  `form:"to" example:"1723562012"`
}

// UpsertAssignmentRequest writes a user→variant assignment. A
// higher-version write with enrolled_at set confirms enrollment.
type UpsertAssignmentRequest struct {
	ExperimentID int64      `json:"experiment_id" binding:"required" example:"1"`
	UserID       string     `json:"user_id" binding:"required" example:"user_123"`
	VariantID    int64      `json:"variant_id" example:"7"`
	VariantKey   string     `json:"variant_key" example:"treatment"`
	AssignedAt   time.Time  `json:"assigned_at"`
	EnrolledAt   *time.Time `json:"enrolled_at,omitempty"`
	Version      uint64     `json:"version" binding:"required" example:"2"`
	Source       string     `json:"source" example:"sdk"`
}

// UpsertExperimentRequest writes an experiment definition
type UpsertExperimentRequest struct {
	ID      int64  `json:"id" binding:"required" example:"42"`
	Key     string `json:"key" binding:"required" example:"checkout_redesign"`
	Name    string `json:"name" example:"Checkout redesign"`
	Status  string `json:"status" example:"running"`
	Version uint64 `json:"version" binding:"required" example:"3"`
}

// UpsertVariantRequest writes a variant definition
type UpsertVariantRequest struct {
	ID            int64   `json:"id" binding:"required" example:"7"`
	Key           string  `json:"key" binding:"required" example:"treatment"`
	Name          string  `json:"name" example:"Treatment"`
	AllocationPct float64 `json:"allocation_pct" example:"50"`
	IsControl     bool    `json:"is_control" example:"false"`
}

// CleanupRequest removes event rows older than the given day count
type CleanupRequest struct {
	RetentionDays int `json:"retention_days" binding:"required,min=1" example:"90"`
}
