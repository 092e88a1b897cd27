package domain

import (
	"encoding/json"
	"time"
)

// Event is a single exposure or interaction event stored in the events store
type Event struct {
	ID           string    `ch:"id"`
	ExperimentID int64     `ch:"experiment_id"`
	UserID       string    `ch:"user_id"`
	VariantID    int64     `ch:"variant_id"`
	VariantKey   string    `ch:"variant_key"`
	EventType    string    `ch:"event_type"`
	Timestamp    time.Time `ch:"timestamp"`
	AssignmentAt time.Time `ch:"assignment_at"`
	Properties   string    `ch:"properties"`
	ProcessedAt  time.Time `ch:"processed_at"`
}

// IsValid reports whether the event happened at or after the user's
// assignment. Derived, never trusted from the wire.
func (e *Event) IsValid() bool {
	return !e.Timestamp.Before(e.AssignmentAt)
}

// Month returns the partition key of the event, the month of its timestamp
// in YYYYMM form.
func (e *Event) Month() string {
	return e.Timestamp.UTC().Format("200601")
}

// HourBucket returns the start of the hourly rollup bucket for the event.
func (e *Event) HourBucket() time.Time {
	return e.Timestamp.UTC().Truncate(time.Hour)
}

// DayBucket returns the start of the daily rollup bucket for the event.
func (e *Event) DayBucket() time.Time {
	return e.Timestamp.UTC().Truncate(24 * time.Hour)
}

// Value extracts the numeric "value" property from the event's opaque
// properties payload. The second return is false when the property is
// absent or not a number.
func (e *Event) Value() (float64, bool) {
	if e.Properties == "" {
		return 0, false
	}
	var props map[string]interface{}
	if err := json.Unmarshal([]byte(e.Properties), &props); err != nil {
		return 0, false
	}
	switch v := props["value"].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
