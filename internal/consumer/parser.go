package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/variantlab/experiment-analytics-service/internal/domain"
)

// ErrEmptyID marks a bus message without an event id. Such messages are
// dropped and counted, never retried.
var ErrEmptyID = errors.New("event id is empty")

// wireEvent is the bus message layout. Timestamps are ISO-8601 with
// millisecond precision; properties arrive as a JSON-encoded string.
type wireEvent struct {
	ID           string `json:"id"`
	ExperimentID int64  `json:"experiment_id"`
	UserID       string `json:"user_id"`
	VariantID    int64  `json:"variant_id"`
	VariantKey   string `json:"variant_key"`
	EventType    string `json:"event_type"`
	Timestamp    string `json:"timestamp"`
	AssignmentAt string `json:"assignment_at"`
	Properties   string `json:"properties"`
	IsValid      int    `json:"is_valid"`
}

// JSONEventParser implements MessageParser for JSON-formatted event messages
type JSONEventParser struct{}

// NewJSONEventParser creates a new JSON event parser
func NewJSONEventParser() *JSONEventParser {
	return &JSONEventParser{}
}

// Parse parses a JSON message body into an Event. The wire is_valid flag is
// advisory only; validity is re-derived from the two timestamps.
func (p *JSONEventParser) Parse(body []byte) (*domain.Event, error) {
	var msg wireEvent
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message body: %w", err)
	}

	if msg.ID == "" {
		return nil, ErrEmptyID
	}

	timestamp, err := parseWireTime(msg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	assignmentAt, err := parseWireTime(msg.AssignmentAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse assignment_at: %w", err)
	}

	properties := msg.Properties
	if properties == "" {
		properties = "{}"
	}

	event := &domain.Event{
		ID:           msg.ID,
		ExperimentID: msg.ExperimentID,
		UserID:       msg.UserID,
		VariantID:    msg.VariantID,
		VariantKey:   msg.VariantKey,
		EventType:    msg.EventType,
		Timestamp:    timestamp,
		AssignmentAt: assignmentAt,
		Properties:   properties,
	}

	return event, nil
}

func parseWireTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t.UTC(), nil
	}
	// Some producers omit the zone; treat those stamps as UTC.
	t, err2 := time.Parse("2006-01-02T15:04:05.999999999", s)
	if err2 != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
