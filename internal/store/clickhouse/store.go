package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/variantlab/experiment-analytics-service/internal/domain"
	"github.com/variantlab/experiment-analytics-service/internal/store"
)

var monthPattern = regexp.MustCompile(`^\d{6}$`)

// Store implements store.EventStore on ClickHouse
type Store struct {
	client *Client
	log    *zap.Logger

	mu          sync.Mutex
	lastArrival time.Time
}

// NewStore creates a new ClickHouse-backed events store
func NewStore(client *Client, log *zap.Logger) *Store {
	return &Store{
		client: client,
		log:    log,
	}
}

// InitSchema creates the events table. Plain MergeTree: the store is
// append-only, duplicate rows are suppressed upstream by the ingestion
// adapter's dedup window, never by the engine.
func (s *Store) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		id String,
		experiment_id Int64,
		user_id String,
		variant_id Int64,
		variant_key LowCardinality(String),
		event_type LowCardinality(String),
		timestamp DateTime64(3),
		assignment_at DateTime64(3),
		properties String,
		processed_at DateTime64(6) DEFAULT now64(6)
	) ENGINE = MergeTree
	ORDER BY (experiment_id, variant_id, user_id, timestamp)
	PARTITION BY toYYYYMM(timestamp)
	SETTINGS index_granularity = 8192
	`

	if err := s.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	s.log.Info("ClickHouse schema initialized successfully")
	return nil
}

// Append inserts a batch of events
func (s *Store) Append(ctx context.Context, events []*domain.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch, err := s.client.Conn().PrepareBatch(ctx, "INSERT INTO events")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	appended := 0
	for _, event := range events {
		event.ProcessedAt = s.nextArrival()

		properties := event.Properties
		if properties == "" {
			properties = "{}"
		}

		err := batch.Append(
			event.ID,
			event.ExperimentID,
			event.UserID,
			event.VariantID,
			event.VariantKey,
			event.EventType,
			event.Timestamp,
			event.AssignmentAt,
			properties,
			event.ProcessedAt,
		)

		if err != nil {
			return 0, fmt.Errorf("failed to append event to batch: %w", err)
		}
		appended++
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}

	return appended, nil
}

// nextArrival assigns the arrival stamp for one appended event. Stamps are
// strictly increasing at the column's microsecond resolution, so the
// arrival scan's watermark plus limit can never split a tie and skip the
// remainder of a batch.
func (s *Store) nextArrival() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	arrival := time.Now().UTC().Truncate(time.Microsecond)
	if !arrival.After(s.lastArrival) {
		arrival = s.lastArrival.Add(time.Microsecond)
	}
	s.lastArrival = arrival
	return arrival
}

// Scan returns events for the key prefix and time range, ascending by
// timestamp (the table's storage order)
func (s *Store) Scan(ctx context.Context, query store.ScanQuery) ([]*domain.Event, error) {
	where := "WHERE experiment_id = ?"
	args := []interface{}{query.ExperimentID}

	if query.VariantID >= 0 {
		where += " AND variant_id = ?"
		args = append(args, query.VariantID)
	}
	if !query.From.IsZero() {
		where += " AND timestamp >= ?"
		args = append(args, query.From)
	}
	if !query.To.IsZero() {
		where += " AND timestamp <= ?"
		args = append(args, query.To)
	}

	q := fmt.Sprintf(`
		SELECT id, experiment_id, user_id, variant_id, variant_key,
		       event_type, timestamp, assignment_at, properties, processed_at
		FROM events
		%s
		ORDER BY timestamp ASC
	`, where)

	rows, err := s.client.Conn().Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}

	return s.collect(rows)
}

// ScanArrivals returns events appended after the arrival watermark, in
// arrival order. This is the aggregation engine's append stream.
func (s *Store) ScanArrivals(ctx context.Context, since time.Time, limit int) ([]*domain.Event, error) {
	q := `
		SELECT id, experiment_id, user_id, variant_id, variant_key,
		       event_type, timestamp, assignment_at, properties, processed_at
		FROM events
		WHERE processed_at > ?
		ORDER BY processed_at ASC
		LIMIT ?
	`

	rows, err := s.client.Conn().Query(ctx, q, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan arrivals: %w", err)
	}

	return s.collect(rows)
}

func (s *Store) collect(rows driver.Rows) ([]*domain.Event, error) {
	defer func(rows driver.Rows) {
		if err := rows.Close(); err != nil {
			s.log.Error("Failed to close event rows", zap.Error(err))
		}
	}(rows)

	var events []*domain.Event
	for rows.Next() {
		event := &domain.Event{}
		if err := rows.Scan(
			&event.ID,
			&event.ExperimentID,
			&event.UserID,
			&event.VariantID,
			&event.VariantKey,
			&event.EventType,
			&event.Timestamp,
			&event.AssignmentAt,
			&event.Properties,
			&event.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return events, nil
}

// Partitions lists the table's month partitions with row counts and max
// timestamps
func (s *Store) Partitions(ctx context.Context) ([]store.PartitionInfo, error) {
	q := `
		SELECT toString(toYYYYMM(timestamp)) AS month,
		       count() AS rows,
		       max(timestamp) AS max_ts
		FROM events
		GROUP BY month
		ORDER BY month ASC
	`

	rows, err := s.client.Conn().Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	defer func(rows driver.Rows) {
		if err := rows.Close(); err != nil {
			s.log.Error("Failed to close partition rows", zap.Error(err))
		}
	}(rows)

	var infos []store.PartitionInfo
	for rows.Next() {
		var info store.PartitionInfo
		var rowCount uint64
		if err := rows.Scan(&info.Month, &rowCount, &info.MaxTimestamp); err != nil {
			return nil, fmt.Errorf("failed to scan partition row: %w", err)
		}
		info.Rows = int64(rowCount)
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating partition rows: %w", err)
	}

	return infos, nil
}

// DropPartition drops one month partition wholesale. ClickHouse detaches
// the partition atomically, so readers never see a partial partition.
func (s *Store) DropPartition(ctx context.Context, month string) error {
	if !monthPattern.MatchString(month) {
		return fmt.Errorf("invalid partition month %q", month)
	}

	q := fmt.Sprintf("ALTER TABLE events DROP PARTITION %s", month)
	if err := s.client.Conn().Exec(ctx, q); err != nil {
		return fmt.Errorf("failed to drop partition %s: %w", month, err)
	}

	s.log.Info("Dropped partition", zap.String("month", month))
	return nil
}

// DeleteOlderThan removes individual rows older than the cutoff and returns
// how many were removed
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var count uint64
	row := s.client.Conn().QueryRow(ctx, "SELECT count() FROM events WHERE timestamp < ?", cutoff)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows for cleanup: %w", err)
	}

	if count == 0 {
		return 0, nil
	}

	q := "ALTER TABLE events DELETE WHERE timestamp < ? SETTINGS mutations_sync = 1"
	if err := s.client.Conn().Exec(ctx, q, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete rows: %w", err)
	}

	s.log.Info("Deleted rows older than cutoff",
		zap.Time("cutoff", cutoff),
		zap.Uint64("rows", count))

	return int64(count), nil
}

// Stats reports store-wide totals
func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	stats := &store.Stats{}

	var total, unique uint64
	row := s.client.Conn().QueryRow(ctx, "SELECT count(), uniq(user_id) FROM events")
	if err := row.Scan(&total, &unique); err != nil {
		return nil, fmt.Errorf("failed to query store stats: %w", err)
	}

	stats.TotalEvents = int64(total)
	stats.UniqueUsers = unique

	return stats, nil
}

// Ping checks if the ClickHouse connection is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Conn().Ping(ctx)
}

// Close closes the ClickHouse connection
func (s *Store) Close() error {
	return s.client.Close()
}
