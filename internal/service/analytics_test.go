package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/variantlab/experiment-analytics-service/internal/catalog"
	"github.com/variantlab/experiment-analytics-service/internal/domain"
	"github.com/variantlab/experiment-analytics-service/internal/dto"
	"github.com/variantlab/experiment-analytics-service/internal/registry"
	"github.com/variantlab/experiment-analytics-service/internal/retention"
	"github.com/variantlab/experiment-analytics-service/internal/rollup"
	"github.com/variantlab/experiment-analytics-service/internal/store/memory"
)

// MockQueuePublisher is a mock implementation of queue.QueuePublisher
type MockQueuePublisher struct {
	mock.Mock
}

func (m *MockQueuePublisher) PublishEvent(ctx context.Context, event *domain.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type testService struct {
	service   *AnalyticsService
	publisher *MockQueuePublisher
	events    *memory.Store
	rollups   *rollup.Store
	registry  *registry.Registry
}

func newTestService(t *testing.T) *testService {
	t.Helper()

	log := zap.NewNop()
	publisher := new(MockQueuePublisher)
	events := memory.New(log)
	rollups := rollup.NewStore(log)
	reg := registry.New(log)
	cat := catalog.New(log)
	ret := retention.NewManager(events, retention.Config{}, log)

	return &testService{
		service:   NewAnalyticsService(publisher, events, rollups, reg, cat, ret, log),
		publisher: publisher,
		events:    events,
		rollups:   rollups,
		registry:  reg,
	}
}

func TestAnalyticsService_PublishEvent(t *testing.T) {
	ts := newTestService(t)

	ts.publisher.On("PublishEvent", mock.Anything, mock.MatchedBy(func(event *domain.Event) bool {
		return event.ID == "e1" && event.Properties == `{"value":10}`
	})).Return(nil)

	err := ts.service.PublishEvent(context.Background(), &dto.PublishEventRequest{
		ID:           "e1",
		ExperimentID: 42,
		UserID:       "u1",
		VariantID:    7,
		EventType:    "conversion",
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		AssignmentAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
		Properties:   map[string]interface{}{"value": 10},
	})

	require.NoError(t, err)
	ts.publisher.AssertExpectations(t)
}

func TestAnalyticsService_PublishEvent_BusFault(t *testing.T) {
	ts := newTestService(t)

	ts.publisher.On("PublishEvent", mock.Anything, mock.Anything).
		Return(errors.New("bus unavailable"))

	err := ts.service.PublishEvent(context.Background(), &dto.PublishEventRequest{
		ID:           "e1",
		ExperimentID: 42,
		UserID:       "u1",
		Timestamp:    time.Now().UTC(),
		AssignmentAt: time.Now().UTC(),
	})

	assert.Error(t, err)
}

func TestAnalyticsService_QueryRollups(t *testing.T) {
	ts := newTestService(t)

	bucket := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := &domain.Event{
		ID:           "e1",
		ExperimentID: 42,
		UserID:       "u1",
		VariantID:    7,
		EventType:    "conversion",
		Timestamp:    bucket.Add(30 * time.Minute),
		AssignmentAt: bucket.Add(-time.Hour),
		Properties:   `{"value": 10}`,
	}
	ts.rollups.Accumulator(rollup.Key{
		ExperimentID: 42,
		VariantID:    7,
		EventType:    "conversion",
		Granularity:  rollup.Hourly,
		BucketStart:  bucket.Unix(),
	}).Observe(event, false)

	variantID := int64(7)
	resp, err := ts.service.QueryRollups(&dto.RollupQueryRequest{
		ExperimentID: 42,
		VariantID:    &variantID,
		EventType:    "conversion",
		Granularity:  "hour",
	})

	require.NoError(t, err)
	require.Len(t, resp.Buckets, 1)
	assert.Equal(t, int64(1), resp.Buckets[0].EventCount)
	assert.Equal(t, uint64(1), resp.Buckets[0].UniqueUsers)
	assert.InDelta(t, 10.0, resp.Buckets[0].AvgValue, 1e-9)
	assert.Equal(t, bucket, resp.Buckets[0].BucketStart)
}

func TestAnalyticsService_QueryRollups_InvalidGranularity(t *testing.T) {
	ts := newTestService(t)

	_, err := ts.service.QueryRollups(&dto.RollupQueryRequest{
		ExperimentID: 42,
		Granularity:  "week",
	})

	assert.Error(t, err)
}

func TestAnalyticsService_QueryRollups_InvertedRange(t *testing.T) {
	ts := newTestService(t)

	_, err := ts.service.QueryRollups(&dto.RollupQueryRequest{
		ExperimentID: 42,
		Granularity:  "hour",
		From:         200,
		To:           100,
	})

	assert.Error(t, err)
}

func TestAnalyticsService_AssignmentFlow(t *testing.T) {
	ts := newTestService(t)

	resp := ts.service.UpsertAssignment(&dto.UpsertAssignmentRequest{
		ExperimentID: 42,
		UserID:       "u1",
		VariantID:    7,
		VariantKey:   "treatment",
		Version:      1,
	})
	require.NotNil(t, resp)
	assert.Equal(t, int64(7), resp.VariantID)

	// Enrollment confirm carries only enrolled_at; the variant sticks.
	enrolledAt := time.Date(2025, 6, 1, 11, 5, 0, 0, time.UTC)
	resp = ts.service.UpsertAssignment(&dto.UpsertAssignmentRequest{
		ExperimentID: 42,
		UserID:       "u1",
		EnrolledAt:   &enrolledAt,
		Version:      2,
	})
	require.NotNil(t, resp)
	assert.Equal(t, int64(7), resp.VariantID)
	assert.Equal(t, "treatment", resp.VariantKey)
	require.NotNil(t, resp.EnrolledAt)
	assert.Equal(t, enrolledAt, *resp.EnrolledAt)

	got, ok := ts.service.GetAssignment(42, "u1")
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.Version)

	_, ok = ts.service.GetAssignment(42, "nobody")
	assert.False(t, ok)

	list := ts.service.ListAssignments(42)
	assert.Len(t, list, 1)
}

func TestAnalyticsService_ExperimentAndVariants(t *testing.T) {
	ts := newTestService(t)

	resp := ts.service.UpsertExperiment(&dto.UpsertExperimentRequest{
		ID:      42,
		Key:     "checkout",
		Name:    "Checkout",
		Status:  "running",
		Version: 1,
	})
	require.NotNil(t, resp)
	assert.Equal(t, "checkout", resp.Key)

	got, ok := ts.service.GetExperiment(42)
	require.True(t, ok)
	assert.Equal(t, "Checkout", got.Name)

	byKey, ok := ts.service.GetExperimentByKey("checkout")
	require.True(t, ok)
	assert.Equal(t, int64(42), byKey.ID)

	ts.service.UpsertVariant(42, &dto.UpsertVariantRequest{ID: 7, Key: "control", IsControl: true})
	ts.service.UpsertVariant(42, &dto.UpsertVariantRequest{ID: 8, Key: "treatment"})

	variants := ts.service.ListVariants(42)
	require.Len(t, variants, 2)
	assert.Equal(t, int64(7), variants[0].ID)
	assert.True(t, variants[0].IsControl)
}

func TestAnalyticsService_Stats_ConversionRate(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := ts.events.Append(ctx, []*domain.Event{
		{ID: "e1", ExperimentID: 42, UserID: "u1", Timestamp: now, AssignmentAt: now.Add(-time.Hour), Properties: "{}"},
		{ID: "e2", ExperimentID: 42, UserID: "u2", Timestamp: now, AssignmentAt: now.Add(-time.Hour), Properties: "{}"},
		{ID: "e3", ExperimentID: 42, UserID: "u3", Timestamp: now, AssignmentAt: now.Add(-time.Hour), Properties: "{}"},
	})
	require.NoError(t, err)

	for _, userID := range []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"} {
		ts.registry.Upsert(&domain.Assignment{ExperimentID: 42, UserID: userID, VariantID: 7, Version: 1})
	}

	stats, err := ts.service.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), stats.TotalAssignments)
	assert.Equal(t, int64(3), stats.TotalEvents)
	// 3/8 * 100 = 37.5, rounded to two decimals.
	assert.Equal(t, 37.5, stats.ConversionRate)
}

func TestAnalyticsService_Stats_NoAssignments(t *testing.T) {
	ts := newTestService(t)

	stats, err := ts.service.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalAssignments)
	assert.Equal(t, 0.0, stats.ConversionRate)
}

func TestAnalyticsService_Cleanup(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := ts.events.Append(ctx, []*domain.Event{
		{ID: "old", ExperimentID: 42, UserID: "u1", Timestamp: now.AddDate(0, 0, -60), AssignmentAt: now.AddDate(0, 0, -61), Properties: "{}"},
		{ID: "fresh", ExperimentID: 42, UserID: "u2", Timestamp: now, AssignmentAt: now.Add(-time.Hour), Properties: "{}"},
	})
	require.NoError(t, err)

	resp, err := ts.service.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.RowsRemoved)

	_, err = ts.service.Cleanup(ctx, 0)
	assert.Error(t, err)
}
