package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/variantlab/experiment-analytics-service/internal/catalog"
	"github.com/variantlab/experiment-analytics-service/internal/domain"
	"github.com/variantlab/experiment-analytics-service/internal/dto"
	"github.com/variantlab/experiment-analytics-service/internal/queue"
	"github.com/variantlab/experiment-analytics-service/internal/registry"
	"github.com/variantlab/experiment-analytics-service/internal/retention"
	"github.com/variantlab/experiment-analytics-service/internal/rollup"
	"github.com/variantlab/experiment-analytics-service/internal/store"
)

// AnalyticsService ties the core components together for the API layer
type AnalyticsService struct {
	publisher queue.QueuePublisher
	events    store.EventStore
	rollups   *rollup.Store
	registry  *registry.Registry
	catalog   *catalog.Catalog
	retention *retention.Manager
	log       *zap.Logger
}

// NewAnalyticsService creates the service over the given components
func NewAnalyticsService(
	publisher queue.QueuePublisher,
	events store.EventStore,
	rollups *rollup.Store,
	reg *registry.Registry,
	cat *catalog.Catalog,
	ret *retention.Manager,
	log *zap.Logger,
) *AnalyticsService {
	return &AnalyticsService{
		publisher: publisher,
		events:    events,
		rollups:   rollups,
		registry:  reg,
		catalog:   cat,
		retention: ret,
		log:       log,
	}
}

// PublishEvent validates and publishes an event onto the bus
func (s *AnalyticsService) PublishEvent(ctx context.Context, req *dto.PublishEventRequest) error {
	properties := "{}"
	if len(req.Properties) > 0 {
		raw, err := json.Marshal(req.Properties)
		if err != nil {
			return fmt.Errorf("failed to marshal properties: %w", err)
		}
		properties = string(raw)
	}

	event := &domain.Event{
		ID:           req.ID,
		ExperimentID: req.ExperimentID,
		UserID:       req.UserID,
		VariantID:    req.VariantID,
		VariantKey:   req.VariantKey,
		EventType:    req.EventType,
		Timestamp:    req.Timestamp.UTC(),
		AssignmentAt: req.AssignmentAt.UTC(),
		Properties:   properties,
	}

	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to publish event to bus: %w", err)
	}

	return nil
}

// QueryRollups returns pre-aggregated buckets for an experiment
func (s *AnalyticsService) QueryRollups(req *dto.RollupQueryRequest) (*dto.RollupQueryResponse, error) {
	granularity, ok := rollup.ParseGranularity(req.Granularity)
	if !ok {
		return nil, fmt.Errorf("invalid granularity %q (supported: hour, day)", req.Granularity)
	}

	if req.From != 0 && req.To != 0 && req.From > req.To {
		return nil, fmt.Errorf("from must be less than or equal to to")
	}

	query := rollup.Query{
		ExperimentID: req.ExperimentID,
		VariantID:    -1,
		EventType:    req.EventType,
		Granularity:  granularity,
	}
	if req.VariantID != nil {
		query.VariantID = *req.VariantID
	}
	if req.From != 0 {
		query.From = time.Unix(req.From, 0).UTC()
	}
	if req.To != 0 {
		query.To = time.Unix(req.To, 0).UTC()
	}

	snaps := s.rollups.Query(query)

	response := &dto.RollupQueryResponse{
		ExperimentID: req.ExperimentID,
		Granularity:  string(granularity),
		Buckets:      make([]dto.RollupBucket, 0, len(snaps)),
	}

	for _, snap := range snaps {
		response.Buckets = append(response.Buckets, dto.RollupBucket{
			VariantID:   snap.VariantID,
			EventType:   snap.EventType,
			BucketStart: snap.BucketStart,
			EventCount:  snap.EventCount,
			UniqueUsers: snap.UniqueUsers,
			ValidEvents: snap.ValidEvents,
			AvgValue:    snap.AvgValue,
			MedianValue: snap.MedianValue,
			P95Value:    snap.P95Value,
			P99Value:    snap.P99Value,
		})
	}

	return response, nil
}

// UpsertAssignment applies an assignment write and returns the visible record
func (s *AnalyticsService) UpsertAssignment(req *dto.UpsertAssignmentRequest) *dto.AssignmentResponse {
	assignedAt := req.AssignedAt
	if assignedAt.IsZero() && req.EnrolledAt == nil {
		assignedAt = time.Now().UTC()
	}

	s.registry.Upsert(&domain.Assignment{
		ExperimentID: req.ExperimentID,
		UserID:       req.UserID,
		VariantID:    req.VariantID,
		VariantKey:   req.VariantKey,
		AssignedAt:   assignedAt,
		EnrolledAt:   req.EnrolledAt,
		Version:      req.Version,
		Source:       req.Source,
	})

	current, _ := s.registry.Get(req.ExperimentID, req.UserID)
	return assignmentToDTO(current)
}

// GetAssignment returns the current assignment for a key
func (s *AnalyticsService) GetAssignment(experimentID int64, userID string) (*dto.AssignmentResponse, bool) {
	a, ok := s.registry.Get(experimentID, userID)
	if !ok {
		return nil, false
	}
	return assignmentToDTO(a), true
}

// ListAssignments returns every current assignment of an experiment
func (s *AnalyticsService) ListAssignments(experimentID int64) []*dto.AssignmentResponse {
	assignments := s.registry.ListByExperiment(experimentID)
	out := make([]*dto.AssignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, assignmentToDTO(a))
	}
	return out
}

// UpsertExperiment applies an experiment write and returns the visible record
func (s *AnalyticsService) UpsertExperiment(req *dto.UpsertExperimentRequest) *dto.ExperimentResponse {
	s.catalog.UpsertExperiment(&domain.Experiment{
		ID:      req.ID,
		Key:     req.Key,
		Name:    req.Name,
		Status:  req.Status,
		Version: req.Version,
	})

	current, _ := s.catalog.Experiment(req.ID)
	return experimentToDTO(current)
}

// GetExperiment returns the latest experiment by id
func (s *AnalyticsService) GetExperiment(id int64) (*dto.ExperimentResponse, bool) {
	e, ok := s.catalog.Experiment(id)
	if !ok {
		return nil, false
	}
	return experimentToDTO(e), true
}

// GetExperimentByKey returns the latest experiment by key
func (s *AnalyticsService) GetExperimentByKey(key string) (*dto.ExperimentResponse, bool) {
	e, ok := s.catalog.ExperimentByKey(key)
	if !ok {
		return nil, false
	}
	return experimentToDTO(e), true
}

// UpsertVariant applies a variant write
func (s *AnalyticsService) UpsertVariant(experimentID int64, req *dto.UpsertVariantRequest) *dto.VariantResponse {
	v := &domain.Variant{
		ID:            req.ID,
		ExperimentID:  experimentID,
		Key:           req.Key,
		Name:          req.Name,
		AllocationPct: req.AllocationPct,
		IsControl:     req.IsControl,
	}
	s.catalog.UpsertVariant(v)
	return variantToDTO(v)
}

// ListVariants returns the variants of an experiment
func (s *AnalyticsService) ListVariants(experimentID int64) []*dto.VariantResponse {
	variants := s.catalog.Variants(experimentID)
	out := make([]*dto.VariantResponse, 0, len(variants))
	for _, v := range variants {
		out = append(out, variantToDTO(v))
	}
	return out
}

// Stats returns platform totals and the assignment→event conversion rate
func (s *AnalyticsService) Stats(ctx context.Context) (*dto.StatsResponse, error) {
	storeStats, err := s.events.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query store stats: %w", err)
	}

	response := &dto.StatsResponse{
		TotalAssignments: s.registry.Count(),
		TotalEvents:      storeStats.TotalEvents,
	}

	if response.TotalAssignments > 0 {
		rate := float64(response.TotalEvents) / float64(response.TotalAssignments) * 100
		response.ConversionRate = math.Round(rate*100) / 100
	}

	return response, nil
}

// Cleanup removes event rows older than the given day count
func (s *AnalyticsService) Cleanup(ctx context.Context, days int) (*dto.CleanupResponse, error) {
	removed, err := s.retention.Cleanup(ctx, days)
	if err != nil {
		return nil, err
	}
	return &dto.CleanupResponse{RowsRemoved: removed}, nil
}

func assignmentToDTO(a *domain.Assignment) *dto.AssignmentResponse {
	if a == nil {
		return nil
	}
	return &dto.AssignmentResponse{
		ExperimentID: a.ExperimentID,
		UserID:       a.UserID,
		VariantID:    a.VariantID,
		VariantKey:   a.VariantKey,
		AssignedAt:   a.AssignedAt,
		EnrolledAt:   a.EnrolledAt,
		Version:      a.Version,
		Source:       a.Source,
	}
}

func experimentToDTO(e *domain.Experiment) *dto.ExperimentResponse {
	if e == nil {
		return nil
	}
	return &dto.ExperimentResponse{
		ID:        e.ID,
		Key:       e.Key,
		Name:      e.Name,
		Status:    e.Status,
		Version:   e.Version,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func variantToDTO(v *domain.Variant) *dto.VariantResponse {
	if v == nil {
		return nil
	}
	return &dto.VariantResponse{
		ID:            v.ID,
		ExperimentID:  v.ExperimentID,
		Key:           v.Key,
		Name:          v.Name,
		AllocationPct: v.AllocationPct,
		IsControl:     v.IsControl,
	}
}
