package service

import (
	"context"

	"github.com/variantlab/experiment-analytics-service/internal/dto"
)

// AnalyticsServicer defines the read/write surface consumed by the API layer
type AnalyticsServicer interface {
	PublishEvent(ctx context.Context, req *dto.PublishEventRequest) error
	QueryRollups(req *dto.RollupQueryRequest) (*dto.RollupQueryResponse, error)

	UpsertAssignment(req *dto.UpsertAssignmentRequest) *dto.AssignmentResponse
	GetAssignment(experimentID int64, userID string) (*dto.AssignmentResponse, bool)
	ListAssignments(experimentID int64) []*dto.AssignmentResponse

	UpsertExperiment(req *dto.UpsertExperimentRequest) *dto.ExperimentResponse
	GetExperiment(id int64) (*dto.ExperimentResponse, bool)
	GetExperimentByKey(key string) (*dto.ExperimentResponse, bool)
	UpsertVariant(experimentID int64, req *dto.UpsertVariantRequest) *dto.VariantResponse
	ListVariants(experimentID int64) []*dto.VariantResponse

	Stats(ctx context.Context) (*dto.StatsResponse, error)
	Cleanup(ctx context.Context, days int) (*dto.CleanupResponse, error)
}
