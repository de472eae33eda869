package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/buildingai/buildingai/internal/core/domain"
)

// JobInput is the input for the detection workflow.
type JobInput struct {
	RunID string
	Input domain.DetectionInput
}

// DetectTimeout bounds one detection attempt. It sits above the per
// sub-region request timeout since sub-regions run in parallel.
const DetectTimeout = 15 * time.Minute

// DetectionWorkflow sizes a region and then detects buildings in it.
// Malformed and oversized regions fail on the first attempt; a run where
// every endpoint failed is retried twice more with backoff.
func DetectionWorkflow(ctx workflow.Context, in JobInput) (*domain.AggregatedResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting detection workflow", "runID", in.RunID)

	estimateCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})

	var est domain.TileEstimate
	if err := workflow.ExecuteActivity(estimateCtx, ActivityEstimate, in.Input).Get(ctx, &est); err != nil {
		return nil, err
	}
	logger.Info("Region sized", "tiles", est.Tiles, "cols", est.Cols, "rows", est.Rows)

	detectCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: DetectTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        30 * time.Second,
			BackoffCoefficient:     2,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeInvalidInput, ErrTypeRegionTooLarge},
		},
	})

	var res domain.AggregatedResult
	if err := workflow.ExecuteActivity(detectCtx, ActivityDetect, in.RunID, in.Input).Get(ctx, &res); err != nil {
		return nil, err
	}

	logger.Info("Detection finished", "buildings", res.Stats.BuildingsDetected,
		"succeeded", res.Stats.SubRegionsSucceeded, "subRegions", res.Stats.SubRegions)
	return &res, nil
}
