package workflows

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/buildingai/buildingai/internal/core/domain"
	"github.com/buildingai/buildingai/internal/core/usecases"
)

// Activity names, registered by the worker and referenced by the workflow.
const (
	ActivityEstimate = "EstimateRegion"
	ActivityDetect   = "DetectRegion"
)

// Error types of non-retryable activity failures.
const (
	ErrTypeInvalidInput   = "InvalidInput"
	ErrTypeRegionTooLarge = "RegionTooLarge"
)

// DetectionActivities holds the activity implementations for the detection workflow.
type DetectionActivities struct {
	Detection *usecases.DetectionService
}

// EstimateRegion sizes the region and fails without retry when it is
// malformed or above the tile limit.
func (a *DetectionActivities) EstimateRegion(ctx context.Context, in domain.DetectionInput) (*domain.TileEstimate, error) {
	est, err := a.Detection.Estimate(in.Ring)
	if err != nil {
		return nil, nonRetryable(err)
	}
	if est.Status == domain.EstimateTooLarge {
		return nil, nonRetryable(&domain.RegionTooLargeError{Tiles: est.Tiles, Limit: est.Limit})
	}
	return est, nil
}

// DetectRegion runs the detection under runID. Total failures are left
// retryable since the endpoints may recover.
func (a *DetectionActivities) DetectRegion(ctx context.Context, runID string, in domain.DetectionInput) (*domain.AggregatedResult, error) {
	activity.GetLogger(ctx).Info("detecting region", "run_id", runID, "attempt", activity.GetInfo(ctx).Attempt)

	res, err := a.Detection.DetectRun(ctx, runID, in)
	if err != nil {
		return nil, nonRetryable(err)
	}
	return res, nil
}

// nonRetryable marks caller errors so Temporal does not retry them. Other
// errors pass through unchanged.
func nonRetryable(err error) error {
	switch {
	case errors.Is(err, domain.ErrRegionTooLarge):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeRegionTooLarge, err)
	case errors.Is(err, domain.ErrInvalidInput):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	}
	return err
}
