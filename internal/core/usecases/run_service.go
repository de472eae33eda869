package usecases

import (
	"context"
	"fmt"

	"github.com/buildingai/buildingai/internal/core/domain"
	"github.com/buildingai/buildingai/internal/core/ports"
)

const (
	defaultRunPageSize = 50
	maxRunPageSize     = 200
)

// RunService handles the detection run audit trail.
type RunService struct {
	runs ports.RunRepository
}

// NewRunService creates a new RunService.
func NewRunService(runs ports.RunRepository) *RunService {
	return &RunService{runs: runs}
}

// Record stores a finished run.
func (s *RunService) Record(ctx context.Context, run *domain.DetectionRun) error {
	if run.ID == "" {
		return domain.InvalidInput("run id is required")
	}
	if err := s.runs.Insert(ctx, run); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// GetByID returns a single run.
func (s *RunService) GetByID(ctx context.Context, id string) (*domain.DetectionRun, error) {
	if id == "" {
		return nil, domain.InvalidInput("run id is required")
	}
	return s.runs.GetByID(ctx, id)
}

// ClampPage bounds paging values to what List accepts.
func ClampPage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > maxRunPageSize {
		limit = defaultRunPageSize
	}
	return offset, limit
}

// List returns a page of runs, newest first, and the total count.
// Paging values are clamped with ClampPage.
func (s *RunService) List(ctx context.Context, offset, limit int) ([]domain.DetectionRun, int, error) {
	offset, limit = ClampPage(offset, limit)
	return s.runs.List(ctx, offset, limit)
}
