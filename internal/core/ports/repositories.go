package ports

import (
	"context"

	"github.com/buildingai/buildingai/internal/core/domain"
)

// RunRepository persists detection run audit records.
type RunRepository interface {
	Insert(ctx context.Context, run *domain.DetectionRun) error
	GetByID(ctx context.Context, id string) (*domain.DetectionRun, error)
	// List returns runs newest first along with the total number of runs.
	List(ctx context.Context, offset, limit int) ([]domain.DetectionRun, int, error)
}
