package ports

import (
	"context"

	"github.com/buildingai/buildingai/internal/core/domain"
)

// DetectionClient talks to one replica of the remote building detection service.
type DetectionClient interface {
	Detect(ctx context.Context, endpoint string, req domain.DetectionRequest) (*domain.DetectionResult, error)
}

// EventPublisher publishes detection events to a message broker.
type EventPublisher interface {
	PublishProgress(ctx context.Context, ev *domain.ProgressEvent) error
	PublishRun(ctx context.Context, run *domain.DetectionRun) error
}

// EventSubscriber subscribes to detection events from a message broker.
type EventSubscriber interface {
	SubscribeRuns(ctx context.Context, handler func(ctx context.Context, run *domain.DetectionRun) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// JobRunner runs detections asynchronously.
type JobRunner interface {
	Start(ctx context.Context, input domain.DetectionInput) (string, error)
	Status(ctx context.Context, id string) (*domain.JobStatus, error)
}
