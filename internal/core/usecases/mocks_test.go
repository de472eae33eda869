package usecases_test

import (
	"context"
	"errors"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/buildingai/buildingai/internal/core/domain"
)

// --- Mock DetectionClient ---

type mockClient struct {
	detectFn func(ctx context.Context, endpoint string, req domain.DetectionRequest) (*domain.DetectionResult, error)

	mu    sync.Mutex
	calls []string
}

func (m *mockClient) Detect(ctx context.Context, endpoint string, req domain.DetectionRequest) (*domain.DetectionResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, endpoint)
	m.mu.Unlock()

	if m.detectFn != nil {
		return m.detectFn(ctx, endpoint, req)
	}
	return &domain.DetectionResult{}, nil
}

func (m *mockClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu       sync.Mutex
	progress []domain.ProgressEvent
	runs     []domain.DetectionRun
}

func (m *mockPublisher) PublishProgress(ctx context.Context, ev *domain.ProgressEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, *ev)
	return nil
}

func (m *mockPublisher) PublishRun(ctx context.Context, run *domain.DetectionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

// --- Mock CacheService ---

var errCacheMiss = errors.New("cache miss")

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache { return &mockCache{data: map[string][]byte{}} }

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errCacheMiss
	}
	return v, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// --- Fixtures ---

func box(minLng, minLat, maxLng, maxLat float64) orb.Ring {
	return domain.Bounds{MinLng: minLng, MinLat: minLat, MaxLng: maxLng, MaxLat: maxLat}.Ring()
}

func building(cx, cy float64, id string) *geojson.Feature {
	const half = 0.00005
	f := geojson.NewFeature(orb.Polygon{{
		{cx - half, cy - half},
		{cx - half, cy + half},
		{cx + half, cy + half},
		{cx + half, cy - half},
	}})
	f.Properties["id"] = id
	return f
}

func featureIDs(features []*geojson.Feature) []string {
	out := make([]string, 0, len(features))
	for _, f := range features {
		out = append(out, f.Properties.MustString("id"))
	}
	return out
}

func subRegions(n int) []domain.SubRegion {
	out := make([]domain.SubRegion, n)
	for i := range out {
		lng := 31.24 + float64(i)*0.001
		out[i] = domain.SubRegion{Index: i, Ring: box(lng, 30.04, lng+0.001, 30.041)}
	}
	return out
}
