package usecases

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/buildingai/buildingai/internal/core/domain"
	"github.com/buildingai/buildingai/internal/core/ports"
	"github.com/buildingai/buildingai/internal/pkg/geospatial"
	"github.com/buildingai/buildingai/internal/pkg/logging"
	"github.com/buildingai/buildingai/internal/pkg/metrics"
	"github.com/buildingai/buildingai/internal/pkg/telemetry"
)

// nearLimitRatio marks estimates close enough to the ceiling to warn about.
const nearLimitRatio = 0.7

// DetectionConfig holds the knobs of the detection pipeline.
type DetectionConfig struct {
	MaxTiles         int
	WarnTiles        int
	DefaultThreshold float64
	DedupEpsilon     float64
	CacheTTL         int // seconds, 0 disables the result cache
}

// DetectionService runs region detection end to end: validate, gate,
// partition, dispatch, merge and deduplicate.
type DetectionService struct {
	partitioner *geospatial.Partitioner
	dispatcher  *Dispatcher
	cache       ports.CacheService
	events      ports.EventPublisher
	cfg         DetectionConfig
}

// NewDetectionService creates a new DetectionService. cache and events may be nil.
func NewDetectionService(
	partitioner *geospatial.Partitioner,
	dispatcher *Dispatcher,
	cache ports.CacheService,
	events ports.EventPublisher,
	cfg DetectionConfig,
) *DetectionService {
	if cfg.DefaultThreshold <= 0 || cfg.DefaultThreshold > 1 {
		cfg.DefaultThreshold = domain.DefaultThreshold
	}
	if cfg.DedupEpsilon <= 0 {
		cfg.DedupEpsilon = geospatial.DefaultDedupEpsilon
	}
	return &DetectionService{
		partitioner: partitioner,
		dispatcher:  dispatcher,
		cache:       cache,
		events:      events,
		cfg:         cfg,
	}
}

// MaxTiles returns the hard tile ceiling.
func (s *DetectionService) MaxTiles() int { return s.cfg.MaxTiles }

// minRingPoints is the fewest vertices that enclose an area.
const minRingPoints = 3

// ValidateRing checks that a ring holds at least three finite vertices
// inside the Web Mercator range.
func ValidateRing(ring orb.Ring) error {
	if len(ring) == 0 {
		return domain.InvalidInput("no region given")
	}
	if len(ring) < minRingPoints {
		return domain.InvalidInput("region needs at least %d points, got %d", minRingPoints, len(ring))
	}
	for i, p := range ring {
		lng, lat := p[0], p[1]
		if math.IsNaN(lng) || math.IsNaN(lat) || math.IsInf(lng, 0) || math.IsInf(lat, 0) {
			return domain.InvalidInput("vertex %d is not a finite coordinate", i)
		}
		if lng < -180 || lng > 180 {
			return domain.InvalidInput("vertex %d longitude %v outside [-180, 180]", i, lng)
		}
		if lat < -geospatial.MaxLatitude || lat > geospatial.MaxLatitude {
			return domain.InvalidInput("vertex %d latitude %v outside the Web Mercator range", i, lat)
		}
	}
	return nil
}

// NormalizeThreshold returns def for a zero threshold and rejects values
// outside (0, 1].
func NormalizeThreshold(t, def float64) (float64, error) {
	switch {
	case t == 0:
		return def, nil
	case math.IsNaN(t) || t < 0 || t > 1:
		return 0, domain.InvalidInput("threshold must be in (0, 1], got %v", t)
	}
	return t, nil
}

// Estimate reports the tile workload of a ring and how it relates to the ceiling.
func (s *DetectionService) Estimate(ring orb.Ring) (*domain.TileEstimate, error) {
	if err := ValidateRing(ring); err != nil {
		return nil, err
	}

	tiles := s.partitioner.EstimateTiles(ring)
	cols, rows := s.partitioner.Shape(tiles)
	b := ring.Bound()
	w, h := geospatial.BoundSize(b)

	status := domain.EstimateOK
	switch {
	case tiles > s.cfg.MaxTiles:
		status = domain.EstimateTooLarge
	case float64(tiles) > nearLimitRatio*float64(s.cfg.MaxTiles):
		status = domain.EstimateNearLimit
	}

	return &domain.TileEstimate{
		Tiles:        tiles,
		Limit:        s.cfg.MaxTiles,
		Status:       status,
		SoftWarning:  s.cfg.WarnTiles > 0 && tiles > s.cfg.WarnTiles,
		Cols:         cols,
		Rows:         rows,
		WidthMeters:  math.Round(w),
		HeightMeters: math.Round(h),
		Bounds:       domain.BoundsFromOrb(b),
	}, nil
}

// Partition returns the sub-regions a ring would be split into. The size
// gate is not applied.
func (s *DetectionService) Partition(ring orb.Ring) ([]domain.SubRegion, error) {
	if err := ValidateRing(ring); err != nil {
		return nil, err
	}
	return s.partitioner.Partition(ring), nil
}

// Detect runs a detection under a freshly generated run ID.
func (s *DetectionService) Detect(ctx context.Context, in domain.DetectionInput) (*domain.AggregatedResult, error) {
	return s.DetectRun(ctx, uuid.NewString(), in)
}

// DetectRun runs a detection for in and tags its events with runID.
//
// Regions above the tile ceiling fail with *domain.RegionTooLargeError
// before anything is sent. A result is returned as long as one sub-region
// succeeded; Stats.SubRegions and Stats.SubRegionsSucceeded tell the two apart.
func (s *DetectionService) DetectRun(ctx context.Context, runID string, in domain.DetectionInput) (*domain.AggregatedResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanDetect)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrRunID, runID))

	log := logging.FromContext(ctx).With("run_id", runID)
	ctx = logging.WithLogger(ctx, log)

	if err := ValidateRing(in.Ring); err != nil {
		return nil, err
	}
	threshold, err := NormalizeThreshold(in.Threshold, s.cfg.DefaultThreshold)
	if err != nil {
		return nil, err
	}

	run := &domain.DetectionRun{
		ID:        runID,
		Bounds:    domain.BoundsFromOrb(in.Ring.Bound()),
		StartedAt: time.Now().UTC(),
	}
	run.Stats.Threshold = threshold

	tiles := s.partitioner.EstimateTiles(in.Ring)
	run.Stats.TileEstimate = tiles
	metrics.RegionTiles.Observe(float64(tiles))
	span.SetAttributes(
		attribute.Int(telemetry.AttrTiles, tiles),
		attribute.Float64(telemetry.AttrThreshold, threshold),
	)

	if tiles > s.cfg.MaxTiles {
		err := &domain.RegionTooLargeError{Tiles: tiles, Limit: s.cfg.MaxTiles}
		metrics.RegionsRejected.Inc()
		log.Info("region rejected", "tiles", tiles, "limit", s.cfg.MaxTiles)
		s.finish(ctx, run, domain.RunRejected, err)
		return nil, err
	}

	key := cacheKey(in.Ring, threshold, s.dispatcher.useV51)
	if cached := s.cached(ctx, key); cached != nil {
		cached.RunID = runID
		run.Stats = cached.Stats
		log.Info("detection served from cache", "buildings", cached.Stats.BuildingsDetected)
		s.finish(ctx, run, domain.RunCompleted, nil)
		return cached, nil
	}

	subs := s.partitioner.Partition(in.Ring)
	run.Stats.SubRegions = len(subs)
	span.SetAttributes(attribute.Int(telemetry.AttrSubRegions, len(subs)))
	log.Info("dispatching region", "tiles", tiles, "sub_regions", len(subs), "threshold", threshold)

	results, err := s.dispatcher.DispatchRun(ctx, runID, subs, threshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, domain.ErrTotalFailure) {
			log.Error("every sub-region failed", "sub_regions", len(subs))
			s.finish(ctx, run, domain.RunFailed, err)
		}
		return nil, err
	}

	agg := Merge(results)
	before := len(agg.GeoJSON.Features)
	agg.GeoJSON.Features = geospatial.Dedup(agg.GeoJSON.Features, s.cfg.DedupEpsilon)

	agg.RunID = runID
	agg.Stats.BuildingsDetected = len(agg.GeoJSON.Features)
	agg.Stats.BorderDuplicatesRemoved = before - agg.Stats.BuildingsDetected
	agg.Stats.Threshold = threshold
	agg.Stats.TileEstimate = tiles
	agg.Stats.SubRegions = len(subs)
	run.Stats = agg.Stats

	metrics.BuildingsDetected.Add(float64(agg.Stats.BuildingsDetected))
	metrics.BorderDuplicatesRemoved.Add(float64(agg.Stats.BorderDuplicatesRemoved))
	span.SetAttributes(
		attribute.Int(telemetry.AttrBuildings, agg.Stats.BuildingsDetected),
		attribute.Int(telemetry.AttrDuplicates, agg.Stats.BorderDuplicatesRemoved),
	)

	status := domain.RunCompleted
	if !agg.Stats.Complete() {
		status = domain.RunPartial
	}
	log.Info("detection finished",
		"status", status,
		"buildings", agg.Stats.BuildingsDetected,
		"succeeded", agg.Stats.SubRegionsSucceeded,
		"sub_regions", agg.Stats.SubRegions,
	)
	s.finish(ctx, run, status, nil)

	if status == domain.RunCompleted {
		s.store(ctx, key, &agg)
	}
	return &agg, nil
}

func (s *DetectionService) finish(ctx context.Context, run *domain.DetectionRun, status domain.RunStatus, err error) {
	run.Status = status
	run.FinishedAt = time.Now().UTC()
	if err != nil {
		run.Error = err.Error()
	}
	metrics.Runs.WithLabelValues(string(status)).Inc()

	if s.events == nil {
		return
	}
	if err := s.events.PublishRun(context.WithoutCancel(ctx), run); err != nil {
		logging.FromContext(ctx).Warn("publish run failed", "error", err)
	}
}

func (s *DetectionService) cached(ctx context.Context, key string) *domain.AggregatedResult {
	if s.cache == nil || s.cfg.CacheTTL <= 0 {
		return nil
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.CacheMisses.WithLabelValues("detect").Inc()
		return nil
	}
	var agg domain.AggregatedResult
	if err := json.Unmarshal(data, &agg); err != nil {
		slog.Warn("discarding unreadable cache entry", "key", key, "error", err)
		_ = s.cache.Delete(ctx, key)
		return nil
	}
	metrics.CacheHits.WithLabelValues("detect").Inc()
	return &agg
}

func (s *DetectionService) store(ctx context.Context, key string, agg *domain.AggregatedResult) {
	if s.cache == nil || s.cfg.CacheTTL <= 0 {
		return
	}
	if data, err := json.Marshal(agg); err == nil {
		_ = s.cache.Set(ctx, key, data, s.cfg.CacheTTL)
	}
}

func cacheKey(ring orb.Ring, threshold float64, useV51 bool) string {
	h := sha256.New()
	for _, p := range ring {
		fmt.Fprintf(h, "%.7f,%.7f;", p[0], p[1])
	}
	fmt.Fprintf(h, "t=%s;v51=%t", strconv.FormatFloat(threshold, 'g', -1, 64), useV51)
	return "detect:" + hex.EncodeToString(h.Sum(nil))
}
