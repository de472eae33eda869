package domain

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultThreshold is the confidence threshold used when the caller supplies none.
const DefaultThreshold = 0.5

// DetectionInput is what a caller hands to the detection service.
type DetectionInput struct {
	Ring      orb.Ring `json:"coordinates"`
	Threshold float64  `json:"threshold"`
}

// DetectionRequest is a single sub-region request sent to one endpoint.
type DetectionRequest struct {
	SubRegion     SubRegion
	Threshold     float64
	EndpointIndex int
	UseV51        bool
}

// ChunkStats are the processing statistics reported for one sub-region.
type ChunkStats struct {
	TilesProcessed        int     `json:"tiles_processed"`
	DuplicatesRemoved     int     `json:"duplicates_removed"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}

// DetectionResult is the successful outcome of one sub-region request.
type DetectionResult struct {
	SubRegion int                `json:"sub_region"`
	Endpoint  string             `json:"endpoint"`
	Features  []*geojson.Feature `json:"-"`
	Stats     ChunkStats         `json:"stats"`
}

// DetectionStats summarises a merged detection.
type DetectionStats struct {
	BuildingsDetected       int     `json:"buildings_detected"`
	TilesProcessed          int     `json:"tiles_processed"`
	DuplicatesRemoved       int     `json:"duplicates_removed"`
	BorderDuplicatesRemoved int     `json:"border_duplicates_removed"`
	ProcessingTimeSeconds   float64 `json:"processing_time_seconds"`
	Threshold               float64 `json:"threshold"`
	TileEstimate            int     `json:"tile_estimate"`
	SubRegions              int     `json:"sub_regions"`
	SubRegionsSucceeded     int     `json:"sub_regions_succeeded"`
}

// Complete reports whether every sub-region contributed to the result.
func (s DetectionStats) Complete() bool {
	return s.SubRegions > 0 && s.SubRegions == s.SubRegionsSucceeded
}

// AggregatedResult is the merged, deduplicated output of a detection.
type AggregatedResult struct {
	RunID   string                     `json:"run_id,omitempty"`
	GeoJSON *geojson.FeatureCollection `json:"geojson"`
	Stats   DetectionStats             `json:"stats"`
}

// EstimateStatus buckets a tile estimate relative to the hard ceiling.
type EstimateStatus string

const (
	EstimateOK        EstimateStatus = "ok"
	EstimateNearLimit EstimateStatus = "near_limit"
	EstimateTooLarge  EstimateStatus = "too_large"
)

// TileEstimate is the precomputed workload size of a region.
type TileEstimate struct {
	Tiles        int            `json:"tiles"`
	Limit        int            `json:"limit"`
	Status       EstimateStatus `json:"status"`
	SoftWarning  bool           `json:"soft_warning"`
	Cols         int            `json:"cols"`
	Rows         int            `json:"rows"`
	WidthMeters  float64        `json:"width_m"`
	HeightMeters float64        `json:"height_m"`
	Bounds       Bounds         `json:"bounds"`
}

// ProgressEvent is emitted every time a sub-region request settles.
type ProgressEvent struct {
	RunID     string    `json:"run_id"`
	SubRegion int       `json:"sub_region"`
	Endpoint  string    `json:"endpoint"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Settled   int       `json:"settled"`
	Total     int       `json:"total"`
	Percent   float64   `json:"percent"`
	Time      time.Time `json:"time"`
}

// RunStatus is the terminal state of a detection run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
	RunRejected  RunStatus = "rejected"
)

// DetectionRun is the audit record of one detection attempt. It never
// carries the detected geometries.
type DetectionRun struct {
	ID         string         `json:"id"`
	Status     RunStatus      `json:"status"`
	Bounds     Bounds         `json:"bounds"`
	Stats      DetectionStats `json:"stats"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// JobStatus describes an asynchronous detection job.
type JobStatus struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Result *AggregatedResult `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// ExportFilename names a GeoJSON export produced on day t.
func ExportFilename(t time.Time) string {
	return "buildings_" + t.Format("2006-01-02") + ".geojson"
}
