package usecases

import (
	"sort"

	"github.com/paulmach/orb/geojson"

	"github.com/buildingai/buildingai/internal/core/domain"
)

// Merge concatenates sub-region results into one FeatureCollection.
//
// Features keep their relative order and appear in sub-region index order.
// Tile and duplicate counts are summed; processing time is the slowest
// sub-region since they ran concurrently. BuildingsDetected is left for the
// caller to fill in after border deduplication.
func Merge(results []domain.DetectionResult) domain.AggregatedResult {
	ordered := make([]domain.DetectionResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SubRegion < ordered[j].SubRegion
	})

	fc := geojson.NewFeatureCollection()
	var stats domain.DetectionStats
	for _, r := range ordered {
		fc.Features = append(fc.Features, r.Features...)
		stats.TilesProcessed += r.Stats.TilesProcessed
		stats.DuplicatesRemoved += r.Stats.DuplicatesRemoved
		if r.Stats.ProcessingTimeSeconds > stats.ProcessingTimeSeconds {
			stats.ProcessingTimeSeconds = r.Stats.ProcessingTimeSeconds
		}
	}
	stats.SubRegionsSucceeded = len(ordered)

	return domain.AggregatedResult{GeoJSON: fc, Stats: stats}
}
