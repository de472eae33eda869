package main

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/buildingai/buildingai/internal/core/domain"
)

// parseRegion reads a region from one of:
//   - a GeoJSON FeatureCollection, Feature or Polygon (first polygon's outer ring)
//   - {"bbox": [minLng, minLat, maxLng, maxLat]}
//   - {"coordinates": [[lng, lat], ...]}
//   - a bare [[lng, lat], ...] array
func parseRegion(data []byte) (orb.Ring, error) {
	var bare orb.Ring
	if err := json.Unmarshal(data, &bare); err == nil {
		return bare, nil
	}

	var doc struct {
		Type        string          `json:"type"`
		BBox        []float64       `json:"bbox"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("region is not JSON: %w", err)
	}

	switch doc.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, err
		}
		for _, f := range fc.Features {
			if ring, ok := outerRing(f.Geometry); ok {
				return ring, nil
			}
		}
		return nil, fmt.Errorf("feature collection has no polygon")
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, err
		}
		if ring, ok := outerRing(f.Geometry); ok {
			return ring, nil
		}
		return nil, fmt.Errorf("feature is not a polygon")
	case "Polygon", "MultiPolygon":
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, err
		}
		if ring, ok := outerRing(g.Geometry()); ok {
			return ring, nil
		}
		return nil, fmt.Errorf("geometry has no ring")
	}

	if len(doc.BBox) > 0 {
		if len(doc.BBox) != 4 {
			return nil, fmt.Errorf("bbox must be [minLng, minLat, maxLng, maxLat]")
		}
		b := doc.BBox
		return domain.Bounds{MinLng: b[0], MinLat: b[1], MaxLng: b[2], MaxLat: b[3]}.Ring(), nil
	}
	if len(doc.Coordinates) > 0 {
		var ring orb.Ring
		if err := json.Unmarshal(doc.Coordinates, &ring); err != nil {
			return nil, fmt.Errorf("coordinates: %w", err)
		}
		return ring, nil
	}
	return nil, fmt.Errorf("no region found")
}

func outerRing(g orb.Geometry) (orb.Ring, bool) {
	switch g := g.(type) {
	case orb.Polygon:
		if len(g) > 0 {
			return g[0], true
		}
	case orb.MultiPolygon:
		if len(g) > 0 && len(g[0]) > 0 {
			return g[0][0], true
		}
	}
	return nil, false
}
