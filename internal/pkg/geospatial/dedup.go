package geospatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultDedupEpsilon is the per-axis centroid tolerance in degrees.
const DefaultDedupEpsilon = 0.0001

// VertexCentroid returns the unweighted mean of the outer ring's vertices.
// ok is false for geometries without a polygonal outer ring.
func VertexCentroid(g orb.Geometry) (c orb.Point, ok bool) {
	var ring orb.Ring
	switch geom := g.(type) {
	case orb.Polygon:
		if len(geom) > 0 {
			ring = geom[0]
		}
	case orb.MultiPolygon:
		if len(geom) > 0 && len(geom[0]) > 0 {
			ring = geom[0][0]
		}
	case orb.Ring:
		ring = geom
	}
	if len(ring) == 0 {
		return orb.Point{}, false
	}

	var sx, sy float64
	for _, p := range ring {
		sx += p[0]
		sy += p[1]
	}
	n := float64(len(ring))
	return orb.Point{sx / n, sy / n}, true
}

// Dedup drops features whose centroid lies within eps of an already kept
// feature on both axes independently. The first feature in input order wins.
//
// The comparison is a linear scan over kept centroids, O(n·k). That is fine
// for the tens to low hundreds of buildings a region yields but will not
// scale to tens of thousands of features.
//
// Features without a polygonal geometry are always kept. The tolerance is
// in degrees, so it is not distance-accurate away from the equator.
func Dedup(features []*geojson.Feature, eps float64) []*geojson.Feature {
	if eps <= 0 {
		eps = DefaultDedupEpsilon
	}

	kept := make([]*geojson.Feature, 0, len(features))
	centroids := make([]orb.Point, 0, len(features))

	for _, f := range features {
		if f == nil {
			continue
		}
		c, ok := VertexCentroid(f.Geometry)
		if !ok {
			kept = append(kept, f)
			continue
		}
		if nearAny(c, centroids, eps) {
			continue
		}
		kept = append(kept, f)
		centroids = append(centroids, c)
	}
	return kept
}

func nearAny(c orb.Point, centroids []orb.Point, eps float64) bool {
	for _, k := range centroids {
		if math.Abs(c[0]-k[0]) < eps && math.Abs(c[1]-k[1]) < eps {
			return true
		}
	}
	return false
}
