package domain

import "github.com/paulmach/orb"

// Bounds represents a geographic bounding box in degrees (WGS 84).
type Bounds struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// BoundsFromOrb converts an orb.Bound (min/max as [lng, lat]).
func BoundsFromOrb(b orb.Bound) Bounds {
	return Bounds{MinLng: b.Min[0], MinLat: b.Min[1], MaxLng: b.Max[0], MaxLat: b.Max[1]}
}

// Orb returns the bounds as an orb.Bound.
func (b Bounds) Orb() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinLng, b.MinLat}, Max: orb.Point{b.MaxLng, b.MaxLat}}
}

// Ring returns the rectangle as four corners in the order a drawn rectangle
// is reported: south-west, north-west, north-east, south-east.
func (b Bounds) Ring() orb.Ring {
	return orb.Ring{
		{b.MinLng, b.MinLat},
		{b.MinLng, b.MaxLat},
		{b.MaxLng, b.MaxLat},
		{b.MaxLng, b.MinLat},
	}
}

// TileGridAddress is a tile-group index pair at a fixed zoom level.
type TileGridAddress struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// SubRegion is one rectangular cell of a partitioned region.
type SubRegion struct {
	Index int      `json:"index"`
	Ring  orb.Ring `json:"coordinates"`
}

// Bound returns the bounding box of the sub-region.
func (s SubRegion) Bound() orb.Bound {
	return s.Ring.Bound()
}
