package geospatial

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/buildingai/buildingai/internal/core/domain"
)

// Web Mercator tiling defaults used by the detection service.
const (
	DefaultZoom          = 18
	DefaultTilesPerGroup = 2

	// MaxLatitude is the northern edge of the Web Mercator tile pyramid.
	MaxLatitude = 85.05112878
)

// TileGrid converts coordinates to tile-group addresses at a fixed zoom.
// The zero value is not usable; use NewTileGrid or DefaultTileGrid.
type TileGrid struct {
	Zoom          int
	TilesPerGroup int
}

// NewTileGrid returns a grid, falling back to the defaults for non-positive values.
func NewTileGrid(zoom, tilesPerGroup int) TileGrid {
	if zoom <= 0 {
		zoom = DefaultZoom
	}
	if tilesPerGroup <= 0 {
		tilesPerGroup = DefaultTilesPerGroup
	}
	return TileGrid{Zoom: zoom, TilesPerGroup: tilesPerGroup}
}

// DefaultTileGrid is zoom 18 with two tiles per image group.
func DefaultTileGrid() TileGrid {
	return TileGrid{Zoom: DefaultZoom, TilesPerGroup: DefaultTilesPerGroup}
}

// TileX returns the fractional tile column of a longitude.
func TileX(lon float64, zoom int) float64 {
	return ((lon + 180) / 360) * math.Exp2(float64(zoom))
}

// TileY returns the fractional tile row of a latitude (row 0 is the north edge).
func TileY(lat float64, zoom int) float64 {
	r := lat * math.Pi / 180
	return (1 - math.Log(math.Tan(r)+1/math.Cos(r))/math.Pi) / 2 * math.Exp2(float64(zoom))
}

// Address returns the tile-group address containing p.
func (g TileGrid) Address(p orb.Point) domain.TileGridAddress {
	return domain.TileGridAddress{
		X: g.group(TileX(p[0], g.Zoom)),
		Y: g.group(TileY(p[1], g.Zoom)),
	}
}

func (g TileGrid) group(tile float64) int {
	return int(math.Floor(tile / float64(g.TilesPerGroup)))
}

// CountBound returns how many tile groups the bounding box touches.
//
// Rings crossing the antimeridian are not supported: their bound spans
// nearly the whole globe and the count is meaningless.
func (g TileGrid) CountBound(b orb.Bound) int {
	nw := g.Address(orb.Point{b.Min[0], b.Max[1]})
	se := g.Address(orb.Point{b.Max[0], b.Min[1]})
	return (abs(se.X-nw.X) + 1) * (abs(se.Y-nw.Y) + 1)
}

// Count returns the tile-group count of the ring's bounding box. An empty
// ring covers nothing.
func (g TileGrid) Count(ring orb.Ring) int {
	if len(ring) == 0 {
		return 0
	}
	return g.CountBound(ring.Bound())
}

// TileCount is Count on the default grid.
func TileCount(ring orb.Ring) int {
	return DefaultTileGrid().Count(ring)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
