package geospatial

import (
	"sort"

	"github.com/paulmach/orb"

	"github.com/buildingai/buildingai/internal/core/domain"
)

// Band maps a tile count to a grid shape. A band applies when the tile
// count is strictly greater than MinTiles.
type Band struct {
	MinTiles int `mapstructure:"min_tiles" json:"min_tiles"`
	Cols     int `mapstructure:"cols" json:"cols"`
	Rows     int `mapstructure:"rows" json:"rows"`
}

// DefaultBands are the split thresholds for region splitting.
func DefaultBands() []Band {
	return []Band{
		{MinTiles: 36, Cols: 3, Rows: 2},
		{MinTiles: 16, Cols: 2, Rows: 2},
		{MinTiles: 4, Cols: 2, Rows: 1},
	}
}

// Partitioner splits a region into a uniform grid of rectangles sized by
// its tile count.
type Partitioner struct {
	grid  TileGrid
	bands []Band
}

// NewPartitioner creates a Partitioner. Bands are sorted so that the largest
// MinTiles is tried first; an empty slice selects DefaultBands.
func NewPartitioner(grid TileGrid, bands []Band) *Partitioner {
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	sorted := make([]Band, len(bands))
	copy(sorted, bands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinTiles > sorted[j].MinTiles })
	return &Partitioner{grid: grid, bands: sorted}
}

// Grid returns the tile grid used for estimates.
func (p *Partitioner) Grid() TileGrid { return p.grid }

// EstimateTiles returns the tile count that Partition uses for its decision.
func (p *Partitioner) EstimateTiles(ring orb.Ring) int {
	return p.grid.Count(ring)
}

// Shape returns the grid shape (cols, rows) for a tile count.
func (p *Partitioner) Shape(tiles int) (cols, rows int) {
	for _, b := range p.bands {
		if tiles > b.MinTiles && b.Cols > 0 && b.Rows > 0 {
			return b.Cols, b.Rows
		}
	}
	return 1, 1
}

// Partition splits the ring's bounding box into equal-width columns and
// equal-height rows. Cells are emitted row by row from the south-west corner.
// The grid ignores the polygon's actual shape, so cells may include area
// outside a non-rectangular ring.
func (p *Partitioner) Partition(ring orb.Ring) []domain.SubRegion {
	if len(ring) == 0 {
		return nil
	}
	b := ring.Bound()
	cols, rows := p.Shape(p.grid.CountBound(b))
	return Split(b, cols, rows)
}

// Split divides a bound into cols×rows rectangles. The last column and row
// are pinned to the bound's max edge so the cells cover it exactly.
func Split(b orb.Bound, cols, rows int) []domain.SubRegion {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	dLng := (b.Max[0] - b.Min[0]) / float64(cols)
	dLat := (b.Max[1] - b.Min[1]) / float64(rows)

	edge := func(min, max, step float64, i, n int) float64 {
		if i == n {
			return max
		}
		return min + float64(i)*step
	}

	cells := make([]domain.SubRegion, 0, cols*rows)
	for r := 0; r < rows; r++ {
		south := edge(b.Min[1], b.Max[1], dLat, r, rows)
		north := edge(b.Min[1], b.Max[1], dLat, r+1, rows)
		for c := 0; c < cols; c++ {
			west := edge(b.Min[0], b.Max[0], dLng, c, cols)
			east := edge(b.Min[0], b.Max[0], dLng, c+1, cols)
			cell := domain.Bounds{MinLng: west, MinLat: south, MaxLng: east, MaxLat: north}
			cells = append(cells, domain.SubRegion{Index: len(cells), Ring: cell.Ring()})
		}
	}
	return cells
}
