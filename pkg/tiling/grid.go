package tiling

import (
	"fmt"

	"tiledseg/pkg/volume"
)

// Grid describes how an image is split: DivX by DivY tiles, each extended by
// Margin pixels of context toward its interior neighbours.
type Grid struct {
	DivX   int `yaml:"divX" toml:"divX"`
	DivY   int `yaml:"divY" toml:"divY"`
	Margin int `yaml:"margin" toml:"margin"`
}

// Count returns the number of tiles in the grid.
func (g Grid) Count() int { return g.DivX * g.DivY }

// Validate checks the grid parameters without reference to an image.
func (g Grid) Validate() error {
	if g.DivX <= 0 || g.DivY <= 0 {
		return fmt.Errorf("%w: divX=%d divY=%d must be positive", ErrInvalidPartition, g.DivX, g.DivY)
	}
	if g.Margin < 0 {
		return fmt.Errorf("%w: margin=%d must not be negative", ErrInvalidPartition, g.Margin)
	}
	return nil
}

// Margins holds the overlap actually added on each side of a tile. Sides on
// the image border never receive context.
type Margins struct {
	Left, Right, Top, Bottom int
}

// Tile describes one cell of a partition.
type Tile struct {
	// K and L are the grid coordinates along X and Y.
	K, L int

	// Index is the tile's position in processing order (K outer, L inner).
	Index int

	// Footprint is the region of the output this tile is authoritative for,
	// in the image's coordinates. Non-spatial axes span their full extent.
	Footprint volume.Interval

	// Input is the region handed to the transform: the footprint grown by
	// the margins and clipped to the image.
	Input volume.Interval

	// Margins is the context added around the footprint.
	Margins Margins

	xd, yd int
}

// Placement returns the canvas coordinates of the tile's trimmed output.
func (t Tile) Placement() (x, y int) {
	return t.Footprint.Min[t.xd], t.Footprint.Min[t.yd]
}

// TrimInterval returns the part of a transform result that belongs to the
// tile's footprint. The offset is taken from the result's own origin, so a
// transform may return its output at any position. Axes other than X and Y
// are kept whole.
func (t Tile) TrimInterval(result *volume.Image) (volume.Interval, error) {
	rx, ry := result.AxisIndex(volume.X), result.AxisIndex(volume.Y)
	if rx < 0 || ry < 0 {
		return volume.Interval{}, fmt.Errorf("%w: result has no X/Y axes", ErrTileShape)
	}
	fx, fy := t.Footprint.Size[t.xd], t.Footprint.Size[t.yd]
	dims, min := result.Dims(), result.Min()
	if dims[rx] < t.Margins.Left+fx || dims[ry] < t.Margins.Top+fy {
		return volume.Interval{}, fmt.Errorf("%w: result %dx%d cannot hold footprint %dx%d at offset (%d, %d)",
			ErrTileShape, dims[rx], dims[ry], fx, fy, t.Margins.Left, t.Margins.Top)
	}
	iv := volume.NewInterval(min, dims)
	iv.Min[rx] += t.Margins.Left
	iv.Size[rx] = fx
	iv.Min[ry] += t.Margins.Top
	iv.Size[ry] = fy
	return iv, nil
}

type span struct {
	start, size   int
	before, after int
}

// splitAxis divides an axis of the given size into div spans of nominal
// width crop. The last span absorbs the remainder of an uneven division.
func splitAxis(size, div, crop, margin int) []span {
	spans := make([]span, div)
	for k := range spans {
		start := k * crop
		width := crop
		if k == div-1 {
			width = size - start
		}
		spans[k] = span{
			start:  start,
			size:   width,
			before: min(margin, start),
			after:  min(margin, size-start-width),
		}
	}
	return spans
}

// Plan computes the tiles that Apply would process for img, in processing
// order.
func Plan(img *volume.Image, g Grid) ([]Tile, error) {
	if img == nil {
		return nil, ErrNoImage
	}
	return plan(img.Interval(), img.AxisIndex(volume.X), img.AxisIndex(volume.Y), g)
}

func plan(space volume.Interval, xd, yd int, g Grid) ([]Tile, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	sizeX, sizeY := space.Size[xd], space.Size[yd]
	cropX, cropY := sizeX/g.DivX, sizeY/g.DivY
	if cropX <= 0 || cropY <= 0 {
		return nil, fmt.Errorf("%w: %dx%d image cannot be split into %dx%d tiles",
			ErrRegionTooSmall, sizeX, sizeY, g.DivX, g.DivY)
	}

	xs := splitAxis(sizeX, g.DivX, cropX, g.Margin)
	ys := splitAxis(sizeY, g.DivY, cropY, g.Margin)

	tiles := make([]Tile, 0, g.Count())
	for k, sx := range xs {
		for l, sy := range ys {
			fp := volume.NewInterval(space.Min, space.Size)
			fp.Min[xd] += sx.start
			fp.Size[xd] = sx.size
			fp.Min[yd] += sy.start
			fp.Size[yd] = sy.size

			in := volume.NewInterval(fp.Min, fp.Size)
			in.Min[xd] -= sx.before
			in.Size[xd] += sx.before + sx.after
			in.Min[yd] -= sy.before
			in.Size[yd] += sy.before + sy.after

			tiles = append(tiles, Tile{
				K:         k,
				L:         l,
				Index:     len(tiles),
				Footprint: fp,
				Input:     in,
				Margins:   Margins{Left: sx.before, Right: sx.after, Top: sy.before, Bottom: sy.after},
				xd:        xd,
				yd:        yd,
			})
		}
	}
	return tiles, nil
}
