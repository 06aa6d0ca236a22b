// Package tiling applies a transform to a large image piece by piece.
//
// The image is partitioned into a DivX by DivY grid along X and Y. Each tile
// is cropped with Margin pixels of context toward its interior neighbours
// (never past the image border), handed to the transform, trimmed back to its
// footprint and copied into a full-size canvas. Footprints are disjoint and
// cover the whole image, so every output sample is written exactly once.
//
// For a transform whose support radius does not exceed the margin, the
// result equals applying the transform to the whole image at once while peak
// memory stays bounded by one tile.
package tiling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"tiledseg/pkg/volume"
)

// Transform computes the output for one region. The region's origin is its
// position in the full image. The returned image must cover at least the
// region's X/Y extent; its other axes may differ from the input's (a pixel
// classifier may return one channel per class) but must be the same for all
// tiles.
type Transform func(ctx context.Context, region *volume.Image) (*volume.Image, error)

// TileEvent is reported after each tile is merged.
type TileEvent struct {
	Tile    Tile
	Done    int
	Total   int
	Elapsed time.Duration
}

// Options configures Apply.
type Options struct {
	Grid

	// Workers is the number of tiles computed concurrently. Values below 2
	// process tiles one at a time in order.
	Workers int

	// Logger receives per-tile progress at debug level. Defaults to log.Default().
	Logger *log.Logger

	// OnTile, when set, is called after each tile has been merged.
	OnTile func(TileEvent)
}

// Apply runs fn over every tile of img and stitches the trimmed results into
// an image with img's X/Y extent. A failing transform aborts the whole call
// with a *TileError; no partial result is returned.
func Apply(ctx context.Context, img *volume.Image, opts Options, fn Transform) (*volume.Image, error) {
	if img == nil || fn == nil {
		return nil, ErrNoImage
	}
	tiles, err := Plan(img, opts.Grid)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	m := &merger{
		src:    img,
		total:  len(tiles),
		logger: logger,
		onTile: opts.OnTile,
	}

	if opts.Workers <= 1 || len(tiles) == 1 {
		for _, t := range tiles {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := m.run(ctx, t, fn); err != nil {
				return nil, err
			}
		}
		return m.canvas, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, t := range tiles {
		t := t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return m.run(gctx, t, fn)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return m.canvas, nil
}

// merger owns the output canvas. Tiles write disjoint regions; the mutex
// only guards lazy allocation of the canvas and the progress counter.
type merger struct {
	src    *volume.Image
	total  int
	logger *log.Logger
	onTile func(TileEvent)

	mu     sync.Mutex
	canvas *volume.Image
	done   int
}

func (m *merger) run(ctx context.Context, t Tile, fn Transform) error {
	start := time.Now()
	m.logger.Debug("computing tile",
		"tile", fmt.Sprintf("%d/%d", t.Index+1, m.total),
		"k", t.K, "l", t.L,
		"input", t.Input.String())

	region, err := m.src.Crop(t.Input)
	if err != nil {
		return &TileError{K: t.K, L: t.L, Err: err}
	}
	result, err := fn(ctx, region)
	if err != nil {
		return &TileError{K: t.K, L: t.L, Err: err}
	}
	if result == nil {
		return &TileError{K: t.K, L: t.L, Err: fmt.Errorf("%w: transform returned nil", ErrTileShape)}
	}
	iv, err := t.TrimInterval(result)
	if err != nil {
		return &TileError{K: t.K, L: t.L, Err: err}
	}
	trimmed, err := result.Crop(iv)
	if err != nil {
		return &TileError{K: t.K, L: t.L, Err: err}
	}

	canvas, err := m.ensureCanvas(trimmed)
	if err != nil {
		return &TileError{K: t.K, L: t.L, Err: err}
	}
	if err := canvas.Blit(trimmed, m.placement(canvas, t)); err != nil {
		return &TileError{K: t.K, L: t.L, Err: err}
	}

	m.mu.Lock()
	m.done++
	ev := TileEvent{Tile: t, Done: m.done, Total: m.total, Elapsed: time.Since(start)}
	m.mu.Unlock()

	m.logger.Debug("merged tile", "k", t.K, "l", t.L, "duration", ev.Elapsed.Round(time.Millisecond))
	if m.onTile != nil {
		m.onTile(ev)
	}
	return nil
}

// ensureCanvas allocates the output on first use: X/Y follow the source
// image, every other axis follows the first trimmed tile.
func (m *merger) ensureCanvas(tile *volume.Image) (*volume.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.canvas == nil {
		axes, dims, origin := tile.Axes(), tile.Dims(), tile.Min()
		for d, a := range axes {
			switch a {
			case volume.X, volume.Y:
				sd := m.src.AxisIndex(a)
				dims[d] = m.src.Dims()[sd]
				origin[d] = m.src.Min()[sd]
			}
		}
		canvas, err := volume.New(axes, dims)
		if err != nil {
			return nil, err
		}
		if canvas, err = canvas.WithMin(origin); err != nil {
			return nil, err
		}
		m.canvas = canvas
		return canvas, nil
	}

	cAxes, cDims := m.canvas.Axes(), m.canvas.Dims()
	tAxes, tDims := tile.Axes(), tile.Dims()
	if len(cAxes) != len(tAxes) {
		return nil, fmt.Errorf("%w: axes %v, canvas has %v", ErrTileShape, tAxes, cAxes)
	}
	for d := range cAxes {
		if cAxes[d] != tAxes[d] {
			return nil, fmt.Errorf("%w: axes %v, canvas has %v", ErrTileShape, tAxes, cAxes)
		}
		if cAxes[d] != volume.X && cAxes[d] != volume.Y && cDims[d] != tDims[d] {
			return nil, fmt.Errorf("%w: %v extent %d, canvas has %d", ErrTileShape, cAxes[d], tDims[d], cDims[d])
		}
	}
	return m.canvas, nil
}

func (m *merger) placement(canvas *volume.Image, t Tile) []int {
	at := canvas.Min()
	x, y := t.Placement()
	at[canvas.AxisIndex(volume.X)] = x
	at[canvas.AxisIndex(volume.Y)] = y
	return at
}
