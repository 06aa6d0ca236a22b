package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"tiledseg/internal/models"
	"tiledseg/pkg/filter"
	"tiledseg/pkg/imageio"
	"tiledseg/pkg/tiling"
)

// ErrUnknownFilter is returned for a filter name Transform does not know.
var ErrUnknownFilter = errors.New("unknown filter")

// Filters lists the names accepted by Transform.
var Filters = []string{"identity", "gaussian", "box", "dog"}

// FilterSpec selects a filter and its parameters.
type FilterSpec struct {
	Name   string
	Sigma  filter.Sigmas
	Ratio  float64
	Radius int
}

// Transform returns the tile transform for f together with the margin it
// needs to be exact across tile seams.
func Transform(f FilterSpec) (tiling.Transform, int, error) {
	switch strings.ToLower(f.Name) {
	case "identity", "":
		return filter.Identity(), 0, nil
	case "gaussian":
		return filter.GaussianTransform(f.Sigma), filter.Margin(f.Sigma), nil
	case "box":
		return filter.BoxBlurTransform(f.Radius), f.Radius, nil
	case "dog":
		return filter.DoGTransform(f.Sigma, f.Ratio), filter.Margin(f.Sigma), nil
	}
	return nil, 0, fmt.Errorf("%w: %q (choose from %s)", ErrUnknownFilter, f.Name, strings.Join(Filters, ", "))
}

// TileParams configures Tile.
type TileParams struct {
	InputDir  string
	OutputDir string
	Filter    FilterSpec

	// Grid is the tiling grid; a negative margin uses the filter's own
	Grid    tiling.Grid
	Workers int
	Format  imageio.Format
}

// Tile loads a stack, applies a filter to it tile by tile and saves the
// result as a stack.
func Tile(ctx context.Context, p TileParams, logger *log.Logger) (*models.RunReport, error) {
	if logger == nil {
		logger = log.Default()
	}
	if p.InputDir == "" || p.OutputDir == "" {
		return nil, fmt.Errorf("%w: input and output directories are required", ErrParams)
	}
	fn, margin, err := Transform(p.Filter)
	if err != nil {
		return nil, err
	}
	g := p.Grid
	if g.DivX == 0 && g.DivY == 0 {
		g.DivX, g.DivY = 1, 1
	}
	if g.Margin < 0 {
		g.Margin = margin
	} else if g.Margin < margin {
		logger.Warn("margin smaller than filter support, seams will differ from the whole-image result",
			"margin", g.Margin, "support", margin)
	}

	report := models.NewRunReport("tile", p.InputDir)
	start := time.Now()
	img, err := imageio.LoadStack(p.InputDir, imageio.Normalized)
	if err != nil {
		return nil, err
	}
	d := img.Dims()
	report.Volume = models.VolumeInfo{Width: d[0], Height: d[1], Depth: d[2], Channels: 1}
	report.AddStage("load", start)

	start = time.Now()
	out, err := tiling.Apply(ctx, img, tiling.Options{Grid: g, Workers: p.Workers, Logger: logger}, fn)
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(p.Filter.Name)
	if name == "" {
		name = "identity"
	}
	st := report.AddStage(name, start)
	st.Detail = fmt.Sprintf("%dx%d tiles, margin %d", g.DivX, g.DivY, g.Margin)

	start = time.Now()
	paths, err := imageio.SaveStack(out, p.OutputDir, imageio.SaveOptions{Format: p.Format})
	if err != nil {
		return nil, err
	}
	st = report.AddStage("save", start)
	st.Output = p.OutputDir
	st.Detail = fmt.Sprintf("%d slices", len(paths))
	return report, nil
}
