// Package pipeline runs the nuclei segmentation workflow on slice stacks.
//
// The Segmenter processes a probability map in stages:
//  1. load the probability map
//  2. difference of Gaussians, computed tile by tile
//  3. mask of voxels above the probability threshold
//  4. local maxima of the DoG inside the mask
//  5. seeded watershed of the DoG restricted to the mask
//  6. per-object measurements written as CSV
//
// Each intermediate volume can be saved as a slice stack for inspection.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"tiledseg/internal/models"
	"tiledseg/pkg/config"
	"tiledseg/pkg/filter"
	"tiledseg/pkg/imageio"
	"tiledseg/pkg/measure"
	"tiledseg/pkg/segment"
	"tiledseg/pkg/tiling"
	"tiledseg/pkg/volume"
)

// ErrParams is returned for incomplete or inconsistent parameters.
var ErrParams = errors.New("invalid pipeline parameters")

// Stage directory names used for intermediary results.
const (
	StageDoG     = "01_dog"
	StageMask    = "02_mask"
	StageMaxima  = "03_maxima"
	StageObjects = "04_objects"
)

// Params holds the segmentation parameters.
type Params struct {
	// InputDir is the directory containing the probability map slices
	InputDir string

	// MeasureDirs are slice directories measured per object, one per
	// channel. When empty the probability map itself is measured.
	MeasureDirs []string

	// OutputFile is the CSV file receiving the measurements; empty skips writing
	OutputFile string

	// Grid controls the tiled DoG; a negative margin is derived from Sigma
	Grid    tiling.Grid
	Workers int

	Sigma        filter.Sigmas
	Ratio        float64
	MaximaRadius int
	Threshold    float64
	Cutoff       float64
	Calibration  measure.Calibration

	// SaveIntermediaryResults writes every stage under IntermediaryDir
	SaveIntermediaryResults bool
	IntermediaryDir         string
	Format                  imageio.Format
}

// ParamsFromConfig fills the numeric parameters from cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	sz := cfg.Segmentation.SigmaZ
	if sz == 0 {
		sz = cfg.Segmentation.Sigma
	}
	return Params{
		Grid: tiling.Grid{
			DivX:   cfg.Tiling.DivX,
			DivY:   cfg.Tiling.DivY,
			Margin: cfg.Tiling.Margin,
		},
		Workers:                 cfg.Tiling.Workers,
		Sigma:                   filter.Sigmas{X: cfg.Segmentation.Sigma, Y: cfg.Segmentation.Sigma, Z: sz},
		Ratio:                   cfg.Segmentation.Ratio,
		MaximaRadius:            cfg.Segmentation.MaximaRadius,
		Threshold:               cfg.Segmentation.Threshold,
		Cutoff:                  cfg.Segmentation.Cutoff,
		Calibration:             cfg.Calibration,
		SaveIntermediaryResults: cfg.Output.SaveIntermediaryResults,
		IntermediaryDir:         cfg.Output.IntermediaryDir,
		Format:                  imageio.Format(cfg.Output.Format),
	}
}

// grid returns the tiling grid with an automatic margin resolved.
func (p *Params) grid() tiling.Grid {
	g := p.Grid
	if g.DivX == 0 && g.DivY == 0 {
		g.DivX, g.DivY = 1, 1
	}
	if g.Margin < 0 {
		g.Margin = filter.Margin(p.Sigma)
	}
	return g
}

// Segmenter runs the segmentation stages and keeps their results.
type Segmenter struct {
	params *Params
	logger *log.Logger
	report *models.RunReport

	probability *volume.Image
	dog         *volume.Image
	mask        *volume.Image
	maxima      *volume.Image
	labels      *volume.Image
	objects     []segment.Object

	measurements []measure.Measurement
}

// NewSegmenter creates a segmenter. A nil logger uses log.Default().
func NewSegmenter(params *Params, logger *log.Logger) *Segmenter {
	if logger == nil {
		logger = log.Default()
	}
	return &Segmenter{
		params: params,
		logger: logger,
		report: models.NewRunReport("segment", params.InputDir),
	}
}

// Process runs the complete segmentation pipeline.
func (s *Segmenter) Process(ctx context.Context) error {
	p := s.params
	if p.InputDir == "" {
		return fmt.Errorf("%w: no input directory", ErrParams)
	}
	if p.Ratio <= 0 {
		return fmt.Errorf("%w: DoG ratio %v", ErrParams, p.Ratio)
	}
	s.logger.Debug("starting segmentation", "run", s.report.ID)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"load", s.load},
		{"dog", s.differenceOfGaussians},
		{"mask", s.threshold},
		{"maxima", s.localMaxima},
		{"watershed", s.watershed},
		{"measure", s.measure},
	}
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.logger.Infof("Step %d: %s", i+1, step.name)
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("%s failed: %w", step.name, err)
		}
	}
	return nil
}

func (s *Segmenter) load(context.Context) error {
	start := time.Now()
	img, err := imageio.LoadStack(s.params.InputDir, imageio.Normalized)
	if err != nil {
		return err
	}
	s.probability = img
	d := img.Dims()
	s.report.Volume = models.VolumeInfo{Width: d[0], Height: d[1], Depth: d[2], Channels: 1}
	cal := s.params.Calibration
	s.report.Volume.VoxelSize.X, s.report.Volume.VoxelSize.Y, s.report.Volume.VoxelSize.Z = cal.X, cal.Y, cal.Z
	st := s.report.AddStage("load", start)
	st.Detail = fmt.Sprintf("%dx%dx%d", d[0], d[1], d[2])
	s.logger.Info("Loaded probability map", "width", d[0], "height", d[1], "slices", d[2])
	return nil
}

func (s *Segmenter) differenceOfGaussians(ctx context.Context) error {
	start := time.Now()
	g := s.params.grid()
	opts := tiling.Options{
		Grid:    g,
		Workers: s.params.Workers,
		Logger:  s.logger,
		OnTile: func(ev tiling.TileEvent) {
			s.logger.Debugf("tile %d/%d (%d, %d) done in %s", ev.Done, ev.Total, ev.Tile.K, ev.Tile.L,
				ev.Elapsed.Round(time.Millisecond))
		},
	}
	dog, err := tiling.Apply(ctx, s.probability, opts, filter.DoGTransform(s.params.Sigma, s.params.Ratio))
	if err != nil {
		if k, l, ok := tiling.FailedTile(err); ok {
			s.logger.Error("tile failed", "k", k, "l", l)
		}
		return err
	}
	s.dog = dog
	st := s.report.AddStage("dog", start)
	st.Detail = fmt.Sprintf("%d tiles, margin %d", g.Count(), g.Margin)
	st.Output = s.save(StageDoG, dog, imageio.Normalized)
	return nil
}

func (s *Segmenter) threshold(context.Context) error {
	start := time.Now()
	s.mask = filter.Threshold(s.probability, s.params.Threshold)
	st := s.report.AddStage("mask", start)
	st.Output = s.save(StageMask, s.mask, imageio.Normalized)
	return nil
}

func (s *Segmenter) localMaxima(context.Context) error {
	start := time.Now()
	maxima, err := filter.LocalMaxima(s.dog, filter.Cube(s.params.MaximaRadius), s.params.Cutoff)
	if err != nil {
		return err
	}
	mask, seeds := s.mask.Data(), maxima.Data()
	count := 0
	for i := range seeds {
		if mask[i] == 0 {
			seeds[i] = 0
		}
		if seeds[i] != 0 {
			count++
		}
	}
	s.maxima = maxima
	st := s.report.AddStage("maxima", start)
	st.Detail = fmt.Sprintf("%d maxima", count)
	st.Output = s.save(StageMaxima, maxima, imageio.Normalized)
	s.logger.Info("Detected local maxima", "count", count)
	return nil
}

func (s *Segmenter) watershed(context.Context) error {
	start := time.Now()
	seeds, n, err := segment.LabelSeeds(s.maxima)
	if err != nil {
		return err
	}
	labels, err := segment.Watershed(s.dog, seeds, segment.WatershedOptions{
		Threshold: math.Inf(-1),
		Mask:      s.mask,
	})
	if err != nil {
		return err
	}
	objects, err := segment.Objects(labels)
	if err != nil {
		return err
	}
	s.labels, s.objects = labels, objects
	s.report.Objects = len(objects)
	st := s.report.AddStage("watershed", start)
	st.Detail = fmt.Sprintf("%d seeds, %d objects", n, len(objects))
	st.Output = s.save(StageObjects, labels, imageio.Raw)
	s.logger.Info("Segmented objects", "seeds", n, "objects", len(objects))
	return nil
}

func (s *Segmenter) measure(context.Context) error {
	start := time.Now()
	channels := []*volume.Image{s.probability}
	if len(s.params.MeasureDirs) > 0 {
		var err error
		if channels, err = loadChannels(s.params.MeasureDirs, s.labels); err != nil {
			return err
		}
	}
	ms, err := measure.Measure(s.objects, channels, s.params.Calibration)
	if err != nil {
		return err
	}
	s.measurements = ms
	st := s.report.AddStage("measure", start)
	st.Detail = fmt.Sprintf("%d objects, %d channels", len(ms), len(channels))

	if s.params.OutputFile == "" {
		return nil
	}
	if err := writeCSV(s.params.OutputFile, ms); err != nil {
		return err
	}
	st.Output = s.params.OutputFile
	s.logger.Info("Saved point cloud", "file", s.params.OutputFile)
	return nil
}

// loadChannels reads one raw intensity stack per directory and checks that
// each matches the label image.
func loadChannels(dirs []string, labels *volume.Image) ([]*volume.Image, error) {
	channels := make([]*volume.Image, 0, len(dirs))
	for _, dir := range dirs {
		ch, err := imageio.LoadStack(dir, imageio.Raw)
		if err != nil {
			return nil, err
		}
		if !volume.SameShape(ch, labels) {
			return nil, fmt.Errorf("%w: channel %s is %v, objects are %v", volume.ErrShape, dir, ch.Dims(), labels.Dims())
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func writeCSV(path string, ms []measure.Measurement) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := measure.WriteCSV(f, ms); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// save writes an intermediary stage and returns its directory, or "" when
// intermediary saving is off. Failures are logged, not fatal.
func (s *Segmenter) save(stage string, img *volume.Image, scale imageio.Scale) string {
	if !s.params.SaveIntermediaryResults {
		return ""
	}
	dir := filepath.Join(s.params.IntermediaryDir, stage)
	if _, err := imageio.SaveStack(img, dir, imageio.SaveOptions{Format: s.params.Format, Scale: scale}); err != nil {
		s.logger.Warn("Failed to save intermediary result", "stage", stage, "err", err)
		return ""
	}
	s.logger.Debug("saved intermediary result", "stage", stage, "dir", dir)
	return dir
}

// Measurements returns the per-object measurements of the last run.
func (s *Segmenter) Measurements() []measure.Measurement { return s.measurements }

// Summary aggregates the measurements of the last run.
func (s *Segmenter) Summary() measure.Summary { return measure.Summarize(s.measurements) }

// Labels returns the watershed label image of the last run.
func (s *Segmenter) Labels() *volume.Image { return s.labels }

// Report returns the run report.
func (s *Segmenter) Report() *models.RunReport { return s.report }
