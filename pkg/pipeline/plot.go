package pipeline

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"tiledseg/internal/models"
	"tiledseg/pkg/imageio"
	"tiledseg/pkg/measure"
	"tiledseg/pkg/plot"
)

// PlotParams configures Plot.
type PlotParams struct {
	// CSVFile is a measurement table written by the segmenter
	CSVFile string

	// ReferenceDir is a slice stack giving the output dimensions
	ReferenceDir string

	OutputDir string
	Format    imageio.Format
}

// Plot renders the nuclei of a measurement table as spheres in a volume the
// size of the reference stack, one block of slices per measured channel.
func Plot(p PlotParams, logger *log.Logger) (*models.RunReport, error) {
	if logger == nil {
		logger = log.Default()
	}
	if p.CSVFile == "" || p.ReferenceDir == "" || p.OutputDir == "" {
		return nil, fmt.Errorf("%w: csv, reference and output are required", ErrParams)
	}
	report := models.NewRunReport("plot", p.CSVFile)

	start := time.Now()
	f, err := os.Open(p.CSVFile)
	if err != nil {
		return nil, err
	}
	ms, err := measure.ReadCSV(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p.CSVFile, err)
	}
	channels := 1
	for _, m := range ms {
		channels = max(channels, m.Channels())
	}
	report.Objects = len(ms)
	report.AddStage("read", start).Detail = fmt.Sprintf("%d nuclei, %d channels", len(ms), channels)
	logger.Info("Read nuclei", "file", p.CSVFile, "count", len(ms))

	start = time.Now()
	ref, err := imageio.LoadStack(p.ReferenceDir, imageio.Raw)
	if err != nil {
		return nil, err
	}
	d := ref.Dims()
	img, err := plot.Nuclei(ms, [3]int{d[0], d[1], d[2]}, channels)
	if err != nil {
		return nil, err
	}
	report.Volume = models.VolumeInfo{Width: d[0], Height: d[1], Depth: d[2], Channels: channels}
	report.AddStage("render", start)

	start = time.Now()
	paths, err := imageio.SaveStack(img, p.OutputDir, imageio.SaveOptions{Format: p.Format, Scale: imageio.Raw, Prefix: "nuclei"})
	if err != nil {
		return nil, err
	}
	st := report.AddStage("save", start)
	st.Output = p.OutputDir
	st.Detail = fmt.Sprintf("%d slices", len(paths))
	logger.Info("Results saved", "dir", p.OutputDir)
	return report, nil
}
