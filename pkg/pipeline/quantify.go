package pipeline

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"tiledseg/internal/models"
	"tiledseg/pkg/imageio"
	"tiledseg/pkg/measure"
	"tiledseg/pkg/segment"
)

// QuantifyParams configures Quantify.
type QuantifyParams struct {
	// LabelDir holds an existing label stack, one integer label per object
	LabelDir string

	// MeasureDirs are intensity stacks measured per object, one per channel
	MeasureDirs []string

	// OutputFile receives the measurement CSV
	OutputFile string

	Calibration measure.Calibration
}

// Quantify measures the objects of a label stack produced earlier, by the
// segmenter or by another tool, without segmenting again.
func Quantify(p QuantifyParams, logger *log.Logger) (*models.RunReport, error) {
	if logger == nil {
		logger = log.Default()
	}
	if p.LabelDir == "" || p.OutputFile == "" {
		return nil, fmt.Errorf("%w: label directory and output file are required", ErrParams)
	}
	report := models.NewRunReport("quantify", p.LabelDir)

	start := time.Now()
	labels, err := imageio.LoadStack(p.LabelDir, imageio.Raw)
	if err != nil {
		return nil, err
	}
	objects, err := segment.Objects(labels)
	if err != nil {
		return nil, err
	}
	d := labels.Dims()
	report.Volume = models.VolumeInfo{Width: d[0], Height: d[1], Depth: d[2], Channels: len(p.MeasureDirs)}
	report.Objects = len(objects)
	report.AddStage("objects", start).Detail = fmt.Sprintf("%d objects", len(objects))
	logger.Info("Read label stack", "dir", p.LabelDir, "objects", len(objects))

	start = time.Now()
	channels, err := loadChannels(p.MeasureDirs, labels)
	if err != nil {
		return nil, err
	}
	ms, err := measure.Measure(objects, channels, p.Calibration)
	if err != nil {
		return nil, err
	}
	if err := writeCSV(p.OutputFile, ms); err != nil {
		return nil, err
	}
	st := report.AddStage("measure", start)
	st.Detail = fmt.Sprintf("%d objects, %d channels", len(ms), len(channels))
	st.Output = p.OutputFile
	logger.Info("Saved point cloud", "file", p.OutputFile)
	return report, nil
}
