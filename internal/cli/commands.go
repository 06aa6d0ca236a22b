package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tiledseg/pkg/config"
	"tiledseg/pkg/filter"
	"tiledseg/pkg/imageio"
	"tiledseg/pkg/pipeline"
	"tiledseg/pkg/tiling"
)

// tilingFlags overrides the tiling section of the configuration.
type tilingFlags struct {
	divX, divY, margin, workers int
}

func (f *tilingFlags) register(cmd *cobra.Command) {
	def := config.DefaultConfig()
	cmd.Flags().IntVar(&f.divX, "div-x", def.Tiling.DivX, "number of tiles along X")
	cmd.Flags().IntVar(&f.divY, "div-y", def.Tiling.DivY, "number of tiles along Y")
	cmd.Flags().IntVar(&f.margin, "margin", def.Tiling.Margin, "tile overlap in pixels (-1 derives it from the filter)")
	cmd.Flags().IntVar(&f.workers, "workers", def.Tiling.Workers, "tiles processed concurrently")
}

// apply copies the flags the user set onto cfg.
func (f *tilingFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("div-x") {
		cfg.Tiling.DivX = f.divX
	}
	if flags.Changed("div-y") {
		cfg.Tiling.DivY = f.divY
	}
	if flags.Changed("margin") {
		cfg.Tiling.Margin = f.margin
	}
	if flags.Changed("workers") {
		cfg.Tiling.Workers = f.workers
	}
}

func (c *CLI) tileCommand() *cobra.Command {
	var (
		input, output, filterName, format string
		sigma, ratio                      float64
		radius                            int
		tf                                tilingFlags
	)
	cmd := &cobra.Command{
		Use:   "tile",
		Short: "Filter a slice stack tile by tile",
		Long: `Loads a slice stack, applies a filter to it in a grid of overlapping tiles and
stitches the trimmed tiles into the output stack. With a margin at least the
filter's support the result equals filtering the whole stack at once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			tf.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("sigma") {
				sigma = cfg.Segmentation.Sigma
			}
			if !cmd.Flags().Changed("ratio") {
				ratio = cfg.Segmentation.Ratio
			}
			if !cmd.Flags().Changed("format") {
				format = cfg.Output.Format
			}

			logger := loggerFromContext(cmd.Context())
			prog := newProgress(logger)
			report, err := pipeline.Tile(cmd.Context(), pipeline.TileParams{
				InputDir:  input,
				OutputDir: output,
				Filter: pipeline.FilterSpec{
					Name:   filterName,
					Sigma:  filter.Isotropic(sigma),
					Ratio:  ratio,
					Radius: radius,
				},
				Grid:    tiling.Grid{DivX: cfg.Tiling.DivX, DivY: cfg.Tiling.DivY, Margin: cfg.Tiling.Margin},
				Workers: cfg.Tiling.Workers,
				Format:  imageio.Format(format),
			}, logger)
			if err != nil {
				return err
			}
			prog.done("Filtered stack")
			printReport(c.Out, report)
			printSuccess(c.Out, "Saved %s", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "directory containing the input slices")
	cmd.Flags().StringVarP(&output, "output", "o", "", "directory receiving the filtered slices")
	cmd.Flags().StringVarP(&filterName, "filter", "f", "gaussian", "filter: identity, gaussian, box or dog")
	cmd.Flags().Float64Var(&sigma, "sigma", 0, "Gaussian sigma in pixels")
	cmd.Flags().Float64Var(&ratio, "ratio", 0, "DoG ratio between the wide and narrow sigma")
	cmd.Flags().IntVar(&radius, "radius", 1, "box filter radius")
	cmd.Flags().StringVar(&format, "format", "", "output format: tiff or png")
	tf.register(cmd)
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (c *CLI) segmentCommand() *cobra.Command {
	var (
		input, output, intermediaryDir, format string
		measureDirs                            []string
		sigma, sigmaZ, ratio, threshold        float64
		cutoff                                 float64
		radius                                 int
		saveIntermediary                       bool
		tf                                     tilingFlags
	)
	cmd := &cobra.Command{
		Use:   "segment",
		Short: "Segment nuclei in a probability map and measure them",
		Long: `Runs the segmentation pipeline on a probability map stack:
difference of Gaussians (tiled), probability mask, local maxima, seeded
watershed and per-object measurements written as CSV.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			tf.apply(cmd, cfg)
			flags := cmd.Flags()
			if flags.Changed("sigma") {
				cfg.Segmentation.Sigma = sigma
			}
			if flags.Changed("sigma-z") {
				cfg.Segmentation.SigmaZ = sigmaZ
			}
			if flags.Changed("ratio") {
				cfg.Segmentation.Ratio = ratio
			}
			if flags.Changed("radius") {
				cfg.Segmentation.MaximaRadius = radius
			}
			if flags.Changed("threshold") {
				cfg.Segmentation.Threshold = threshold
			}
			if flags.Changed("cutoff") {
				cfg.Segmentation.Cutoff = cutoff
			}
			if flags.Changed("save-intermediary") {
				cfg.Output.SaveIntermediaryResults = saveIntermediary
			}
			if flags.Changed("intermediary-dir") {
				cfg.Output.IntermediaryDir = intermediaryDir
			}
			if flags.Changed("format") {
				cfg.Output.Format = format
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			params := pipeline.ParamsFromConfig(cfg)
			params.InputDir = input
			params.MeasureDirs = measureDirs
			params.OutputFile = output

			logger := loggerFromContext(cmd.Context())
			prog := newProgress(logger)
			s := pipeline.NewSegmenter(&params, logger)
			if err := s.Process(cmd.Context()); err != nil {
				return err
			}
			prog.done("Segmentation completed")

			printReport(c.Out, s.Report())
			printSummary(c.Out, s.Summary())
			if len(s.Measurements()) == 0 {
				printWarning(c.Out, "No objects found; try a lower threshold or sigma")
			}
			printSuccess(c.Out, "Saved %d objects to %s", len(s.Measurements()), output)
			return nil
		},
	}
	def := config.DefaultConfig()
	cmd.Flags().StringVarP(&input, "input", "i", "", "directory containing the probability map slices")
	cmd.Flags().StringSliceVarP(&measureDirs, "measure", "m", nil, "slice directories to measure, one per channel")
	cmd.Flags().StringVarP(&output, "output", "o", "points.csv", "CSV file receiving the measurements")
	cmd.Flags().Float64Var(&sigma, "sigma", def.Segmentation.Sigma, "DoG sigma in X and Y")
	cmd.Flags().Float64Var(&sigmaZ, "sigma-z", def.Segmentation.SigmaZ, "DoG sigma in Z (0 uses sigma)")
	cmd.Flags().Float64Var(&ratio, "ratio", def.Segmentation.Ratio, "DoG ratio between the wide and narrow sigma")
	cmd.Flags().IntVar(&radius, "radius", def.Segmentation.MaximaRadius, "local maxima neighbourhood radius")
	cmd.Flags().Float64Var(&threshold, "threshold", def.Segmentation.Threshold, "probability threshold of the mask")
	cmd.Flags().Float64Var(&cutoff, "cutoff", def.Segmentation.Cutoff, "minimum DoG value of a local maximum")
	cmd.Flags().BoolVar(&saveIntermediary, "save-intermediary", def.Output.SaveIntermediaryResults, "save every stage as a slice stack")
	cmd.Flags().StringVar(&intermediaryDir, "intermediary-dir", def.Output.IntermediaryDir, "directory for intermediary stages")
	cmd.Flags().StringVar(&format, "format", def.Output.Format, "intermediary format: tiff or png")
	tf.register(cmd)
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func (c *CLI) plotCommand() *cobra.Command {
	var csvFile, reference, output, format string
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Render measured nuclei as spheres",
		Long: `Reads a measurement table and draws every nucleus as a sphere of its
measured volume, filled with its mean intensity, in a volume the size of the
reference stack. Each measured channel is written as its own block of slices.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("format") {
				format = cfg.Output.Format
			}
			logger := loggerFromContext(cmd.Context())
			prog := newProgress(logger)
			report, err := pipeline.Plot(pipeline.PlotParams{
				CSVFile:      csvFile,
				ReferenceDir: reference,
				OutputDir:    output,
				Format:       imageio.Format(format),
			}, logger)
			if err != nil {
				return err
			}
			prog.done("Rendered nuclei")
			printReport(c.Out, report)
			printSuccess(c.Out, "Saved %s", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&csvFile, "csv", "", "measurement table written by segment")
	cmd.Flags().StringVarP(&reference, "reference", "r", "", "slice stack giving the output size")
	cmd.Flags().StringVarP(&output, "output", "o", "", "directory receiving the rendered slices")
	cmd.Flags().StringVar(&format, "format", "", "output format: tiff or png")
	_ = cmd.MarkFlagRequired("csv")
	_ = cmd.MarkFlagRequired("reference")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (c *CLI) quantifyCommand() *cobra.Command {
	var (
		labels, output string
		measureDirs    []string
	)
	cmd := &cobra.Command{
		Use:   "quantify",
		Short: "Measure the objects of an existing label stack",
		Long: `Reads a label stack (for example the 04_objects stage saved by segment) and
measures every labelled object in the given intensity stacks, writing the
same CSV table as segment without running the segmentation again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := loggerFromContext(cmd.Context())
			prog := newProgress(logger)
			report, err := pipeline.Quantify(pipeline.QuantifyParams{
				LabelDir:    labels,
				MeasureDirs: measureDirs,
				OutputFile:  output,
				Calibration: cfg.Calibration,
			}, logger)
			if err != nil {
				return err
			}
			prog.done("Quantification completed")
			printReport(c.Out, report)
			printSuccess(c.Out, "Saved %d objects to %s", report.Objects, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&labels, "labels", "l", "", "directory containing the label slices")
	cmd.Flags().StringSliceVarP(&measureDirs, "measure", "m", nil, "slice directories to measure, one per channel")
	cmd.Flags().StringVarP(&output, "output", "o", "points.csv", "CSV file receiving the measurements")
	_ = cmd.MarkFlagRequired("labels")
	return cmd
}

func (c *CLI) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init FILE",
		Short: "Write the default configuration to FILE (.yaml or .toml)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			printSuccess(c.Out, "Wrote default configuration")
			printFile(c.Out, path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	var asTOML bool
	showCmd := &cobra.Command{
		Use:   "show [FILE]",
		Short: "Print the effective configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				c.configPath = args[0]
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			data, err := config.Marshal(cfg, asTOML)
			if err != nil {
				return err
			}
			_, err = c.Out.Write(data)
			return err
		},
	}
	showCmd.Flags().BoolVar(&asTOML, "toml", false, "print as TOML instead of YAML")

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
