// Package cli implements the tiledseg command-line interface.
//
// # Commands
//
//   - tile: apply a filter to a slice stack tile by tile
//   - segment: segment nuclei in a probability map and measure them
//   - plot: render a measurement table as spheres
//   - quantify: measure the objects of an existing label stack
//   - config: write or show a configuration file
//
// All commands support --verbose (-v) for debug-level logging and
// --config (-c) to read settings from a YAML or TOML file.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"tiledseg/pkg/config"
)

// Version is reported by --version. It is set at build time.
var Version = "dev"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// Out receives command results; logs go to Logger.
	Out io.Writer

	configPath string
}

// New creates a CLI logging to w at the given level and printing results to
// stdout.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level), Out: os.Stdout}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "tiledseg",
		Short:        "tiledseg segments nuclei in large bioimage volumes",
		Long:         `tiledseg filters slice stacks tile by tile, segments nuclei from a probability map with a seeded watershed and measures every object.`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "configuration file (YAML or TOML)")

	root.AddCommand(c.tileCommand())
	root.AddCommand(c.segmentCommand())
	root.AddCommand(c.plotCommand())
	root.AddCommand(c.quantifyCommand())
	root.AddCommand(c.configCommand())
	return root
}

// loadConfig reads the --config file, or the defaults when none is given.
// The result is not validated; commands validate after applying their flags.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if c.configPath != "" {
		if _, err := os.Stat(c.configPath); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		var err error
		if cfg, err = config.LoadConfig(c.configPath); err != nil {
			return nil, err
		}
	}
	if cfg.Output.Verbose {
		c.SetLogLevel(LogDebug)
	}
	return cfg, nil
}
