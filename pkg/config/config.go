// Package config provides configuration loading and management for tiledseg.
// It handles loading configuration from YAML or TOML files and provides
// default values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tiledseg/pkg/measure"
)

// ErrInvalid is returned by Validate for out-of-range settings.
var ErrInvalid = errors.New("invalid configuration")

// AutoMargin asks for the tile margin to be derived from the filter support.
const AutoMargin = -1

// Config represents the application configuration.
type Config struct {
	// Tiling controls how volumes are split for filtering
	Tiling struct {
		// DivX and DivY are the number of tiles along X and Y
		DivX int `yaml:"divX" toml:"divX"`
		DivY int `yaml:"divY" toml:"divY"`

		// Margin is the tile overlap in pixels, or -1 for automatic
		Margin int `yaml:"margin" toml:"margin"`

		// Workers is the number of tiles processed concurrently
		Workers int `yaml:"workers" toml:"workers"`
	} `yaml:"tiling" toml:"tiling"`

	// Segmentation parameters
	Segmentation struct {
		// Sigma is the DoG sigma in X and Y; SigmaZ defaults to Sigma when zero
		Sigma  float64 `yaml:"sigma" toml:"sigma"`
		SigmaZ float64 `yaml:"sigmaZ" toml:"sigmaZ"`

		// Ratio divides Sigma to obtain the narrow Gaussian
		Ratio float64 `yaml:"ratio" toml:"ratio"`

		// MaximaRadius is the local maxima neighbourhood radius
		MaximaRadius int `yaml:"maximaRadius" toml:"maximaRadius"`

		// Threshold is the probability above which voxels belong to the mask
		Threshold float64 `yaml:"threshold" toml:"threshold"`

		// Cutoff is the DoG value local maxima must exceed
		Cutoff float64 `yaml:"cutoff" toml:"cutoff"`
	} `yaml:"segmentation" toml:"segmentation"`

	// Calibration is the physical voxel size
	Calibration measure.Calibration `yaml:"calibration" toml:"calibration"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults determines whether to save intermediary stages
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults" toml:"saveIntermediaryResults"`

		// IntermediaryDir receives the intermediary stages
		IntermediaryDir string `yaml:"intermediaryDir" toml:"intermediaryDir"`

		// Format is the slice file format: tiff or png
		Format string `yaml:"format" toml:"format"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose" toml:"verbose"`
	} `yaml:"output" toml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Tiling.DivX = 1
	cfg.Tiling.DivY = 1
	cfg.Tiling.Margin = AutoMargin
	cfg.Tiling.Workers = 1

	cfg.Segmentation.Sigma = 8
	cfg.Segmentation.Ratio = 1.5
	cfg.Segmentation.MaximaRadius = 3
	cfg.Segmentation.Threshold = 0.2
	cfg.Segmentation.Cutoff = 0

	cfg.Calibration = measure.Calibration{X: 1, Y: 1, Z: 1}

	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary"
	cfg.Output.Format = "tiff"

	return cfg
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.Tiling.DivX < 1 || c.Tiling.DivY < 1:
		return fmt.Errorf("%w: tiling divisions %dx%d must be at least 1", ErrInvalid, c.Tiling.DivX, c.Tiling.DivY)
	case c.Tiling.Margin < AutoMargin:
		return fmt.Errorf("%w: tiling margin %d", ErrInvalid, c.Tiling.Margin)
	case c.Tiling.Workers < 1:
		return fmt.Errorf("%w: workers %d must be at least 1", ErrInvalid, c.Tiling.Workers)
	case c.Segmentation.Sigma <= 0 || c.Segmentation.SigmaZ < 0:
		return fmt.Errorf("%w: sigma must be positive", ErrInvalid)
	case c.Segmentation.Ratio <= 1:
		return fmt.Errorf("%w: DoG ratio %v must exceed 1", ErrInvalid, c.Segmentation.Ratio)
	case c.Segmentation.MaximaRadius < 0:
		return fmt.Errorf("%w: maxima radius %d", ErrInvalid, c.Segmentation.MaximaRadius)
	}
	switch strings.ToLower(c.Output.Format) {
	case "", "tif", "tiff", "png":
	default:
		return fmt.Errorf("%w: output format %q", ErrInvalid, c.Output.Format)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by the
// file extension. If the file doesn't exist, it returns the default
// configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// Marshal encodes cfg as TOML when asTOML is set, else as YAML.
func Marshal(cfg *Config, asTOML bool) ([]byte, error) {
	if !asTOML {
		return yaml.Marshal(cfg)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := Marshal(cfg, isTOML(configPath))
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
