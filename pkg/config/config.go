// Package config provides configuration loading and management for psfcontour.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Image backends understood by Tools.ImageBackend.
const (
	BackendCIAO   = "ciao"
	BackendNative = "native"
)

// Search strategies understood by Search.Strategy.
const (
	StrategyStep   = "step"
	StrategyBisect = "bisect"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Defaults for the command-line options
	Defaults struct {
		// Energy is the monochromatic energy of the simulated PSF in keV
		Energy float64 `yaml:"energy"`

		// Fraction is the target enclosed-flux fraction
		Fraction float64 `yaml:"fraction"`

		// Tolerance is the allowed distance from Fraction
		Tolerance float64 `yaml:"tolerance"`

		// Flux is the source flux in photon/cm^2/s
		Flux float64 `yaml:"flux"`
	} `yaml:"defaults"`

	// External tool settings
	Tools struct {
		// ImageBackend selects "ciao" or "native" for smoothing, contours,
		// flux sums, ellipses and circles
		ImageBackend string `yaml:"imageBackend"`

		// BinDir is prepended to tool names, normally $ASCDS_INSTALL/bin
		BinDir string `yaml:"binDir"`

		// Simulator is passed to simulate_psf (marx or saotrace)
		Simulator string `yaml:"simulator"`

		// NumIter is the number of simulate_psf iterations
		NumIter int `yaml:"numIter"`

		// Timeout bounds each tool invocation, zero means no limit
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"tools"`

	// Smoothing kernel, in image pixels
	Smoothing struct {
		SigmaX float64 `yaml:"sigmaX"`
		SigmaY float64 `yaml:"sigmaY"`
		NSigma float64 `yaml:"nSigma"`
	} `yaml:"smoothing"`

	// Contour search parameters
	Search struct {
		// MaxIterations caps the number of contour attempts
		MaxIterations int `yaml:"maxIterations"`

		// Strategy is "step" (one sorted pixel per iteration) or "bisect"
		Strategy string `yaml:"strategy"`
	} `yaml:"search"`

	// Output parameters
	Output struct {
		// Preview writes <outroot>.png with the regions overlaid
		Preview bool `yaml:"preview"`

		// LogLevel is debug, info, warn or error
		LogLevel string `yaml:"logLevel"`

		// Viewer is the image viewer named in the summary command
		Viewer string `yaml:"viewer"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Defaults.Energy = 1.0
	cfg.Defaults.Fraction = 0.9
	cfg.Defaults.Tolerance = 0.001
	cfg.Defaults.Flux = 0.01

	cfg.Tools.ImageBackend = BackendCIAO
	cfg.Tools.BinDir = ""
	cfg.Tools.Simulator = "marx"
	cfg.Tools.NumIter = 1
	cfg.Tools.Timeout = 0

	cfg.Smoothing.SigmaX = 3
	cfg.Smoothing.SigmaY = 3
	cfg.Smoothing.NSigma = 5

	cfg.Search.MaxIterations = 20
	cfg.Search.Strategy = StrategyStep

	cfg.Output.Preview = false
	cfg.Output.LogLevel = "info"
	cfg.Output.Viewer = "ds9"

	return cfg
}

// Validate checks the values that cannot be range-checked on the command line
func (c *Config) Validate() error {
	switch c.Tools.ImageBackend {
	case BackendCIAO, BackendNative:
	default:
		return fmt.Errorf("unknown image backend %q", c.Tools.ImageBackend)
	}
	switch c.Search.Strategy {
	case StrategyStep, StrategyBisect:
	default:
		return fmt.Errorf("unknown search strategy %q", c.Search.Strategy)
	}
	if c.Search.MaxIterations < 1 {
		return fmt.Errorf("search.maxIterations must be at least 1, got %d", c.Search.MaxIterations)
	}
	if c.Smoothing.SigmaX <= 0 || c.Smoothing.SigmaY <= 0 || c.Smoothing.NSigma <= 0 {
		return fmt.Errorf("smoothing kernel parameters must be positive")
	}
	if c.Tools.NumIter < 1 {
		return fmt.Errorf("tools.numIter must be at least 1, got %d", c.Tools.NumIter)
	}
	if c.Tools.Timeout < 0 {
		return fmt.Errorf("tools.timeout must not be negative")
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
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
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
