// Package config provides configuration loading and management for volpatch.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"volpatch/pkg/aggregator"
	"volpatch/pkg/sampler"
	"volpatch/pkg/volume"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Queue parameters
	Queue struct {
		// MaxLength is the number of patches a fill aims to buffer
		MaxLength int `yaml:"maxLength"`

		// SamplesPerVolume is the number of patches taken from each subject
		SamplesPerVolume int `yaml:"samplesPerVolume"`

		// NumWorkers is the number of goroutines loading subjects (0 = synchronous)
		NumWorkers int `yaml:"numWorkers"`

		ShuffleSubjects bool `yaml:"shuffleSubjects"`
		ShufflePatches  bool `yaml:"shufflePatches"`

		// Seed makes subject and patch order reproducible
		Seed uint64 `yaml:"seed"`
	} `yaml:"queue"`

	// Sampler parameters
	Sampler struct {
		// Kind is "uniform" or "grid"
		Kind string `yaml:"kind"`

		// PatchSize takes one value (cube) or three
		PatchSize []int `yaml:"patchSize"`

		// Overlap is only used by the grid sampler; one value or three
		Overlap []int `yaml:"overlap"`
	} `yaml:"sampler"`

	// Aggregator parameters
	Aggregator struct {
		// Mode is "crop" or "average"
		Mode string `yaml:"mode"`

		// BatchSize is the number of patches passed to the model at once
		BatchSize int `yaml:"batchSize"`
	} `yaml:"aggregator"`

	// Data parameters used when no input directory is given
	Data struct {
		// SyntheticSubjects is the number of generated subjects
		SyntheticSubjects int `yaml:"syntheticSubjects"`

		// SyntheticShape is the spatial shape of generated subjects
		SyntheticShape []int `yaml:"syntheticShape"`
	} `yaml:"data"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// LogFormat is "text" or "json"
		LogFormat string `yaml:"logFormat"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Queue.MaxLength = 300
	cfg.Queue.SamplesPerVolume = 10
	cfg.Queue.NumWorkers = runtime.NumCPU()
	cfg.Queue.ShuffleSubjects = true
	cfg.Queue.ShufflePatches = true
	cfg.Queue.Seed = 0

	cfg.Sampler.Kind = "uniform"
	cfg.Sampler.PatchSize = []int{32}
	cfg.Sampler.Overlap = []int{0}

	cfg.Aggregator.Mode = "crop"
	cfg.Aggregator.BatchSize = 8

	cfg.Data.SyntheticSubjects = 10
	cfg.Data.SyntheticShape = []int{64, 64, 48}

	cfg.Output.Verbose = false
	cfg.Output.LogFormat = "text"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

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

// Validate checks that every section can be turned into its component.
func (c *Config) Validate() error {
	if _, err := c.SamplerConfig(); err != nil {
		return err
	}
	if _, err := aggregator.ParseMode(c.Aggregator.Mode); err != nil {
		return err
	}
	if c.Aggregator.BatchSize <= 0 {
		return errors.Errorf("aggregator batch size must be positive, got %d", c.Aggregator.BatchSize)
	}
	if c.Queue.SamplesPerVolume <= 0 {
		return errors.Errorf("samples per volume must be positive, got %d", c.Queue.SamplesPerVolume)
	}
	if c.Queue.MaxLength < c.Queue.SamplesPerVolume {
		return errors.Errorf("queue max length %d is smaller than samples per volume %d",
			c.Queue.MaxLength, c.Queue.SamplesPerVolume)
	}
	if c.Queue.NumWorkers < 0 {
		return errors.Errorf("number of workers must not be negative, got %d", c.Queue.NumWorkers)
	}
	if _, err := c.SyntheticShape(); err != nil {
		return err
	}
	switch c.Output.LogFormat {
	case "", "text", "json":
	default:
		return errors.Errorf("unknown log format %q (want text or json)", c.Output.LogFormat)
	}
	return nil
}

// SamplerConfig converts the sampler section.
func (c *Config) SamplerConfig() (sampler.Config, error) {
	kind, err := sampler.ParseKind(c.Sampler.Kind)
	if err != nil {
		return sampler.Config{}, err
	}
	patchSize, err := volume.NewTriplet(c.Sampler.PatchSize...)
	if err != nil {
		return sampler.Config{}, errors.Wrap(err, "sampler.patchSize")
	}
	overlap := volume.Triplet{}
	if len(c.Sampler.Overlap) > 0 {
		if overlap, err = volume.NewTriplet(c.Sampler.Overlap...); err != nil {
			return sampler.Config{}, errors.Wrap(err, "sampler.overlap")
		}
	}
	return sampler.Config{Kind: kind, PatchSize: patchSize, Overlap: overlap}, nil
}

// SyntheticShape converts data.syntheticShape.
func (c *Config) SyntheticShape() (volume.Triplet, error) {
	shape, err := volume.NewTriplet(c.Data.SyntheticShape...)
	if err != nil {
		return volume.Triplet{}, errors.Wrap(err, "data.syntheticShape")
	}
	return shape, nil
}

// LogLevel maps the verbose flag to a slog level.
func (c *Config) LogLevel() slog.Level {
	if c.Output.Verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
