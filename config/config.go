// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Execution ExecutionConfig `yaml:"execution"`
	Field     FieldConfig     `yaml:"field"`
	Partition PartitionConfig `yaml:"partition"`
	Output    OutputConfig    `yaml:"output"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// ExecutionConfig holds time-stepping and kernel execution parameters.
type ExecutionConfig struct {
	Mode           string  `yaml:"mode"`            // "compiled" or "interpreted"
	DT             float64 `yaml:"dt"`              // Integration step in seconds
	Runtime        float64 `yaml:"runtime"`         // Total simulated seconds
	Endtime        float64 `yaml:"endtime"`         // Absolute stop time (0 = use runtime)
	OutputInterval float64 `yaml:"output_interval"` // Seconds between output sink calls
	Seed           int64   `yaml:"seed"`            // Kernel RNG seed
}

// FieldConfig holds field interpolation and boundary parameters.
type FieldConfig struct {
	Interp    string `yaml:"interp"`     // "linear", "nearest" or "cgrid_velocity"
	Boundary  string `yaml:"boundary"`   // "error", "clamp" or "periodic"
	Mesh      string `yaml:"mesh"`       // "spherical" or "flat"
	ChunkSize int    `yaml:"chunk_size"` // Time snapshots per chunk (0 = load wholesale)
}

// PartitionConfig holds parallel execution parameters.
type PartitionConfig struct {
	Workers        int `yaml:"workers"`         // Worker count (1 = no partitioning)
	RebalanceEvery int `yaml:"rebalance_every"` // Output intervals between repartitions
}

// OutputConfig holds output sink parameters.
type OutputConfig struct {
	Dir string `yaml:"dir"` // Output directory ("" = output disabled)
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Compiled bool    // Execution.Mode == "compiled"
	Endtime  float64 // Effective absolute stop time
	Backward bool    // Execution.DT < 0
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	// Start with embedded defaults
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	// Load user config if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// validate rejects values outside the documented option sets.
func (c *Config) validate() error {
	switch c.Execution.Mode {
	case "compiled", "interpreted":
	default:
		return fmt.Errorf("config: invalid execution.mode %q (want compiled or interpreted)", c.Execution.Mode)
	}
	switch c.Field.Interp {
	case "linear", "nearest", "cgrid_velocity":
	default:
		return fmt.Errorf("config: invalid field.interp %q", c.Field.Interp)
	}
	switch c.Field.Boundary {
	case "error", "clamp", "periodic":
	default:
		return fmt.Errorf("config: invalid field.boundary %q", c.Field.Boundary)
	}
	switch c.Field.Mesh {
	case "spherical", "flat":
	default:
		return fmt.Errorf("config: invalid field.mesh %q", c.Field.Mesh)
	}
	if c.Execution.DT == 0 {
		return fmt.Errorf("config: execution.dt must be non-zero")
	}
	if c.Partition.Workers < 1 {
		return fmt.Errorf("config: partition.workers must be >= 1")
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.Compiled = c.Execution.Mode == "compiled"
	c.Derived.Backward = c.Execution.DT < 0

	endtime := c.Execution.Endtime
	if endtime == 0 {
		if c.Derived.Backward {
			endtime = -c.Execution.Runtime
		} else {
			endtime = c.Execution.Runtime
		}
	}
	c.Derived.Endtime = endtime
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
