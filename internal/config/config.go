// Package config loads the service configuration from YAML with
// environment overrides. Configuration is read once at startup and
// treated as immutable for the lifetime of a pipeline instance.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"vigil/internal/fusion"
)

// Duration wraps time.Duration for YAML values like "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	LogLevel string `yaml:"log_level"`
}

// StorageConfig configures incident persistence.
type StorageConfig struct {
	Path        string `yaml:"path"`
	EvidenceDir string `yaml:"evidence_dir"`

	// Retention is how long incidents are kept. Zero keeps them forever.
	Retention Duration `yaml:"retention"`
}

// PipelineConfig configures frame processing.
type PipelineConfig struct {
	WindowCapacity    int      `yaml:"window_capacity"`
	WindowIdleTimeout Duration `yaml:"window_idle_timeout"`
	AnalyzerTimeout   Duration `yaml:"analyzer_timeout"`
	MaxFrameDimension int      `yaml:"max_frame_dimension"`
	MinFrameWidth     int      `yaml:"min_frame_width"`
	MinFrameHeight    int      `yaml:"min_frame_height"`
}

// FusionSection selects a preset and optional field overrides.
type FusionSection struct {
	Preset    string         `yaml:"preset"`
	Overrides *fusion.Config `yaml:"overrides"`
}

// AlertConfig configures the cooldown gate and dispatcher.
type AlertConfig struct {
	Cooldown                Duration `yaml:"cooldown"`
	PublishOnStorageFailure bool     `yaml:"publish_on_storage_failure"`
}

// AnalyzerEndpoint configures one remote inference backend.
type AnalyzerEndpoint struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
}

// AnalyzersConfig selects analyzer backends. When UseStub is set (or no
// endpoints are configured) the deterministic stub analyzers are used.
type AnalyzersConfig struct {
	UseStub  bool             `yaml:"use_stub"`
	Spatial  AnalyzerEndpoint `yaml:"spatial"`
	Temporal AnalyzerEndpoint `yaml:"temporal"`
}

// Config is the root service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Fusion    FusionSection   `yaml:"fusion"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Analyzers AnalyzersConfig `yaml:"analyzers"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:     ":8080",
			LogLevel: "info",
		},
		Storage: StorageConfig{
			Path:        "vigil.db",
			EvidenceDir: "alerts",
		},
		Pipeline: PipelineConfig{
			WindowCapacity:    16,
			WindowIdleTimeout: Duration(5 * time.Minute),
			AnalyzerTimeout:   Duration(2 * time.Second),
			MaxFrameDimension: 640,
			MinFrameWidth:     64,
			MinFrameHeight:    64,
		},
		Fusion: FusionSection{Preset: "balanced"},
		Alerts: AlertConfig{
			Cooldown:                Duration(30 * time.Second),
			PublishOnStorageFailure: true,
		},
		Analyzers: AnalyzersConfig{UseStub: true},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates the result. An empty path returns validated
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides select fields from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("VIGIL_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("VIGIL_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("VIGIL_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("VIGIL_SPATIAL_ENDPOINT"); v != "" {
		c.Analyzers.Spatial.Endpoint = v
		c.Analyzers.UseStub = false
	}
	if v := os.Getenv("VIGIL_TEMPORAL_ENDPOINT"); v != "" {
		c.Analyzers.Temporal.Endpoint = v
		c.Analyzers.UseStub = false
	}
}

// FusionConfig resolves the preset plus overrides into the effective
// fusion policy.
func (c *Config) FusionConfig() (fusion.Config, error) {
	cfg, err := fusion.PresetConfig(c.Fusion.Preset)
	if err != nil {
		return fusion.Config{}, err
	}
	if o := c.Fusion.Overrides; o != nil {
		if o.SpatialWeight != 0 || o.TemporalWeight != 0 {
			cfg.SpatialWeight = o.SpatialWeight
			cfg.TemporalWeight = o.TemporalWeight
		}
		if o.Threshold != 0 {
			cfg.Threshold = o.Threshold
		}
		if o.HardSpatialThreshold != 0 {
			cfg.HardSpatialThreshold = o.HardSpatialThreshold
		}
		if o.SpatialSoloThreshold != 0 {
			cfg.SpatialSoloThreshold = o.SpatialSoloThreshold
		}
		if o.TemporalSoloThreshold != 0 {
			cfg.TemporalSoloThreshold = o.TemporalSoloThreshold
		}
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Pipeline.WindowCapacity <= 0 {
		return fmt.Errorf("pipeline.window_capacity must be positive, got %d", c.Pipeline.WindowCapacity)
	}
	if c.Pipeline.AnalyzerTimeout <= 0 {
		return fmt.Errorf("pipeline.analyzer_timeout must be positive")
	}
	if c.Alerts.Cooldown < 0 {
		return fmt.Errorf("alerts.cooldown must not be negative")
	}
	if c.Storage.Retention < 0 {
		return fmt.Errorf("storage.retention must not be negative")
	}
	if !c.Analyzers.UseStub {
		if c.Analyzers.Spatial.Endpoint == "" && c.Analyzers.Temporal.Endpoint == "" {
			return fmt.Errorf("analyzers: no endpoints configured and use_stub is false")
		}
	}

	fcfg, err := c.FusionConfig()
	if err != nil {
		return err
	}
	return fcfg.Validate()
}
