// Package fusion combines the spatial and temporal analyzer outputs into a
// single threat decision using configurable weights and thresholds.
package fusion

import (
	"fmt"
	"math"
	"time"

	"vigil/internal/threat"
)

// Config holds the fusion policy. Weights and thresholds are read at
// startup and immutable for the lifetime of the engine.
type Config struct {
	SpatialWeight  float64 `yaml:"spatial_weight"`
	TemporalWeight float64 `yaml:"temporal_weight"`

	// Threshold applies to the weighted combination when both streams
	// contributed. HardSpatialThreshold lets an unambiguous weapon
	// detection alert on its own regardless of the temporal stream.
	Threshold            float64 `yaml:"threshold"`
	HardSpatialThreshold float64 `yaml:"hard_spatial_threshold"`

	// Solo thresholds are stricter than Threshold since corroboration
	// from the other stream is unavailable.
	SpatialSoloThreshold  float64 `yaml:"spatial_solo_threshold"`
	TemporalSoloThreshold float64 `yaml:"temporal_solo_threshold"`
}

// DefaultConfig returns the balanced fusion policy.
func DefaultConfig() Config {
	return Config{
		SpatialWeight:         0.6,
		TemporalWeight:        0.4,
		Threshold:             0.70,
		HardSpatialThreshold:  0.90,
		SpatialSoloThreshold:  0.85,
		TemporalSoloThreshold: 0.60,
	}
}

// PresetConfig returns a named fusion preset. Presets mirror the
// deployment profiles the system ships with; individual fields can still
// be overridden in configuration.
func PresetConfig(name string) (Config, error) {
	switch name {
	case "", "balanced":
		return DefaultConfig(), nil
	case "high_security":
		cfg := DefaultConfig()
		cfg.Threshold = 0.60
		cfg.HardSpatialThreshold = 0.85
		cfg.SpatialSoloThreshold = 0.75
		cfg.TemporalSoloThreshold = 0.50
		return cfg, nil
	case "low_false_positives":
		cfg := DefaultConfig()
		cfg.Threshold = 0.80
		cfg.HardSpatialThreshold = 0.93
		cfg.SpatialSoloThreshold = 0.90
		cfg.TemporalSoloThreshold = 0.75
		return cfg, nil
	default:
		return Config{}, fmt.Errorf("unknown fusion preset %q", name)
	}
}

// Validate checks the fusion policy for internal consistency.
func (c Config) Validate() error {
	if math.Abs(c.SpatialWeight+c.TemporalWeight-1.0) > 1e-9 {
		return fmt.Errorf("fusion weights must sum to 1, got %.3f",
			c.SpatialWeight+c.TemporalWeight)
	}
	for name, v := range map[string]float64{
		"threshold":               c.Threshold,
		"hard_spatial_threshold":  c.HardSpatialThreshold,
		"spatial_solo_threshold":  c.SpatialSoloThreshold,
		"temporal_solo_threshold": c.TemporalSoloThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("fusion %s must be in [0,1], got %.3f", name, v)
		}
	}
	return nil
}

// Engine fuses analyzer scores into threat decisions. Stateless: the same
// scores and configuration always produce the same decision.
type Engine struct {
	cfg Config
}

// NewEngine creates a fusion engine with the given policy.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine's fusion policy.
func (e *Engine) Config() Config { return e.cfg }

// Fuse combines the two analyzer scores into one decision. Either input
// may be nil (analyzer unavailable or window cold with no score): missing
// evidence is never treated as a negative judgment. A decision is always
// produced, even when both inputs are absent.
func (e *Engine) Fuse(spatial, temporal *threat.Score, streamID string, frameSeq uint64, at time.Time) *threat.Decision {
	dec := &threat.Decision{
		StreamID:  streamID,
		FrameSeq:  frameSeq,
		Timestamp: at,
		Category:  threat.CategoryNone,
	}

	switch {
	case spatial != nil && temporal != nil:
		dec.Scores = []threat.Score{*spatial, *temporal}
		dec.Confidence = e.cfg.SpatialWeight*spatial.Confidence + e.cfg.TemporalWeight*temporal.Confidence
		dec.IsThreat = dec.Confidence >= e.cfg.Threshold ||
			spatial.Confidence >= e.cfg.HardSpatialThreshold
		dec.Category = e.category(spatial, temporal)

	case spatial != nil:
		dec.Scores = []threat.Score{*spatial}
		dec.Confidence = spatial.Confidence
		dec.IsThreat = spatial.Confidence >= e.cfg.SpatialSoloThreshold ||
			spatial.Confidence >= e.cfg.HardSpatialThreshold
		dec.Category = spatial.Category

	case temporal != nil:
		dec.Scores = []threat.Score{*temporal}
		dec.Confidence = temporal.Confidence
		dec.IsThreat = temporal.Confidence >= e.cfg.TemporalSoloThreshold
		dec.Category = temporal.Category
	}

	if dec.Category == threat.CategoryNone {
		dec.IsThreat = false
	}
	return dec
}

// category picks the decision category when both streams contributed.
// Both streams individually solid means a combined weapon-plus-violence
// classification; otherwise the higher-confidence score wins, with ties
// favoring the spatial stream since object evidence is more specific.
func (e *Engine) category(spatial, temporal *threat.Score) threat.Category {
	if spatial.Category == threat.CategoryWeapon &&
		temporal.Category != threat.CategoryNone &&
		spatial.Confidence >= e.cfg.SpatialSoloThreshold &&
		temporal.Confidence >= e.cfg.TemporalSoloThreshold {
		return threat.CategoryWeaponViolence
	}
	if temporal.Confidence > spatial.Confidence {
		return temporal.Category
	}
	return spatial.Category
}
