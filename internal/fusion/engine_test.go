package fusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/threat"
)

func spatialScore(category threat.Category, confidence float64) *threat.Score {
	return &threat.Score{
		StreamID:   "cam1",
		Source:     threat.SourceSpatial,
		Category:   category,
		Confidence: confidence,
	}
}

func temporalScore(category threat.Category, confidence float64) *threat.Score {
	return &threat.Score{
		StreamID:   "cam1",
		Source:     threat.SourceTemporal,
		Category:   category,
		Confidence: confidence,
	}
}

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFuse_WeightedCombination(t *testing.T) {
	e := NewEngine(DefaultConfig())

	dec := e.Fuse(
		spatialScore(threat.CategoryWeapon, 0.8),
		temporalScore(threat.CategoryViolence, 0.7),
		"cam1", 7, at)

	assert.InDelta(t, 0.6*0.8+0.4*0.7, dec.Confidence, 1e-9)
	assert.True(t, dec.IsThreat)
	assert.Equal(t, "cam1", dec.StreamID)
	assert.Equal(t, uint64(7), dec.FrameSeq)
	assert.Len(t, dec.Scores, 2)
}

func TestFuse_Deterministic(t *testing.T) {
	e := NewEngine(DefaultConfig())

	s := spatialScore(threat.CategoryWeapon, 0.66)
	tm := temporalScore(threat.CategoryViolence, 0.44)

	first := e.Fuse(s, tm, "cam1", 1, at)
	for i := 0; i < 10; i++ {
		again := e.Fuse(s, tm, "cam1", 1, at)
		assert.Equal(t, first.Confidence, again.Confidence)
		assert.Equal(t, first.IsThreat, again.IsThreat)
		assert.Equal(t, first.Category, again.Category)
	}
}

func TestFuse_HardSpatialOverride(t *testing.T) {
	e := NewEngine(DefaultConfig())

	t.Run("overrides weak temporal", func(t *testing.T) {
		dec := e.Fuse(
			spatialScore(threat.CategoryWeapon, 0.95),
			temporalScore(threat.CategoryNone, 0.0),
			"cam1", 1, at)
		assert.True(t, dec.IsThreat, "hard spatial threshold must trigger regardless of temporal")
		assert.Equal(t, threat.CategoryWeapon, dec.Category)
	})

	t.Run("overrides absent temporal", func(t *testing.T) {
		dec := e.Fuse(spatialScore(threat.CategoryWeapon, 0.95), nil, "cam1", 1, at)
		assert.True(t, dec.IsThreat)
	})
}

func TestFuse_SoloThresholds(t *testing.T) {
	e := NewEngine(DefaultConfig())

	t.Run("spatial alone below solo threshold", func(t *testing.T) {
		dec := e.Fuse(spatialScore(threat.CategoryWeapon, 0.80), nil, "cam1", 1, at)
		assert.False(t, dec.IsThreat)
		assert.Equal(t, 0.80, dec.Confidence)
	})

	t.Run("spatial alone above solo threshold", func(t *testing.T) {
		dec := e.Fuse(spatialScore(threat.CategoryWeapon, 0.86), nil, "cam1", 1, at)
		assert.True(t, dec.IsThreat)
	})

	t.Run("temporal alone above solo threshold", func(t *testing.T) {
		dec := e.Fuse(nil, temporalScore(threat.CategoryViolence, 0.65), "cam1", 1, at)
		assert.True(t, dec.IsThreat)
		assert.Equal(t, threat.CategoryViolence, dec.Category)
		assert.Len(t, dec.Scores, 1)
	})

	t.Run("temporal alone below solo threshold", func(t *testing.T) {
		dec := e.Fuse(nil, temporalScore(threat.CategoryViolence, 0.55), "cam1", 1, at)
		assert.False(t, dec.IsThreat)
	})
}

func TestFuse_BothAbsent(t *testing.T) {
	e := NewEngine(DefaultConfig())

	dec := e.Fuse(nil, nil, "cam1", 3, at)
	require.NotNil(t, dec, "a decision is always produced")
	assert.False(t, dec.IsThreat)
	assert.Zero(t, dec.Confidence)
	assert.Equal(t, threat.CategoryNone, dec.Category)
	assert.Empty(t, dec.Scores)
}

func TestFuse_CategorySelection(t *testing.T) {
	e := NewEngine(DefaultConfig())

	t.Run("higher confidence wins", func(t *testing.T) {
		dec := e.Fuse(
			spatialScore(threat.CategoryWeapon, 0.5),
			temporalScore(threat.CategoryViolence, 0.9),
			"cam1", 1, at)
		assert.Equal(t, threat.CategoryViolence, dec.Category)
	})

	t.Run("tie favors spatial", func(t *testing.T) {
		dec := e.Fuse(
			spatialScore(threat.CategoryWeapon, 0.7),
			temporalScore(threat.CategoryViolence, 0.7),
			"cam1", 1, at)
		assert.Equal(t, threat.CategoryWeapon, dec.Category)
	})

	t.Run("both streams solid escalates to combined category", func(t *testing.T) {
		dec := e.Fuse(
			spatialScore(threat.CategoryWeapon, 0.92),
			temporalScore(threat.CategoryViolence, 0.85),
			"cam1", 1, at)
		assert.Equal(t, threat.CategoryWeaponViolence, dec.Category)
		assert.True(t, dec.IsThreat)
	})
}

func TestFuse_NoCategoryMeansNoThreat(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// High-confidence noise on both streams without a threat category
	dec := e.Fuse(
		spatialScore(threat.CategoryNone, 0.9),
		temporalScore(threat.CategoryNone, 0.9),
		"cam1", 1, at)
	assert.False(t, dec.IsThreat)
}

func TestPresetConfig(t *testing.T) {
	for _, name := range []string{"", "balanced", "high_security", "low_false_positives"} {
		cfg, err := PresetConfig(name)
		require.NoError(t, err, "preset %q", name)
		require.NoError(t, cfg.Validate())
	}

	_, err := PresetConfig("nonsense")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpatialWeight = 0.8 // weights now sum to 1.2
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Threshold = 1.5
	assert.Error(t, cfg.Validate())
}
