package analyzer

import (
	"context"
	"hash/fnv"

	"vigil/internal/frame"
	"vigil/internal/threat"
	"vigil/internal/window"
)

// Stub analyzers satisfy the analyzer contracts without any backend,
// selected by configuration when no inference endpoint is set. Outputs are
// a deterministic function of the frame bytes so the same input always
// yields the same score.

// frameHash folds the frame bytes into a stable 64-bit value.
func frameHash(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// StubSpatial is a deterministic stand-in for the object detector. Roughly
// one frame in fifty scores as a weapon sighting; everything else stays
// well below any alert threshold.
type StubSpatial struct{}

// NewStubSpatial creates the stub object analyzer.
func NewStubSpatial() *StubSpatial { return &StubSpatial{} }

// Name implements Spatial.
func (s *StubSpatial) Name() string { return "spatial-stub" }

// IsHealthy implements Spatial. The stub is always available.
func (s *StubSpatial) IsHealthy() bool { return true }

// Analyze implements Spatial.
func (s *StubSpatial) Analyze(_ context.Context, f *frame.Frame) (*threat.Score, error) {
	h := frameHash(f.Data)
	score := &threat.Score{
		StreamID: f.StreamID,
		Source:   threat.SourceSpatial,
		Category: threat.CategoryNone,
		// Background noise: 0.00 - 0.30
		Confidence: float64(h%31) / 100,
	}

	if h%50 == 0 {
		// Simulated weapon sighting: 0.86 - 0.97
		score.Category = threat.CategoryWeapon
		score.Confidence = 0.86 + float64(h%12)/100
		score.Detections = []threat.Detection{{
			Class:      "gun",
			Confidence: score.Confidence,
			BBox:       threat.BBox{X1: 100, Y1: 80, X2: 220, Y2: 200},
		}}
	}
	return score, nil
}

// StubTemporal is a deterministic stand-in for the motion classifier. It
// hashes the newest frame of a warm window; cold windows score zero.
type StubTemporal struct{}

// NewStubTemporal creates the stub motion analyzer.
func NewStubTemporal() *StubTemporal { return &StubTemporal{} }

// Name implements Temporal.
func (s *StubTemporal) Name() string { return "temporal-stub" }

// IsHealthy implements Temporal.
func (s *StubTemporal) IsHealthy() bool { return true }

// Analyze implements Temporal.
func (s *StubTemporal) Analyze(_ context.Context, snap window.Snapshot) (*threat.Score, error) {
	score := &threat.Score{
		StreamID: snap.StreamID,
		Source:   threat.SourceTemporal,
		Category: threat.CategoryNone,
	}
	if !snap.IsWarm {
		return score, nil
	}

	h := frameHash(snap.Latest().Data)
	score.Confidence = float64(h%41) / 100 // 0.00 - 0.40

	if h%60 == 0 {
		// Simulated violent motion: 0.70 - 0.89
		score.Category = threat.CategoryViolence
		score.Confidence = 0.70 + float64(h%20)/100
	}
	return score, nil
}

var (
	_ Spatial  = (*StubSpatial)(nil)
	_ Temporal = (*StubTemporal)(nil)
)
