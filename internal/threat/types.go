package threat

import (
	"time"
)

// Source identifies which analyzer stream produced a score.
type Source string

const (
	// SourceSpatial - per-frame object/weapon analyzer
	SourceSpatial Source = "spatial"
	// SourceTemporal - sequence-level motion/violence analyzer
	SourceTemporal Source = "temporal"
)

// Category classifies what kind of threat a score or decision represents.
type Category string

const (
	// CategoryNone - normal activity, nothing of interest
	CategoryNone Category = "none"
	// CategorySuspicious - low-confidence motion evidence, unconfirmed
	CategorySuspicious Category = "suspicious_activity"
	// CategoryViolence - violent motion without visible weapon
	CategoryViolence Category = "violence"
	// CategoryWeapon - weapon visible in frame
	CategoryWeapon Category = "weapon"
	// CategoryWeaponViolence - weapon plus violent motion, highest severity
	CategoryWeaponViolence Category = "weapon_and_violence"
)

// Severity returns the escalation rank of a category. A decision whose
// category has a strictly higher severity than the previously admitted
// alert bypasses the cooldown gate.
func (c Category) Severity() int {
	switch c {
	case CategorySuspicious:
		return 1
	case CategoryViolence:
		return 2
	case CategoryWeapon:
		return 3
	case CategoryWeaponViolence:
		return 4
	default:
		return 0
	}
}

// BBox represents a bounding box as [x1, y1, x2, y2] pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Detection is a single raw object detection from the spatial backend.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// Score is the structured output of one analyzer invocation. Immutable
// once produced; consumed by the fusion engine and then discarded.
type Score struct {
	StreamID   string      `json:"stream_id"`
	Source     Source      `json:"source"`
	Category   Category    `json:"category"`
	Confidence float64     `json:"confidence"`
	Detections []Detection `json:"detections,omitempty"`
}

// Decision is the fused verdict for a single frame. Produced exactly once
// per processed frame, including when both analyzers were unavailable.
type Decision struct {
	StreamID   string    `json:"stream_id"`
	FrameSeq   uint64    `json:"frame_seq"`
	Timestamp  time.Time `json:"timestamp"`
	IsThreat   bool      `json:"is_threat"`
	Category   Category  `json:"category"`
	Confidence float64   `json:"confidence"`
	Scores     []Score   `json:"contributing_scores"`
}

// SpatialScore returns the contributing spatial score, or nil.
func (d *Decision) SpatialScore() *Score {
	return d.scoreBySource(SourceSpatial)
}

// TemporalScore returns the contributing temporal score, or nil.
func (d *Decision) TemporalScore() *Score {
	return d.scoreBySource(SourceTemporal)
}

func (d *Decision) scoreBySource(src Source) *Score {
	for i := range d.Scores {
		if d.Scores[i].Source == src {
			return &d.Scores[i]
		}
	}
	return nil
}

// Incident is the durable record created when a threat decision passes the
// cooldown gate. Immutable once created.
type Incident struct {
	ID           string    `json:"id"`
	StreamID     string    `json:"stream_id"`
	Category     Category  `json:"category"`
	Confidence   float64   `json:"confidence"`
	Timestamp    time.Time `json:"timestamp"`
	EvidencePath string    `json:"evidence_path"`
}

// AlertEvent is the outbound message fanned out to live subscribers when
// an incident is admitted.
type AlertEvent struct {
	Type        string    `json:"type"` // always "alert"
	IncidentID  string    `json:"incident_id"`
	StreamID    string    `json:"stream_id"`
	Category    Category  `json:"category"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
	EvidenceRef string    `json:"evidence_ref,omitempty"`
}

// NewAlertEvent builds the subscriber-facing event for an incident.
func NewAlertEvent(inc *Incident) *AlertEvent {
	return &AlertEvent{
		Type:        "alert",
		IncidentID:  inc.ID,
		StreamID:    inc.StreamID,
		Category:    inc.Category,
		Confidence:  inc.Confidence,
		Timestamp:   inc.Timestamp,
		EvidenceRef: inc.EvidencePath,
	}
}
