package alert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vigil/internal/frame"
	"vigil/internal/threat"
)

// ErrStorageWrite indicates incident persistence failed. Surfaced to the
// caller; it does not prevent publishing to live subscribers when the
// dispatcher is configured to prioritize liveness.
var ErrStorageWrite = errors.New("incident storage write failed")

// incidentNamespace seeds deterministic incident IDs: the same
// (stream, frame) decision always maps to the same incident, so a retried
// dispatch cannot duplicate the stored record.
var incidentNamespace = uuid.MustParse("9f2c1a4e-5b63-4d8a-9c07-2f40f1a6d1c5")

// IncidentStore persists admitted incidents. Writes must be idempotent
// with respect to the incident ID.
type IncidentStore interface {
	SaveIncident(ctx context.Context, inc *threat.Incident) error
}

// Publisher fans an alert event out to live subscribers.
type Publisher interface {
	PublishAlert(ev *threat.AlertEvent)
}

// DispatcherConfig configures alert dispatch.
type DispatcherConfig struct {
	// EvidenceDir is where alert frames are written. Empty disables
	// evidence capture.
	EvidenceDir string

	// PublishOnStorageFailure selects liveness over durability: when the
	// incident write fails the event is still broadcast to connected
	// subscribers and the write error is returned alongside. When false,
	// a failed write suppresses the broadcast.
	PublishOnStorageFailure bool
}

// Dispatcher turns an admitted decision into a durable incident and a
// published alert event.
type Dispatcher struct {
	store  IncidentStore
	pub    Publisher
	cfg    DispatcherConfig
	logger *zap.Logger
}

// NewDispatcher creates an alert dispatcher.
func NewDispatcher(store IncidentStore, pub Publisher, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{store: store, pub: pub, cfg: cfg, logger: logger}
}

// Config returns the dispatch policy.
func (d *Dispatcher) Config() DispatcherConfig { return d.cfg }

// IncidentID derives the deterministic incident identity for a decision.
func IncidentID(dec *threat.Decision) string {
	name := fmt.Sprintf("%s/%d", dec.StreamID, dec.FrameSeq)
	return uuid.NewSHA1(incidentNamespace, []byte(name)).String()
}

// Dispatch persists an incident for the decision and publishes the alert
// event. The evidence frame is written first so both the record and the
// event can reference it. Returns the incident and, on persistence
// failure, ErrStorageWrite (the incident is still returned, and published
// if configured for liveness).
func (d *Dispatcher) Dispatch(ctx context.Context, dec *threat.Decision, fr *frame.Frame) (*threat.Incident, error) {
	inc := &threat.Incident{
		ID:         IncidentID(dec),
		StreamID:   dec.StreamID,
		Category:   dec.Category,
		Confidence: dec.Confidence,
		Timestamp:  dec.Timestamp,
	}

	if d.cfg.EvidenceDir != "" && fr != nil {
		path, err := d.writeEvidence(inc.ID, fr)
		if err != nil {
			// Evidence loss degrades the record but does not block the alert.
			d.logger.Warn("failed to write evidence frame",
				zap.String("incident_id", inc.ID), zap.Error(err))
		} else {
			inc.EvidencePath = path
		}
	}

	saveErr := d.store.SaveIncident(ctx, inc)
	if saveErr != nil {
		d.logger.Error("incident persistence failed",
			zap.String("incident_id", inc.ID),
			zap.String("stream_id", inc.StreamID),
			zap.Error(saveErr))
		if !d.cfg.PublishOnStorageFailure {
			return inc, fmt.Errorf("%w: %v", ErrStorageWrite, saveErr)
		}
	}

	d.pub.PublishAlert(threat.NewAlertEvent(inc))

	if saveErr != nil {
		return inc, fmt.Errorf("%w: %v", ErrStorageWrite, saveErr)
	}
	return inc, nil
}

// writeEvidence stores the alert frame under the evidence dir. The file
// name is derived from the incident ID, so a retried dispatch overwrites
// the same file instead of accumulating copies.
func (d *Dispatcher) writeEvidence(incidentID string, fr *frame.Frame) (string, error) {
	if err := os.MkdirAll(d.cfg.EvidenceDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("alert_%s.jpg", incidentID)
	path := filepath.Join(d.cfg.EvidenceDir, name)
	if err := os.WriteFile(path, fr.Data, 0o644); err != nil {
		return "", err
	}
	return "/alerts/" + name, nil
}
