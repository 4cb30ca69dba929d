// Package alert gates, persists, and publishes admitted threat decisions.
package alert

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/internal/threat"
)

// State tracks alert history for one stream. Exclusively owned by the
// deduplicator; reset when the stream disconnects.
type State struct {
	LastAlertAt     time.Time       `json:"last_alert_at"`
	LastCategory    threat.Category `json:"last_category"`
	SuppressedCount uint64          `json:"suppressed_count"`
}

// Deduplicator suppresses repeated alerts for the same stream within a
// cooldown window. A category escalation (strictly higher severity than
// the last admitted alert) bypasses the cooldown.
type Deduplicator struct {
	cooldown time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	states map[string]*State

	now func() time.Time
}

// NewDeduplicator creates a cooldown gate with the given window.
func NewDeduplicator(cooldown time.Duration, logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{
		cooldown: cooldown,
		logger:   logger,
		states:   make(map[string]*State),
		now:      time.Now,
	}
}

// Admit reports whether a threat decision should proceed to dispatch and
// updates the stream's alert state accordingly. Non-threat decisions are
// never admitted and do not touch state.
func (d *Deduplicator) Admit(dec *threat.Decision) bool {
	if dec == nil || !dec.IsThreat {
		return false
	}

	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[dec.StreamID]
	if !ok {
		d.states[dec.StreamID] = &State{
			LastAlertAt:  now,
			LastCategory: dec.Category,
		}
		return true
	}

	elapsed := now.Sub(st.LastAlertAt)
	escalated := dec.Category.Severity() > st.LastCategory.Severity()
	if elapsed >= d.cooldown || escalated {
		st.LastAlertAt = now
		st.LastCategory = dec.Category
		return true
	}

	st.SuppressedCount++
	d.logger.Debug("alert suppressed within cooldown",
		zap.String("stream_id", dec.StreamID),
		zap.String("category", string(dec.Category)),
		zap.Duration("elapsed", elapsed),
		zap.Uint64("suppressed_count", st.SuppressedCount))
	return false
}

// StreamState returns a copy of the alert state for a stream, or nil if
// no alert has been admitted for it.
func (d *Deduplicator) StreamState(streamID string) *State {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[streamID]
	if !ok {
		return nil
	}
	cp := *st
	return &cp
}

// Reset clears the alert state for a stream. Called on disconnect.
func (d *Deduplicator) Reset(streamID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, streamID)
}
