package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/threat"
)

func threatDecision(streamID string, cat threat.Category, conf float64) *threat.Decision {
	return &threat.Decision{
		StreamID:   streamID,
		Category:   cat,
		Confidence: conf,
		IsThreat:   true,
	}
}

func newTestDedup(cooldown time.Duration) (*Deduplicator, *time.Time) {
	d := NewDeduplicator(cooldown, nil)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }
	return d, &clock
}

func TestAdmit_FirstAlert(t *testing.T) {
	d, _ := newTestDedup(30 * time.Second)

	assert.True(t, d.Admit(threatDecision("cam1", threat.CategoryWeapon, 0.9)))

	st := d.StreamState("cam1")
	require.NotNil(t, st)
	assert.Equal(t, threat.CategoryWeapon, st.LastCategory)
	assert.Zero(t, st.SuppressedCount)
}

func TestAdmit_SuppressedWithinCooldown(t *testing.T) {
	d, clock := newTestDedup(30 * time.Second)

	require.True(t, d.Admit(threatDecision("cam1", threat.CategoryWeapon, 0.9)))

	*clock = clock.Add(10 * time.Second)
	assert.False(t, d.Admit(threatDecision("cam1", threat.CategoryWeapon, 0.95)))

	st := d.StreamState("cam1")
	require.NotNil(t, st)
	assert.Equal(t, uint64(1), st.SuppressedCount)
}

func TestAdmit_AfterCooldownExpires(t *testing.T) {
	d, clock := newTestDedup(30 * time.Second)

	require.True(t, d.Admit(threatDecision("cam1", threat.CategoryViolence, 0.8)))

	*clock = clock.Add(30 * time.Second)
	assert.True(t, d.Admit(threatDecision("cam1", threat.CategoryViolence, 0.8)),
		"elapsed equal to cooldown admits")
}

func TestAdmit_EscalationBypassesCooldown(t *testing.T) {
	d, clock := newTestDedup(30 * time.Second)

	require.True(t, d.Admit(threatDecision("cam1", threat.CategorySuspicious, 0.7)))

	*clock = clock.Add(5 * time.Second)
	assert.True(t, d.Admit(threatDecision("cam1", threat.CategoryWeapon, 0.9)),
		"severity escalation bypasses cooldown")

	// Same-severity repeat right after the escalation is suppressed again.
	*clock = clock.Add(1 * time.Second)
	assert.False(t, d.Admit(threatDecision("cam1", threat.CategoryWeapon, 0.9)))
}

func TestAdmit_DeescalationDoesNotBypass(t *testing.T) {
	d, clock := newTestDedup(30 * time.Second)

	require.True(t, d.Admit(threatDecision("cam1", threat.CategoryWeapon, 0.9)))

	*clock = clock.Add(5 * time.Second)
	assert.False(t, d.Admit(threatDecision("cam1", threat.CategorySuspicious, 0.7)))
}

func TestAdmit_NonThreatNeverAdmitted(t *testing.T) {
	d, _ := newTestDedup(30 * time.Second)

	dec := threatDecision("cam1", threat.CategoryNone, 0.2)
	dec.IsThreat = false
	assert.False(t, d.Admit(dec))
	assert.False(t, d.Admit(nil))
	assert.Nil(t, d.StreamState("cam1"), "non-threats do not create state")
}

func TestAdmit_StreamsIndependent(t *testing.T) {
	d, clock := newTestDedup(30 * time.Second)

	require.True(t, d.Admit(threatDecision("cam1", threat.CategoryWeapon, 0.9)))

	*clock = clock.Add(2 * time.Second)
	assert.True(t, d.Admit(threatDecision("cam2", threat.CategoryWeapon, 0.9)),
		"cooldown is per stream")
}

func TestReset(t *testing.T) {
	d, clock := newTestDedup(30 * time.Second)

	require.True(t, d.Admit(threatDecision("cam1", threat.CategoryWeapon, 0.9)))
	d.Reset("cam1")
	assert.Nil(t, d.StreamState("cam1"))

	*clock = clock.Add(1 * time.Second)
	assert.True(t, d.Admit(threatDecision("cam1", threat.CategoryWeapon, 0.9)),
		"reset clears the cooldown")
}
