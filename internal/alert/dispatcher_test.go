package alert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/frame"
	"vigil/internal/threat"
)

type fakeStore struct {
	saved []*threat.Incident
	err   error
}

func (s *fakeStore) SaveIncident(_ context.Context, inc *threat.Incident) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, inc)
	return nil
}

type fakePublisher struct {
	events []*threat.AlertEvent
}

func (p *fakePublisher) PublishAlert(ev *threat.AlertEvent) {
	p.events = append(p.events, ev)
}

func admittedDecision() *threat.Decision {
	return &threat.Decision{
		StreamID:   "cam1",
		FrameSeq:   42,
		Category:   threat.CategoryWeapon,
		Confidence: 0.93,
		IsThreat:   true,
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func evidenceFrame() *frame.Frame {
	return &frame.Frame{
		StreamID: "cam1",
		Seq:      42,
		Data:     []byte("jpeg-bytes"),
	}
}

func TestIncidentID_Deterministic(t *testing.T) {
	a := IncidentID(admittedDecision())
	b := IncidentID(admittedDecision())
	assert.Equal(t, a, b)

	other := admittedDecision()
	other.FrameSeq = 43
	assert.NotEqual(t, a, IncidentID(other))
}

func TestDispatch_PersistsAndPublishes(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{}
	pub := &fakePublisher{}
	d := NewDispatcher(store, pub, DispatcherConfig{EvidenceDir: dir}, nil)

	inc, err := d.Dispatch(context.Background(), admittedDecision(), evidenceFrame())
	require.NoError(t, err)
	require.NotNil(t, inc)

	require.Len(t, store.saved, 1)
	assert.Equal(t, inc.ID, store.saved[0].ID)
	assert.Equal(t, "cam1", inc.StreamID)
	assert.Equal(t, threat.CategoryWeapon, inc.Category)

	require.Len(t, pub.events, 1)
	assert.Equal(t, inc.ID, pub.events[0].IncidentID)

	assert.Equal(t, "/alerts/alert_"+inc.ID+".jpg", inc.EvidencePath)
	data, err := os.ReadFile(filepath.Join(dir, "alert_"+inc.ID+".jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
}

func TestDispatch_RetryOverwritesEvidence(t *testing.T) {
	dir := t.TempDir()
	d := NewDispatcher(&fakeStore{}, &fakePublisher{}, DispatcherConfig{EvidenceDir: dir}, nil)

	first, err := d.Dispatch(context.Background(), admittedDecision(), evidenceFrame())
	require.NoError(t, err)
	second, err := d.Dispatch(context.Background(), admittedDecision(), evidenceFrame())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "retried dispatch must not accumulate evidence files")
}

func TestDispatch_StorageFailureStillPublishes(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	pub := &fakePublisher{}
	d := NewDispatcher(store, pub, DispatcherConfig{PublishOnStorageFailure: true}, nil)

	inc, err := d.Dispatch(context.Background(), admittedDecision(), nil)
	require.ErrorIs(t, err, ErrStorageWrite)
	require.NotNil(t, inc)
	assert.Len(t, pub.events, 1, "liveness policy broadcasts despite failed write")
}

func TestDispatch_StorageFailureSuppressesPublish(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	pub := &fakePublisher{}
	d := NewDispatcher(store, pub, DispatcherConfig{PublishOnStorageFailure: false}, nil)

	_, err := d.Dispatch(context.Background(), admittedDecision(), nil)
	require.ErrorIs(t, err, ErrStorageWrite)
	assert.Empty(t, pub.events)
}

func TestDispatch_NoEvidenceDir(t *testing.T) {
	d := NewDispatcher(&fakeStore{}, &fakePublisher{}, DispatcherConfig{}, nil)

	inc, err := d.Dispatch(context.Background(), admittedDecision(), evidenceFrame())
	require.NoError(t, err)
	assert.Empty(t, inc.EvidencePath)
}
