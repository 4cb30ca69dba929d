package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/threat"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func testIncident(id, streamID string, ts time.Time) *threat.Incident {
	return &threat.Incident{
		ID:           id,
		StreamID:     streamID,
		Category:     threat.CategoryWeapon,
		Confidence:   0.91,
		Timestamp:    ts,
		EvidencePath: "/alerts/alert_" + id + ".jpg",
	}
}

func TestSaveAndGetIncident(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	inc := testIncident("inc-1", "cam1", ts)
	require.NoError(t, s.SaveIncident(ctx, inc))

	got, err := s.GetIncident(ctx, "inc-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inc.ID, got.ID)
	assert.Equal(t, inc.StreamID, got.StreamID)
	assert.Equal(t, threat.CategoryWeapon, got.Category)
	assert.Equal(t, inc.Confidence, got.Confidence)
	assert.Equal(t, inc.EvidencePath, got.EvidencePath)
	assert.True(t, got.Timestamp.Equal(ts))
}

func TestGetIncident_NotFound(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetIncident(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveIncident_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := testIncident("inc-1", "cam1", ts)
	require.NoError(t, s.SaveIncident(ctx, first))

	// Retried write with divergent fields must not alter the stored record.
	retry := testIncident("inc-1", "cam1", ts)
	retry.Confidence = 0.5
	require.NoError(t, s.SaveIncident(ctx, retry))

	got, err := s.GetIncident(ctx, "inc-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.91, got.Confidence)

	all, err := s.ListIncidents(ctx, IncidentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListIncidents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		stream := "cam1"
		if i%2 == 1 {
			stream = "cam2"
		}
		inc := testIncident(fmt.Sprintf("inc-%d", i), stream, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.SaveIncident(ctx, inc))
	}

	t.Run("newest first", func(t *testing.T) {
		all, err := s.ListIncidents(ctx, IncidentFilter{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "inc-4", all[0].ID)
		assert.Equal(t, "inc-0", all[4].ID)
	})

	t.Run("by stream", func(t *testing.T) {
		got, err := s.ListIncidents(ctx, IncidentFilter{StreamID: "cam2"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, inc := range got {
			assert.Equal(t, "cam2", inc.StreamID)
		}
	})

	t.Run("time range", func(t *testing.T) {
		since := base.Add(1 * time.Minute)
		until := base.Add(3 * time.Minute)
		got, err := s.ListIncidents(ctx, IncidentFilter{Since: &since, Until: &until})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("limit", func(t *testing.T) {
		got, err := s.ListIncidents(ctx, IncidentFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "inc-4", got[0].ID)
	})
}

func TestDeleteOldIncidents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		inc := testIncident(fmt.Sprintf("inc-%d", i), "cam1", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, s.SaveIncident(ctx, inc))
	}

	deleted, err := s.DeleteOldIncidents(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	remaining, err := s.ListIncidents(ctx, IncidentFilter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}
