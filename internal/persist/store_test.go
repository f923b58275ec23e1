package persist

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db)
}

func TestStore_LoadEmpty(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoActiveRide)
}

func TestStore_SaveLoadClear(t *testing.T) {
	s := openTestStore(t)
	started := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	st := models.PersistedJourneyState{
		ActiveJourneyID:  "j1",
		ActiveInstanceID: "i1",
		StartedAt:        started,
		LastSnapshot: models.SnapshotStats{
			TotalDistanceKm: 12.5,
			TotalTimeSec:    1800,
			AvgSpeedKmh:     25,
			TopSpeedKmh:     41,
		},
	}
	require.NoError(t, s.Save(st))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "j1", got.ActiveJourneyID)
	assert.Equal(t, "i1", got.ActiveInstanceID)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Equal(t, st.LastSnapshot, got.LastSnapshot)

	require.NoError(t, s.Clear())
	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNoActiveRide)
}

func TestStore_SaveStatsOnly(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Save(models.PersistedJourneyState{
		ActiveJourneyID:  "j1",
		ActiveInstanceID: "i1",
		StartedAt:        time.Now(),
	}))

	require.NoError(t, s.SaveStats(models.SnapshotStats{TotalDistanceKm: 3.3}))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 3.3, got.LastSnapshot.TotalDistanceKm)
	assert.Equal(t, "i1", got.ActiveInstanceID)
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
}
