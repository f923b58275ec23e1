package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

func event(id, localID string, kind models.EventKind, at time.Time) models.RideEvent {
	return models.RideEvent{
		ID:        id,
		LocalID:   localID,
		JourneyID: "j1",
		UserID:    "u1",
		Kind:      kind,
		Timestamp: at,
	}
}

func TestMerge_SupersedesLocalByCanonical(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	localID := NewLocalID()

	local := []models.RideEvent{
		event(localID, "", models.KindPhotoShared, base.Add(time.Minute)),
		event(NewLocalID(), "", models.KindMessage, base.Add(2*time.Minute)),
	}
	server := []models.RideEvent{
		event("srv-1", localID, models.KindPhotoShared, base.Add(time.Minute)),
		event("srv-2", "", models.KindInstanceStarted, base),
	}

	merged := Merge(local, server)
	assert.Len(t, merged, 3)
	for _, ev := range merged {
		assert.NotEqual(t, localID, ev.ID, "superseded local copy must not appear")
	}
}

func TestMerge_SortsDescending(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	merged := Merge(
		[]models.RideEvent{event("l1", "", models.KindMessage, base.Add(30*time.Second))},
		[]models.RideEvent{
			event("s1", "", models.KindJourneyStarted, base),
			event("s2", "", models.KindInstanceStarted, base.Add(time.Minute)),
		},
	)
	assert.Equal(t, []string{"s2", "l1", "s1"}, []string{merged[0].ID, merged[1].ID, merged[2].ID})
}

func TestMerge_DeduplicatesSameID(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	merged := Merge(
		[]models.RideEvent{event("e1", "", models.KindMessage, base)},
		[]models.RideEvent{event("e1", "", models.KindMessage, base)},
	)
	assert.Len(t, merged, 1)
}

func TestMerge_NormalizesUnknownKinds(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	merged := Merge(nil, []models.RideEvent{event("e1", "", "mystery", base)})
	assert.Equal(t, models.KindMessage, merged[0].Kind)
}

func TestIsLocalID(t *testing.T) {
	assert.True(t, IsLocalID(NewLocalID()))
	assert.False(t, IsLocalID("srv-1"))
}
