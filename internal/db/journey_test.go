package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

func journeyTestCollections(t *testing.T) (*MongoJourneyCollection, *MongoInstanceCollection, *MongoEventCollection) {
	t.Helper()
	client, err := ConnectMongo("")
	if err != nil {
		t.Skipf("mongo unavailable: %v, skipping integration test", err)
	}
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	database := client.Database("test_wayfarian")
	for _, name := range []string{"journeys", "instances", "events"} {
		database.Collection(name).Drop(context.Background())
	}
	return &MongoJourneyCollection{Collection: database.Collection("journeys")},
		&MongoInstanceCollection{Collection: database.Collection("instances")},
		&MongoEventCollection{Collection: database.Collection("events")}
}

func TestMongoJourneyCollection_ActiveJourneyPerGroup(t *testing.T) {
	journeys, _, _ := journeyTestCollections(t)
	ctx := context.Background()

	j := models.SharedJourney{
		ID:      uuid.NewString(),
		GroupID: "g1",
		Status:  models.JourneyActive,
	}
	require.NoError(t, journeys.InsertJourney(ctx, j))

	found, err := journeys.FindActiveJourneyByGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, j.ID, found.ID)

	_, err = journeys.FindActiveJourneyByGroup(ctx, "g2")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, journeys.CompleteJourney(ctx, j.ID, "ana"))
	_, err = journeys.FindActiveJourneyByGroup(ctx, "g1")
	assert.ErrorIs(t, err, ErrNotFound)

	ended, err := journeys.FindJourneyByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JourneyCompleted, ended.Status)
	assert.Equal(t, "ana", ended.EndedBy)
}

func TestMongoInstanceCollection_StatusAndStats(t *testing.T) {
	_, instances, _ := journeyTestCollections(t)
	ctx := context.Background()

	inst := models.JourneyInstance{
		ID:        uuid.NewString(),
		JourneyID: "j1",
		UserID:    "bo",
		Status:    models.InstanceActive,
	}
	require.NoError(t, instances.InsertInstance(ctx, inst))

	updated, err := instances.UpdateInstanceStatus(ctx, inst.ID, models.InstancePaused)
	require.NoError(t, err)
	assert.Equal(t, models.InstancePaused, updated.Status)

	err = instances.UpdateInstanceStats(ctx, inst.ID,
		models.Location{Lat: 40.01, Lon: -75.01},
		models.SnapshotStats{TotalDistanceKm: 2.5, TotalTimeSec: 300, AvgSpeedKmh: 30, TopSpeedKmh: 42})
	require.NoError(t, err)

	found, err := instances.FindInstanceByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, found.TotalDistanceKm, 1e-9)
	assert.InDelta(t, 40.01, found.CurrentLocation.Lat, 1e-9)

	_, err = instances.UpdateInstanceStatus(ctx, "missing", models.InstanceActive)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMongoInstanceCollection_CompleteAllForJourney(t *testing.T) {
	_, instances, _ := journeyTestCollections(t)
	ctx := context.Background()

	for _, user := range []string{"ana", "bo", "cleo"} {
		require.NoError(t, instances.InsertInstance(ctx, models.JourneyInstance{
			ID:        uuid.NewString(),
			JourneyID: "j1",
			UserID:    user,
			Status:    models.InstanceActive,
		}))
	}
	require.NoError(t, instances.CompleteAllForJourney(ctx, "j1"))

	all, err := instances.FindInstancesByJourney(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, inst := range all {
		assert.Equal(t, models.InstanceCompleted, inst.Status)
		assert.NotNil(t, inst.CompletedAt)
	}
}

func TestMongoEventCollection_NewestFirst(t *testing.T) {
	_, _, events := journeyTestCollections(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	first := models.RideEvent{ID: uuid.NewString(), JourneyID: "j1", Kind: models.KindJourneyStarted, Timestamp: now.Add(-time.Minute)}
	second := models.RideEvent{ID: uuid.NewString(), JourneyID: "j1", Kind: models.KindMessage, Message: "regrouping", Timestamp: now}

	require.NoError(t, events.InsertEvent(ctx, first))
	require.NoError(t, events.InsertEvent(ctx, second))

	got, err := events.FindEventsByJourney(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
}
