package db

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

// JourneyCollection defines the interface for shared journey operations.
type JourneyCollection interface {
	InsertJourney(ctx context.Context, journey models.SharedJourney) error
	FindJourneyByID(ctx context.Context, id string) (*models.SharedJourney, error)
	FindActiveJourneyByGroup(ctx context.Context, groupID string) (*models.SharedJourney, error)
	AppendInstanceID(ctx context.Context, journeyID, instanceID string) error
	CompleteJourney(ctx context.Context, journeyID, endedBy string) error
}

// InstanceCollection defines the interface for journey instance operations.
type InstanceCollection interface {
	InsertInstance(ctx context.Context, instance models.JourneyInstance) error
	FindInstanceByID(ctx context.Context, id string) (*models.JourneyInstance, error)
	FindInstances(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (InstanceCursor, error)
	FindInstancesByJourney(ctx context.Context, journeyID string) ([]models.JourneyInstance, error)
	FindActiveInstanceForUser(ctx context.Context, journeyID, userID string) (*models.JourneyInstance, error)
	UpdateInstanceStatus(ctx context.Context, id string, status models.InstanceStatus) (*models.JourneyInstance, error)
	UpdateInstanceStats(ctx context.Context, id string, loc models.Location, stats models.SnapshotStats) error
	CompleteAllForJourney(ctx context.Context, journeyID string) error
}

// InstanceCursor defines the interface for instance cursor operations.
type InstanceCursor interface {
	All(ctx context.Context, out interface{}) error
	Close(ctx context.Context) error
}

// EventCollection defines the interface for ride event operations.
type EventCollection interface {
	InsertEvent(ctx context.Context, event models.RideEvent) error
	FindEventsByJourney(ctx context.Context, journeyID string) ([]models.RideEvent, error)
}
