package models

import (
	"time"
)

// JourneyStatus is the lifecycle state of a shared journey.
type JourneyStatus string

const (
	JourneyActive    JourneyStatus = "active"
	JourneyCompleted JourneyStatus = "completed"
)

// SharedJourney represents the group-level ride container. At most one
// active journey exists per group; the destination is immutable once set.
type SharedJourney struct {
	ID          string        `json:"id" bson:"_id,omitempty"`
	GroupID     string        `json:"group_id" bson:"group_id"`
	CreatorID   string        `json:"creator_id" bson:"creator_id"`
	Destination *Location     `json:"destination,omitempty" bson:"destination,omitempty"`
	Status      JourneyStatus `json:"status" bson:"status"`
	InstanceIDs []string      `json:"instance_ids" bson:"instance_ids"`
	EndedBy     string        `json:"ended_by,omitempty" bson:"ended_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" bson:"updated_at"`
}
