package models

import (
	"time"
)

// InstanceStatus is the lifecycle state of one participant's ride instance.
type InstanceStatus string

const (
	InstanceNotStarted InstanceStatus = "not_started"
	InstanceActive     InstanceStatus = "active"
	InstancePaused     InstanceStatus = "paused"
	InstanceCompleted  InstanceStatus = "completed" // terminal
)

// IsValidInstanceStatus checks if a status is one of the known lifecycle states.
func IsValidInstanceStatus(s InstanceStatus) bool {
	switch s {
	case InstanceNotStarted, InstanceActive, InstancePaused, InstanceCompleted:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceCompleted
}

// JourneyInstance represents one participant's ride within a shared journey.
// The client process owns its instance; the server keeps the authoritative
// copy used for reconciliation and late joiners.
type JourneyInstance struct {
	ID              string         `json:"id" bson:"_id,omitempty"`
	JourneyID       string         `json:"journey_id" bson:"journey_id"`
	UserID          string         `json:"user_id" bson:"user_id"`
	Status          InstanceStatus `json:"status" bson:"status"`
	StartLocation   Location       `json:"start_location" bson:"start_location"`
	CurrentLocation Location       `json:"current_location" bson:"current_location"`
	TotalDistanceKm float64        `json:"total_distance_km" bson:"total_distance_km"` // in kilometers
	TotalTimeSec    float64        `json:"total_time_sec" bson:"total_time_sec"`       // moving time in seconds
	AvgSpeedKmh     float64        `json:"avg_speed_kmh" bson:"avg_speed_kmh"`
	TopSpeedKmh     float64        `json:"top_speed_kmh" bson:"top_speed_kmh"`
	StartedAt       time.Time      `json:"started_at" bson:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" bson:"updated_at"`
}
