package models

import (
	"time"
)

// LocationUpdate is the payload published on a participant's location topic
// and ingested from peers' topics.
type LocationUpdate struct {
	InstanceID      string         `json:"instance_id"`
	UserID          string         `json:"user_id"`
	Lat             float64        `json:"lat"`
	Lon             float64        `json:"lon"`
	SpeedMs         float64        `json:"speed_ms"`
	TotalDistanceKm float64        `json:"total_distance_km"`
	Status          InstanceStatus `json:"status"`
	Timestamp       time.Time      `json:"timestamp"`
}

// PeerRecord converts a location update into an aggregator cache entry.
func (u LocationUpdate) PeerRecord() PeerLocationRecord {
	return PeerLocationRecord{
		UserID:          u.UserID,
		Latitude:        u.Lat,
		Longitude:       u.Lon,
		SpeedMs:         u.SpeedMs,
		TotalDistanceKm: u.TotalDistanceKm,
		Status:          u.Status,
		LastUpdatedAt:   u.Timestamp,
	}
}

// LifecycleUpdate announces an instance transition on the channel.
type LifecycleUpdate struct {
	InstanceID string         `json:"instance_id"`
	UserID     string         `json:"user_id"`
	Status     InstanceStatus `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
}

// JourneyCompletion announces journey-level completion, including
// administrator force-end.
type JourneyCompletion struct {
	JourneyID    string    `json:"journey_id"`
	EndedByAdmin bool      `json:"ended_by_admin"`
	Timestamp    time.Time `json:"timestamp"`
}

// AchievementUnlocked is a milestone notification pushed to one participant.
type AchievementUnlocked struct {
	AchievementID string `json:"achievement_id"`
	XPAwarded     int    `json:"xp_awarded"`
}
