package models

import (
	"time"
)

// SnapshotStats is the last-known accumulated ride statistics carried in a
// persisted snapshot.
type SnapshotStats struct {
	TotalDistanceKm float64 `json:"total_distance_km"`
	TotalTimeSec    float64 `json:"total_time_sec"`
	AvgSpeedKmh     float64 `json:"avg_speed_kmh"`
	TopSpeedKmh     float64 `json:"top_speed_kmh"`
}

// PersistedJourneyState is the durable local snapshot that lets a restarted
// process resume an active ride. Absence of a snapshot means "no active ride".
type PersistedJourneyState struct {
	ActiveJourneyID  string        `json:"active_journey_id"`
	ActiveInstanceID string        `json:"active_instance_id"`
	StartedAt        time.Time     `json:"started_at"`
	LastSnapshot     SnapshotStats `json:"last_snapshot_stats"`
}
