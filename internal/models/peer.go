package models

import (
	"time"
)

// PeerLocationRecord is the aggregator's cache entry for one peer.
// LastUpdatedAt is monotonically non-decreasing per user; conflicting
// updates are resolved last-writer-wins by this timestamp, not by
// arrival order.
type PeerLocationRecord struct {
	UserID          string         `json:"user_id"`
	Latitude        float64        `json:"lat"`
	Longitude       float64        `json:"lon"`
	SpeedMs         float64        `json:"speed_ms"` // in meters per second
	TotalDistanceKm float64        `json:"total_distance_km"`
	Status          InstanceStatus `json:"status"`
	LastUpdatedAt   time.Time      `json:"last_updated_at"`
}
