package models

import (
	"time"
)

// RouteCacheEntry is the cached polyline for an (origin, destination) pair.
// Only one live entry exists per participant; a superseding computation
// discards the old entry outright.
type RouteCacheEntry struct {
	Origin      Location   `json:"origin"` // snapped origin the polyline was computed from
	Destination Location   `json:"destination"`
	Coordinates []Location `json:"coordinates"`
	ComputedAt  time.Time  `json:"computed_at"`
}
