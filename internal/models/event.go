package models

import (
	"time"
)

// EventKind classifies a ride event for downstream rendering.
type EventKind string

const (
	KindMemberJoined     EventKind = "member_joined"
	KindMemberLeft       EventKind = "member_left"
	KindJourneyStarted   EventKind = "journey_started"
	KindJourneyCompleted EventKind = "journey_completed"
	KindInstanceStarted  EventKind = "instance_started"
	KindInstancePaused   EventKind = "instance_paused"
	KindInstanceResumed  EventKind = "instance_resumed"
	KindPhotoShared      EventKind = "photo_shared"
	KindMessage          EventKind = "message"
)

// IsValidEventKind checks if a kind belongs to the closed event set.
func IsValidEventKind(k EventKind) bool {
	switch k {
	case KindMemberJoined, KindMemberLeft, KindJourneyStarted, KindJourneyCompleted,
		KindInstanceStarted, KindInstancePaused, KindInstanceResumed,
		KindPhotoShared, KindMessage:
		return true
	default:
		return false
	}
}

// RideEvent is one entry of a journey's event feed. Locally generated events
// carry a "local-" prefixed ID until the server assigns a canonical one; the
// server echoes the local ID back in LocalID so clients can supersede their
// buffered copy.
type RideEvent struct {
	ID        string    `json:"id" bson:"_id,omitempty"`
	LocalID   string    `json:"local_id,omitempty" bson:"local_id,omitempty"`
	JourneyID string    `json:"journey_id" bson:"journey_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	Kind      EventKind `json:"kind" bson:"kind"`
	Message   string    `json:"message,omitempty" bson:"message,omitempty"`
	Lat       *float64  `json:"lat,omitempty" bson:"lat,omitempty"`
	Lon       *float64  `json:"lon,omitempty" bson:"lon,omitempty"`
	MediaURL  string    `json:"media_url,omitempty" bson:"media_url,omitempty"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}
