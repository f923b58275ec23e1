package timeline

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

// localIDPrefix namespaces event ids minted on-device before the server
// assigns a canonical one.
const localIDPrefix = "local-"

// NewLocalID mints a locally namespaced event id.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether an event id belongs to the local namespace.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// Merge reconciles a locally buffered event log with the server's canonical
// per-journey log into one feed. A local event is superseded, not
// duplicated, once a server event carries its local id (or the same id).
// The result is sorted descending by timestamp; events outside the closed
// kind set are classified as plain messages.
func Merge(local, server []models.RideEvent) []models.RideEvent {
	seen := make(map[string]struct{}, len(server))
	superseded := make(map[string]struct{}, len(server))

	merged := make([]models.RideEvent, 0, len(local)+len(server))
	for _, ev := range server {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		if ev.LocalID != "" {
			superseded[ev.LocalID] = struct{}{}
		}
		merged = append(merged, normalize(ev))
	}
	for _, ev := range local {
		if _, ok := superseded[ev.ID]; ok {
			continue
		}
		if _, ok := seen[ev.ID]; ok {
			continue
		}
		seen[ev.ID] = struct{}{}
		merged = append(merged, normalize(ev))
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].ID > merged[j].ID
		}
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	return merged
}

func normalize(ev models.RideEvent) models.RideEvent {
	if !models.IsValidEventKind(ev.Kind) {
		ev.Kind = models.KindMessage
	}
	return ev
}
