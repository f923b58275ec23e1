package aggregator

import (
	"sort"
	"sync"
	"time"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

// DefaultTTL is how long a peer record stays fresh without an update before
// consumers should treat its position as unknown.
const DefaultTTL = 90 * time.Second

// PeerView is a read-side copy of one peer record with its staleness flag.
// Stale records are still returned (historical markers keep rendering) but
// flagged so consumers do not trust the position.
type PeerView struct {
	models.PeerLocationRecord
	Stale bool
}

// Aggregator holds the latest known state of every participant in the room.
// The channel ingestion path is the sole writer for peer records; the motion
// path is the sole writer for the local participant's own record. Conflicts
// between a pushed delta and a reconciliation pull are resolved
// last-writer-wins on the record timestamp, never on arrival order.
type Aggregator struct {
	mu    sync.RWMutex
	peers map[string]models.PeerLocationRecord
	ttl   time.Duration
	now   func() time.Time
}

// New creates an aggregator with the given staleness TTL.
func New(ttl time.Duration) *Aggregator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Aggregator{
		peers: make(map[string]models.PeerLocationRecord),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Apply merges one record. It returns true when the record was applied,
// false when a newer record for the same user was already cached.
func (a *Aggregator) Apply(rec models.PeerLocationRecord) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, ok := a.peers[rec.UserID]
	if ok && rec.LastUpdatedAt.Before(cur.LastUpdatedAt) {
		return false
	}
	if ok && cur.Status.Terminal() && !rec.Status.Terminal() {
		// completed peers stop receiving location updates
		return false
	}
	a.peers[rec.UserID] = rec
	return true
}

// ApplyFull merges a full room snapshot, record by record, under the same
// last-writer-wins rule. Used by the periodic reconciliation pull to repair
// deltas dropped by the channel.
func (a *Aggregator) ApplyFull(recs []models.PeerLocationRecord) int {
	applied := 0
	for _, rec := range recs {
		if a.Apply(rec) {
			applied++
		}
	}
	return applied
}

// MarkCompleted flags a peer as completed without touching its position.
func (a *Aggregator) MarkCompleted(userID string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.peers[userID]
	if !ok {
		rec = models.PeerLocationRecord{UserID: userID}
	}
	if at.After(rec.LastUpdatedAt) {
		rec.LastUpdatedAt = at
	}
	rec.Status = models.InstanceCompleted
	a.peers[userID] = rec
}

// Get returns the cached record for one user.
func (a *Aggregator) Get(userID string) (models.PeerLocationRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.peers[userID]
	return rec, ok
}

// Snapshot returns all known peers sorted by user id, each flagged stale
// when older than the TTL.
func (a *Aggregator) Snapshot() []PeerView {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cutoff := a.now().Add(-a.ttl)
	views := make([]PeerView, 0, len(a.peers))
	for _, rec := range a.peers {
		views = append(views, PeerView{
			PeerLocationRecord: rec,
			Stale:              rec.LastUpdatedAt.Before(cutoff),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].UserID < views[j].UserID })
	return views
}

// Clear drops every record. Called when the shared journey completes.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peers = make(map[string]models.PeerLocationRecord)
}
