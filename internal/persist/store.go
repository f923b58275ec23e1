package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

// ErrNoActiveRide is returned by Load when no snapshot is stored. Absence of
// the ride keys means "no active ride".
var ErrNoActiveRide = errors.New("no active ride persisted")

// Key layout in the local store.
const (
	keyJourneyID  = "ride:journey_id"
	keyInstanceID = "ride:instance_id"
	keyStartedAt  = "ride:started_at"
	keyStats      = "ride:stats"
)

// Store is the durable local snapshot store backed by BadgerDB. It records
// the active journey/instance identifiers and last-known statistics so a
// killed process can resume a ride without re-prompting the participant.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at the given directory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open Badger handle. Used by tests.
func NewWithDB(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes the full snapshot in one transaction.
func (s *Store) Save(st models.PersistedJourneyState) error {
	stats, err := json.Marshal(st.LastSnapshot)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(keyJourneyID), []byte(st.ActiveJourneyID)); err != nil {
			return err
		}
		if err := txn.Set([]byte(keyInstanceID), []byte(st.ActiveInstanceID)); err != nil {
			return err
		}
		if err := txn.Set([]byte(keyStartedAt), []byte(st.StartedAt.UTC().Format(time.RFC3339Nano))); err != nil {
			return err
		}
		return txn.Set([]byte(keyStats), stats)
	})
}

// SaveStats refreshes only the statistics portion of an existing snapshot.
func (s *Store) SaveStats(stats models.SnapshotStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyStats), data)
	})
}

// Load reads the snapshot. ErrNoActiveRide when nothing is stored.
func (s *Store) Load() (*models.PersistedJourneyState, error) {
	var st models.PersistedJourneyState
	err := s.db.View(func(txn *badger.Txn) error {
		journeyID, err := getString(txn, keyJourneyID)
		if err != nil {
			return err
		}
		instanceID, err := getString(txn, keyInstanceID)
		if err != nil {
			return err
		}
		startedAt, err := getString(txn, keyStartedAt)
		if err != nil {
			return err
		}
		st.ActiveJourneyID = journeyID
		st.ActiveInstanceID = instanceID
		if ts, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			st.StartedAt = ts
		}

		item, err := txn.Get([]byte(keyStats))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &st.LastSnapshot)
		})
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Clear removes the snapshot. Called on completion, abandonment, or stale
// ride recovery.
func (s *Store) Clear() error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range []string{keyJourneyID, keyInstanceID, keyStartedAt, keyStats} {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

func getString(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNoActiveRide
	}
	if err != nil {
		return "", err
	}
	var out string
	err = item.Value(func(val []byte) error {
		out = string(val)
		return nil
	})
	return out, err
}
