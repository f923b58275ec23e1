package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dbisina/wayfarian-system-sub000/internal/models"
)

var (
	// ErrPrecondition marks an invalid transition or a missing requirement,
	// e.g. starting without a known position. Surfaced immediately: it asks
	// for participant input, it is not an engine bug.
	ErrPrecondition = errors.New("precondition failed")

	// ErrNoInstance is returned when an operation needs an instance and
	// none exists yet.
	ErrNoInstance = errors.New("no ride instance")
)

// API is the slice of the journey service the manager drives. Transitions
// are acknowledged by the server before any local state changes, so a
// failed call rolls back nothing.
type API interface {
	StartInstance(ctx context.Context, journeyID string, start models.Location) (models.JourneyInstance, error)
	PauseInstance(ctx context.Context, instanceID string) (models.JourneyInstance, error)
	ResumeInstance(ctx context.Context, instanceID string) (models.JourneyInstance, error)
	CompleteInstance(ctx context.Context, instanceID string) (models.JourneyInstance, error)
}

// Store is the slice of the persistence layer the manager writes through.
type Store interface {
	Save(st models.PersistedJourneyState) error
	Clear() error
}

// Manager owns one participant's instance state machine:
// not_started, active, paused, completed, with completed terminal and
// administrator force-end superseding any in-flight action. Every
// transition is written through to durable storage before the caller gets
// its acknowledgement.
type Manager struct {
	api   API
	store Store
	now   func() time.Time

	// emit receives every applied transition, for the channel and the
	// event timeline.
	emit func(models.LifecycleUpdate)

	inst *models.JourneyInstance
}

// NewManager creates a manager with no instance yet.
func NewManager(api API, store Store) *Manager {
	return &Manager{
		api:   api,
		store: store,
		now:   time.Now,
		emit:  func(models.LifecycleUpdate) {},
	}
}

// OnTransition registers the lifecycle event sink.
func (m *Manager) OnTransition(fn func(models.LifecycleUpdate)) {
	if fn != nil {
		m.emit = fn
	}
}

// Instance returns the current instance, nil before Start.
func (m *Manager) Instance() *models.JourneyInstance {
	return m.inst
}

// Adopt installs an instance recovered from a persisted snapshot.
func (m *Manager) Adopt(inst models.JourneyInstance) {
	m.inst = &inst
}

// Start begins the ride. A known start position is required.
func (m *Manager) Start(ctx context.Context, journeyID string, start *models.Location) (*models.JourneyInstance, error) {
	if start == nil {
		return nil, fmt.Errorf("%w: start requires a known position", ErrPrecondition)
	}
	if m.inst != nil && !m.inst.Status.Terminal() {
		return nil, fmt.Errorf("%w: instance %s is still %s", ErrPrecondition, m.inst.ID, m.inst.Status)
	}

	inst, err := m.api.StartInstance(ctx, journeyID, *start)
	if err != nil {
		return nil, err
	}
	if err := m.store.Save(models.PersistedJourneyState{
		ActiveJourneyID:  inst.JourneyID,
		ActiveInstanceID: inst.ID,
		StartedAt:        inst.StartedAt,
	}); err != nil {
		return nil, fmt.Errorf("persist start: %w", err)
	}

	m.inst = &inst
	m.emitTransition()
	return m.inst, nil
}

// Pause suspends sampling. Accumulated stats are untouched.
func (m *Manager) Pause(ctx context.Context) error {
	return m.transition(ctx, models.InstancePaused, m.api.PauseInstance)
}

// Resume continues an active ride after a pause.
func (m *Manager) Resume(ctx context.Context) error {
	return m.transition(ctx, models.InstanceActive, m.api.ResumeInstance)
}

// Complete ends the ride. Idempotent: completing an already-completed
// instance is a no-op success, because network retries are expected.
func (m *Manager) Complete(ctx context.Context) error {
	if m.inst == nil {
		return ErrNoInstance
	}
	if m.inst.Status.Terminal() {
		return nil
	}
	inst, err := m.api.CompleteInstance(ctx, m.inst.ID)
	if err != nil {
		return err
	}
	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	m.inst = &inst
	m.emitTransition()
	return nil
}

// ApplyForceEnd applies an administrator force-end observed on the channel.
// It supersedes any in-flight participant action and moves any non-terminal
// instance straight to completed.
func (m *Manager) ApplyForceEnd() {
	if m.inst == nil || m.inst.Status.Terminal() {
		return
	}
	now := m.now()
	m.inst.Status = models.InstanceCompleted
	m.inst.CompletedAt = &now
	m.inst.UpdatedAt = now
	if err := m.store.Clear(); err != nil {
		log.WithError(err).Error("Snapshot clear after force-end failed")
	}
	m.emitTransition()
}

// UpdateStats folds accepted-sample statistics into the owned instance.
func (m *Manager) UpdateStats(loc models.Location, stats models.SnapshotStats) error {
	if m.inst == nil {
		return ErrNoInstance
	}
	if m.inst.Status != models.InstanceActive {
		return fmt.Errorf("%w: instance is %s", ErrPrecondition, m.inst.Status)
	}
	m.inst.CurrentLocation = loc
	m.inst.TotalDistanceKm = stats.TotalDistanceKm
	m.inst.TotalTimeSec = stats.TotalTimeSec
	m.inst.AvgSpeedKmh = stats.AvgSpeedKmh
	m.inst.TopSpeedKmh = stats.TopSpeedKmh
	m.inst.UpdatedAt = m.now()
	return nil
}

func (m *Manager) transition(ctx context.Context, to models.InstanceStatus, call func(context.Context, string) (models.JourneyInstance, error)) error {
	if m.inst == nil {
		return ErrNoInstance
	}
	if !validTransition(m.inst.Status, to) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrPrecondition, m.inst.Status, to)
	}

	inst, err := call(ctx, m.inst.ID)
	if err != nil {
		return err
	}
	if err := m.store.Save(models.PersistedJourneyState{
		ActiveJourneyID:  inst.JourneyID,
		ActiveInstanceID: inst.ID,
		StartedAt:        inst.StartedAt,
		LastSnapshot: models.SnapshotStats{
			TotalDistanceKm: inst.TotalDistanceKm,
			TotalTimeSec:    inst.TotalTimeSec,
			AvgSpeedKmh:     inst.AvgSpeedKmh,
			TopSpeedKmh:     inst.TopSpeedKmh,
		},
	}); err != nil {
		return fmt.Errorf("persist transition: %w", err)
	}

	m.inst = &inst
	m.emitTransition()
	return nil
}

func (m *Manager) emitTransition() {
	m.emit(models.LifecycleUpdate{
		InstanceID: m.inst.ID,
		UserID:     m.inst.UserID,
		Status:     m.inst.Status,
		Timestamp:  m.now(),
	})
}

// validTransition encodes the state machine edges a participant drives.
func validTransition(from, to models.InstanceStatus) bool {
	switch from {
	case models.InstanceNotStarted:
		return to == models.InstanceActive
	case models.InstanceActive:
		return to == models.InstancePaused || to == models.InstanceCompleted
	case models.InstancePaused:
		return to == models.InstanceActive || to == models.InstanceCompleted
	default:
		return false
	}
}
