package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dbisina/wayfarian-system-sub000/internal/aggregator"
	"github.com/dbisina/wayfarian-system-sub000/internal/channel"
	"github.com/dbisina/wayfarian-system-sub000/internal/journeyapi"
	"github.com/dbisina/wayfarian-system-sub000/internal/lifecycle"
	"github.com/dbisina/wayfarian-system-sub000/internal/models"
	"github.com/dbisina/wayfarian-system-sub000/internal/motion"
	"github.com/dbisina/wayfarian-system-sub000/internal/persist"
	"github.com/dbisina/wayfarian-system-sub000/internal/route"
	"github.com/dbisina/wayfarian-system-sub000/internal/timeline"
)

var (
	// ErrConflict marks an action needing an explicit participant choice,
	// e.g. starting a group ride while another ride is still active. Never
	// auto-resolved.
	ErrConflict = errors.New("conflicting active ride")

	// ErrStaleState marks a local snapshot contradicted by server truth.
	// The snapshot is discarded, the ride is not resumed.
	ErrStaleState = errors.New("stale local ride state")

	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("engine closed")
)

const (
	defaultReconcileInterval = 30 * time.Second
	defaultSnapshotEvery     = 5
	remoteCallTimeout        = 10 * time.Second
	routeFetchTimeout        = 15 * time.Second
)

// API is the journey service surface the engine consumes. Satisfied by
// journeyapi.Client.
type API interface {
	lifecycle.API
	CreateJourney(ctx context.Context, groupID string, dest *models.Location) (models.SharedJourney, error)
	Journey(ctx context.Context, journeyID string) (journeyapi.JourneyDetail, error)
	ActiveJourneyForGroup(ctx context.Context, groupID string) (models.SharedJourney, error)
	ForceEnd(ctx context.Context, journeyID string) (models.SharedJourney, error)
	Instance(ctx context.Context, instanceID string) (models.JourneyInstance, error)
	UpdateInstanceStats(ctx context.Context, instanceID string, loc models.Location, stats models.SnapshotStats) error
	Events(ctx context.Context, journeyID string) ([]models.RideEvent, error)
	AppendEvent(ctx context.Context, journeyID string, ev models.RideEvent) (models.RideEvent, error)
}

// Channel is the realtime room surface the engine drives. Satisfied by
// channel.Client.
type Channel interface {
	Connect() error
	Close()
	Join(journeyID string) error
	Leave()
	PublishLocation(models.LocationUpdate) error
	PublishLifecycle(models.LifecycleUpdate) error
	PublishEvent(models.RideEvent) error
	PublishJourneyCompleted(models.JourneyCompletion) error
}

// StateStore is the durable local snapshot surface. Satisfied by
// persist.Store.
type StateStore interface {
	lifecycle.Store
	SaveStats(models.SnapshotStats) error
	Load() (*models.PersistedJourneyState, error)
}

// Config carries the per-participant engine settings.
type Config struct {
	UserID            string
	GroupID           string
	Admin             bool
	ReconcileInterval time.Duration
	SnapshotEvery     int // persist stats every N-th accepted sample
	PeerTTL           time.Duration
}

// Engine coordinates one participant's ride: it owns the instance state
// machine, the motion estimator, the peer aggregator, the route planner
// and the snapshot store. Two asynchronous producers feed it, the
// geolocation sampler and the channel's inbound stream; every mutation of
// engine-owned state runs on a single mailbox goroutine, so the producers
// never contend on locks and no torn state is observable.
type Engine struct {
	cfg     Config
	clock   Clock
	api     API
	ch      Channel
	store   StateStore
	fetcher route.Fetcher

	agg *aggregator.Aggregator
	lm  *lifecycle.Manager
	est *motion.Estimator

	planner     *route.Planner
	journey     *models.SharedJourney
	localEvents []models.RideEvent
	sampleCount int
	routeBusy   bool
	reconcile   Ticker

	mailbox   chan func()
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New wires an engine from its collaborators. Open must be called before
// any ride operation.
func New(cfg Config, api API, ch Channel, store StateStore, fetcher route.Fetcher, clock Clock) *Engine {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = defaultReconcileInterval
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = defaultSnapshotEvery
	}
	if clock == nil {
		clock = RealClock()
	}

	e := &Engine{
		cfg:     cfg,
		clock:   clock,
		api:     api,
		ch:      ch,
		store:   store,
		fetcher: fetcher,
		agg:     aggregator.New(cfg.PeerTTL),
		est:     motion.NewEstimator(),
		mailbox: make(chan func(), 128),
		quit:    make(chan struct{}),
	}
	e.lm = lifecycle.NewManager(api, store)
	e.lm.OnTransition(e.onTransition)
	return e
}

// Handlers returns the channel callback set wired into the mailbox, for
// constructing the production channel client.
func (e *Engine) Handlers() channel.Handlers {
	return channel.Handlers{
		OnPeerLocation:     e.HandlePeerLocation,
		OnPeerLifecycle:    e.HandlePeerLifecycle,
		OnJourneyEvent:     e.HandleJourneyEvent,
		OnJourneyCompleted: e.HandleJourneyCompleted,
		OnReconnect:        e.HandleReconnect,
	}
}

// Open connects the channel, runs stale-ride recovery against the server
// and starts the mailbox loop. It reports whether an active ride was
// resumed from a local snapshot.
func (e *Engine) Open(ctx context.Context) (resumed bool, err error) {
	if err := e.ch.Connect(); err != nil {
		return false, err
	}

	resumed, err = e.hydrate(ctx)
	if err != nil && !errors.Is(err, ErrStaleState) {
		e.ch.Close()
		return false, err
	}
	if errors.Is(err, ErrStaleState) {
		log.WithError(err).Info("Discarded stale local ride snapshot")
	}

	e.wg.Add(1)
	go e.run()

	if resumed {
		e.post(e.startReconcile)
	}
	return resumed, nil
}

// Close stops the loop and releases the channel connection. Idempotent.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.quit)
		e.wg.Wait()
		if e.reconcile != nil {
			e.reconcile.Stop()
		}
		e.ch.Close()
	})
}

// hydrate implements recovery after a process restart. A local snapshot is
// never trusted on its own: the instance may have been completed or
// force-ended while this device was offline, so the server's copy decides.
func (e *Engine) hydrate(ctx context.Context) (bool, error) {
	st, err := e.store.Load()
	if err != nil {
		if errors.Is(err, persist.ErrNoActiveRide) {
			return false, nil
		}
		return false, fmt.Errorf("load snapshot: %w", err)
	}

	inst, err := e.api.Instance(ctx, st.ActiveInstanceID)
	if errors.Is(err, journeyapi.ErrNotFound) {
		e.clearSnapshot()
		return false, fmt.Errorf("%w: instance %s unknown to server", ErrStaleState, st.ActiveInstanceID)
	}
	if err != nil {
		return false, fmt.Errorf("verify persisted instance: %w", err)
	}
	if inst.Status.Terminal() {
		e.clearSnapshot()
		return false, fmt.Errorf("%w: instance %s already %s", ErrStaleState, inst.ID, inst.Status)
	}

	e.lm.Adopt(inst)
	e.est.Restore(st.LastSnapshot)
	if err := e.joinJourney(ctx, inst.JourneyID); err != nil {
		return false, err
	}
	log.WithFields(log.Fields{
		"journey_id":  inst.JourneyID,
		"instance_id": inst.ID,
		"status":      inst.Status,
	}).Info("Resumed ride from local snapshot")
	return true, nil
}

func (e *Engine) clearSnapshot() {
	if err := e.store.Clear(); err != nil {
		log.WithError(err).Error("Snapshot clear failed")
	}
}

// run drains the mailbox. Single writer: only this goroutine touches the
// lifecycle manager, estimator, planner, journey and event buffer.
func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case fn := <-e.mailbox:
			fn()
		case <-e.quit:
			return
		}
	}
}

// post hands a closure to the mailbox goroutine. Dropped after Close.
func (e *Engine) post(fn func()) {
	select {
	case e.mailbox <- fn:
	case <-e.quit:
	}
}

// call posts a closure and waits for its result.
func (e *Engine) call(fn func() error) error {
	done := make(chan error, 1)
	e.post(func() { done <- fn() })
	select {
	case err := <-done:
		return err
	case <-e.quit:
		return ErrClosed
	}
}

// CreateJourney creates a shared journey for the participant's group.
// The server rejects a second active journey per group with a conflict.
func (e *Engine) CreateJourney(ctx context.Context, dest *models.Location) (models.SharedJourney, error) {
	j, err := e.api.CreateJourney(ctx, e.cfg.GroupID, dest)
	if err != nil {
		if errors.Is(err, journeyapi.ErrConflict) {
			return models.SharedJourney{}, fmt.Errorf("%w: group already has an active journey", ErrConflict)
		}
		return models.SharedJourney{}, err
	}
	return j, nil
}

// StartRide starts this participant's instance in the given journey and
// joins its room. A still-active ride in a different journey is a conflict
// the participant must resolve explicitly, never silently.
func (e *Engine) StartRide(ctx context.Context, journeyID string, start *models.Location) error {
	return e.call(func() error {
		if inst := e.lm.Instance(); inst != nil && !inst.Status.Terminal() && inst.JourneyID != journeyID {
			return fmt.Errorf("%w: instance %s in journey %s is still %s",
				ErrConflict, inst.ID, inst.JourneyID, inst.Status)
		}

		inst, err := e.lm.Start(ctx, journeyID, start)
		if err != nil {
			return err
		}
		if err := e.joinJourney(ctx, journeyID); err != nil {
			return err
		}
		e.startReconcile()
		e.bufferLocalEvent(models.KindInstanceStarted, "", "", inst.StartLocation)
		return nil
	})
}

// PauseRide suspends sampling and route recalculation. Room membership and
// event traffic continue.
func (e *Engine) PauseRide(ctx context.Context) error {
	return e.call(func() error {
		if err := e.lm.Pause(ctx); err != nil {
			return err
		}
		e.bufferEventAtCurrent(models.KindInstancePaused, "", "")
		return nil
	})
}

// ResumeRide continues a paused ride.
func (e *Engine) ResumeRide(ctx context.Context) error {
	return e.call(func() error {
		if err := e.lm.Resume(ctx); err != nil {
			return err
		}
		// re-anchor so the paused interval never counts as moving time
		e.est.Rebase()
		e.bufferEventAtCurrent(models.KindInstanceResumed, "", "")
		return nil
	})
}

// CompleteRide ends the ride and detaches this participant from outbound
// publication. Inbound peer updates keep flowing until Close so the final
// positions of still-riding peers stay visible.
func (e *Engine) CompleteRide(ctx context.Context) error {
	return e.call(func() error {
		if err := e.lm.Complete(ctx); err != nil {
			return err
		}
		e.stopReconcile()
		if e.planner != nil {
			e.planner.Reset()
		}
		return nil
	})
}

// ForceEndJourney is the administrator action ending the whole journey.
// The announcement is retained on the channel so offline participants see
// it the moment they reconnect.
func (e *Engine) ForceEndJourney(ctx context.Context, journeyID string) error {
	if !e.cfg.Admin {
		return fmt.Errorf("%w: force-end requires the administrator role", lifecycle.ErrPrecondition)
	}
	j, err := e.api.ForceEnd(ctx, journeyID)
	if err != nil {
		return err
	}
	jc := models.JourneyCompletion{
		JourneyID:    j.ID,
		EndedByAdmin: true,
		Timestamp:    e.clock.Now(),
	}
	if perr := e.ch.PublishJourneyCompleted(jc); perr != nil {
		log.WithError(perr).Warn("Force-end announce failed, peers rely on reconciliation")
	}
	e.HandleJourneyCompleted(jc)
	return nil
}

// OfferSample feeds one raw geolocation sample. Samples against a
// non-active instance are rejected with a precondition error; implausible
// samples are dropped silently by the estimator. An accepted sample
// updates stats, the own aggregator record, the breadcrumb and the route
// gate, then goes out on the channel.
func (e *Engine) OfferSample(s motion.Sample) error {
	return e.call(func() error {
		inst := e.lm.Instance()
		if inst == nil || inst.Status != models.InstanceActive {
			return fmt.Errorf("%w: no active instance for location publication", lifecycle.ErrPrecondition)
		}
		if !e.est.Offer(s) {
			return nil
		}

		loc, _ := e.est.Current()
		stats := e.est.Stats()
		if err := e.lm.UpdateStats(loc, stats); err != nil {
			return err
		}

		// the sampling path is the only writer of the own record
		e.agg.Apply(models.PeerLocationRecord{
			UserID:          e.cfg.UserID,
			Latitude:        loc.Lat,
			Longitude:       loc.Lon,
			SpeedMs:         e.est.LastSpeedMs(),
			TotalDistanceKm: stats.TotalDistanceKm,
			Status:          inst.Status,
			LastUpdatedAt:   s.At,
		})

		if e.planner != nil {
			e.planner.RecordBreadcrumb(loc)
			e.maybeRecomputeRoute(loc)
		}

		if err := e.ch.PublishLocation(models.LocationUpdate{
			InstanceID:      inst.ID,
			UserID:          e.cfg.UserID,
			Lat:             loc.Lat,
			Lon:             loc.Lon,
			SpeedMs:         e.est.LastSpeedMs(),
			TotalDistanceKm: stats.TotalDistanceKm,
			Status:          inst.Status,
			Timestamp:       s.At,
		}); err != nil {
			log.WithError(err).Debug("Location publish skipped")
		}

		e.sampleCount++
		if e.sampleCount%e.cfg.SnapshotEvery == 0 {
			if err := e.store.SaveStats(stats); err != nil {
				log.WithError(err).Error("Stat snapshot write failed")
			}
			instID := inst.ID
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
				defer cancel()
				if err := e.api.UpdateInstanceStats(ctx, instID, loc, stats); err != nil {
					log.WithError(err).Debug("Server stat sync failed")
				}
			}()
		}
		return nil
	})
}

// HandlePeerLocation ingests a peer's location delta.
func (e *Engine) HandlePeerLocation(u models.LocationUpdate) {
	e.post(func() {
		e.agg.Apply(u.PeerRecord())
	})
}

// HandlePeerLifecycle ingests a peer's instance transition.
func (e *Engine) HandlePeerLifecycle(u models.LifecycleUpdate) {
	e.post(func() {
		if u.Status.Terminal() {
			// the record is retained so the peer's final position stays
			// visible until the journey itself completes
			e.agg.MarkCompleted(u.UserID, u.Timestamp)
			return
		}
		if rec, ok := e.agg.Get(u.UserID); ok {
			rec.Status = u.Status
			rec.LastUpdatedAt = u.Timestamp
			e.agg.Apply(rec)
			return
		}
		e.agg.Apply(models.PeerLocationRecord{
			UserID:        u.UserID,
			Status:        u.Status,
			LastUpdatedAt: u.Timestamp,
		})
	})
}

// HandleJourneyEvent ingests a canonical event observed on the channel.
// Appending it to the local buffer lets the merged timeline show it before
// the next server pull; the merge dedupes by canonical id.
func (e *Engine) HandleJourneyEvent(ev models.RideEvent) {
	e.post(func() {
		e.localEvents = append(e.localEvents, ev)
	})
}

// HandleJourneyCompleted applies journey-level termination, including
// administrator force-end. It supersedes any in-flight participant action:
// the local instance is completed without a server round trip and the
// snapshot is cleared.
func (e *Engine) HandleJourneyCompleted(jc models.JourneyCompletion) {
	e.post(func() {
		e.lm.ApplyForceEnd()
		if e.journey != nil && e.journey.ID == jc.JourneyID {
			e.journey.Status = models.JourneyCompleted
		}
		e.agg.Clear()
		e.stopReconcile()
		if e.planner != nil {
			e.planner.Reset()
		}
		log.WithFields(log.Fields{
			"journey_id": jc.JourneyID,
			"by_admin":   jc.EndedByAdmin,
		}).Info("Journey completed")
	})
}

// HandleReconnect answers a channel reconnect with a full snapshot pull.
// Deltas missed while disconnected cannot be trusted.
func (e *Engine) HandleReconnect() {
	e.post(e.pullSnapshot)
}

// Peers returns the aggregator's current view of the room.
func (e *Engine) Peers() []aggregator.PeerView {
	return e.agg.Snapshot()
}

// Instance returns a copy of the current instance, false before Start.
func (e *Engine) Instance() (models.JourneyInstance, bool) {
	var (
		out models.JourneyInstance
		ok  bool
	)
	_ = e.call(func() error {
		if inst := e.lm.Instance(); inst != nil {
			out, ok = *inst, true
		}
		return nil
	})
	return out, ok
}

// Stats returns the accumulated motion statistics.
func (e *Engine) Stats() models.SnapshotStats {
	var out models.SnapshotStats
	_ = e.call(func() error {
		out = e.est.Stats()
		return nil
	})
	return out
}

// RoutePolyline returns the polyline to render: the cached route when one
// exists, otherwise the travelled breadcrumb.
func (e *Engine) RoutePolyline() []models.Location {
	var out []models.Location
	_ = e.call(func() error {
		if e.planner != nil {
			out = e.planner.Polyline()
		}
		return nil
	})
	return out
}

// PostEvent buffers a free-form ride event locally, pushes it to the
// server for a canonical id and fans the canonical copy out on the
// channel. The local copy renders immediately; the merged timeline
// supersedes it once the canonical one arrives.
func (e *Engine) PostEvent(kind models.EventKind, message, mediaURL string) error {
	return e.call(func() error {
		inst := e.lm.Instance()
		if inst == nil {
			return lifecycle.ErrNoInstance
		}
		ev := e.bufferEventAtCurrent(kind, message, mediaURL)
		journeyID := inst.JourneyID

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
			defer cancel()
			upload := ev
			upload.LocalID = ev.ID
			canonical, err := e.api.AppendEvent(ctx, journeyID, upload)
			if err != nil {
				log.WithError(err).Warn("Event upload failed, kept in local buffer")
				return
			}
			if perr := e.ch.PublishEvent(canonical); perr != nil {
				log.WithError(perr).Debug("Event publish skipped")
			}
		}()
		return nil
	})
}

// Timeline merges the local event buffer with the server's canonical log.
// When the server is unreachable the local buffer alone renders.
func (e *Engine) Timeline(ctx context.Context) ([]models.RideEvent, error) {
	var (
		journeyID string
		local     []models.RideEvent
	)
	if err := e.call(func() error {
		if inst := e.lm.Instance(); inst != nil {
			journeyID = inst.JourneyID
		} else if e.journey != nil {
			journeyID = e.journey.ID
		}
		local = append([]models.RideEvent(nil), e.localEvents...)
		return nil
	}); err != nil {
		return nil, err
	}
	if journeyID == "" {
		return timeline.Merge(local, nil), nil
	}

	server, err := e.api.Events(ctx, journeyID)
	if err != nil {
		log.WithError(err).Debug("Server event log unavailable, rendering local buffer")
		return timeline.Merge(local, nil), nil
	}
	return timeline.Merge(local, server), nil
}

// joinJourney fetches the journey, joins its room, prepares the planner
// toward its destination and seeds the aggregator with the server's view.
// Runs on the mailbox goroutine.
func (e *Engine) joinJourney(ctx context.Context, journeyID string) error {
	detail, err := e.api.Journey(ctx, journeyID)
	if err != nil {
		return fmt.Errorf("fetch journey: %w", err)
	}
	e.journey = &detail.Journey

	if err := e.ch.Join(journeyID); err != nil {
		return err
	}

	if detail.Journey.Destination != nil && e.fetcher != nil {
		e.planner = route.NewPlanner(e.fetcher, *detail.Journey.Destination)
	}

	e.agg.ApplyFull(instanceRecords(detail.Instances))
	return nil
}

// maybeRecomputeRoute runs the planner gates synchronously and the
// external fetch off-loop, so sampling never stalls on a route call.
func (e *Engine) maybeRecomputeRoute(origin models.Location) {
	if e.routeBusy || !e.planner.ShouldRecompute(origin) {
		return
	}
	e.routeBusy = true
	planner := e.planner
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), routeFetchTimeout)
		defer cancel()
		coords, err := planner.Fetch(ctx, origin)
		e.post(func() {
			e.routeBusy = false
			if err != nil || e.planner != planner {
				return // previous polyline stays on screen
			}
			planner.Install(origin, coords)
		})
	}()
}

// pullSnapshot replaces the aggregator's view with the server's. Runs on
// the mailbox goroutine; the network call happens off-loop.
func (e *Engine) pullSnapshot() {
	if e.journey == nil {
		return
	}
	journeyID := e.journey.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
		defer cancel()
		detail, err := e.api.Journey(ctx, journeyID)
		if err != nil {
			log.WithError(err).Debug("Reconciliation pull failed")
			return
		}
		e.post(func() {
			if e.journey == nil || e.journey.ID != journeyID {
				return
			}
			if detail.Journey.Status == models.JourneyCompleted {
				e.journey.Status = models.JourneyCompleted
				e.lm.ApplyForceEnd()
				e.agg.Clear()
				e.stopReconcile()
				return
			}
			e.agg.ApplyFull(instanceRecords(detail.Instances))
		})
	}()
}

// startReconcile arms the periodic snapshot pull. The pull repairs peer
// views after dropped channel deltas. Idempotent.
func (e *Engine) startReconcile() {
	if e.reconcile != nil {
		return
	}
	t := e.clock.NewTicker(e.cfg.ReconcileInterval)
	e.reconcile = t
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-t.C():
				e.post(e.pullSnapshot)
			case <-e.quit:
				return
			}
		}
	}()
}

func (e *Engine) stopReconcile() {
	if e.reconcile == nil {
		return
	}
	e.reconcile.Stop()
	e.reconcile = nil
}

// onTransition fans an applied lifecycle transition out to the channel.
// A failed publish is tolerated: reconciliation repairs peer views.
func (e *Engine) onTransition(u models.LifecycleUpdate) {
	if err := e.ch.PublishLifecycle(u); err != nil {
		log.WithError(err).Debug("Lifecycle publish skipped")
	}
}

func (e *Engine) bufferEventAtCurrent(kind models.EventKind, message, mediaURL string) models.RideEvent {
	loc, ok := e.est.Current()
	if !ok {
		if inst := e.lm.Instance(); inst != nil {
			loc = inst.CurrentLocation
		}
	}
	return e.bufferLocalEvent(kind, message, mediaURL, loc)
}

func (e *Engine) bufferLocalEvent(kind models.EventKind, message, mediaURL string, loc models.Location) models.RideEvent {
	journeyID := ""
	if inst := e.lm.Instance(); inst != nil {
		journeyID = inst.JourneyID
	}
	lat, lon := loc.Lat, loc.Lon
	ev := models.RideEvent{
		ID:        timeline.NewLocalID(),
		JourneyID: journeyID,
		UserID:    e.cfg.UserID,
		Kind:      kind,
		Message:   message,
		MediaURL:  mediaURL,
		Lat:       &lat,
		Lon:       &lon,
		Timestamp: e.clock.Now(),
	}
	e.localEvents = append(e.localEvents, ev)
	return ev
}

func instanceRecords(instances []models.JourneyInstance) []models.PeerLocationRecord {
	recs := make([]models.PeerLocationRecord, 0, len(instances))
	for _, inst := range instances {
		recs = append(recs, models.PeerLocationRecord{
			UserID:          inst.UserID,
			Latitude:        inst.CurrentLocation.Lat,
			Longitude:       inst.CurrentLocation.Lon,
			TotalDistanceKm: inst.TotalDistanceKm,
			Status:          inst.Status,
			LastUpdatedAt:   inst.UpdatedAt,
		})
	}
	return recs
}
