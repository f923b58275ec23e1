package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dbisina/wayfarian-system-sub000/internal/db"
	"github.com/dbisina/wayfarian-system-sub000/internal/middleware"
	"github.com/dbisina/wayfarian-system-sub000/internal/models"
	"github.com/dbisina/wayfarian-system-sub000/internal/timeline"
)

// JourneyHandler serves the shared journey, instance and event endpoints.
// It holds the authoritative copies the clients reconcile against.
type JourneyHandler struct {
	journeys  db.JourneyCollection
	instances db.InstanceCollection
	events    db.EventCollection
}

// NewJourneyHandler creates a journey handler.
func NewJourneyHandler(journeys db.JourneyCollection, instances db.InstanceCollection, events db.EventCollection) *JourneyHandler {
	return &JourneyHandler{
		journeys:  journeys,
		instances: instances,
		events:    events,
	}
}

// journeyDetailResponse is the fetch payload: the journey plus the
// authoritative copy of every participant instance.
type journeyDetailResponse struct {
	Journey   models.SharedJourney     `json:"journey"`
	Instances []models.JourneyInstance `json:"instances"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// CreateJourney handles POST /api/journeys. At most one active journey may
// exist per group; a second create is refused with a conflict.
func (h *JourneyHandler) CreateJourney(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	var req struct {
		GroupID     string           `json:"group_id"`
		Destination *models.Location `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.GroupID == "" {
		http.Error(w, "group_id is required", http.StatusBadRequest)
		return
	}

	if _, err := h.journeys.FindActiveJourneyByGroup(r.Context(), req.GroupID); err == nil {
		http.Error(w, "Group already has an active journey", http.StatusConflict)
		return
	} else if !errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Failed to check active journey", http.StatusInternalServerError)
		return
	}

	journey := models.SharedJourney{
		ID:          uuid.NewString(),
		GroupID:     req.GroupID,
		CreatorID:   claims.UserID,
		Destination: req.Destination,
		Status:      models.JourneyActive,
	}
	if err := h.journeys.InsertJourney(r.Context(), journey); err != nil {
		http.Error(w, "Failed to create journey", http.StatusInternalServerError)
		return
	}

	log.WithFields(log.Fields{
		"journey_id": journey.ID,
		"group_id":   journey.GroupID,
	}).Info("Journey created")
	writeJSON(w, http.StatusCreated, journey)
}

// GetJourney handles GET /api/journeys/{id}.
func (h *JourneyHandler) GetJourney(w http.ResponseWriter, r *http.Request) {
	journey, err := h.journeys.FindJourneyByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "Journey not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch journey", http.StatusInternalServerError)
		return
	}

	instances, err := h.instances.FindInstancesByJourney(r.Context(), journey.ID)
	if err != nil {
		http.Error(w, "Failed to fetch instances", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, journeyDetailResponse{Journey: *journey, Instances: instances})
}

// GetActiveJourneyForGroup handles GET /api/groups/{groupID}/journey.
func (h *JourneyHandler) GetActiveJourneyForGroup(w http.ResponseWriter, r *http.Request) {
	journey, err := h.journeys.FindActiveJourneyByGroup(r.Context(), r.PathValue("groupID"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "No active journey", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch journey", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, journey)
}

// ForceEndJourney handles POST /api/journeys/{id}/end. Administrator only,
// enforced by middleware. Every non-terminal instance is completed.
func (h *JourneyHandler) ForceEndJourney(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	journeyID := r.PathValue("id")
	if err := h.journeys.CompleteJourney(r.Context(), journeyID, claims.UserID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "Journey not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to end journey", http.StatusInternalServerError)
		return
	}
	if err := h.instances.CompleteAllForJourney(r.Context(), journeyID); err != nil {
		http.Error(w, "Failed to complete instances", http.StatusInternalServerError)
		return
	}

	if err := h.events.InsertEvent(r.Context(), models.RideEvent{
		ID:        uuid.NewString(),
		JourneyID: journeyID,
		UserID:    claims.UserID,
		Kind:      models.KindJourneyCompleted,
		Timestamp: time.Now(),
	}); err != nil {
		log.WithError(err).Error("Failed to record journey completion event")
	}

	journey, err := h.journeys.FindJourneyByID(r.Context(), journeyID)
	if err != nil {
		http.Error(w, "Failed to fetch journey", http.StatusInternalServerError)
		return
	}

	log.WithFields(log.Fields{
		"journey_id": journeyID,
		"ended_by":   claims.Username,
	}).Info("Journey force-ended")
	writeJSON(w, http.StatusOK, journey)
}

// StartInstance handles POST /api/journeys/{id}/instances. One non-terminal
// instance per participant per journey.
func (h *JourneyHandler) StartInstance(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	journeyID := r.PathValue("id")
	journey, err := h.journeys.FindJourneyByID(r.Context(), journeyID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "Journey not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch journey", http.StatusInternalServerError)
		return
	}
	if journey.Status != models.JourneyActive {
		http.Error(w, "Journey is not active", http.StatusConflict)
		return
	}

	var req struct {
		StartLocation models.Location `json:"start_location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if _, err := h.instances.FindActiveInstanceForUser(r.Context(), journeyID, claims.UserID); err == nil {
		http.Error(w, "Participant already has an instance in this journey", http.StatusConflict)
		return
	} else if !errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Failed to check existing instance", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	instance := models.JourneyInstance{
		ID:              uuid.NewString(),
		JourneyID:       journeyID,
		UserID:          claims.UserID,
		Status:          models.InstanceActive,
		StartLocation:   req.StartLocation,
		CurrentLocation: req.StartLocation,
		StartedAt:       now,
	}
	if err := h.instances.InsertInstance(r.Context(), instance); err != nil {
		http.Error(w, "Failed to create instance", http.StatusInternalServerError)
		return
	}
	if err := h.journeys.AppendInstanceID(r.Context(), journeyID, instance.ID); err != nil {
		log.WithError(err).Error("Failed to record instance on journey")
	}

	log.WithFields(log.Fields{
		"journey_id":  journeyID,
		"instance_id": instance.ID,
		"user_id":     claims.UserID,
	}).Info("Instance started")
	writeJSON(w, http.StatusCreated, instance)
}

// GetInstance handles GET /api/instances/{id}.
func (h *JourneyHandler) GetInstance(w http.ResponseWriter, r *http.Request) {
	instance, err := h.instances.FindInstanceByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "Instance not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch instance", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, instance)
}

// PauseInstance handles POST /api/instances/{id}/pause.
func (h *JourneyHandler) PauseInstance(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.InstancePaused)
}

// ResumeInstance handles POST /api/instances/{id}/resume.
func (h *JourneyHandler) ResumeInstance(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.InstanceActive)
}

// CompleteInstance handles POST /api/instances/{id}/complete. Idempotent:
// completing an already-completed instance returns it unchanged, because
// clients retry over flaky networks.
func (h *JourneyHandler) CompleteInstance(w http.ResponseWriter, r *http.Request) {
	instance, err := h.instances.FindInstanceByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "Instance not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch instance", http.StatusInternalServerError)
		return
	}
	if instance.Status.Terminal() {
		writeJSON(w, http.StatusOK, instance)
		return
	}

	updated, err := h.instances.UpdateInstanceStatus(r.Context(), instance.ID, models.InstanceCompleted)
	if err != nil {
		http.Error(w, "Failed to complete instance", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// transition applies a pause or resume after validating the state machine
// edge against the stored status.
func (h *JourneyHandler) transition(w http.ResponseWriter, r *http.Request, to models.InstanceStatus) {
	instance, err := h.instances.FindInstanceByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "Instance not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch instance", http.StatusInternalServerError)
		return
	}
	if !validTransition(instance.Status, to) {
		http.Error(w, "Invalid status transition", http.StatusConflict)
		return
	}

	updated, err := h.instances.UpdateInstanceStatus(r.Context(), instance.ID, to)
	if err != nil {
		http.Error(w, "Failed to update instance", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// UpdateInstanceStats handles POST /api/instances/{id}/stats. Only active
// instances accumulate statistics.
func (h *JourneyHandler) UpdateInstanceStats(w http.ResponseWriter, r *http.Request) {
	instance, err := h.instances.FindInstanceByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "Instance not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch instance", http.StatusInternalServerError)
		return
	}
	if instance.Status != models.InstanceActive {
		http.Error(w, "Instance is not active", http.StatusConflict)
		return
	}

	var req struct {
		Location models.Location      `json:"location"`
		Stats    models.SnapshotStats `json:"stats"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := h.instances.UpdateInstanceStats(r.Context(), instance.ID, req.Location, req.Stats); err != nil {
		http.Error(w, "Failed to update stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Stats updated"})
}

// GetEvents handles GET /api/journeys/{id}/events, newest first.
func (h *JourneyHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.FindEventsByJourney(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, "Failed to fetch events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.RideEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// AppendEvent handles POST /api/journeys/{id}/events. The server assigns
// the canonical id and echoes the client's provisional id back in local_id
// so the client can supersede its buffered copy.
func (h *JourneyHandler) AppendEvent(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	var ev models.RideEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !models.IsValidEventKind(ev.Kind) {
		http.Error(w, "Invalid event kind", http.StatusBadRequest)
		return
	}

	if timeline.IsLocalID(ev.ID) && ev.LocalID == "" {
		ev.LocalID = ev.ID
	}
	ev.ID = uuid.NewString()
	ev.JourneyID = r.PathValue("id")
	ev.UserID = claims.UserID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if err := h.events.InsertEvent(r.Context(), ev); err != nil {
		http.Error(w, "Failed to record event", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// validTransition encodes the participant-driven state machine edges.
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
