// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/stayward/channelsync/internal/conflict"
	"github.com/stayward/channelsync/internal/logging"
	"github.com/stayward/channelsync/internal/models"
	"github.com/stayward/channelsync/internal/store"
	"github.com/stayward/channelsync/internal/worker"
)

// retryPriority is attached to admin-triggered republishes so they jump
// ahead of routine traffic.
const retryPriority = 9

// SyncTrigger is the manager surface the API needs.
type SyncTrigger interface {
	TriggerSync(ctx context.Context, upstream string) (*models.FullSyncResult, error)
}

// Handler serves the admin endpoints.
type Handler struct {
	store     *store.Store
	publisher *worker.EventPublisher
	syncer    SyncTrigger
	rules     conflict.MergeRules
	validate  *validator.Validate
}

// NewHandler wires the admin handlers. publisher and syncer may be nil in
// tests; the corresponding endpoints then report the operation unavailable.
func NewHandler(s *store.Store, publisher *worker.EventPublisher, syncer SyncTrigger, rules conflict.MergeRules) *Handler {
	return &Handler{
		store:     s,
		publisher: publisher,
		syncer:    syncer,
		rules:     rules,
		validate:  validator.New(),
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to encode API response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health reports liveness plus a store round-trip.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.States().All(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// FailedEvents lists terminally failed events, newest first. Supports
// direction, entity_type, limit and offset query parameters.
func (h *Handler) FailedEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EventFilter{
		Direction:  models.Direction(q.Get("direction")),
		EntityType: models.EntityKind(q.Get("entity_type")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	events, err := h.store.Events().ListFailed(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// RetryEvent resets a failed event and republishes it at elevated priority.
func (h *Handler) RetryEvent(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "event publishing is not available")
		return
	}
	id := chi.URLParam(r, "id")

	ev, err := h.store.Events().ResetForRetry(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "event not found")
		case errors.Is(err, store.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "only failed events can be retried")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	em := &models.EventMessage{
		EventType:      ev.EventType,
		Source:         ev.Source,
		EntityType:     ev.EntityType,
		IdempotencyKey: ev.IdempotencyKey,
		OccurredAt:     ev.CreatedAt,
		Data:           ev.Payload,
	}
	if ev.Direction == models.DirectionOutbound {
		em.EntityID = ev.EntityInternalID
		err = h.publisher.PublishOutbound(r.Context(), em, retryPriority)
	} else {
		em.EntityID = ev.EntityExternalID
		err = h.publisher.PublishInbound(r.Context(), em, retryPriority)
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "republish failed: "+err.Error())
		return
	}

	logging.Info().
		Str("event_id", ev.ID).
		Str("event_type", ev.EventType).
		Msg("Failed event queued for retry")
	writeJSON(w, http.StatusAccepted, ev)
}

// PendingConflicts lists conflicts awaiting operator review.
func (h *Handler) PendingConflicts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	conflicts, err := h.store.Conflicts().ListPending(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}

type resolveRequest struct {
	Strategy   string `json:"strategy" validate:"required,oneof=pms_wins external_wins newest_wins merge ignore"`
	ResolvedBy string `json:"resolved_by" validate:"omitempty,max=128"`
}

// ResolveConflict applies a resolution strategy to a pending conflict. The
// special strategy "ignore" marks the conflict ignored without resolving.
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "strategy must be one of pms_wins, external_wins, newest_wins, merge, ignore")
		return
	}

	if req.Strategy == "ignore" {
		if err := h.store.Conflicts().MarkIgnored(r.Context(), id); err != nil {
			h.writeConflictError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	c, err := h.store.Conflicts().Get(r.Context(), id)
	if err != nil {
		h.writeConflictError(w, err)
		return
	}
	if c.Status != models.ConflictPendingReview {
		writeError(w, http.StatusConflict, "conflict is not pending review")
		return
	}

	resolution, err := conflict.Resolve(c, models.ResolutionStrategy(req.Strategy), h.rules)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resolution.ResolvedBy = req.ResolvedBy
	resolution.ResolvedAt = time.Now().UTC()

	if err := h.store.Conflicts().Resolve(r.Context(), id, resolution); err != nil {
		h.writeConflictError(w, err)
		return
	}

	logging.Info().
		Str("conflict_id", id).
		Str("strategy", req.Strategy).
		Str("resolved_by", req.ResolvedBy).
		Msg("Conflict resolved by operator")
	writeJSON(w, http.StatusOK, resolution)
}

func (h *Handler) writeConflictError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conflict not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// SyncState reports every (upstream, entity kind) cursor.
func (h *Handler) SyncState(w http.ResponseWriter, r *http.Request) {
	states, err := h.store.States().All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"states": states,
		"count":  len(states),
	})
}

type fullSyncRequest struct {
	Upstream string `json:"upstream" validate:"required,max=64"`
}

// TriggerFullSync runs a full sync for one upstream and returns the phase
// results. This is synchronous; a large property should use the periodic
// loop instead.
func (h *Handler) TriggerFullSync(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync manager is not available")
		return
	}

	var req fullSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "upstream is required")
		return
	}

	result, err := h.syncer.TriggerSync(r.Context(), req.Upstream)
	if err != nil {
		if result == nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// Partial result: some phases ran before the failure.
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}
