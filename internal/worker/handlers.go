// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/stayward/channelsync/internal/channel"
	"github.com/stayward/channelsync/internal/conflict"
	"github.com/stayward/channelsync/internal/logging"
	"github.com/stayward/channelsync/internal/match"
	"github.com/stayward/channelsync/internal/models"
	"github.com/stayward/channelsync/internal/pms"
	"github.com/stayward/channelsync/internal/store"
)

// conflictFields are the symmetric two-way reservation fields the conflict
// engine compares when neither side clearly supersedes the other.
var conflictFields = []string{"status", "notes", "check_in", "check_out", "adults", "children", "total_price"}

// InboundDeps are the collaborators the inbound handler set needs.
type InboundDeps struct {
	Upstream  string
	Store     *store.Store
	PMS       pms.PMS
	Matcher   *match.Matcher
	Conflicts *conflict.Engine
}

// NewInboundHandlers builds the handler set for events pulled from one
// upstream: booking lifecycle events flow through matching, conflict
// evaluation, and PMS writes.
func NewInboundHandlers(deps InboundDeps) map[string]Handler {
	h := &inboundHandlers{deps: deps}
	return map[string]Handler{
		"booking.created":   h.bookingUpserted,
		"booking.modified":  h.bookingUpserted,
		"booking.cancelled": h.bookingCancelled,
	}
}

type inboundHandlers struct {
	deps InboundDeps
}

// bookingUpserted applies a created or modified upstream booking. Creation
// writes the reservation, its mapping, and the event completion marker in
// one transaction where the store allows it; updates follow last-write-wins
// on the upstream's modified timestamp, falling back to the conflict engine
// when the local copy is not clearly older.
func (h *inboundHandlers) bookingUpserted(ctx context.Context, ev *models.SyncEvent, em *models.EventMessage) error {
	var booking models.UpstreamBooking
	if err := json.Unmarshal(em.Data, &booking); err != nil {
		return Permanent("undecodable booking payload", err)
	}
	if booking.ID == "" {
		return Permanent("booking payload has no id", nil)
	}

	mappings := h.deps.Store.Mappings()

	rtMapping, err := mappings.GetByExternal(ctx, h.deps.Upstream, models.EntityRoomType, booking.RoomTypeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Room type not synced yet; the next sync run creates it.
			return fmt.Errorf("room type %s not mapped yet", booking.RoomTypeID)
		}
		return err
	}

	var roomID string
	if booking.RoomID != "" {
		if roomMapping, err := mappings.GetByExternal(ctx, h.deps.Upstream, models.EntityRoom, booking.RoomID); err == nil {
			roomID = roomMapping.LocalID
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	customer := booking.Customer
	if customer == nil {
		customer = &models.UpstreamCustomer{ID: booking.CustomerID}
	}
	matched, err := h.deps.Matcher.MatchCustomer(ctx, h.deps.Upstream, customer)
	if err != nil {
		return fmt.Errorf("match customer for booking %s: %w", booking.ID, err)
	}

	resMapping, err := mappings.GetByExternal(ctx, h.deps.Upstream, models.EntityReservation, booking.ID)
	if errors.Is(err, store.ErrNotFound) {
		return h.createReservation(ctx, ev, &booking, rtMapping.LocalID, roomID, matched.Guest.ID)
	}
	if err != nil {
		return err
	}
	return h.updateReservation(ctx, &booking, resMapping, rtMapping.LocalID, roomID, matched.Guest.ID)
}

func (h *inboundHandlers) createReservation(ctx context.Context, ev *models.SyncEvent, booking *models.UpstreamBooking, roomTypeID, roomID, guestID string) error {
	res := ReservationFromBooking(booking, roomTypeID, roomID, guestID, h.deps.Upstream)
	if err := h.deps.PMS.CreateReservation(ctx, res); err != nil {
		return fmt.Errorf("create reservation: %w", err)
	}

	// Mapping and event completion commit together so a crash between them
	// cannot orphan the reservation.
	err := h.deps.Store.Atomically(func(tx *store.Tx) error {
		if err := tx.UpsertMapping(&models.EntityMapping{
			Upstream:      h.deps.Upstream,
			EntityKind:    models.EntityReservation,
			LocalID:       res.ID,
			ExternalID:    booking.ID,
			MatchType:     models.MatchBooking,
			SyncDirection: models.SyncBidirectional,
		}); err != nil {
			return err
		}
		return tx.MarkEventDone(ev.ID)
	})
	if err != nil {
		return err
	}

	logging.Info().
		Str("upstream", h.deps.Upstream).
		Str("booking_id", booking.ID).
		Str("reservation_id", res.ID).
		Msg("Created reservation from upstream booking")
	return nil
}

func (h *inboundHandlers) updateReservation(ctx context.Context, booking *models.UpstreamBooking, mapping *models.EntityMapping, roomTypeID, roomID, guestID string) error {
	local, err := h.deps.PMS.GetReservation(ctx, mapping.LocalID)
	if err != nil {
		return fmt.Errorf("load reservation %s: %w", mapping.LocalID, err)
	}

	if booking.ModifiedAt.After(local.UpdatedAt) {
		res := ReservationFromBooking(booking, roomTypeID, roomID, guestID, h.deps.Upstream)
		res.ID = local.ID
		res.CreatedAt = local.CreatedAt
		res.UpdatedAt = booking.ModifiedAt
		if err := h.deps.PMS.UpdateReservation(ctx, res); err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		return nil
	}

	// Local copy is not older. Hand the divergence to the conflict engine
	// instead of silently dropping the upstream version.
	c, err := h.deps.Conflicts.Evaluate(ctx, h.deps.Upstream, models.EntityReservation,
		local.ID, booking.ID,
		reservationFields(local), bookingFields(booking), conflictFields)
	if err != nil {
		return err
	}
	if c == nil || c.Resolution == nil {
		logging.Info().
			Str("upstream", h.deps.Upstream).
			Str("reservation_id", local.ID).
			Time("upstream_modified", booking.ModifiedAt).
			Time("local_modified", local.UpdatedAt).
			Msg("Skipped stale upstream booking update")
		return nil
	}

	applyResolvedFields(local, c.Resolution.ResolvedData)
	if err := h.deps.PMS.UpdateReservation(ctx, local); err != nil {
		return fmt.Errorf("apply conflict resolution: %w", err)
	}
	return nil
}

func (h *inboundHandlers) bookingCancelled(ctx context.Context, ev *models.SyncEvent, em *models.EventMessage) error {
	var booking models.UpstreamBooking
	if err := json.Unmarshal(em.Data, &booking); err != nil {
		return Permanent("undecodable booking payload", err)
	}

	mapping, err := h.deps.Store.Mappings().GetByExternal(ctx, h.deps.Upstream, models.EntityReservation, booking.ID)
	if errors.Is(err, store.ErrNotFound) {
		// Never synced; nothing to cancel.
		logging.Warn().
			Str("upstream", h.deps.Upstream).
			Str("booking_id", booking.ID).
			Msg("Cancellation for unmapped booking, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	local, err := h.deps.PMS.GetReservation(ctx, mapping.LocalID)
	if err != nil {
		return fmt.Errorf("load reservation %s: %w", mapping.LocalID, err)
	}
	if local.Status == models.ReservationCancelled {
		return nil
	}
	local.Status = models.ReservationCancelled
	local.Source = h.deps.Upstream
	if !booking.ModifiedAt.IsZero() {
		local.UpdatedAt = booking.ModifiedAt
	}
	if err := h.deps.PMS.UpdateReservation(ctx, local); err != nil {
		return fmt.Errorf("cancel reservation: %w", err)
	}
	logging.Info().
		Str("upstream", h.deps.Upstream).
		Str("reservation_id", local.ID).
		Msg("Cancelled reservation from upstream")
	return nil
}

// OutboundDeps are the collaborators the outbound handler set needs.
type OutboundDeps struct {
	Upstream channel.Upstream
	Store    *store.Store
	PMS      pms.PMS
}

// NewOutboundHandlers builds the handler set pushing PMS reservation
// changes to one upstream.
func NewOutboundHandlers(deps OutboundDeps) map[string]Handler {
	h := &outboundHandlers{deps: deps}
	return map[string]Handler{
		"reservation.created": h.pushReservation,
		"reservation.updated": h.pushReservation,
	}
}

type outboundHandlers struct {
	deps OutboundDeps
}

func (h *outboundHandlers) pushReservation(ctx context.Context, ev *models.SyncEvent, em *models.EventMessage) error {
	upstream := h.deps.Upstream.Name()

	res, err := h.deps.PMS.GetReservation(ctx, em.EntityID)
	if err != nil {
		if errors.Is(err, pms.ErrNotFound) {
			return Permanent("reservation "+em.EntityID+" does not exist", err)
		}
		return err
	}

	// A reservation that originated from this upstream does not go back.
	if res.Source == upstream {
		logging.Debug().
			Str("upstream", upstream).
			Str("reservation_id", res.ID).
			Msg("Skipping push of reservation sourced from target upstream")
		return nil
	}

	refs, err := h.resolveRefs(ctx, upstream, res)
	if err != nil {
		return err
	}

	externalID, err := h.deps.Upstream.PushReservation(ctx, res, refs, ev.IdempotencyKey)
	if err != nil {
		return classifyPushError(err)
	}

	if refs.BookingID == "" && externalID != "" {
		if err := h.deps.Store.Mappings().Upsert(ctx, &models.EntityMapping{
			Upstream:      upstream,
			EntityKind:    models.EntityReservation,
			LocalID:       res.ID,
			ExternalID:    externalID,
			MatchType:     models.MatchBooking,
			SyncDirection: models.SyncBidirectional,
		}); err != nil {
			return err
		}
	}
	return nil
}

// resolveRefs translates local IDs into the upstream's identifiers via the
// mapping table. A missing room type or customer mapping is retryable: the
// next sync run creates it.
func (h *outboundHandlers) resolveRefs(ctx context.Context, upstream string, res *models.Reservation) (channel.ExternalRefs, error) {
	mappings := h.deps.Store.Mappings()
	var refs channel.ExternalRefs

	rt, err := mappings.GetByLocal(ctx, upstream, models.EntityRoomType, res.RoomTypeID)
	if err != nil {
		return refs, fmt.Errorf("room type %s not mapped for %s: %w", res.RoomTypeID, upstream, err)
	}
	refs.RoomTypeID = rt.ExternalID

	if res.RoomID != "" {
		if room, err := mappings.GetByLocal(ctx, upstream, models.EntityRoom, res.RoomID); err == nil {
			refs.RoomID = room.ExternalID
		} else if !errors.Is(err, store.ErrNotFound) {
			return refs, err
		}
	}

	cust, err := mappings.GetByLocal(ctx, upstream, models.EntityCustomer, res.GuestID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return refs, err
		}
	} else {
		refs.CustomerID = cust.ExternalID
	}

	if existing, err := mappings.GetByLocal(ctx, upstream, models.EntityReservation, res.ID); err == nil {
		refs.BookingID = existing.ExternalID
	} else if !errors.Is(err, store.ErrNotFound) {
		return refs, err
	}
	return refs, nil
}

// classifyPushError maps client errors onto retry semantics: upstream-side
// trouble retries, our own bad request does not.
func classifyPushError(err error) error {
	var validationErr *channel.ValidationError
	if errors.As(err, &validationErr) {
		return Permanent("upstream rejected reservation", err)
	}
	var authErr *channel.AuthenticationError
	if errors.As(err, &authErr) {
		// Credentials may recover after rotation; keep retrying.
		return err
	}
	return err
}

// ReservationFromBooking builds a PMS reservation from an upstream booking
// with all external references already resolved to local IDs. The sync
// orchestrator and the inbound handlers share this conversion.
func ReservationFromBooking(b *models.UpstreamBooking, roomTypeID, roomID, guestID, source string) *models.Reservation {
	return &models.Reservation{
		RoomTypeID: roomTypeID,
		RoomID:     roomID,
		GuestID:    guestID,
		Status:     reservationStatus(b.Status),
		CheckIn:    b.CheckIn,
		CheckOut:   b.CheckOut,
		Adults:     b.Adults,
		Children:   b.Children,
		TotalPrice: b.TotalPrice,
		Currency:   b.Currency,
		Notes:      b.Notes,
		Source:     source,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.ModifiedAt,
	}
}

// reservationStatus maps the adapter-normalized booking status. Unknown
// values fall back to confirmed rather than dropping the booking.
func reservationStatus(s string) models.ReservationStatus {
	switch models.ReservationStatus(s) {
	case models.ReservationCancelled, models.ReservationCheckedIn, models.ReservationNoShow:
		return models.ReservationStatus(s)
	default:
		return models.ReservationConfirmed
	}
}

func reservationFields(r *models.Reservation) map[string]interface{} {
	return map[string]interface{}{
		"status":      string(r.Status),
		"notes":       r.Notes,
		"check_in":    r.CheckIn,
		"check_out":   r.CheckOut,
		"adults":      r.Adults,
		"children":    r.Children,
		"total_price": r.TotalPrice,
		"modified_at": r.UpdatedAt,
	}
}

func bookingFields(b *models.UpstreamBooking) map[string]interface{} {
	return map[string]interface{}{
		"status":      string(reservationStatus(b.Status)),
		"notes":       b.Notes,
		"check_in":    b.CheckIn,
		"check_out":   b.CheckOut,
		"adults":      b.Adults,
		"children":    b.Children,
		"total_price": b.TotalPrice,
		"modified_at": b.ModifiedAt,
	}
}

// applyResolvedFields copies a conflict resolution's outcome back onto the
// reservation. Only fields the engine compared are touched.
func applyResolvedFields(r *models.Reservation, data map[string]interface{}) {
	if v, ok := data["status"].(string); ok {
		r.Status = models.ReservationStatus(v)
	}
	if v, ok := data["notes"].(string); ok {
		r.Notes = v
	}
	if v, ok := data["adults"].(int); ok {
		r.Adults = v
	} else if v, ok := data["adults"].(float64); ok {
		r.Adults = int(v)
	}
	if v, ok := data["children"].(int); ok {
		r.Children = v
	} else if v, ok := data["children"].(float64); ok {
		r.Children = int(v)
	}
	if v, ok := data["total_price"].(float64); ok {
		r.TotalPrice = v
	}
}
