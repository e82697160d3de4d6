// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stayward/channelsync/internal/logging"
	"github.com/stayward/channelsync/internal/models"
	"github.com/stayward/channelsync/internal/store"
	"github.com/stayward/channelsync/internal/worker"
)

// syncReservations pulls bookings modified since the cursor and applies
// them last-writer-wins: an upstream booking older than the local record is
// skipped, never overwritten. Finer-grained conflict handling belongs to
// the event workers; the batch phase only needs to converge.
func (o *Orchestrator) syncReservations(ctx context.Context, since time.Time, result *models.PhaseResult) error {
	name := o.upstream.Name()

	bookings, err := o.upstream.FetchBookingsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("fetch bookings: %w", err)
	}

	mappings := o.store.Mappings()
	for i := range bookings {
		b := &bookings[i]
		action, err := o.syncOneBooking(ctx, mappings, b)
		if err != nil {
			logging.Warn().
				Err(err).
				Str("upstream", name).
				Str("external_id", b.ID).
				Msg("Reservation sync failed")
		}
		result.Add(action, err)
	}
	return nil
}

func (o *Orchestrator) syncOneBooking(ctx context.Context, mappings *store.MappingStore, b *models.UpstreamBooking) (models.PhaseAction, error) {
	name := o.upstream.Name()

	rtMapping, err := mappings.GetByExternal(ctx, name, models.EntityRoomType, b.RoomTypeID)
	if err != nil {
		return models.ActionFailed, fmt.Errorf("room type %s not mapped: %w", b.RoomTypeID, err)
	}

	roomID := ""
	if b.RoomID != "" {
		if rm, err := mappings.GetByExternal(ctx, name, models.EntityRoom, b.RoomID); err == nil {
			roomID = rm.LocalID
		}
	}

	customer := b.Customer
	if customer == nil {
		customer = &models.UpstreamCustomer{ID: b.CustomerID}
	}
	matched, err := o.matcher.MatchCustomer(ctx, name, customer)
	if err != nil {
		return models.ActionFailed, fmt.Errorf("match customer: %w", err)
	}

	mapping, err := mappings.GetByExternal(ctx, name, models.EntityReservation, b.ID)
	if err == nil {
		return o.updateReservation(ctx, mapping, b, rtMapping.LocalID, roomID, matched.Guest.ID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.ActionFailed, err
	}

	res := worker.ReservationFromBooking(b, rtMapping.LocalID, roomID, matched.Guest.ID, name)
	if err := o.pms.CreateReservation(ctx, res); err != nil {
		return models.ActionFailed, err
	}
	if err := mappings.Upsert(ctx, &models.EntityMapping{
		Upstream:      name,
		EntityKind:    models.EntityReservation,
		LocalID:       res.ID,
		ExternalID:    b.ID,
		MatchType:     models.MatchBooking,
		SyncDirection: models.SyncBidirectional,
	}); err != nil {
		return models.ActionFailed, err
	}
	return models.ActionCreated, nil
}

func (o *Orchestrator) updateReservation(ctx context.Context, mapping *models.EntityMapping, b *models.UpstreamBooking, roomTypeID, roomID, guestID string) (models.PhaseAction, error) {
	local, err := o.pms.GetReservation(ctx, mapping.LocalID)
	if err != nil {
		return models.ActionFailed, fmt.Errorf("load reservation %s: %w", mapping.LocalID, err)
	}

	if !b.ModifiedAt.After(local.UpdatedAt) {
		logging.Debug().
			Str("upstream", o.upstream.Name()).
			Str("reservation_id", local.ID).
			Time("local_updated_at", local.UpdatedAt).
			Time("booking_modified_at", b.ModifiedAt).
			Msg("Skipping stale booking update")
		return models.ActionSkipped, nil
	}

	res := worker.ReservationFromBooking(b, roomTypeID, roomID, guestID, o.upstream.Name())
	res.ID = local.ID
	res.CreatedAt = local.CreatedAt
	if err := o.pms.UpdateReservation(ctx, res); err != nil {
		return models.ActionFailed, err
	}
	return models.ActionUpdated, nil
}
