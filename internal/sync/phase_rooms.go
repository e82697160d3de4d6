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
)

// syncRooms reconciles the upstream's physical units. Rooms reference room
// types, so this phase depends on syncRoomTypes having run in the same pass.
// Upstreams that do not expose units return an empty listing.
func (o *Orchestrator) syncRooms(ctx context.Context, _ time.Time, result *models.PhaseResult) error {
	name := o.upstream.Name()

	rooms, err := o.upstream.FetchRooms(ctx)
	if err != nil {
		return fmt.Errorf("fetch rooms: %w", err)
	}

	mappings := o.store.Mappings()
	for i := range rooms {
		rm := &rooms[i]
		action, err := o.syncOneRoom(ctx, mappings, rm)
		if err != nil {
			logging.Warn().
				Err(err).
				Str("upstream", name).
				Str("external_id", rm.ID).
				Msg("Room sync failed")
		}
		result.Add(action, err)
	}
	return nil
}

func (o *Orchestrator) syncOneRoom(ctx context.Context, mappings *store.MappingStore, rm *models.UpstreamRoom) (models.PhaseAction, error) {
	name := o.upstream.Name()

	rtMapping, err := mappings.GetByExternal(ctx, name, models.EntityRoomType, rm.RoomTypeID)
	if err != nil {
		return models.ActionFailed, fmt.Errorf("room type %s not mapped: %w", rm.RoomTypeID, err)
	}

	mapping, err := mappings.GetByExternal(ctx, name, models.EntityRoom, rm.ID)
	if err == nil {
		local, err := o.pms.GetRoom(ctx, mapping.LocalID)
		if err != nil {
			return models.ActionFailed, fmt.Errorf("load room %s: %w", mapping.LocalID, err)
		}
		if local.Name == rm.Name && local.RoomTypeID == rtMapping.LocalID {
			return models.ActionSkipped, nil
		}
		local.Name = rm.Name
		local.RoomTypeID = rtMapping.LocalID
		local.UpdatedAt = time.Now().UTC()
		if err := o.pms.UpdateRoom(ctx, local); err != nil {
			return models.ActionFailed, err
		}
		return models.ActionUpdated, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.ActionFailed, err
	}

	local := &models.Room{
		RoomTypeID: rtMapping.LocalID,
		Name:       rm.Name,
	}
	if err := o.pms.CreateRoom(ctx, local); err != nil {
		return models.ActionFailed, err
	}
	if err := mappings.Upsert(ctx, &models.EntityMapping{
		Upstream:      name,
		EntityKind:    models.EntityRoom,
		LocalID:       local.ID,
		ExternalID:    rm.ID,
		MatchType:     models.MatchNew,
		SyncDirection: models.SyncBidirectional,
	}); err != nil {
		return models.ActionFailed, err
	}
	return models.ActionCreated, nil
}
