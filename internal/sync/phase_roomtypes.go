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

// syncRoomTypes pulls the upstream's product list and reconciles it against
// local room types. Listing failure aborts the phase; a single bad entity
// only fails that entity.
func (o *Orchestrator) syncRoomTypes(ctx context.Context, _ time.Time, result *models.PhaseResult) error {
	name := o.upstream.Name()

	roomTypes, err := o.upstream.FetchRoomTypes(ctx)
	if err != nil {
		return fmt.Errorf("fetch room types: %w", err)
	}

	mappings := o.store.Mappings()
	for i := range roomTypes {
		rt := &roomTypes[i]
		action, err := o.syncOneRoomType(ctx, mappings, rt)
		if err != nil {
			logging.Warn().
				Err(err).
				Str("upstream", name).
				Str("external_id", rt.ID).
				Msg("Room type sync failed")
		}
		result.Add(action, err)
	}
	return nil
}

func (o *Orchestrator) syncOneRoomType(ctx context.Context, mappings *store.MappingStore, rt *models.UpstreamRoomType) (models.PhaseAction, error) {
	name := o.upstream.Name()

	mapping, err := mappings.GetByExternal(ctx, name, models.EntityRoomType, rt.ID)
	if err == nil {
		local, err := o.pms.GetRoomType(ctx, mapping.LocalID)
		if err != nil {
			return models.ActionFailed, fmt.Errorf("load room type %s: %w", mapping.LocalID, err)
		}
		if local.Name == rt.Name && local.MaxGuests == rt.MaxGuests && local.BasePrice == rt.BasePrice {
			return models.ActionSkipped, nil
		}
		local.Name = rt.Name
		local.MaxGuests = rt.MaxGuests
		local.BasePrice = rt.BasePrice
		local.UpdatedAt = time.Now().UTC()
		if err := o.pms.UpdateRoomType(ctx, local); err != nil {
			return models.ActionFailed, err
		}
		return models.ActionUpdated, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.ActionFailed, err
	}

	local := &models.RoomType{
		Name:      rt.Name,
		MaxGuests: rt.MaxGuests,
		BasePrice: rt.BasePrice,
	}
	if err := o.pms.CreateRoomType(ctx, local); err != nil {
		return models.ActionFailed, err
	}
	if err := mappings.Upsert(ctx, &models.EntityMapping{
		Upstream:      name,
		EntityKind:    models.EntityRoomType,
		LocalID:       local.ID,
		ExternalID:    rt.ID,
		MatchType:     models.MatchNew,
		SyncDirection: models.SyncBidirectional,
	}); err != nil {
		return models.ActionFailed, err
	}
	return models.ActionCreated, nil
}
