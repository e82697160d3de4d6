// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/stayward/channelsync/internal/logging"
	"github.com/stayward/channelsync/internal/models"
	"github.com/stayward/channelsync/internal/pms"
	"github.com/stayward/channelsync/internal/store"
	"github.com/stayward/channelsync/internal/worker"
)

// outboundCursorKind keys the pusher's sweep cursor in the sync state
// store, separate from the reservation pull cursor.
const outboundCursorKind models.EntityKind = "reservation_outbound"

const defaultPushPriority = 5

// Pusher sweeps the PMS for reservations modified since the last sweep and
// publishes one outbound event per change. Reservations whose Source is the
// target upstream are excluded at the PMS layer so that inbound writes never
// echo back out.
type Pusher struct {
	upstream  string
	store     *store.Store
	pms       pms.PMS
	publisher *worker.EventPublisher
}

// NewPusher wires an outbound sweep for one upstream.
func NewPusher(upstream string, s *store.Store, p pms.PMS, publisher *worker.EventPublisher) *Pusher {
	return &Pusher{
		upstream:  upstream,
		store:     s,
		pms:       p,
		publisher: publisher,
	}
}

// Sweep publishes outbound events for every reservation modified since the
// stored cursor. Publishing is idempotent at the broker and at the worker:
// re-sweeping an unchanged window produces duplicate idempotency keys that
// the outbound consumer acknowledges without a second push.
func (p *Pusher) Sweep(ctx context.Context) (int, error) {
	states := p.store.States()

	state, err := states.Get(ctx, p.upstream, outboundCursorKind)
	if err != nil {
		return 0, err
	}
	started := time.Now().UTC()

	modified, err := p.pms.ListModifiedSince(ctx, state.LastSuccessfulSyncAt, p.upstream)
	if err != nil {
		if rerr := states.RecordFailure(ctx, p.upstream, outboundCursorKind, err.Error()); rerr != nil {
			logging.Error().Err(rerr).Msg("Failed to record pusher sweep failure")
		}
		return 0, fmt.Errorf("list modified reservations: %w", err)
	}

	published := 0
	for i := range modified {
		res := &modified[i]
		eventType := "reservation.updated"
		if res.CreatedAt.After(state.LastSuccessfulSyncAt) {
			eventType = "reservation.created"
		}

		em := &models.EventMessage{
			EventType:      eventType,
			Source:         "pms",
			EntityType:     models.EntityReservation,
			EntityID:       res.ID,
			IdempotencyKey: worker.IdempotencyKey("pms", eventType, res.ID, res.UpdatedAt),
			OccurredAt:     res.UpdatedAt,
		}
		if err := p.publisher.PublishOutbound(ctx, em, defaultPushPriority); err != nil {
			if rerr := states.RecordFailure(ctx, p.upstream, outboundCursorKind, err.Error()); rerr != nil {
				logging.Error().Err(rerr).Msg("Failed to record pusher sweep failure")
			}
			return published, fmt.Errorf("publish outbound event for %s: %w", res.ID, err)
		}
		published++
	}

	if err := states.RecordSuccess(ctx, p.upstream, outboundCursorKind, started); err != nil {
		return published, err
	}
	if published > 0 {
		logging.Info().
			Str("upstream", p.upstream).
			Int("published", published).
			Msg("Outbound sweep complete")
	}
	return published, nil
}
