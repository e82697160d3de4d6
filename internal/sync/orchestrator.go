// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

// Package sync orchestrates the phased pull from upstream channel managers
// and the outbound push of PMS changes. Phases run strictly in dependency
// order: room types, rooms, customers, then reservations, because a
// reservation mapping needs both a room type mapping and a customer mapping
// to exist.
package sync

import (
	"context"
	"time"

	"github.com/stayward/channelsync/internal/channel"
	"github.com/stayward/channelsync/internal/logging"
	"github.com/stayward/channelsync/internal/match"
	"github.com/stayward/channelsync/internal/metrics"
	"github.com/stayward/channelsync/internal/models"
	"github.com/stayward/channelsync/internal/pms"
	"github.com/stayward/channelsync/internal/store"
	"github.com/stayward/channelsync/internal/worker"
)

// Orchestrator runs full and incremental syncs against one upstream.
type Orchestrator struct {
	upstream  channel.Upstream
	store     *store.Store
	pms       pms.PMS
	matcher   *match.Matcher
	publisher *worker.EventPublisher
}

// NewOrchestrator wires an orchestrator for one upstream. publisher may be
// nil in tests; post-commit events are then skipped.
func NewOrchestrator(upstream channel.Upstream, s *store.Store, p pms.PMS, matcher *match.Matcher, publisher *worker.EventPublisher) *Orchestrator {
	return &Orchestrator{
		upstream:  upstream,
		store:     s,
		pms:       p,
		matcher:   matcher,
		publisher: publisher,
	}
}

type phase struct {
	kind models.EntityKind
	run  func(ctx context.Context, since time.Time, result *models.PhaseResult) error
	// incremental phases honor the since cursor; the cheap phases re-run
	// in full every time to catch new entities.
	incremental bool
}

// FullSync pulls all four entity kinds from the upstream. A phase-level
// failure is recorded against that kind's sync state and aborts the phase,
// not the run: later phases still execute with whatever mappings exist.
func (o *Orchestrator) FullSync(ctx context.Context) (*models.FullSyncResult, error) {
	name := o.upstream.Name()
	states := o.store.States()

	result := &models.FullSyncResult{
		Upstream:  name,
		StartedAt: time.Now().UTC(),
	}

	phases := []phase{
		{kind: models.EntityRoomType, run: o.syncRoomTypes},
		{kind: models.EntityRoom, run: o.syncRooms},
		{kind: models.EntityCustomer, run: o.syncCustomers},
		{kind: models.EntityReservation, run: o.syncReservations, incremental: true},
	}

	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var since time.Time
		state, err := states.Get(ctx, name, p.kind)
		if err != nil {
			return result, err
		}
		if p.incremental && !state.LastSuccessfulSyncAt.IsZero() {
			since = state.LastSuccessfulSyncAt
			result.Incremental = true
		}

		pr := models.PhaseResult{Phase: p.kind}
		started := time.Now()
		runErr := p.run(ctx, since, &pr)
		pr.Duration = time.Since(started)

		metrics.SyncPhaseDuration.WithLabelValues(name, string(p.kind)).Observe(pr.Duration.Seconds())
		o.recordPhaseMetrics(name, &pr)

		if runErr != nil {
			if err := states.RecordFailure(ctx, name, p.kind, runErr.Error()); err != nil {
				logging.Error().Err(err).Msg("Failed to record sync state failure")
			}
			logging.Error().
				Err(runErr).
				Str("upstream", name).
				Str("phase", string(p.kind)).
				Msg("Sync phase aborted")
			pr.Errors = append(pr.Errors, runErr.Error())
			result.Phases = append(result.Phases, pr)
			continue
		}

		if err := states.RecordSuccess(ctx, name, p.kind, result.StartedAt); err != nil {
			return result, err
		}
		logging.Info().
			Str("upstream", name).
			Str("phase", string(p.kind)).
			Int("processed", pr.Processed).
			Int("synced", pr.Synced).
			Int("skipped", pr.Skipped).
			Int("failed", pr.Failed).
			Msg("Sync phase complete")
		result.Phases = append(result.Phases, pr)
	}

	result.FinishedAt = time.Now().UTC()
	return result, nil
}

func (o *Orchestrator) recordPhaseMetrics(upstream string, pr *models.PhaseResult) {
	kind := string(pr.Phase)
	if pr.Synced > 0 {
		metrics.SyncPhaseEntities.WithLabelValues(upstream, kind, "synced").Add(float64(pr.Synced))
	}
	if pr.Skipped > 0 {
		metrics.SyncPhaseEntities.WithLabelValues(upstream, kind, "skipped").Add(float64(pr.Skipped))
	}
	if pr.Failed > 0 {
		metrics.SyncPhaseEntities.WithLabelValues(upstream, kind, "failed").Add(float64(pr.Failed))
	}
}
