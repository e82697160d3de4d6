// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package conflict

import (
	"context"
	"fmt"

	"github.com/stayward/channelsync/internal/logging"
	"github.com/stayward/channelsync/internal/metrics"
	"github.com/stayward/channelsync/internal/models"
	"github.com/stayward/channelsync/internal/store"
)

// Config selects a resolution strategy per entity kind. Kinds without an
// explicit entry use Default, which itself defaults to pms_wins.
type Config struct {
	Strategies map[models.EntityKind]models.ResolutionStrategy
	Default    models.ResolutionStrategy
	Merge      MergeRules
}

func (c Config) strategyFor(kind models.EntityKind) models.ResolutionStrategy {
	if s, ok := c.Strategies[kind]; ok {
		return s
	}
	if c.Default != "" {
		return c.Default
	}
	return models.StrategyPMSWins
}

// Engine evaluates entity pairs for conflicts and persists every detected
// conflict with its resolution for audit. Manual-strategy conflicts are
// parked as pending_review for operator tooling.
type Engine struct {
	conflicts *store.ConflictStore
	cfg       Config
}

func NewEngine(s *store.Store, cfg Config) *Engine {
	return &Engine{conflicts: s.Conflicts(), cfg: cfg}
}

// Evaluate detects field conflicts between the local and external versions
// of one entity. It returns nil when the versions agree. Otherwise the
// conflict is resolved per the configured strategy (or parked for review),
// persisted, and returned with its resolution attached.
func (e *Engine) Evaluate(ctx context.Context, upstream string, kind models.EntityKind, localID, externalID string, local, external map[string]interface{}, fields []string) (*models.SyncConflict, error) {
	conflicting := DetectConflicts(local, external, fields)
	if len(conflicting) == 0 {
		return nil, nil
	}

	strategy := e.cfg.strategyFor(kind)
	metrics.ConflictsDetected.WithLabelValues(string(kind), string(strategy)).Inc()

	c := &models.SyncConflict{
		Upstream:          upstream,
		EntityType:        kind,
		LocalID:           localID,
		ExternalID:        externalID,
		LocalData:         local,
		ExternalData:      external,
		ConflictingFields: conflicting,
	}

	resolution, err := Resolve(c, strategy, e.cfg.Merge)
	if err != nil {
		return nil, err
	}

	if resolution == nil {
		c.Status = models.ConflictPendingReview
		if err := e.conflicts.Insert(ctx, c); err != nil {
			return nil, fmt.Errorf("persist conflict: %w", err)
		}
		logging.Warn().
			Str("upstream", upstream).
			Str("entity_type", string(kind)).
			Str("local_id", localID).
			Str("external_id", externalID).
			Strs("fields", conflicting).
			Msg("Conflict parked for manual review")
		return c, nil
	}

	c.Status = models.ConflictResolved
	c.Resolution = resolution
	if err := e.conflicts.Insert(ctx, c); err != nil {
		return nil, fmt.Errorf("persist conflict: %w", err)
	}
	logging.Info().
		Str("upstream", upstream).
		Str("entity_type", string(kind)).
		Str("local_id", localID).
		Str("strategy", string(strategy)).
		Str("rationale", resolution.Rationale).
		Msg("Conflict resolved")
	return c, nil
}
