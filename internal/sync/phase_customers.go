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

// syncCustomers runs the matching pipeline over the upstream's guest
// profiles. The phase always does a full listing: profiles are cheap to
// fetch and re-matching an already mapped customer is a no-op.
func (o *Orchestrator) syncCustomers(ctx context.Context, _ time.Time, result *models.PhaseResult) error {
	name := o.upstream.Name()

	customers, err := o.upstream.FetchCustomers(ctx, time.Time{})
	if err != nil {
		return fmt.Errorf("fetch customers: %w", err)
	}

	mappings := o.store.Mappings()
	for i := range customers {
		c := &customers[i]

		known := false
		if c.ID != "" {
			if _, err := mappings.GetByExternal(ctx, name, models.EntityCustomer, c.ID); err == nil {
				known = true
			} else if !errors.Is(err, store.ErrNotFound) {
				result.Add(models.ActionFailed, err)
				continue
			}
		}

		res, err := o.matcher.MatchCustomer(ctx, name, c)
		if err != nil {
			logging.Warn().
				Err(err).
				Str("upstream", name).
				Str("external_id", c.ID).
				Msg("Customer match failed")
			result.Add(models.ActionFailed, err)
			continue
		}
		switch {
		case known:
			result.Add(models.ActionSkipped, nil)
		case res.Created:
			result.Add(models.ActionCreated, nil)
		default:
			result.Add(models.ActionUpdated, nil)
		}
	}
	return nil
}
