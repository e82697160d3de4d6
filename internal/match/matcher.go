// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/stayward/channelsync/internal/logging"
	"github.com/stayward/channelsync/internal/metrics"
	"github.com/stayward/channelsync/internal/models"
	"github.com/stayward/channelsync/internal/pms"
	"github.com/stayward/channelsync/internal/store"
)

// unknownGuestEmail identifies the reserved singleton guest that collects
// upstream bookings arriving without any identifying information.
const unknownGuestEmail = "unknown-guest@channelsync.local"

// ErrNoMatch is returned when nothing matched and creation is disabled.
var ErrNoMatch = errors.New("match: no matching guest")

// Config tunes the matcher.
type Config struct {
	// MinScore is the fuzzy-name acceptance threshold (0-100).
	MinScore int
	// CreateMissing creates a new local guest when the chain finds nothing.
	CreateMissing bool
}

func DefaultConfig() Config {
	return Config{MinScore: DefaultMinScore, CreateMissing: true}
}

// Result describes how one upstream customer was resolved.
type Result struct {
	Guest     *models.Guest
	Mapping   *models.EntityMapping
	MatchType models.MatchType
	Score     int
	Created   bool
}

// Matcher resolves upstream customers to local guests and records exactly
// one mapping per resolution.
type Matcher struct {
	guests   pms.GuestStore
	mappings *store.MappingStore
	cfg      Config
}

func NewMatcher(guests pms.GuestStore, mappings *store.MappingStore, cfg Config) *Matcher {
	if cfg.MinScore <= 0 {
		cfg.MinScore = DefaultMinScore
	}
	return &Matcher{guests: guests, mappings: mappings, cfg: cfg}
}

// MatchCustomer resolves one upstream customer. The priority chain is:
// existing mapping, exact email, normalized phone, fuzzy name, then creation
// (or the unknown-guest singleton when the payload has no identity at all).
func (m *Matcher) MatchCustomer(ctx context.Context, upstream string, c *models.UpstreamCustomer) (*Result, error) {
	if c.ID != "" {
		if mapping, err := m.mappings.GetByExternal(ctx, upstream, models.EntityCustomer, c.ID); err == nil {
			return m.resolveExisting(ctx, mapping, c)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	if email := NormalizeEmail(c.Email); email != "" {
		g, err := m.guests.FindGuestByEmail(ctx, email)
		if err == nil {
			return m.record(ctx, upstream, c, g, models.MatchEmail, 100)
		}
		if !errors.Is(err, pms.ErrNotFound) {
			return nil, err
		}
	}

	if phone := NormalizePhone(c.Phone); phone != "" {
		g, err := m.guests.FindGuestByPhone(ctx, phone)
		if err == nil {
			return m.record(ctx, upstream, c, g, models.MatchPhone, 100)
		}
		if !errors.Is(err, pms.ErrNotFound) {
			return nil, err
		}
	}

	if name := c.FullName(); name != "" {
		g, score, err := m.bestNameMatch(ctx, name)
		if err != nil {
			return nil, err
		}
		if g != nil {
			return m.record(ctx, upstream, c, g, models.MatchName, score)
		}
	}

	if c.Email == "" && c.Phone == "" && c.FullName() == "" {
		return m.unknownGuest(ctx, upstream, c)
	}

	if !m.cfg.CreateMissing {
		return nil, ErrNoMatch
	}
	return m.create(ctx, upstream, c)
}

// resolveExisting refreshes an already-mapped guest with any new
// non-destructive fields from the upstream payload.
func (m *Matcher) resolveExisting(ctx context.Context, mapping *models.EntityMapping, c *models.UpstreamCustomer) (*Result, error) {
	g, err := m.guests.GetGuest(ctx, mapping.LocalID)
	if err != nil {
		return nil, fmt.Errorf("load mapped guest %s: %w", mapping.LocalID, err)
	}
	if mergeGuestFields(g, c) {
		if err := m.guests.UpdateGuest(ctx, g); err != nil {
			return nil, err
		}
	}
	return &Result{Guest: g, Mapping: mapping, MatchType: mapping.MatchType, Score: mapping.MatchScore}, nil
}

func (m *Matcher) bestNameMatch(ctx context.Context, name string) (*models.Guest, int, error) {
	guests, err := m.guests.ListGuests(ctx)
	if err != nil {
		return nil, 0, err
	}
	var (
		best      *models.Guest
		bestScore int
	)
	for i := range guests {
		g := &guests[i]
		if !FirstTokenCandidate(name, g.FullName()) {
			continue
		}
		score := ScoreName(name, g.FullName())
		if score > bestScore {
			best = g
			bestScore = score
		}
	}
	if best == nil || bestScore < m.cfg.MinScore {
		return nil, 0, nil
	}
	return best, bestScore, nil
}

// record persists the mapping for a successful match and merges
// non-destructive fields into the matched guest.
func (m *Matcher) record(ctx context.Context, upstream string, c *models.UpstreamCustomer, g *models.Guest, matchType models.MatchType, score int) (*Result, error) {
	if mergeGuestFields(g, c) {
		if err := m.guests.UpdateGuest(ctx, g); err != nil {
			return nil, err
		}
	}

	mapping := &models.EntityMapping{
		Upstream:      upstream,
		EntityKind:    models.EntityCustomer,
		LocalID:       g.ID,
		ExternalID:    c.ID,
		MatchType:     matchType,
		MatchScore:    score,
		SyncDirection: models.SyncBidirectional,
	}
	if err := m.mappings.Upsert(ctx, mapping); err != nil {
		return nil, err
	}
	metrics.EntityMatches.WithLabelValues(string(matchType)).Inc()
	logging.Debug().
		Str("upstream", upstream).
		Str("external_id", c.ID).
		Str("guest_id", g.ID).
		Str("match_type", string(matchType)).
		Int("score", score).
		Msg("Customer matched")
	return &Result{Guest: g, Mapping: mapping, MatchType: matchType, Score: score}, nil
}

func (m *Matcher) create(ctx context.Context, upstream string, c *models.UpstreamCustomer) (*Result, error) {
	g := &models.Guest{
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     NormalizeEmail(c.Email),
		Phone:     c.Phone,
		Address:   c.Address,
		City:      c.City,
		Country:   c.Country,
	}
	if err := m.guests.CreateGuest(ctx, g); err != nil {
		return nil, err
	}

	mapping := &models.EntityMapping{
		Upstream:      upstream,
		EntityKind:    models.EntityCustomer,
		LocalID:       g.ID,
		ExternalID:    c.ID,
		MatchType:     models.MatchNew,
		SyncDirection: models.SyncBidirectional,
	}
	if err := m.mappings.Upsert(ctx, mapping); err != nil {
		return nil, err
	}
	metrics.EntityMatches.WithLabelValues(string(models.MatchNew)).Inc()
	logging.Info().
		Str("upstream", upstream).
		Str("external_id", c.ID).
		Str("guest_id", g.ID).
		Msg("Created new guest for unmatched customer")
	return &Result{Guest: g, Mapping: mapping, MatchType: models.MatchNew, Created: true}, nil
}

// unknownGuest resolves to the reserved singleton. Its mapping claims only
// the external identity: many upstream customers can share the singleton.
func (m *Matcher) unknownGuest(ctx context.Context, upstream string, c *models.UpstreamCustomer) (*Result, error) {
	g, err := m.guests.FindGuestByEmail(ctx, unknownGuestEmail)
	if errors.Is(err, pms.ErrNotFound) {
		g = &models.Guest{FirstName: "Unknown", LastName: "Guest", Email: unknownGuestEmail}
		if err := m.guests.CreateGuest(ctx, g); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	result := &Result{Guest: g, MatchType: models.MatchUnknown}
	if c.ID != "" {
		mapping := &models.EntityMapping{
			Upstream:      upstream,
			EntityKind:    models.EntityCustomer,
			LocalID:       g.ID,
			ExternalID:    c.ID,
			MatchType:     models.MatchUnknown,
			SyncDirection: models.SyncPullOnly,
		}
		if err := m.mappings.UpsertSharedLocal(ctx, mapping); err != nil {
			return nil, err
		}
		result.Mapping = mapping
	}
	metrics.EntityMatches.WithLabelValues(string(models.MatchUnknown)).Inc()
	logging.Warn().
		Str("upstream", upstream).
		Str("external_id", c.ID).
		Msg("Customer has no identifying fields, using unknown guest")
	return result, nil
}

// mergeGuestFields copies upstream fields into local blanks. A populated
// local field is never overwritten, except the name when the upstream
// version extends it (same tokens plus more).
func mergeGuestFields(g *models.Guest, c *models.UpstreamCustomer) bool {
	changed := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&g.Email, NormalizeEmail(c.Email))
	fill(&g.Phone, c.Phone)
	fill(&g.Address, c.Address)
	fill(&g.City, c.City)
	fill(&g.Country, c.Country)
	fill(&g.FirstName, c.FirstName)
	fill(&g.LastName, c.LastName)

	if nameExtends(c.FullName(), g.FullName()) {
		g.FirstName = c.FirstName
		g.LastName = c.LastName
		changed = true
	}
	return changed
}

// nameExtends reports whether the candidate name carries every token of the
// current name plus at least one more.
func nameExtends(candidate, current string) bool {
	cand := NameTokens(candidate)
	cur := NameTokens(current)
	if len(cand) <= len(cur) || len(cur) == 0 {
		return false
	}
	for _, t := range cur {
		found := false
		for _, ct := range cand {
			if ct == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
