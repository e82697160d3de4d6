// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package match

import (
	"context"
	"testing"

	"github.com/stayward/channelsync/internal/models"
	"github.com/stayward/channelsync/internal/pms"
	"github.com/stayward/channelsync/internal/store"
)

func testDeps(t *testing.T) (*pms.Memory, *store.MappingStore) {
	t.Helper()
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return pms.NewMemory(), s.Mappings()
}

func TestScoreName(t *testing.T) {
	tests := []struct {
		query, candidate string
		want             int
	}{
		{"Maria Schmidt", "maria schmidt", 100},
		{"Maria Schmidt", "Maria Schmidt-Gonzalez", 100},
		{"maria", "Maria Schmidt", 50},
		{"Jon Smith", "Jonathan Smith", 100},
		{"Anna Lee", "Bob Jones", 0},
		{"", "anyone", 0},
	}
	for _, tc := range tests {
		if got := ScoreName(tc.query, tc.candidate); got != tc.want {
			t.Errorf("ScoreName(%q, %q) = %d, want %d", tc.query, tc.candidate, got, tc.want)
		}
	}
}

func TestMatchCustomer_EmailWinsOverName(t *testing.T) {
	guests, mappings := testDeps(t)
	ctx := context.Background()

	byEmail := &models.Guest{FirstName: "Hans", LastName: "Weber", Email: "hw@example.com"}
	if err := guests.CreateGuest(ctx, byEmail); err != nil {
		t.Fatal(err)
	}
	byName := &models.Guest{FirstName: "Maria", LastName: "Schmidt"}
	if err := guests.CreateGuest(ctx, byName); err != nil {
		t.Fatal(err)
	}

	m := NewMatcher(guests, mappings, DefaultConfig())
	res, err := m.MatchCustomer(ctx, "beds24", &models.UpstreamCustomer{
		ID:        "ext-1",
		FirstName: "Maria",
		LastName:  "Schmidt",
		Email:     "HW@Example.COM",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.MatchType != models.MatchEmail {
		t.Fatalf("expected email match, got %s", res.MatchType)
	}
	if res.Guest.ID != byEmail.ID {
		t.Errorf("email match must win over name match")
	}
	if res.Mapping == nil || res.Mapping.ExternalID != "ext-1" {
		t.Errorf("mapping missing or wrong: %+v", res.Mapping)
	}
}

func TestMatchCustomer_PhoneNormalization(t *testing.T) {
	guests, mappings := testDeps(t)
	ctx := context.Background()

	g := &models.Guest{FirstName: "Ivo", LastName: "Petrov", Phone: "+49 (30) 123-45.67"}
	if err := guests.CreateGuest(ctx, g); err != nil {
		t.Fatal(err)
	}

	m := NewMatcher(guests, mappings, DefaultConfig())
	res, err := m.MatchCustomer(ctx, "beds24", &models.UpstreamCustomer{
		ID:    "ext-2",
		Phone: "+49301234567",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.MatchType != models.MatchPhone || res.Guest.ID != g.ID {
		t.Errorf("expected phone match on %s, got %+v", g.ID, res)
	}
}

func TestMatchCustomer_FuzzyNameThreshold(t *testing.T) {
	guests, mappings := testDeps(t)
	ctx := context.Background()

	g := &models.Guest{FirstName: "Jonathan", LastName: "Smith"}
	if err := guests.CreateGuest(ctx, g); err != nil {
		t.Fatal(err)
	}

	m := NewMatcher(guests, mappings, DefaultConfig())

	res, err := m.MatchCustomer(ctx, "beds24", &models.UpstreamCustomer{
		ID: "ext-3", FirstName: "Jon", LastName: "Smith",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.MatchType != models.MatchName || res.Guest.ID != g.ID {
		t.Fatalf("expected fuzzy name match, got %+v", res)
	}
	if res.Score < DefaultMinScore {
		t.Errorf("accepted score below threshold: %d", res.Score)
	}

	// A name sharing only the first token scores below the threshold and
	// falls through to creation.
	res, err = m.MatchCustomer(ctx, "beds24", &models.UpstreamCustomer{
		ID: "ext-4", FirstName: "Jonathan", LastName: "Baker",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.MatchType != models.MatchNew || !res.Created {
		t.Errorf("expected creation for sub-threshold name, got %+v", res)
	}
	if res.Guest.ID == g.ID {
		t.Error("sub-threshold match must not reuse the existing guest")
	}
}

func TestMatchCustomer_ExistingMappingShortCircuits(t *testing.T) {
	guests, mappings := testDeps(t)
	ctx := context.Background()

	m := NewMatcher(guests, mappings, DefaultConfig())
	first, err := m.MatchCustomer(ctx, "beds24", &models.UpstreamCustomer{
		ID: "ext-5", FirstName: "Eva", LastName: "Novak", Email: "eva@example.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Created {
		t.Fatalf("expected creation on first sight, got %+v", first)
	}

	// Same external customer again, now with a different email: the mapping
	// resolves it without consulting the email index.
	second, err := m.MatchCustomer(ctx, "beds24", &models.UpstreamCustomer{
		ID: "ext-5", FirstName: "Eva", LastName: "Novak", Email: "other@example.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.Guest.ID != first.Guest.ID {
		t.Errorf("existing mapping must short-circuit: %s vs %s", second.Guest.ID, first.Guest.ID)
	}
	if second.Created {
		t.Error("second resolution must not create")
	}
}

func TestMatchCustomer_UnknownGuestSingleton(t *testing.T) {
	guests, mappings := testDeps(t)
	ctx := context.Background()

	m := NewMatcher(guests, mappings, DefaultConfig())

	a, err := m.MatchCustomer(ctx, "beds24", &models.UpstreamCustomer{ID: "ext-6"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.MatchCustomer(ctx, "beds24", &models.UpstreamCustomer{ID: "ext-7"})
	if err != nil {
		t.Fatal(err)
	}

	if a.MatchType != models.MatchUnknown || b.MatchType != models.MatchUnknown {
		t.Fatalf("expected unknown-guest resolutions, got %s and %s", a.MatchType, b.MatchType)
	}
	if a.Guest.ID != b.Guest.ID {
		t.Error("unknown guest must be a singleton")
	}

	// Both external identities stay resolvable despite the shared local.
	for _, ext := range []string{"ext-6", "ext-7"} {
		mp, err := mappings.GetByExternal(ctx, "beds24", models.EntityCustomer, ext)
		if err != nil {
			t.Errorf("mapping for %s lost: %v", ext, err)
			continue
		}
		if mp.LocalID != a.Guest.ID {
			t.Errorf("mapping for %s points at %s, want %s", ext, mp.LocalID, a.Guest.ID)
		}
	}
}

func TestMatchCustomer_NonDestructiveMerge(t *testing.T) {
	guests, mappings := testDeps(t)
	ctx := context.Background()

	g := &models.Guest{FirstName: "Maria", LastName: "Schmidt", Email: "ms@example.com", City: "Berlin"}
	if err := guests.CreateGuest(ctx, g); err != nil {
		t.Fatal(err)
	}

	m := NewMatcher(guests, mappings, DefaultConfig())
	res, err := m.MatchCustomer(ctx, "beds24", &models.UpstreamCustomer{
		ID:        "ext-8",
		FirstName: "Maria",
		LastName:  "Schmidt Gonzalez",
		Email:     "ms@example.com",
		Phone:     "+49123",
		City:      "Hamburg",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := guests.GetGuest(ctx, res.Guest.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Phone != "+49123" {
		t.Errorf("blank phone must be filled, got %q", got.Phone)
	}
	if got.City != "Berlin" {
		t.Errorf("populated city must not be overwritten, got %q", got.City)
	}
	if got.LastName != "Schmidt Gonzalez" {
		t.Errorf("longer name carrying all current tokens must win, got %q", got.LastName)
	}
}

func TestMatchCustomer_NoMatchWithoutCreation(t *testing.T) {
	guests, mappings := testDeps(t)
	ctx := context.Background()

	m := NewMatcher(guests, mappings, Config{MinScore: DefaultMinScore, CreateMissing: false})
	_, err := m.MatchCustomer(ctx, "beds24", &models.UpstreamCustomer{
		ID: "ext-9", FirstName: "Nobody", LastName: "Home",
	})
	if err != ErrNoMatch {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}
