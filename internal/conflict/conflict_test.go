// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package conflict

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stayward/channelsync/internal/models"
	"github.com/stayward/channelsync/internal/store"
)

func TestDetectConflicts_IdenticalMapsProduceNothing(t *testing.T) {
	data := map[string]interface{}{
		"status": "confirmed",
		"notes":  "late arrival",
		"adults": float64(2),
	}
	got := DetectConflicts(data, data, []string{"status", "notes", "adults"})
	if len(got) != 0 {
		t.Fatalf("expected no conflicts, got %v", got)
	}
}

func TestDetectConflicts_StringComparisonIsLenient(t *testing.T) {
	local := map[string]interface{}{
		"name":  "  Maria   Schmidt ",
		"email": "MARIA@EXAMPLE.COM",
		"notes": "vegetarian",
	}
	external := map[string]interface{}{
		"name":  "maria schmidt",
		"email": "maria@example.com",
		"notes": "vegan",
	}
	got := DetectConflicts(local, external, []string{"name", "email", "notes"})
	if !reflect.DeepEqual(got, []string{"notes"}) {
		t.Errorf("expected only notes to conflict, got %v", got)
	}
}

func TestDetectConflicts_TimestampsCompareAtMillisecond(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	local := map[string]interface{}{
		"checkin": base,
		"checkout": base.Add(24 * time.Hour),
	}
	external := map[string]interface{}{
		"checkin": base.Add(300 * time.Microsecond), // sub-millisecond drift
		"checkout": base.Add(25 * time.Hour),
	}
	got := DetectConflicts(local, external, []string{"checkin", "checkout"})
	if !reflect.DeepEqual(got, []string{"checkout"}) {
		t.Errorf("expected only checkout to conflict, got %v", got)
	}
}

func TestDetectConflicts_TimeStringsAndNumbers(t *testing.T) {
	local := map[string]interface{}{
		"modified_at": "2026-03-14T09:00:00Z",
		"adults":      2,
		"price":       120.0,
	}
	external := map[string]interface{}{
		"modified_at": "2026-03-14 09:00:00",
		"adults":      float64(2),
		"price":       float64(135),
	}
	got := DetectConflicts(local, external, []string{"modified_at", "adults", "price"})
	if !reflect.DeepEqual(got, []string{"price"}) {
		t.Errorf("expected only price to conflict, got %v", got)
	}
}

func testConflict() *models.SyncConflict {
	return &models.SyncConflict{
		Upstream:   "beds24",
		EntityType: models.EntityReservation,
		LocalID:    "res-1",
		ExternalID: "ext-1",
		LocalData: map[string]interface{}{
			"status":      "confirmed",
			"notes":       "late arrival",
			"tags":        []interface{}{"vip", "repeat"},
			"modified_at": "2026-03-10T08:00:00Z",
			"adults":      float64(2),
		},
		ExternalData: map[string]interface{}{
			"status":      "cancelled",
			"notes":       "guest called to cancel",
			"tags":        []interface{}{"repeat", "channel"},
			"modified_at": "2026-03-11T10:00:00Z",
			"adults":      float64(2),
		},
		ConflictingFields: []string{"status", "notes", "tags", "modified_at"},
	}
}

func TestResolve_SingleSideStrategies(t *testing.T) {
	c := testConflict()

	res, err := Resolve(c, models.StrategyPMSWins, MergeRules{})
	if err != nil {
		t.Fatal(err)
	}
	if res.ResolvedData["status"] != "confirmed" {
		t.Errorf("pms_wins must keep local status, got %v", res.ResolvedData["status"])
	}
	if res.Rationale == "" {
		t.Error("resolution must carry a rationale")
	}

	res, err = Resolve(c, models.StrategyExternalWins, MergeRules{})
	if err != nil {
		t.Fatal(err)
	}
	if res.ResolvedData["status"] != "cancelled" {
		t.Errorf("external_wins must take upstream status, got %v", res.ResolvedData["status"])
	}
}

func TestResolve_NewestWins(t *testing.T) {
	c := testConflict() // external modified_at is one day newer
	res, err := Resolve(c, models.StrategyNewestWins, MergeRules{})
	if err != nil {
		t.Fatal(err)
	}
	if res.ResolvedData["status"] != "cancelled" {
		t.Errorf("newer external version must win, got %v", res.ResolvedData["status"])
	}

	// Missing external timestamp counts as epoch, so local wins.
	c = testConflict()
	delete(c.ExternalData, "modified_at")
	res, err = Resolve(c, models.StrategyNewestWins, MergeRules{})
	if err != nil {
		t.Fatal(err)
	}
	if res.ResolvedData["status"] != "confirmed" {
		t.Errorf("missing upstream timestamp must favor local, got %v", res.ResolvedData["status"])
	}

	// Equal timestamps tie-break to local.
	c = testConflict()
	c.ExternalData["modified_at"] = c.LocalData["modified_at"]
	res, err = Resolve(c, models.StrategyNewestWins, MergeRules{})
	if err != nil {
		t.Fatal(err)
	}
	if res.ResolvedData["status"] != "confirmed" {
		t.Errorf("timestamp tie must favor local, got %v", res.ResolvedData["status"])
	}
}

func TestResolve_Merge(t *testing.T) {
	rules := MergeRules{MergeableFields: []string{"notes", "tags"}}
	c := testConflict()

	res, err := Resolve(c, models.StrategyMerge, rules)
	if err != nil {
		t.Fatal(err)
	}

	tags, ok := res.ResolvedData["tags"].([]interface{})
	if !ok {
		t.Fatalf("tags not a slice: %T", res.ResolvedData["tags"])
	}
	want := []interface{}{"vip", "repeat", "channel"}
	if !reflect.DeepEqual(tags, want) {
		t.Errorf("expected tag union %v, got %v", want, tags)
	}

	notes, _ := res.ResolvedData["notes"].(string)
	if notes != "late arrival | guest called to cancel" {
		t.Errorf("unexpected merged notes: %q", notes)
	}

	// status is not in the mergeable set: local wins.
	if res.ResolvedData["status"] != "confirmed" {
		t.Errorf("non-mergeable conflict must keep local value, got %v", res.ResolvedData["status"])
	}

	// Non-conflicting fields pass through.
	if res.ResolvedData["adults"] != float64(2) {
		t.Errorf("non-conflicting field lost: %v", res.ResolvedData["adults"])
	}
}

func TestResolve_MergeIsIdempotent(t *testing.T) {
	rules := MergeRules{MergeableFields: []string{"notes", "tags"}}
	c := testConflict()

	first, err := Resolve(c, models.StrategyMerge, rules)
	if err != nil {
		t.Fatal(err)
	}

	// Re-run detection and merge with the merged result as the local side.
	again := testConflict()
	again.LocalData = first.ResolvedData
	again.ConflictingFields = DetectConflicts(again.LocalData, again.ExternalData, []string{"status", "notes", "tags", "modified_at"})

	second, err := Resolve(again, models.StrategyMerge, rules)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first.ResolvedData["notes"], second.ResolvedData["notes"]) {
		t.Errorf("notes drift on re-merge: %v vs %v", first.ResolvedData["notes"], second.ResolvedData["notes"])
	}
	if !reflect.DeepEqual(first.ResolvedData["tags"], second.ResolvedData["tags"]) {
		t.Errorf("tags drift on re-merge: %v vs %v", first.ResolvedData["tags"], second.ResolvedData["tags"])
	}
}

func TestEngine_PersistsResolvedConflict(t *testing.T) {
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	engine := NewEngine(s, Config{
		Strategies: map[models.EntityKind]models.ResolutionStrategy{
			models.EntityReservation: models.StrategyExternalWins,
		},
	})

	local := map[string]interface{}{"status": "confirmed"}
	external := map[string]interface{}{"status": "cancelled"}
	c, err := engine.Evaluate(context.Background(), "beds24", models.EntityReservation,
		"res-1", "ext-1", local, external, []string{"status"})
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("expected a conflict")
	}
	if c.Status != models.ConflictResolved || c.Resolution == nil {
		t.Fatalf("expected resolved conflict, got %+v", c)
	}

	stored, err := s.Conflicts().Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("conflict not persisted: %v", err)
	}
	if stored.Resolution.Strategy != models.StrategyExternalWins {
		t.Errorf("wrong strategy persisted: %s", stored.Resolution.Strategy)
	}
}

func TestEngine_ManualStrategyParksForReview(t *testing.T) {
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	engine := NewEngine(s, Config{Default: models.StrategyManual})

	c, err := engine.Evaluate(context.Background(), "beds24", models.EntityCustomer,
		"guest-1", "ext-1",
		map[string]interface{}{"email": "a@example.com"},
		map[string]interface{}{"email": "b@example.com"},
		[]string{"email"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != models.ConflictPendingReview || c.Resolution != nil {
		t.Fatalf("expected pending_review without resolution, got %+v", c)
	}

	pending, err := s.Conflicts().ListPending(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("expected conflict in pending list, got %d", len(pending))
	}
}

func TestEngine_NoConflictNoRow(t *testing.T) {
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	engine := NewEngine(s, Config{})
	data := map[string]interface{}{"status": "confirmed"}
	c, err := engine.Evaluate(context.Background(), "beds24", models.EntityReservation,
		"res-1", "ext-1", data, data, []string{"status"})
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Fatalf("identical data must not produce a conflict, got %+v", c)
	}
}
