// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stayward/channelsync/internal/models"
)

func newTestMapping(localID, externalID string) *models.EntityMapping {
	return &models.EntityMapping{
		Upstream:      "beds24",
		EntityKind:    models.EntityCustomer,
		LocalID:       localID,
		ExternalID:    externalID,
		MatchType:     models.MatchEmail,
		MatchScore:    100,
		SyncDirection: models.SyncBidirectional,
	}
}

func TestMappingStore_UpsertAndLookup(t *testing.T) {
	ms := testStore(t).Mappings()
	ctx := context.Background()

	m := newTestMapping("guest-1", "ext-1")
	if err := ms.Upsert(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if m.ID == "" {
		t.Fatal("upsert must assign an id")
	}

	byLocal, err := ms.GetByLocal(ctx, "beds24", models.EntityCustomer, "guest-1")
	if err != nil {
		t.Fatalf("get by local: %v", err)
	}
	if byLocal.ExternalID != "ext-1" || !byLocal.IsActive {
		t.Errorf("unexpected mapping: %+v", byLocal)
	}

	byExt, err := ms.GetByExternal(ctx, "beds24", models.EntityCustomer, "ext-1")
	if err != nil {
		t.Fatalf("get by external: %v", err)
	}
	if byExt.LocalID != "guest-1" {
		t.Errorf("unexpected mapping: %+v", byExt)
	}

	if _, err := ms.GetByLocal(ctx, "beds24", models.EntityCustomer, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMappingStore_UpsertDeactivatesPriorHolders(t *testing.T) {
	ms := testStore(t).Mappings()
	ctx := context.Background()

	first := newTestMapping("guest-1", "ext-1")
	if err := ms.Upsert(ctx, first); err != nil {
		t.Fatal(err)
	}

	// Re-point the external identity at a different local guest.
	second := newTestMapping("guest-2", "ext-1")
	if err := ms.Upsert(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := ms.GetByExternal(ctx, "beds24", models.EntityCustomer, "ext-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.LocalID != "guest-2" {
		t.Errorf("external identity must follow the new mapping, got local %s", got.LocalID)
	}

	// The old local side lost its active mapping.
	if _, err := ms.GetByLocal(ctx, "beds24", models.EntityCustomer, "guest-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected deactivated mapping to be unresolvable, got %v", err)
	}
}

func TestMappingStore_KindsAndUpstreamsAreIsolated(t *testing.T) {
	ms := testStore(t).Mappings()
	ctx := context.Background()

	cust := newTestMapping("id-1", "ext-1")
	if err := ms.Upsert(ctx, cust); err != nil {
		t.Fatal(err)
	}

	room := newTestMapping("id-1", "ext-1")
	room.EntityKind = models.EntityRoom
	if err := ms.Upsert(ctx, room); err != nil {
		t.Fatal(err)
	}

	other := newTestMapping("id-1", "ext-1")
	other.Upstream = "siteminder"
	if err := ms.Upsert(ctx, other); err != nil {
		t.Fatal(err)
	}

	// All three coexist: same ids under different (upstream, kind) pairs.
	for _, tc := range []struct {
		upstream string
		kind     models.EntityKind
	}{
		{"beds24", models.EntityCustomer},
		{"beds24", models.EntityRoom},
		{"siteminder", models.EntityCustomer},
	} {
		if _, err := ms.GetByLocal(ctx, tc.upstream, tc.kind, "id-1"); err != nil {
			t.Errorf("%s/%s: %v", tc.upstream, tc.kind, err)
		}
	}
}

func TestMappingStore_Deactivate(t *testing.T) {
	ms := testStore(t).Mappings()
	ctx := context.Background()

	m := newTestMapping("guest-1", "ext-1")
	if err := ms.Upsert(ctx, m); err != nil {
		t.Fatal(err)
	}
	if err := ms.Deactivate(ctx, m.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if _, err := ms.GetByLocal(ctx, "beds24", models.EntityCustomer, "guest-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after deactivation, got %v", err)
	}
	if _, err := ms.GetByExternal(ctx, "beds24", models.EntityCustomer, "ext-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after deactivation, got %v", err)
	}
}

func TestMappingStore_ListByKind(t *testing.T) {
	ms := testStore(t).Mappings()
	ctx := context.Background()

	for i, ids := range [][2]string{{"g1", "e1"}, {"g2", "e2"}, {"g3", "e3"}} {
		m := newTestMapping(ids[0], ids[1])
		if i == 2 {
			m.EntityKind = models.EntityRoomType
		}
		if err := ms.Upsert(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := ms.ListByKind(ctx, "beds24", models.EntityCustomer)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 customer mappings, got %d", len(got))
	}
}

func TestConflictStore_Lifecycle(t *testing.T) {
	cs := testStore(t).Conflicts()
	ctx := context.Background()

	c := &models.SyncConflict{
		Upstream:          "beds24",
		EntityType:        models.EntityReservation,
		LocalID:           "res-1",
		ExternalID:        "ext-9",
		LocalData:         map[string]interface{}{"status": "confirmed"},
		ExternalData:      map[string]interface{}{"status": "cancelled"},
		ConflictingFields: []string{"status"},
		Status:            models.ConflictPendingReview,
	}
	if err := cs.Insert(ctx, c); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if c.ID == "" || c.DetectedAt.IsZero() {
		t.Fatalf("insert must stamp id and detection time: %+v", c)
	}

	pending, err := cs.ListPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != c.ID {
		t.Fatalf("expected the pending conflict listed, got %+v", pending)
	}

	res := &models.ConflictResolution{
		Strategy:     models.StrategyManual,
		ResolvedData: map[string]interface{}{"status": "cancelled"},
		Rationale:    "operator confirmed cancellation with the guest",
		ResolvedAt:   time.Now().UTC(),
		ResolvedBy:   "ops@stayward.example",
	}
	if err := cs.Resolve(ctx, c.ID, res); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	got, err := cs.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ConflictResolved || got.Resolution == nil {
		t.Errorf("expected resolved conflict, got %+v", got)
	}
	if got.Resolution.Strategy != models.StrategyManual {
		t.Errorf("resolution strategy lost: %+v", got.Resolution)
	}

	pending, err = cs.ListPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("resolved conflict must leave the pending list, got %d", len(pending))
	}
}

func TestStateStore_CursorAdvancesOnSuccess(t *testing.T) {
	ss := testStore(t).States()
	ctx := context.Background()

	st, err := ss.Get(ctx, "beds24", models.EntityReservation)
	if err != nil {
		t.Fatalf("get zero state: %v", err)
	}
	if !st.LastSuccessfulSyncAt.IsZero() {
		t.Fatal("fresh state must have no cursor")
	}

	if err := ss.RecordFailure(ctx, "beds24", models.EntityReservation, "timeout"); err != nil {
		t.Fatal(err)
	}
	if err := ss.RecordFailure(ctx, "beds24", models.EntityReservation, "timeout again"); err != nil {
		t.Fatal(err)
	}

	st, err = ss.Get(ctx, "beds24", models.EntityReservation)
	if err != nil {
		t.Fatal(err)
	}
	if st.ConsecutiveFailures != 2 || st.LastError != "timeout again" {
		t.Errorf("failure bookkeeping wrong: %+v", st)
	}
	if !st.LastSuccessfulSyncAt.IsZero() {
		t.Error("failure must not advance the cursor")
	}

	at := time.Now().UTC()
	if err := ss.RecordSuccess(ctx, "beds24", models.EntityReservation, at); err != nil {
		t.Fatal(err)
	}

	st, err = ss.Get(ctx, "beds24", models.EntityReservation)
	if err != nil {
		t.Fatal(err)
	}
	if !st.LastSuccessfulSyncAt.Equal(at) {
		t.Errorf("cursor not advanced: %+v", st)
	}
	if st.ConsecutiveFailures != 0 || st.LastError != "" {
		t.Errorf("success must clear failure state: %+v", st)
	}
}
