// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stayward/channelsync/internal/channel"
	"github.com/stayward/channelsync/internal/match"
	"github.com/stayward/channelsync/internal/models"
	"github.com/stayward/channelsync/internal/pms"
	"github.com/stayward/channelsync/internal/store"
)

// fakeUpstream serves canned listings and records pushes.
type fakeUpstream struct {
	name      string
	roomTypes []models.UpstreamRoomType
	rooms     []models.UpstreamRoom
	customers []models.UpstreamCustomer
	bookings  []models.UpstreamBooking

	bookingsSince []time.Time
	pushed        []string
}

func (f *fakeUpstream) Name() string {
	if f.name == "" {
		return "beds24"
	}
	return f.name
}

func (f *fakeUpstream) TestConnection(ctx context.Context) error { return nil }

func (f *fakeUpstream) FetchRoomTypes(ctx context.Context) ([]models.UpstreamRoomType, error) {
	return f.roomTypes, nil
}

func (f *fakeUpstream) FetchRooms(ctx context.Context) ([]models.UpstreamRoom, error) {
	return f.rooms, nil
}

func (f *fakeUpstream) FetchCustomers(ctx context.Context, since time.Time) ([]models.UpstreamCustomer, error) {
	return f.customers, nil
}

func (f *fakeUpstream) LookupCustomerByEmail(ctx context.Context, email string) (*models.UpstreamCustomer, error) {
	return nil, nil
}

func (f *fakeUpstream) FetchBookingsSince(ctx context.Context, since time.Time) ([]models.UpstreamBooking, error) {
	f.bookingsSince = append(f.bookingsSince, since)
	return f.bookings, nil
}

func (f *fakeUpstream) PushReservation(ctx context.Context, res *models.Reservation, refs channel.ExternalRefs, idempotencyKey string) (string, error) {
	f.pushed = append(f.pushed, res.ID)
	return "ext-" + res.ID, nil
}

func (f *fakeUpstream) PushAvailability(ctx context.Context, updates []models.AvailabilityUpdate) error {
	return nil
}

func (f *fakeUpstream) PushRates(ctx context.Context, updates []models.RateUpdate) error {
	return nil
}

func testOrchestrator(t *testing.T, up *fakeUpstream) (*Orchestrator, *store.Store, *pms.Memory) {
	t.Helper()
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	mem := pms.NewMemory()
	matcher := match.NewMatcher(mem, s.Mappings(), match.DefaultConfig())
	return NewOrchestrator(up, s, mem, matcher, nil), s, mem
}

func testBooking(id, roomTypeID string, modified time.Time) models.UpstreamBooking {
	return models.UpstreamBooking{
		ID:         id,
		RoomTypeID: roomTypeID,
		Customer: &models.UpstreamCustomer{
			ID:        "cust-" + id,
			FirstName: "Guest",
			LastName:  id,
			Email:     "guest-" + id + "@example.com",
		},
		Status:     "confirmed",
		CheckIn:    time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		CheckOut:   time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC),
		Adults:     2,
		TotalPrice: 450,
		Currency:   "EUR",
		CreatedAt:  modified.Add(-24 * time.Hour),
		ModifiedAt: modified,
	}
}

func TestFullSync_CreatesEverything(t *testing.T) {
	now := time.Now().UTC()
	up := &fakeUpstream{
		roomTypes: []models.UpstreamRoomType{
			{ID: "rt-1", Name: "Double", MaxGuests: 2, BasePrice: 120},
			{ID: "rt-2", Name: "Suite", MaxGuests: 4, BasePrice: 260},
		},
		rooms: []models.UpstreamRoom{
			{ID: "u-101", RoomTypeID: "rt-1", Name: "101"},
		},
		customers: []models.UpstreamCustomer{
			{ID: "c-1", FirstName: "Ana", LastName: "Silva", Email: "ana@example.com"},
		},
		bookings: []models.UpstreamBooking{
			testBooking("b-1", "rt-1", now),
			testBooking("b-2", "rt-1", now),
			testBooking("b-3", "rt-2", now),
		},
	}
	o, s, mem := testOrchestrator(t, up)
	ctx := context.Background()

	result, err := o.FullSync(ctx)
	if err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	if len(result.Phases) != 4 {
		t.Fatalf("phases = %d, want 4", len(result.Phases))
	}
	for _, pr := range result.Phases {
		if pr.Failed != 0 {
			t.Errorf("phase %s failed %d entities: %v", pr.Phase, pr.Failed, pr.Errors)
		}
	}
	if result.Incremental {
		t.Error("first run should not be incremental")
	}

	roomTypes, _ := mem.ListRoomTypes(ctx)
	if len(roomTypes) != 2 {
		t.Fatalf("room types = %d, want 2", len(roomTypes))
	}
	rooms, _ := mem.ListRooms(ctx)
	if len(rooms) != 1 {
		t.Fatalf("rooms = %d, want 1", len(rooms))
	}
	if rooms[0].RoomTypeID == "" || rooms[0].RoomTypeID == "rt-1" {
		t.Errorf("room should reference the local room type ID, got %q", rooms[0].RoomTypeID)
	}

	for _, ext := range []string{"b-1", "b-2", "b-3"} {
		mapping, err := s.Mappings().GetByExternal(ctx, "beds24", models.EntityReservation, ext)
		if err != nil {
			t.Fatalf("reservation mapping for %s: %v", ext, err)
		}
		res, err := mem.GetReservation(ctx, mapping.LocalID)
		if err != nil {
			t.Fatalf("reservation %s: %v", mapping.LocalID, err)
		}
		if res.Source != "beds24" {
			t.Errorf("reservation source = %q, want beds24", res.Source)
		}
		if res.GuestID == "" {
			t.Error("reservation has no guest")
		}
	}
}

func TestFullSync_SecondRunIsIncrementalAndIdempotent(t *testing.T) {
	now := time.Now().UTC()
	up := &fakeUpstream{
		roomTypes: []models.UpstreamRoomType{{ID: "rt-1", Name: "Double", MaxGuests: 2, BasePrice: 120}},
		bookings:  []models.UpstreamBooking{testBooking("b-1", "rt-1", now.Add(-time.Hour))},
	}
	o, _, mem := testOrchestrator(t, up)
	ctx := context.Background()

	if _, err := o.FullSync(ctx); err != nil {
		t.Fatalf("first FullSync: %v", err)
	}
	result, err := o.FullSync(ctx)
	if err != nil {
		t.Fatalf("second FullSync: %v", err)
	}

	if !result.Incremental {
		t.Error("second run should be incremental")
	}
	if len(up.bookingsSince) != 2 {
		t.Fatalf("booking fetches = %d, want 2", len(up.bookingsSince))
	}
	if !up.bookingsSince[0].IsZero() {
		t.Error("first fetch should use the zero cursor")
	}
	if up.bookingsSince[1].IsZero() {
		t.Error("second fetch should use the stored cursor")
	}

	// Re-delivering the same unchanged booking must not duplicate or clobber.
	reservations, _ := mem.ListModifiedSince(ctx, time.Time{}, "")
	if len(reservations) != 1 {
		t.Fatalf("reservations = %d, want 1", len(reservations))
	}
	last := result.Phases[len(result.Phases)-1]
	if last.Phase != models.EntityReservation {
		t.Fatalf("last phase = %s, want reservation", last.Phase)
	}
	if last.Skipped != 1 || last.Synced != 0 {
		t.Errorf("reservation phase skipped=%d synced=%d, want 1/0", last.Skipped, last.Synced)
	}
}

func TestSyncReservations_StaleUpdateSkipped(t *testing.T) {
	now := time.Now().UTC()
	up := &fakeUpstream{
		roomTypes: []models.UpstreamRoomType{{ID: "rt-1", Name: "Double", MaxGuests: 2, BasePrice: 120}},
		bookings:  []models.UpstreamBooking{testBooking("b-1", "rt-1", now)},
	}
	o, s, mem := testOrchestrator(t, up)
	ctx := context.Background()

	if _, err := o.FullSync(ctx); err != nil {
		t.Fatalf("FullSync: %v", err)
	}

	// A local edit newer than the booking's modification time wins.
	mapping, err := s.Mappings().GetByExternal(ctx, "beds24", models.EntityReservation, "b-1")
	if err != nil {
		t.Fatalf("mapping: %v", err)
	}
	local, err := mem.GetReservation(ctx, mapping.LocalID)
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	local.Notes = "front desk override"
	local.UpdatedAt = now.Add(time.Hour)
	if err := mem.UpdateReservation(ctx, local); err != nil {
		t.Fatalf("update reservation: %v", err)
	}

	stale := testBooking("b-1", "rt-1", now.Add(30*time.Minute))
	stale.Notes = "older channel note"
	up.bookings = []models.UpstreamBooking{stale}

	result := models.PhaseResult{Phase: models.EntityReservation}
	if err := o.syncReservations(ctx, time.Time{}, &result); err != nil {
		t.Fatalf("syncReservations: %v", err)
	}
	if result.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", result.Skipped)
	}

	got, _ := mem.GetReservation(ctx, mapping.LocalID)
	if got.Notes != "front desk override" {
		t.Errorf("local edit was clobbered: notes = %q", got.Notes)
	}
}

func TestSyncReservations_NewerBookingWins(t *testing.T) {
	now := time.Now().UTC()
	up := &fakeUpstream{
		roomTypes: []models.UpstreamRoomType{{ID: "rt-1", Name: "Double", MaxGuests: 2, BasePrice: 120}},
		bookings:  []models.UpstreamBooking{testBooking("b-1", "rt-1", now.Add(-time.Hour))},
	}
	o, s, mem := testOrchestrator(t, up)
	ctx := context.Background()

	if _, err := o.FullSync(ctx); err != nil {
		t.Fatalf("FullSync: %v", err)
	}

	updated := testBooking("b-1", "rt-1", now.Add(time.Hour))
	updated.Status = "cancelled"
	updated.TotalPrice = 300
	up.bookings = []models.UpstreamBooking{updated}

	result := models.PhaseResult{Phase: models.EntityReservation}
	if err := o.syncReservations(ctx, time.Time{}, &result); err != nil {
		t.Fatalf("syncReservations: %v", err)
	}
	if result.Synced != 1 {
		t.Fatalf("synced = %d, want 1", result.Synced)
	}

	mapping, _ := s.Mappings().GetByExternal(ctx, "beds24", models.EntityReservation, "b-1")
	got, err := mem.GetReservation(ctx, mapping.LocalID)
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	if got.Status != models.ReservationCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if got.TotalPrice != 300 {
		t.Errorf("total price = %v, want 300", got.TotalPrice)
	}
}

func TestSyncRoomTypes_UpdateAndSkip(t *testing.T) {
	up := &fakeUpstream{
		roomTypes: []models.UpstreamRoomType{{ID: "rt-1", Name: "Double", MaxGuests: 2, BasePrice: 120}},
	}
	o, _, mem := testOrchestrator(t, up)
	ctx := context.Background()

	result := models.PhaseResult{Phase: models.EntityRoomType}
	if err := o.syncRoomTypes(ctx, time.Time{}, &result); err != nil {
		t.Fatalf("syncRoomTypes: %v", err)
	}
	if result.Synced != 1 {
		t.Fatalf("synced = %d, want 1", result.Synced)
	}

	// Unchanged listing is a skip, renamed listing is an update.
	result = models.PhaseResult{Phase: models.EntityRoomType}
	if err := o.syncRoomTypes(ctx, time.Time{}, &result); err != nil {
		t.Fatalf("syncRoomTypes: %v", err)
	}
	if result.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", result.Skipped)
	}

	up.roomTypes[0].BasePrice = 140
	result = models.PhaseResult{Phase: models.EntityRoomType}
	if err := o.syncRoomTypes(ctx, time.Time{}, &result); err != nil {
		t.Fatalf("syncRoomTypes: %v", err)
	}
	if result.Synced != 1 {
		t.Errorf("synced = %d, want 1 after price change", result.Synced)
	}

	roomTypes, _ := mem.ListRoomTypes(ctx)
	if len(roomTypes) != 1 || roomTypes[0].BasePrice != 140 {
		t.Errorf("room type not updated in place: %+v", roomTypes)
	}
}

func TestSyncRooms_FailsWithoutRoomTypeMapping(t *testing.T) {
	up := &fakeUpstream{
		rooms: []models.UpstreamRoom{{ID: "u-101", RoomTypeID: "rt-missing", Name: "101"}},
	}
	o, _, _ := testOrchestrator(t, up)

	result := models.PhaseResult{Phase: models.EntityRoom}
	if err := o.syncRooms(context.Background(), time.Time{}, &result); err != nil {
		t.Fatalf("syncRooms: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("failed = %d, want 1", result.Failed)
	}
}

func TestManager_TriggerSync(t *testing.T) {
	up := &fakeUpstream{
		roomTypes: []models.UpstreamRoomType{{ID: "rt-1", Name: "Double", MaxGuests: 2, BasePrice: 120}},
	}
	o, _, _ := testOrchestrator(t, up)

	m := NewManager([]*Target{{Name: "beds24", Orchestrator: o}}, time.Hour, 0)

	result, err := m.TriggerSync(context.Background(), "beds24")
	if err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}
	if len(result.Phases) != 4 {
		t.Errorf("phases = %d, want 4", len(result.Phases))
	}
	if m.LastSyncTime("beds24").IsZero() {
		t.Error("last sync time not recorded")
	}

	if _, err := m.TriggerSync(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown upstream")
	}
}
