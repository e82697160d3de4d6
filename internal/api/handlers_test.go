// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/goccy/go-json"

	"github.com/stayward/channelsync/internal/broker"
	"github.com/stayward/channelsync/internal/conflict"
	"github.com/stayward/channelsync/internal/models"
	"github.com/stayward/channelsync/internal/store"
	"github.com/stayward/channelsync/internal/worker"
)

type fakeSyncer struct {
	result *models.FullSyncResult
	err    error
	called string
}

func (f *fakeSyncer) TriggerSync(ctx context.Context, upstream string) (*models.FullSyncResult, error) {
	f.called = upstream
	return f.result, f.err
}

func testServer(t *testing.T, syncer SyncTrigger) (*Server, *store.Store) {
	t.Helper()
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	bus := broker.NewMemory(watermill.NopLogger{})
	t.Cleanup(func() { bus.Close() })

	handler := NewHandler(s, worker.NewEventPublisher(bus), syncer, conflict.MergeRules{})
	return NewServer(DefaultConfig(), handler), s
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	return rec
}

func seedFailedEvent(t *testing.T, s *store.Store, key string) *models.SyncEvent {
	t.Helper()
	ctx := context.Background()
	ev := &models.SyncEvent{
		Direction:        models.DirectionInbound,
		Source:           "beds24",
		EventType:        "booking.modified",
		EntityType:       models.EntityReservation,
		EntityExternalID: "b-" + key,
		IdempotencyKey:   key,
		MaxAttempts:      3,
	}
	if err := s.Events().Insert(ctx, ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if _, err := s.Events().MarkProcessing(ctx, ev.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	failed, err := s.Events().MarkFailed(ctx, ev.ID, "upstream rejected payload")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	return failed
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, nil)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestFailedEvents_ListAndFilter(t *testing.T) {
	srv, s := testServer(t, nil)
	seedFailedEvent(t, s, "k1")
	seedFailedEvent(t, s, "k2")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/events/failed", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Events []models.SyncEvent `json:"events"`
		Count  int                `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/events/failed?direction=outbound", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 0 {
		t.Errorf("outbound count = %d, want 0", resp.Count)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/events/failed?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestRetryEvent(t *testing.T) {
	srv, s := testServer(t, nil)
	ev := seedFailedEvent(t, s, "retry-1")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/events/"+ev.ID+"/retry", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	got, err := s.Events().GetByID(context.Background(), ev.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Status != models.EventStatusReceived {
		t.Errorf("status = %s, want received", got.Status)
	}
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", got.Attempts)
	}

	// A second retry is rejected because the event is no longer failed.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/events/"+ev.ID+"/retry", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("second retry status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/events/nope/retry", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing event status = %d, want 404", rec.Code)
	}
}

func seedPendingConflict(t *testing.T, s *store.Store) *models.SyncConflict {
	t.Helper()
	c := &models.SyncConflict{
		Upstream:   "beds24",
		EntityType: models.EntityReservation,
		LocalID:    "res-1",
		ExternalID: "b-1",
		LocalData: map[string]interface{}{
			"notes":       "front desk note",
			"modified_at": time.Now().UTC().Format(time.RFC3339),
		},
		ExternalData: map[string]interface{}{
			"notes":       "channel note",
			"modified_at": time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
		},
		ConflictingFields: []string{"notes"},
		Status:            models.ConflictPendingReview,
	}
	if err := s.Conflicts().Insert(context.Background(), c); err != nil {
		t.Fatalf("insert conflict: %v", err)
	}
	return c
}

func TestPendingConflictsAndResolve(t *testing.T) {
	srv, s := testServer(t, nil)
	c := seedPendingConflict(t, s)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/conflicts/pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var listResp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if listResp.Count != 1 {
		t.Fatalf("pending count = %d, want 1", listResp.Count)
	}

	body := `{"strategy":"pms_wins","resolved_by":"ops@stayward"}`
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/conflicts/"+c.ID+"/resolve", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resolution models.ConflictResolution
	if err := json.Unmarshal(rec.Body.Bytes(), &resolution); err != nil {
		t.Fatalf("decode resolution: %v", err)
	}
	if resolution.Strategy != models.StrategyPMSWins {
		t.Errorf("strategy = %s, want pms_wins", resolution.Strategy)
	}
	if resolution.ResolvedBy != "ops@stayward" {
		t.Errorf("resolved_by = %q", resolution.ResolvedBy)
	}

	// Resolved conflicts leave the pending list and cannot be re-resolved.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/conflicts/pending", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if listResp.Count != 0 {
		t.Errorf("pending count after resolve = %d, want 0", listResp.Count)
	}
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/conflicts/"+c.ID+"/resolve", body)
	if rec.Code != http.StatusConflict {
		t.Errorf("re-resolve status = %d, want 409", rec.Code)
	}
}

func TestResolveConflict_Validation(t *testing.T) {
	srv, s := testServer(t, nil)
	c := seedPendingConflict(t, s)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/conflicts/"+c.ID+"/resolve", `{"strategy":"coin_flip"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad strategy status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/conflicts/"+c.ID+"/resolve", "not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/conflicts/missing/resolve", `{"strategy":"merge"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing conflict status = %d, want 404", rec.Code)
	}
}

func TestResolveConflict_Ignore(t *testing.T) {
	srv, s := testServer(t, nil)
	c := seedPendingConflict(t, s)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/conflicts/"+c.ID+"/resolve", `{"strategy":"ignore"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ignore status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	got, err := s.Conflicts().Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get conflict: %v", err)
	}
	if got.Status != models.ConflictIgnored {
		t.Errorf("status = %s, want ignored", got.Status)
	}
}

func TestSyncState(t *testing.T) {
	srv, s := testServer(t, nil)
	if err := s.States().RecordSuccess(context.Background(), "beds24", models.EntityReservation, time.Now().UTC()); err != nil {
		t.Fatalf("record success: %v", err)
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/sync/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		States []models.SyncState `json:"states"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.States) != 1 {
		t.Fatalf("states = %d, want 1", len(resp.States))
	}
	if resp.States[0].Upstream != "beds24" {
		t.Errorf("upstream = %q, want beds24", resp.States[0].Upstream)
	}
}

func TestTriggerFullSync(t *testing.T) {
	syncer := &fakeSyncer{result: &models.FullSyncResult{Upstream: "beds24"}}
	srv, _ := testServer(t, syncer)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sync/full", `{"upstream":"beds24"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if syncer.called != "beds24" {
		t.Errorf("syncer called with %q", syncer.called)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sync/full", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing upstream status = %d, want 400", rec.Code)
	}

	syncer.err = fmt.Errorf("unknown upstream %q", "nope")
	syncer.result = nil
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sync/full", `{"upstream":"nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown upstream status = %d, want 400", rec.Code)
	}
}

func TestTriggerFullSync_Unavailable(t *testing.T) {
	srv, _ := testServer(t, nil)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sync/full", `{"upstream":"beds24"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
