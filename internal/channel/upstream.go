// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stayward/channelsync/internal/models"
)

// ExternalRefs carries the upstream-side identifiers a reservation push
// needs. The orchestrator resolves these from the mapping table before
// calling PushReservation.
type ExternalRefs struct {
	BookingID  string
	RoomTypeID string
	RoomID     string
	CustomerID string
}

// Upstream is the capability set every channel manager integration exposes.
// One implementation exists per upstream; the sync orchestrator is generic
// over this interface.
type Upstream interface {
	Name() string

	TestConnection(ctx context.Context) error

	FetchRoomTypes(ctx context.Context) ([]models.UpstreamRoomType, error)
	FetchRooms(ctx context.Context) ([]models.UpstreamRoom, error)
	FetchCustomers(ctx context.Context, since time.Time) ([]models.UpstreamCustomer, error)
	LookupCustomerByEmail(ctx context.Context, email string) (*models.UpstreamCustomer, error)
	FetchBookingsSince(ctx context.Context, since time.Time) ([]models.UpstreamBooking, error)

	PushReservation(ctx context.Context, res *models.Reservation, refs ExternalRefs, idempotencyKey string) (externalID string, err error)
	PushAvailability(ctx context.Context, updates []models.AvailabilityUpdate) error
	PushRates(ctx context.Context, updates []models.RateUpdate) error
}

// Registry holds the configured upstream integrations by name.
type Registry struct {
	mu        sync.RWMutex
	upstreams map[string]Upstream
}

// NewRegistry returns an empty upstream registry.
func NewRegistry() *Registry {
	return &Registry{upstreams: make(map[string]Upstream)}
}

// Register adds an upstream. Registering a duplicate name is an error.
func (r *Registry) Register(u Upstream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.upstreams[u.Name()]; exists {
		return fmt.Errorf("upstream %q already registered", u.Name())
	}
	r.upstreams[u.Name()] = u
	return nil
}

// Get returns the upstream by name.
func (r *Registry) Get(name string) (Upstream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.upstreams[name]
	if !ok {
		return nil, fmt.Errorf("upstream %q not registered", name)
	}
	return u, nil
}

// Names lists registered upstream names in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.upstreams))
	for name := range r.upstreams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
