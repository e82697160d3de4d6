// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package pms

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stayward/channelsync/internal/models"
)

// Memory is an in-memory PMS used by tests and local mode. Lookups by email
// are case-insensitive and lookups by phone ignore common separators, which
// matches how the entity matcher normalizes its queries.
type Memory struct {
	mu           sync.RWMutex
	reservations map[string]models.Reservation
	guests       map[string]models.Guest
	roomTypes    map[string]models.RoomType
	rooms        map[string]models.Room
}

func NewMemory() *Memory {
	return &Memory{
		reservations: make(map[string]models.Reservation),
		guests:       make(map[string]models.Guest),
		roomTypes:    make(map[string]models.RoomType),
		rooms:        make(map[string]models.Room),
	}
}

var _ PMS = (*Memory)(nil)

func (m *Memory) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) CreateReservation(ctx context.Context, r *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	m.reservations[r.ID] = *r
	return nil
}

func (m *Memory) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reservations[r.ID]; !ok {
		return ErrNotFound
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	m.reservations[r.ID] = *r
	return nil
}

func (m *Memory) ListModifiedSince(ctx context.Context, since time.Time, excludeSource string) ([]models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Reservation
	for _, r := range m.reservations {
		if !r.UpdatedAt.After(since) {
			continue
		}
		if excludeSource != "" && r.Source == excludeSource {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (m *Memory) GetGuest(ctx context.Context, id string) (*models.Guest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (m *Memory) CreateGuest(ctx context.Context, g *models.Guest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = now
	}
	m.guests[g.ID] = *g
	return nil
}

func (m *Memory) UpdateGuest(ctx context.Context, g *models.Guest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.guests[g.ID]; !ok {
		return ErrNotFound
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = time.Now().UTC()
	}
	m.guests[g.ID] = *g
	return nil
}

func (m *Memory) FindGuestByEmail(ctx context.Context, email string) (*models.Guest, error) {
	if email == "" {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := strings.ToLower(strings.TrimSpace(email))
	for _, g := range m.guests {
		if strings.ToLower(strings.TrimSpace(g.Email)) == want {
			found := g
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindGuestByPhone(ctx context.Context, phone string) (*models.Guest, error) {
	want := stripPhone(phone)
	if want == "" {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.guests {
		if stripPhone(g.Phone) == want {
			found := g
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListGuests(ctx context.Context) ([]models.Guest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Guest, 0, len(m.guests))
	for _, g := range m.guests {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetRoomType(ctx context.Context, id string) (*models.RoomType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.roomTypes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rt, nil
}

func (m *Memory) CreateRoomType(ctx context.Context, rt *models.RoomType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rt.ID == "" {
		rt.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rt.CreatedAt.IsZero() {
		rt.CreatedAt = now
	}
	if rt.UpdatedAt.IsZero() {
		rt.UpdatedAt = now
	}
	m.roomTypes[rt.ID] = *rt
	return nil
}

func (m *Memory) UpdateRoomType(ctx context.Context, rt *models.RoomType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roomTypes[rt.ID]; !ok {
		return ErrNotFound
	}
	if rt.UpdatedAt.IsZero() {
		rt.UpdatedAt = time.Now().UTC()
	}
	m.roomTypes[rt.ID] = *rt
	return nil
}

func (m *Memory) ListRoomTypes(ctx context.Context) ([]models.RoomType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RoomType, 0, len(m.roomTypes))
	for _, rt := range m.roomTypes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) CreateRoom(ctx context.Context, r *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	m.rooms[r.ID] = *r
	return nil
}

func (m *Memory) UpdateRoom(ctx context.Context, r *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[r.ID]; !ok {
		return ErrNotFound
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	m.rooms[r.ID] = *r
	return nil
}

func (m *Memory) ListRooms(ctx context.Context) ([]models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func stripPhone(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, s)
}
