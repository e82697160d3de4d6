// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

// Package pms defines the collaborator interfaces through which the sync
// engine reads and writes property-management records. The engine never owns
// PMS persistence; production wires a real PMS adapter, tests and local mode
// use the in-memory implementation.
package pms

import (
	"context"
	"errors"
	"time"

	"github.com/stayward/channelsync/internal/models"
)

// ErrNotFound is returned when a PMS record does not exist.
var ErrNotFound = errors.New("pms: record not found")

// ReservationStore reads and writes PMS reservations.
type ReservationStore interface {
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	CreateReservation(ctx context.Context, r *models.Reservation) error
	UpdateReservation(ctx context.Context, r *models.Reservation) error
	// ListModifiedSince returns reservations updated after the cutoff,
	// excluding those whose Source equals excludeSource. The exclusion
	// keeps a pull from one upstream from being pushed straight back.
	ListModifiedSince(ctx context.Context, since time.Time, excludeSource string) ([]models.Reservation, error)
}

// GuestStore reads and writes PMS guests.
type GuestStore interface {
	GetGuest(ctx context.Context, id string) (*models.Guest, error)
	CreateGuest(ctx context.Context, g *models.Guest) error
	UpdateGuest(ctx context.Context, g *models.Guest) error
	FindGuestByEmail(ctx context.Context, email string) (*models.Guest, error)
	FindGuestByPhone(ctx context.Context, phone string) (*models.Guest, error)
	ListGuests(ctx context.Context) ([]models.Guest, error)
}

// RoomStore reads and writes PMS room types and rooms.
type RoomStore interface {
	GetRoomType(ctx context.Context, id string) (*models.RoomType, error)
	CreateRoomType(ctx context.Context, rt *models.RoomType) error
	UpdateRoomType(ctx context.Context, rt *models.RoomType) error
	ListRoomTypes(ctx context.Context) ([]models.RoomType, error)

	GetRoom(ctx context.Context, id string) (*models.Room, error)
	CreateRoom(ctx context.Context, r *models.Room) error
	UpdateRoom(ctx context.Context, r *models.Room) error
	ListRooms(ctx context.Context) ([]models.Room, error)
}

// PMS bundles the three collaborator stores.
type PMS interface {
	ReservationStore
	GuestStore
	RoomStore
}
