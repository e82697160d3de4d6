// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package models

import "time"

// ReservationStatus mirrors the PMS reservation lifecycle states the sync
// engine needs to distinguish.
type ReservationStatus string

const (
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationCheckedIn ReservationStatus = "checked_in"
	ReservationNoShow    ReservationStatus = "no_show"
)

// Reservation is the PMS-side reservation record as consumed by the engine.
// Source names the system that last wrote the record ("pms" or an upstream
// name); the outbound pusher uses it to avoid push-back loops.
type Reservation struct {
	ID         string            `json:"id"`
	RoomTypeID string            `json:"room_type_id"`
	RoomID     string            `json:"room_id,omitempty"`
	GuestID    string            `json:"guest_id"`
	Status     ReservationStatus `json:"status"`
	CheckIn    time.Time         `json:"check_in"`
	CheckOut   time.Time         `json:"check_out"`
	Adults     int               `json:"adults"`
	Children   int               `json:"children"`
	TotalPrice float64           `json:"total_price"`
	Currency   string            `json:"currency"`
	Notes      string            `json:"notes,omitempty"`
	Source     string            `json:"source"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Guest is the PMS-side guest/customer record.
type Guest struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	City      string    `json:"city,omitempty"`
	Country   string    `json:"country,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FullName returns the guest's display name.
func (g *Guest) FullName() string {
	switch {
	case g.FirstName == "":
		return g.LastName
	case g.LastName == "":
		return g.FirstName
	default:
		return g.FirstName + " " + g.LastName
	}
}

// RoomType is a bookable product category on the PMS side.
type RoomType struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MaxGuests int       `json:"max_guests"`
	BasePrice float64   `json:"base_price"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Room is a physical unit belonging to a room type.
type Room struct {
	ID         string    `json:"id"`
	RoomTypeID string    `json:"room_type_id"`
	Name       string    `json:"name"`
	Floor      string    `json:"floor,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
