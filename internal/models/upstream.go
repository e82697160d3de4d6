// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package models

import "time"

// UpstreamRoomType is a bookable product as listed by a channel manager.
type UpstreamRoomType struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	MaxGuests int     `json:"max_guests"`
	BasePrice float64 `json:"base_price"`
}

// UpstreamRoom is a physical unit as listed by a channel manager. Not every
// upstream exposes units; the rooms phase tolerates an empty listing.
type UpstreamRoom struct {
	ID         string `json:"id"`
	RoomTypeID string `json:"room_type_id"`
	Name       string `json:"name"`
}

// UpstreamCustomer is a guest profile as returned by a channel manager.
// Any of the identifying fields may be empty.
type UpstreamCustomer struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	Country   string `json:"country,omitempty"`
}

// FullName returns the customer's display name.
func (c *UpstreamCustomer) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}

// UpstreamBooking is a reservation as returned by a channel manager.
// ModifiedAt carries the upstream's last-modified timestamp (wire name
// "date_upd"); the reservation phase compares it against the local record's
// updated_at for last-write-wins skipping.
type UpstreamBooking struct {
	ID         string            `json:"id"`
	RoomTypeID string            `json:"room_type_id"`
	RoomID     string            `json:"room_id,omitempty"`
	CustomerID string            `json:"customer_id,omitempty"`
	Customer   *UpstreamCustomer `json:"customer,omitempty"`
	Status     string            `json:"status"`
	CheckIn    time.Time         `json:"check_in"`
	CheckOut   time.Time         `json:"check_out"`
	Adults     int               `json:"adults"`
	Children   int               `json:"children"`
	TotalPrice float64           `json:"total_price"`
	Currency   string            `json:"currency"`
	Notes      string            `json:"notes,omitempty"`
	CreatedAt  time.Time         `json:"date_created"`
	ModifiedAt time.Time         `json:"date_upd"`
}

// AvailabilityUpdate is an outbound inventory change pushed to an upstream.
type AvailabilityUpdate struct {
	RoomTypeExternalID string    `json:"room_type_id"`
	Date               time.Time `json:"date"`
	Available          int       `json:"available"`
}

// RateUpdate is an outbound price change pushed to an upstream.
type RateUpdate struct {
	RoomTypeExternalID string    `json:"room_type_id"`
	Date               time.Time `json:"date"`
	Price              float64   `json:"price"`
	Currency           string    `json:"currency"`
}
