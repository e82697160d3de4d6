// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

// Package models defines the domain types shared across the sync pipeline:
// durable sync events, entity mappings, conflicts, per-upstream sync state,
// the PMS-side entities the engine reads and writes, and the wire shapes
// exchanged with upstream channel managers.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Direction indicates which way a sync event flows.
type Direction string

const (
	// DirectionInbound is an event pulled or pushed from an upstream into the PMS.
	DirectionInbound Direction = "inbound"
	// DirectionOutbound is a PMS change propagated to an upstream.
	DirectionOutbound Direction = "outbound"
)

// EntityKind identifies the logical entity a sync event or mapping refers to.
type EntityKind string

const (
	EntityRoomType    EntityKind = "room_type"
	EntityRoom        EntityKind = "room"
	EntityCustomer    EntityKind = "customer"
	EntityReservation EntityKind = "reservation"
)

// SyncEventStatus is the processing state of a durable sync event.
//
// Transitions: received -> processing -> done | failed. A failed event can be
// reset to received by the admin retry operation.
type SyncEventStatus string

const (
	EventStatusReceived   SyncEventStatus = "received"
	EventStatusProcessing SyncEventStatus = "processing"
	EventStatusDone       SyncEventStatus = "done"
	EventStatusFailed     SyncEventStatus = "failed"
)

// SyncEvent is the durable record of one logical sync event. Events are never
// deleted; they are retained for audit and pruned only by age.
//
// IdempotencyKey is globally unique and is the single source of truth for
// "already applied": redelivered broker messages carrying the same key
// collapse onto one event.
type SyncEvent struct {
	ID               string          `json:"id"`
	Direction        Direction       `json:"direction"`
	Source           string          `json:"source"`
	EventType        string          `json:"event_type"`
	EntityType       EntityKind      `json:"entity_type"`
	EntityExternalID string          `json:"entity_external_id,omitempty"`
	EntityInternalID string          `json:"entity_internal_id,omitempty"`
	IdempotencyKey   string          `json:"idempotency_key"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Status           SyncEventStatus `json:"status"`
	Attempts         int             `json:"attempts"`
	MaxAttempts      int             `json:"max_attempts"`
	LastError        string          `json:"last_error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether the event has reached a terminal status.
func (e *SyncEvent) Terminal() bool {
	return e.Status == EventStatusDone || e.Status == EventStatusFailed
}

// AttemptsExhausted reports whether the event has used up its retry budget.
func (e *SyncEvent) AttemptsExhausted() bool {
	return e.Attempts >= e.MaxAttempts
}

// EventMessage is the JSON body carried on the broker for a sync event.
// Routing keys follow "<source>.<eventType>", e.g. "beds24.booking.created"
// or "pms.reservation.updated".
type EventMessage struct {
	EventType      string          `json:"event_type"`
	Source         string          `json:"source"`
	EntityType     EntityKind      `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Broker metadata keys carried on every published message.
const (
	MetaPriority   = "priority"
	MetaRetryCount = "x-retry-count"
)
