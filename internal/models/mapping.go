// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package models

import "time"

// MatchType records how an entity mapping was established.
type MatchType string

const (
	MatchEmail   MatchType = "email"
	MatchPhone   MatchType = "phone"
	MatchName    MatchType = "name"
	MatchManual  MatchType = "manual"
	MatchBooking MatchType = "booking"
	// MatchNew marks a mapping created together with a brand-new local entity.
	MatchNew MatchType = "new"
	// MatchUnknown marks a customer resolved to the unknown-guest singleton.
	MatchUnknown MatchType = "unknown_guest"
)

// SyncDirection constrains which way changes flow for a mapping.
type SyncDirection string

const (
	SyncBidirectional SyncDirection = "bidirectional"
	SyncPullOnly      SyncDirection = "pull_only"
	SyncPushOnly      SyncDirection = "push_only"
)

// EntityMapping associates a local PMS entity with its counterpart on one
// upstream. At most one active mapping exists per (localID, kind) and per
// (externalID, kind); a superseded mapping is deactivated, never deleted.
// The sync orchestrator owns mapping rows.
type EntityMapping struct {
	ID            string        `json:"id"`
	Upstream      string        `json:"upstream"`
	EntityKind    EntityKind    `json:"entity_kind"`
	LocalID       string        `json:"local_id"`
	ExternalID    string        `json:"external_id"`
	MatchType     MatchType     `json:"match_type"`
	MatchScore    int           `json:"match_score,omitempty"`
	IsActive      bool          `json:"is_active"`
	SyncDirection SyncDirection `json:"sync_direction"`
	LastSyncedAt  time.Time     `json:"last_synced_at"`
	CreatedAt     time.Time     `json:"created_at"`
}
