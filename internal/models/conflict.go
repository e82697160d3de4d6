// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package models

import "time"

// ConflictStatus is the lifecycle state of a detected sync conflict.
type ConflictStatus string

const (
	ConflictDetected      ConflictStatus = "detected"
	ConflictResolved      ConflictStatus = "resolved"
	ConflictPendingReview ConflictStatus = "pending_review"
	ConflictIgnored       ConflictStatus = "ignored"
)

// ResolutionStrategy selects how conflicting entity versions are reconciled.
type ResolutionStrategy string

const (
	StrategyPMSWins      ResolutionStrategy = "pms_wins"
	StrategyExternalWins ResolutionStrategy = "external_wins"
	StrategyNewestWins   ResolutionStrategy = "newest_wins"
	StrategyMerge        ResolutionStrategy = "merge"
	StrategyManual       ResolutionStrategy = "manual"
)

// ConflictResolution records the outcome of resolving one conflict, including
// a human-readable rationale for audit.
type ConflictResolution struct {
	Strategy     ResolutionStrategy     `json:"strategy"`
	ResolvedData map[string]interface{} `json:"resolved_data"`
	Rationale    string                 `json:"rationale"`
	ResolvedAt   time.Time              `json:"resolved_at"`
	ResolvedBy   string                 `json:"resolved_by,omitempty"`
}

// SyncConflict captures two divergent versions of the same logical entity.
// Created by the conflict resolution engine; consumed either by the automatic
// strategy application or by operator tooling when status is pending_review.
type SyncConflict struct {
	ID                string                 `json:"id"`
	Upstream          string                 `json:"upstream"`
	EntityType        EntityKind             `json:"entity_type"`
	LocalID           string                 `json:"local_id"`
	ExternalID        string                 `json:"external_id"`
	LocalData         map[string]interface{} `json:"local_data"`
	ExternalData      map[string]interface{} `json:"external_data"`
	ConflictingFields []string               `json:"conflicting_fields"`
	Status            ConflictStatus         `json:"status"`
	Resolution        *ConflictResolution    `json:"resolution,omitempty"`
	DetectedAt        time.Time              `json:"detected_at"`
}
