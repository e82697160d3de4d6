// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package models

import "time"

// SyncState tracks the sync cursor and health for one entity kind on one
// upstream. It drives the incremental-vs-full decision in the orchestrator.
type SyncState struct {
	Upstream             string     `json:"upstream"`
	EntityKind           EntityKind `json:"entity_kind"`
	LastSuccessfulSyncAt time.Time  `json:"last_successful_sync_at"`
	LastError            string     `json:"last_error,omitempty"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// PhaseAction describes what a sync phase did with one entity.
type PhaseAction string

const (
	ActionCreated PhaseAction = "created"
	ActionUpdated PhaseAction = "updated"
	ActionSkipped PhaseAction = "skipped"
	ActionFailed  PhaseAction = "failed"
)

// PhaseResult aggregates per-entity outcomes for one sync phase.
type PhaseResult struct {
	Phase     EntityKind    `json:"phase"`
	Processed int           `json:"processed"`
	Synced    int           `json:"synced"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Errors    []string      `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Add folds a single entity outcome into the counters.
func (r *PhaseResult) Add(action PhaseAction, err error) {
	r.Processed++
	switch action {
	case ActionCreated, ActionUpdated:
		r.Synced++
	case ActionSkipped:
		r.Skipped++
	case ActionFailed:
		r.Failed++
		if err != nil {
			r.Errors = append(r.Errors, err.Error())
		}
	}
}

// FullSyncResult aggregates all phase results of one orchestrator run.
type FullSyncResult struct {
	Upstream    string        `json:"upstream"`
	Incremental bool          `json:"incremental"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Phases      []PhaseResult `json:"phases"`
}

// TotalFailed sums failures across all phases.
func (r *FullSyncResult) TotalFailed() int {
	total := 0
	for _, p := range r.Phases {
		total += p.Failed
	}
	return total
}

// TotalProcessed sums processed entities across all phases.
func (r *FullSyncResult) TotalProcessed() int {
	total := 0
	for _, p := range r.Phases {
		total += p.Processed
	}
	return total
}
