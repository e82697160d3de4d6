// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

// Package conflict detects divergent field values between the PMS copy and
// the upstream copy of an entity and reconciles them with a per-entity-kind
// strategy. Detection and resolution are pure functions; the Engine binds
// configuration and persists the audit trail.
package conflict

import (
	"reflect"
	"strings"
	"time"
)

// DetectConflicts compares the named fields across the local and external
// versions of one entity and returns the fields whose values differ.
// String comparison is case and whitespace insensitive, timestamps compare
// at millisecond precision, everything else is deep equality.
func DetectConflicts(local, external map[string]interface{}, fields []string) []string {
	var conflicting []string
	for _, f := range fields {
		lv, lok := local[f]
		ev, eok := external[f]
		if !lok && !eok {
			continue
		}
		if !valuesEqual(lv, ev) {
			conflicting = append(conflicting, f)
		}
	}
	return conflicting
}

func valuesEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	if at, aok := asTime(a); aok {
		if bt, bok := asTime(b); bok {
			return at.Truncate(time.Millisecond).Equal(bt.Truncate(time.Millisecond))
		}
	}

	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return normalizeString(as) == normalizeString(bs)
		}
	}

	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}

	return reflect.DeepEqual(a, b)
}

// normalizeString lowercases and collapses internal whitespace.
func normalizeString(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		// Only strings that look like timestamps parse; anything else
		// falls through to string comparison.
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
