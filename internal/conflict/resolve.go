// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stayward/channelsync/internal/models"
)

// MergeRules configures the merge strategy: which conflicting fields may be
// combined instead of falling back to the local value, the separator used
// when concatenating strings, and the field carrying the entity's
// last-modified timestamp for newest_wins.
type MergeRules struct {
	MergeableFields []string
	StringSeparator string
	TimestampField  string
}

func (r MergeRules) withDefaults() MergeRules {
	if r.StringSeparator == "" {
		r.StringSeparator = " | "
	}
	if r.TimestampField == "" {
		r.TimestampField = "modified_at"
	}
	return r
}

func (r MergeRules) mergeable(field string) bool {
	for _, f := range r.MergeableFields {
		if f == field {
			return true
		}
	}
	return false
}

// Resolve applies one strategy to a detected conflict and returns the
// resolution, or nil when the strategy is manual and the conflict must wait
// for an operator. Resolve never mutates the conflict's data maps.
func Resolve(c *models.SyncConflict, strategy models.ResolutionStrategy, rules MergeRules) (*models.ConflictResolution, error) {
	rules = rules.withDefaults()

	var (
		data      map[string]interface{}
		rationale string
	)
	switch strategy {
	case models.StrategyPMSWins:
		data = cloneMap(c.LocalData)
		rationale = fmt.Sprintf("kept PMS values for conflicting fields %s", fieldList(c.ConflictingFields))
	case models.StrategyExternalWins:
		data = cloneMap(c.ExternalData)
		rationale = fmt.Sprintf("kept %s values for conflicting fields %s", c.Upstream, fieldList(c.ConflictingFields))
	case models.StrategyNewestWins:
		data, rationale = resolveNewest(c, rules)
	case models.StrategyMerge:
		data, rationale = resolveMerge(c, rules)
	case models.StrategyManual:
		return nil, nil
	default:
		return nil, fmt.Errorf("conflict: unknown resolution strategy %q", strategy)
	}

	return &models.ConflictResolution{
		Strategy:     strategy,
		ResolvedData: data,
		Rationale:    rationale,
		ResolvedAt:   time.Now().UTC(),
	}, nil
}

// resolveNewest picks the side with the later last-modified timestamp.
// A missing or unparseable timestamp counts as epoch; ties favor local.
func resolveNewest(c *models.SyncConflict, rules MergeRules) (map[string]interface{}, string) {
	localTS := timestampOf(c.LocalData, rules.TimestampField)
	extTS := timestampOf(c.ExternalData, rules.TimestampField)

	if extTS.After(localTS) {
		return cloneMap(c.ExternalData), fmt.Sprintf(
			"%s version is newer (%s > %s)",
			c.Upstream, extTS.Format(time.RFC3339), localTS.Format(time.RFC3339))
	}
	return cloneMap(c.LocalData), fmt.Sprintf(
		"PMS version is newer or same age (%s >= %s)",
		localTS.Format(time.RFC3339), extTS.Format(time.RFC3339))
}

func timestampOf(data map[string]interface{}, field string) time.Time {
	if data == nil {
		return time.Unix(0, 0).UTC()
	}
	if t, ok := asTime(data[field]); ok {
		return t
	}
	return time.Unix(0, 0).UTC()
}

// resolveMerge passes non-conflicting fields through from whichever side has
// a value, combines conflicting fields in the mergeable set, and keeps the
// local value for everything else.
func resolveMerge(c *models.SyncConflict, rules MergeRules) (map[string]interface{}, string) {
	conflicting := make(map[string]bool, len(c.ConflictingFields))
	for _, f := range c.ConflictingFields {
		conflicting[f] = true
	}

	out := make(map[string]interface{})
	for _, key := range unionKeys(c.LocalData, c.ExternalData) {
		lv := c.LocalData[key]
		ev := c.ExternalData[key]

		if !conflicting[key] {
			if lv != nil {
				out[key] = lv
			} else {
				out[key] = ev
			}
			continue
		}
		if rules.mergeable(key) {
			out[key] = mergeValues(lv, ev, rules.StringSeparator)
		} else {
			out[key] = lv
		}
	}

	var merged, kept []string
	for _, f := range c.ConflictingFields {
		if rules.mergeable(f) {
			merged = append(merged, f)
		} else {
			kept = append(kept, f)
		}
	}
	parts := []string{}
	if len(merged) > 0 {
		parts = append(parts, "merged "+fieldList(merged))
	}
	if len(kept) > 0 {
		parts = append(parts, "kept PMS values for "+fieldList(kept))
	}
	return out, strings.Join(parts, "; ")
}

// mergeValues combines two conflicting values of the same shape. Arrays take
// the set union, strings concatenate unless one already contains the other,
// maps shallow-merge with local winning on key collision. Mismatched or
// unmergeable shapes keep the local value.
func mergeValues(local, external interface{}, sep string) interface{} {
	switch lv := local.(type) {
	case []interface{}:
		if ev, ok := external.([]interface{}); ok {
			return unionSlices(lv, ev)
		}
	case string:
		if ev, ok := external.(string); ok {
			ln, en := normalizeString(lv), normalizeString(ev)
			if strings.Contains(ln, en) {
				return lv
			}
			if strings.Contains(en, ln) {
				return ev
			}
			return lv + sep + ev
		}
	case map[string]interface{}:
		if ev, ok := external.(map[string]interface{}); ok {
			merged := cloneMap(ev)
			for k, v := range lv {
				merged[k] = v
			}
			return merged
		}
	}
	if local == nil {
		return external
	}
	return local
}

func unionSlices(a, b []interface{}) []interface{} {
	out := make([]interface{}, 0, len(a)+len(b))
	out = append(out, a...)
	for _, bv := range b {
		seen := false
		for _, av := range out {
			if valuesEqual(av, bv) {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, bv)
		}
	}
	return out
}

func unionKeys(a, b map[string]interface{}) []string {
	set := make(map[string]bool, len(a)+len(b))
	for k := range a {
		set[k] = true
	}
	for k := range b {
		set[k] = true
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func fieldList(fields []string) string {
	return "[" + strings.Join(fields, ", ") + "]"
}
