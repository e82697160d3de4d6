// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package match

import "strings"

// DefaultMinScore is the acceptance threshold for fuzzy name matches on the
// 0-100 scale.
const DefaultMinScore = 70

// ScoreName scores how well a candidate name matches the query name on a
// 0-100 scale. Each query token counts as matched when some candidate token
// equals it or contains it (or vice versa); the score is the matched
// proportion over the larger token count, so "maria" against
// "Maria Schmidt" scores 50, not 100.
func ScoreName(query, candidate string) int {
	qt := NameTokens(query)
	ct := NameTokens(candidate)
	if len(qt) == 0 || len(ct) == 0 {
		return 0
	}

	matched := 0
	for _, q := range qt {
		for _, c := range ct {
			if tokensMatch(q, c) {
				matched++
				break
			}
		}
	}

	total := len(qt)
	if len(ct) > total {
		total = len(ct)
	}
	return matched * 100 / total
}

func tokensMatch(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) >= 3 && len(b) >= 3 {
		return strings.Contains(a, b) || strings.Contains(b, a)
	}
	return false
}

// FirstTokenCandidate reports whether a candidate name is worth scoring at
// all: its full name must contain the query's first token.
func FirstTokenCandidate(query, candidate string) bool {
	qt := NameTokens(query)
	if len(qt) == 0 {
		return false
	}
	return strings.Contains(strings.ToLower(candidate), qt[0])
}
