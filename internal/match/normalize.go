// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

// Package match resolves upstream guest profiles to local PMS guests.
// Matching runs a priority chain of email, normalized phone, and fuzzy name
// scoring, creating a new guest (or falling back to the unknown-guest
// singleton) when nothing matches.
package match

import "strings"

// NormalizeEmail lowercases and trims an email address for comparison.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone strips the separators people type into phone numbers.
// "+49 (30) 123-45.67" and "+49301234567" normalize identically.
func NormalizePhone(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, s)
}

// NameTokens splits a display name into lowercased tokens.
func NameTokens(s string) []string {
	return strings.Fields(strings.ToLower(s))
}
