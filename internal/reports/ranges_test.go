// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package reports

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolveRangeNamedTokens(t *testing.T) {
	end := date(2026, 8, 29) // a Saturday

	tests := []struct {
		token     string
		wantStart time.Time
		wantEnd   time.Time
	}{
		{token: "yesterday", wantStart: end, wantEnd: end},
		// Alias: the caller resolves the end date, so both single-day
		// tokens cover exactly that day.
		{token: "today", wantStart: end, wantEnd: end},
		{token: "last-7-days", wantStart: date(2026, 8, 23), wantEnd: end},
		{token: "last-30-days", wantStart: date(2026, 7, 31), wantEnd: end},
		{token: "week-to-date", wantStart: date(2026, 8, 24), wantEnd: end}, // Monday
		{token: "month-to-date", wantStart: date(2026, 8, 1), wantEnd: end},
		{token: "year-to-date", wantStart: date(2026, 1, 1), wantEnd: end},
		{token: "last-month", wantStart: date(2026, 7, 1), wantEnd: end},
		{token: "LAST-7-DAYS", wantStart: date(2026, 8, 23), wantEnd: end},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			start, gotEnd := ResolveRange(tt.token, end)
			if !start.Equal(tt.wantStart) || !gotEnd.Equal(tt.wantEnd) {
				t.Errorf("ResolveRange(%q) = [%s, %s], want [%s, %s]",
					tt.token, start.Format(DateLayout), gotEnd.Format(DateLayout),
					tt.wantStart.Format(DateLayout), tt.wantEnd.Format(DateLayout))
			}
		})
	}
}

func TestResolveRangeCustomTokenIgnoresEndDate(t *testing.T) {
	start, end := ResolveRange("custom:2026-03-01:2026-03-15", date(2026, 8, 29))

	if !start.Equal(date(2026, 3, 1)) || !end.Equal(date(2026, 3, 15)) {
		t.Errorf("custom range = [%s, %s], want literal dates",
			start.Format(DateLayout), end.Format(DateLayout))
	}
}

func TestResolveRangeMalformedCustomFallsBack(t *testing.T) {
	ref := date(2026, 8, 29)

	for _, token := range []string{
		"custom:2026-03-15:2026-03-01", // end before start
		"custom:notadate:2026-03-01",
		"custom:2026-03-01",
		"no-such-range",
	} {
		start, end := ResolveRange(token, ref)
		if !end.Equal(ref) || !start.Equal(ref.AddDate(0, 0, -6)) {
			t.Errorf("ResolveRange(%q) = [%s, %s], want last-7-days fallback",
				token, start.Format(DateLayout), end.Format(DateLayout))
		}
	}
}

func TestResolveRangeTruncatesEndToMidnight(t *testing.T) {
	noon := time.Date(2026, 8, 29, 12, 34, 56, 0, time.UTC)
	_, end := ResolveRange("last-7-days", noon)
	if !end.Equal(date(2026, 8, 29)) {
		t.Errorf("end = %s, want midnight", end)
	}
}

func TestKnownRange(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"last-7-days", true},
		{"Last-7-Days", true},
		{"custom:2026-01-01:2026-01-31", true},
		{"custom:2026-01-31:2026-01-01", false},
		{"bogus", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := KnownRange(tt.token); got != tt.want {
			t.Errorf("KnownRange(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestRegisterRange(t *testing.T) {
	RegisterRange("last-60-days", 60)

	end := date(2026, 8, 29)
	start, _ := ResolveRange("last-60-days", end)
	if !start.Equal(end.AddDate(0, 0, -59)) {
		t.Errorf("registered range start = %s", start.Format(DateLayout))
	}

	RegisterRange("", 10)
	RegisterRange("zero-span", 0)
	if KnownRange("zero-span") {
		t.Error("invalid registration must be ignored")
	}
}
