// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package reports

import (
	"strings"
	"sync"
	"time"

	"github.com/lumeo-analytics/lumeo/internal/logging"
)

// CustomRangePrefix marks a literal date-range token:
// "custom:YYYY-MM-DD:YYYY-MM-DD".
const CustomRangePrefix = "custom:"

// DateLayout is the calendar-date wire format used throughout reporting.
const DateLayout = "2006-01-02"

// rangeStartFunc computes a range's start date from its resolved end date.
type rangeStartFunc func(end time.Time) time.Time

// rangeRegistry maps named date-range tokens to their start computation.
// Extensions register additional ranges at startup via RegisterRange.
var (
	rangeMu       sync.RWMutex
	rangeRegistry = map[string]rangeStartFunc{
		// The registry computes only the start of a window; the end date
		// is resolved by the caller (frozen snapshot or schedule). Both
		// single-day tokens therefore cover exactly the resolved end day,
		// and "today" is kept as an accepted alias so configurations
		// using either token resolve identically.
		"today":        daysBack(0),
		"yesterday":    daysBack(0),
		"last-7-days":  daysBack(6),
		"last-14-days": daysBack(13),
		"last-30-days": daysBack(29),
		"last-90-days": daysBack(89),
		"week-to-date": func(end time.Time) time.Time {
			// Weeks start on Monday.
			offset := (int(end.Weekday()) + 6) % 7
			return end.AddDate(0, 0, -offset)
		},
		"month-to-date": func(end time.Time) time.Time {
			return time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, end.Location())
		},
		"year-to-date": func(end time.Time) time.Time {
			return time.Date(end.Year(), 1, 1, 0, 0, 0, 0, end.Location())
		},
		"last-month": func(end time.Time) time.Time {
			first := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, end.Location())
			return first.AddDate(0, -1, 0)
		},
	}
)

// RegisterRange adds a named range whose start lies spanDays-1 days before
// the resolved end date. Safe for concurrent use.
func RegisterRange(name string, spanDays int) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || spanDays < 1 {
		return
	}
	rangeMu.Lock()
	rangeRegistry[name] = daysBack(spanDays - 1)
	rangeMu.Unlock()
}

// KnownRange reports whether the token is a registered named range or a
// well-formed custom token.
func KnownRange(token string) bool {
	if strings.HasPrefix(token, CustomRangePrefix) {
		_, _, ok := parseCustomToken(token)
		return ok
	}
	rangeMu.RLock()
	_, ok := rangeRegistry[strings.ToLower(token)]
	rangeMu.RUnlock()
	return ok
}

// ResolveRange turns a date-range token and a resolved end date into the
// window [start, end], both at midnight in end's location.
//
// Custom tokens carry both dates literally and ignore the passed end date
// entirely, so a frozen or schedule-derived end never distorts an explicit
// span. Unknown tokens degrade to last-7-days with a logged warning.
func ResolveRange(token string, end time.Time) (time.Time, time.Time) {
	end = Midnight(end)

	if strings.HasPrefix(token, CustomRangePrefix) {
		start, customEnd, ok := parseCustomToken(token)
		if ok {
			return start, customEnd
		}
		logging.Warn().Str("date_range", token).Msg("Malformed custom range, falling back to last-7-days")
		token = "last-7-days"
	}

	rangeMu.RLock()
	fn, ok := rangeRegistry[strings.ToLower(token)]
	rangeMu.RUnlock()
	if !ok {
		logging.Warn().Str("date_range", token).Msg("Unknown range token, falling back to last-7-days")
		fn = daysBack(6)
	}
	return fn(end), end
}

// parseCustomToken parses "custom:YYYY-MM-DD:YYYY-MM-DD".
func parseCustomToken(token string) (time.Time, time.Time, bool) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.ParseInLocation(DateLayout, parts[1], time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := time.ParseInLocation(DateLayout, parts[2], time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// Midnight truncates a time to the start of its calendar day.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func daysBack(n int) rangeStartFunc {
	return func(end time.Time) time.Time {
		return end.AddDate(0, 0, -n)
	}
}
