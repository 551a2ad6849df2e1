// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package reports

import (
	"strings"
	"time"

	"github.com/lumeo-analytics/lumeo/internal/logging"
	"github.com/lumeo-analytics/lumeo/internal/models"
)

// LatenessWindow caps how far past a due send time the scheduler still
// considers a report due. Anything older is a miss, surfaced separately by
// cron-miss detection instead of being sent late.
const LatenessWindow = 24 * time.Hour

// weekdayNames maps configuration weekday names to time.Weekday.
var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday resolves a lowercase English weekday name.
func ParseWeekday(name string) (time.Weekday, bool) {
	wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
	return wd, ok
}

// MatchesSchedule reports whether the report's schedule matches the given
// instant's calendar date. It is a pure function of the schedule fields and
// the date; it never mutates report state.
//
// Ambiguous configurations degrade to a match: a weekly or monthly report
// with no configured weekday matches today, favoring sending over silently
// never sending.
func MatchesSchedule(r *models.Report, t time.Time) bool {
	switch r.Frequency {
	case models.FrequencyDaily:
		return true
	case models.FrequencyWeekly:
		wd, ok := ParseWeekday(r.DayOfWeek)
		if !ok {
			return true
		}
		return t.Weekday() == wd
	case models.FrequencyMonthly:
		wd, ok := ParseWeekday(r.DayOfWeek)
		if !ok {
			return true
		}
		if t.Weekday() != wd {
			return false
		}
		occ, found := FindNthWeekday(t.Year(), t.Month(), wd, r.WeekOfMonth)
		return found && occ.Day() == t.Day()
	default:
		return false
	}
}

// FindNthWeekday returns the date of the ordinal-th occurrence of the
// weekday in the month. Ordinal models.WeekOfMonthLast selects the final
// occurrence, which in a five-Friday month is the fifth Friday, not the
// fourth. found is false when the month has no such occurrence.
func FindNthWeekday(year int, month time.Month, weekday time.Weekday, ordinal int) (time.Time, bool) {
	var occurrences []time.Time
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for d := first; d.Month() == month; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == weekday {
			occurrences = append(occurrences, d)
		}
	}
	if len(occurrences) == 0 {
		return time.Time{}, false
	}
	if ordinal == models.WeekOfMonthLast {
		return occurrences[len(occurrences)-1], true
	}
	if ordinal < 1 || ordinal > len(occurrences) {
		return time.Time{}, false
	}
	return occurrences[ordinal-1], true
}

// NextSendTime computes the absolute send instant for the report's current
// occurrence: today's date combined with the configured send time in the
// report's timezone, expressed in UTC. ok is false when the schedule does
// not match today or the configuration is malformed; failures log a
// diagnostic instead of propagating.
func NextSendTime(r *models.Report, now time.Time) (time.Time, bool) {
	loc := reportLocation(r)
	local := now.In(loc)

	if !MatchesSchedule(r, local) {
		return time.Time{}, false
	}

	hour, minute, ok := parseSendTime(r.SendTime)
	if !ok {
		logging.Warn().
			Int64("report_id", r.ID).
			Str("send_time", r.SendTime).
			Msg("Malformed send time")
		return time.Time{}, false
	}

	at := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	return at.UTC(), true
}

// SendInstantOn computes the send instant for a specific calendar date
// rather than for now. The anchor is built as noon of that date in the
// report's own timezone, so offsets of half a day or more cannot shift the
// evaluated date the way converting a UTC instant would.
func SendInstantOn(r *models.Report, date time.Time) (time.Time, bool) {
	loc := reportLocation(r)
	anchor := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, loc)
	return NextSendTime(r, anchor)
}

// DueNow reports whether the report should be sent at now: the schedule
// matches today and the send instant lies in the past, but no further back
// than the lateness window. Far-past misses are left to cron-miss
// detection.
func DueNow(r *models.Report, now time.Time) bool {
	at, ok := NextSendTime(r, now)
	if !ok {
		return false
	}
	if at.After(now) {
		return false
	}
	return now.Sub(at) <= LatenessWindow
}

// ResolveEndDate computes the reporting window's end date.
//
// Scheduled reports cover through the day before the most recent matching
// occurrence of their schedule on or before today: a weekly Monday report
// evaluated on a Wednesday covers through the preceding Sunday. Monthly
// schedules search backward up to twelve months for a valid occurrence.
//
// Manual reports return their frozen fixed end date so repeated views show
// identical data; a missing or malformed snapshot degrades to yesterday.
func ResolveEndDate(r *models.Report, today time.Time) time.Time {
	today = Midnight(today)

	if !r.Scheduled {
		return fixedOrYesterday(r.FixedEndDate, today, r.ID)
	}

	switch r.Frequency {
	case models.FrequencyDaily:
		return today.AddDate(0, 0, -1)
	case models.FrequencyWeekly:
		wd, ok := ParseWeekday(r.DayOfWeek)
		if !ok {
			return today.AddDate(0, 0, -1)
		}
		occ := lastOccurrenceOnOrBefore(wd, today)
		return occ.AddDate(0, 0, -1)
	case models.FrequencyMonthly:
		wd, ok := ParseWeekday(r.DayOfWeek)
		if !ok {
			return today.AddDate(0, 0, -1)
		}
		for back := 0; back < 12; back++ {
			// Anchor on the first of the month. AddDate on today would
			// normalize overflowed days (Mar 30 minus one month is "Feb 30",
			// which Go folds into March) and skip short months.
			ref := time.Date(today.Year(), today.Month()-time.Month(back), 1, 0, 0, 0, 0, today.Location())
			occ, found := FindNthWeekday(ref.Year(), ref.Month(), wd, r.WeekOfMonth)
			if found && !occ.After(today) {
				return occ.AddDate(0, 0, -1)
			}
		}
		return today.AddDate(0, 0, -1)
	default:
		return today.AddDate(0, 0, -1)
	}
}

// ResolveWindow computes the [start, end] reporting window for one content
// block. blockIndex -1 selects the report-level range; a block with an
// enabled override resolves its own range through the same fixed/scheduled
// end-date logic.
func ResolveWindow(r *models.Report, blockIndex int, today time.Time) (time.Time, time.Time) {
	token := r.DateRange
	fixed := r.FixedEndDate

	if blockIndex >= 0 && blockIndex < len(r.Blocks) {
		block := r.Blocks[blockIndex]
		if block.DateRangeEnabled && block.DateRange != "" {
			token = block.DateRange
			if block.FixedEndDate != "" {
				fixed = block.FixedEndDate
			}
		}
	}

	var end time.Time
	if r.Scheduled {
		end = ResolveEndDate(r, today)
	} else {
		end = fixedOrYesterday(fixed, Midnight(today), r.ID)
	}
	return ResolveRange(token, end)
}

// lastOccurrenceOnOrBefore finds the latest date with the given weekday
// that is on or before the reference date.
func lastOccurrenceOnOrBefore(weekday time.Weekday, ref time.Time) time.Time {
	offset := (int(ref.Weekday()) - int(weekday) + 7) % 7
	return ref.AddDate(0, 0, -offset)
}

func fixedOrYesterday(fixed string, today time.Time, reportID int64) time.Time {
	if fixed == "" {
		return today.AddDate(0, 0, -1)
	}
	end, err := time.ParseInLocation(DateLayout, fixed, today.Location())
	if err != nil {
		logging.Warn().
			Int64("report_id", reportID).
			Str("fixed_end_date", fixed).
			Msg("Malformed fixed end date, falling back to yesterday")
		return today.AddDate(0, 0, -1)
	}
	return end
}

func parseSendTime(s string) (int, int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}

func reportLocation(r *models.Report) *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		logging.Warn().
			Int64("report_id", r.ID).
			Str("timezone", r.Timezone).
			Msg("Unknown timezone, using UTC")
		return time.UTC
	}
	return loc
}
