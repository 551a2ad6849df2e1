// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

// Package reports implements report lifecycle, schedule matching and
// reporting-window date arithmetic.
package reports

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumeo-analytics/lumeo/internal/logging"
	"github.com/lumeo-analytics/lumeo/internal/models"
	"github.com/lumeo-analytics/lumeo/internal/validation"
)

// New creates a report from caller input, applying defaults and
// required-field validation. The returned report has no ID until persisted.
//
// Manual reports get their fixed end date frozen to yesterday at creation
// so that repeated views of the report return consistent data.
func New(r models.Report, now time.Time) (*models.Report, error) {
	if r.SendTime == "" {
		r.SendTime = "09:00"
	}
	if r.DateRange == "" {
		r.DateRange = "last-7-days"
	}
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}

	if err := validation.ValidateStruct(&r); err != nil {
		return nil, fmt.Errorf("invalid report: %w", err)
	}
	if err := ValidateSchedule(&r); err != nil {
		return nil, err
	}

	if !r.Scheduled && r.FixedEndDate == "" {
		r.FixedEndDate = Midnight(now).AddDate(0, 0, -1).Format(DateLayout)
	}
	r.CreatedAt = now

	Sanitize(&r, now)
	return &r, nil
}

// ValidateSchedule checks the scheduling fields as a unit: the frequency
// must be known, and the weekday and week-of-month fields it uses must be
// set to valid values. Called on both create and update so a report can
// never be persisted with a schedule the scheduler cannot evaluate.
func ValidateSchedule(r *models.Report) error {
	if !models.IsValidReportFrequency(r.Frequency) {
		return fmt.Errorf("invalid report frequency %q", r.Frequency)
	}
	if r.Frequency.UsesDayOfWeek() {
		if _, ok := ParseWeekday(r.DayOfWeek); !ok {
			return fmt.Errorf("frequency %q requires a valid day_of_week", r.Frequency)
		}
	}
	if r.Frequency.UsesWeekOfMonth() && !models.ValidWeekOfMonth(r.WeekOfMonth) {
		return fmt.Errorf("monthly reports require week_of_month 1, 2, 3 or last")
	}
	return nil
}

// Sanitize normalizes a report in place before every save: scheduling
// fields that the frequency does not use are reset, recipients are
// validated and deduplicated, and the last-edit timestamp is refreshed.
func Sanitize(r *models.Report, now time.Time) {
	switch r.Frequency {
	case models.FrequencyDaily:
		r.DayOfWeek = ""
		r.WeekOfMonth = 0
	case models.FrequencyWeekly:
		r.WeekOfMonth = 0
	}

	r.Recipients = SanitizeRecipients(r.Recipients)
	if !KnownRange(r.DateRange) {
		logging.Warn().
			Int64("report_id", r.ID).
			Str("date_range", r.DateRange).
			Msg("Unknown date range on save, resetting to last-7-days")
		r.DateRange = "last-7-days"
	}

	for i := range r.Blocks {
		if r.Blocks[i].ID == "" {
			r.Blocks[i].ID = uuid.New().String()
		}
		if r.Blocks[i].DateRangeEnabled && !KnownRange(r.Blocks[i].DateRange) {
			r.Blocks[i].DateRangeEnabled = false
		}
	}

	r.LastEdit = now
}

// SanitizeRecipients validates, lowercases and deduplicates a recipient
// list, preserving first-seen order. Invalid addresses are dropped with a
// logged diagnostic.
func SanitizeRecipients(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		addr, err := mail.ParseAddress(strings.TrimSpace(raw))
		if err != nil {
			logging.Debug().Str("recipient", raw).Msg("Dropping invalid recipient address")
			continue
		}
		email := strings.ToLower(addr.Address)
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out
}

// QueueID returns the send-occurrence key for a scheduled send on the given
// date. The key is the calendar date, which makes one parent log entry per
// report per day idempotent.
func QueueID(date time.Time) string {
	return Midnight(date).Format(DateLayout)
}

// TestQueueID returns the occurrence key for a test send. Test keys embed a
// timestamp so they never collide with scheduled occurrences.
func TestQueueID(now time.Time) string {
	return fmt.Sprintf("test-%s-%d", Midnight(now).Format(DateLayout), now.Unix())
}

// FreezeEndDate stamps the frozen end date used for this send occurrence:
// yesterday relative to the send date. Called at send time for scheduled
// reports so the logged occurrence records the window it covered.
func FreezeEndDate(r *models.Report, now time.Time) {
	r.FixedEndDate = Midnight(now).AddDate(0, 0, -1).Format(DateLayout)
}
