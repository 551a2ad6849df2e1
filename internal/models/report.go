// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

// Package models provides data structures for the Lumeo application.
//
// report.go - Scheduled Email Report Models
//
// This file contains models for the email reporting system:
//   - Reports with daily/weekly/monthly schedules
//   - Content blocks with per-block filters and date ranges
//   - Frozen "as-of" dates for manual reports so repeat views stay stable
package models

import (
	"time"
)

// ReportFrequency defines how often a scheduled report is sent.
type ReportFrequency string

const (
	// FrequencyDaily sends the report every day at the configured send time.
	FrequencyDaily ReportFrequency = "daily"

	// FrequencyWeekly sends the report on the configured weekday.
	FrequencyWeekly ReportFrequency = "weekly"

	// FrequencyMonthly sends the report on the nth (or last) occurrence of
	// the configured weekday in each month.
	FrequencyMonthly ReportFrequency = "monthly"
)

// ValidReportFrequencies contains all valid report frequencies.
var ValidReportFrequencies = []ReportFrequency{
	FrequencyDaily,
	FrequencyWeekly,
	FrequencyMonthly,
}

// IsValidReportFrequency checks if a report frequency is valid.
func IsValidReportFrequency(f ReportFrequency) bool {
	for _, valid := range ValidReportFrequencies {
		if f == valid {
			return true
		}
	}
	return false
}

// WeekOfMonthLast is the sentinel ordinal meaning "the last occurrence of
// the configured weekday in the month". Months with five occurrences of a
// weekday resolve to the fifth, not the fourth.
const WeekOfMonthLast = -1

// ValidWeekOfMonth checks a week-of-month ordinal (1, 2, 3 or last).
func ValidWeekOfMonth(n int) bool {
	return n == WeekOfMonthLast || (n >= 1 && n <= 3)
}

// Report represents one configured email report.
//
// A report is either scheduled (sent automatically by the scheduler) or
// manual. Manual reports carry a frozen end date so that viewing the same
// report twice returns identical data regardless of when it is viewed.
type Report struct {
	// ID is the report identifier. Zero until persisted.
	ID int64 `json:"id"`

	// Name is the human-readable report name.
	Name string `json:"name" validate:"required,min=1,max=100"`

	// Frequency is the send cadence: daily, weekly or monthly.
	Frequency ReportFrequency `json:"frequency" validate:"required"`

	// DayOfWeek is the lowercase English weekday name ("monday").
	// Required for weekly and monthly reports, empty for daily.
	DayOfWeek string `json:"day_of_week,omitempty"`

	// WeekOfMonth is the occurrence ordinal for monthly reports:
	// 1, 2, 3 or WeekOfMonthLast. Zero for daily and weekly reports.
	WeekOfMonth int `json:"week_of_month,omitempty"`

	// SendTime is the local send time in 24-hour "HH:MM" format.
	SendTime string `json:"send_time" validate:"required,send_time"`

	// Timezone is the IANA timezone for schedule evaluation.
	Timezone string `json:"timezone"`

	// Scheduled marks the report as automatic. Manual reports are only
	// sent on demand and resolve their window from FixedEndDate.
	Scheduled bool `json:"scheduled"`

	// Enabled controls whether the scheduler considers this report.
	// A disabled report is a concept: editable but never sent.
	Enabled bool `json:"enabled"`

	// Blocks is the ordered list of content blocks rendered into the email.
	Blocks []ContentBlock `json:"blocks"`

	// DateRange is the report-level date range token, either a named range
	// ("last-7-days") or a literal "custom:YYYY-MM-DD:YYYY-MM-DD" span.
	DateRange string `json:"date_range" validate:"required,date_range"`

	// FixedEndDate is the frozen "as-of" date ("YYYY-MM-DD") for manual
	// reports. Set to yesterday at creation and at each send for scheduled
	// reports so the logged occurrence records the window it covered.
	FixedEndDate string `json:"fixed_end_date,omitempty"`

	// Recipients is the deduplicated, validated list of email addresses.
	Recipients []string `json:"recipients" validate:"required,min=1,dive,email"`

	// Subject is the email subject line.
	Subject string `json:"subject" validate:"max=200"`

	// LastEdit is refreshed on every save.
	LastEdit time.Time `json:"last_edit"`

	// CreatedAt is when the report was created.
	CreatedAt time.Time `json:"created_at"`
}

// ContentBlock is one section of a report email. Rendering of the block
// (tables, charts) is external; the core treats it as an opaque record of
// metrics, filters and an optional per-block date range.
type ContentBlock struct {
	// ID identifies the block within the report.
	ID string `json:"id"`

	// Metrics lists the metric identifiers rendered in this block.
	Metrics []string `json:"metrics,omitempty"`

	// Filters is the raw filter mapping for this block. It is sanitized
	// against the strict allowlist before any query runs.
	Filters map[string]interface{} `json:"filters,omitempty"`

	// DateRange overrides the report-level range when DateRangeEnabled.
	DateRange string `json:"date_range,omitempty"`

	// DateRangeEnabled activates the per-block DateRange override.
	DateRangeEnabled bool `json:"date_range_enabled"`

	// CommentTitle is an optional heading shown above the block.
	CommentTitle string `json:"comment_title,omitempty"`

	// CommentText is optional free text shown with the block.
	CommentText string `json:"comment_text,omitempty"`

	// FixedEndDate freezes this block's window end for manual reports.
	FixedEndDate string `json:"fixed_end_date,omitempty"`
}

// UsesDayOfWeek reports whether the frequency requires a configured weekday.
func (f ReportFrequency) UsesDayOfWeek() bool {
	return f == FrequencyWeekly || f == FrequencyMonthly
}

// UsesWeekOfMonth reports whether the frequency requires a week-of-month ordinal.
func (f ReportFrequency) UsesWeekOfMonth() bool {
	return f == FrequencyMonthly
}
