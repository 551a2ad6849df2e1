// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package reports

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lumeo-analytics/lumeo/internal/models"
)

func validReport() models.Report {
	return models.Report{
		Name:       "Weekly traffic",
		Frequency:  models.FrequencyDaily,
		Recipients: []string{"owner@example.com"},
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	now := time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC)

	r, err := New(validReport(), now)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if r.SendTime != "09:00" {
		t.Errorf("SendTime = %q, want 09:00", r.SendTime)
	}
	if r.DateRange != "last-7-days" {
		t.Errorf("DateRange = %q, want last-7-days", r.DateRange)
	}
	if r.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC", r.Timezone)
	}
	if !r.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %s, want %s", r.CreatedAt, now)
	}
	if !r.LastEdit.Equal(now) {
		t.Errorf("LastEdit = %s, want %s", r.LastEdit, now)
	}
}

func TestNewFreezesManualEndDate(t *testing.T) {
	now := time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC)

	manual := validReport()
	r, err := New(manual, now)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if r.FixedEndDate != "2026-08-25" {
		t.Errorf("FixedEndDate = %q, want 2026-08-25", r.FixedEndDate)
	}

	// A caller-supplied snapshot is not overwritten.
	manual = validReport()
	manual.FixedEndDate = "2026-01-31"
	r, err = New(manual, now)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if r.FixedEndDate != "2026-01-31" {
		t.Errorf("FixedEndDate = %q, want 2026-01-31", r.FixedEndDate)
	}

	// Scheduled reports freeze at send time, not creation.
	scheduled := validReport()
	scheduled.Scheduled = true
	r, err = New(scheduled, now)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if r.FixedEndDate != "" {
		t.Errorf("scheduled FixedEndDate = %q, want empty", r.FixedEndDate)
	}
}

func TestNewRejectsInvalidInput(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		mutate func(*models.Report)
	}{
		{"missing name", func(r *models.Report) { r.Name = "" }},
		{"no recipients", func(r *models.Report) { r.Recipients = nil }},
		{"bad recipient", func(r *models.Report) { r.Recipients = []string{"not-an-address"} }},
		{"bad send time", func(r *models.Report) { r.SendTime = "9am" }},
		{"unknown frequency", func(r *models.Report) { r.Frequency = "hourly" }},
		{"weekly without weekday", func(r *models.Report) { r.Frequency = models.FrequencyWeekly }},
		{"monthly without ordinal", func(r *models.Report) {
			r.Frequency = models.FrequencyMonthly
			r.DayOfWeek = "friday"
		}},
		{"monthly ordinal out of range", func(r *models.Report) {
			r.Frequency = models.FrequencyMonthly
			r.DayOfWeek = "friday"
			r.WeekOfMonth = 5
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReport()
			tt.mutate(&r)
			if _, err := New(r, now); err == nil {
				t.Error("New() accepted invalid report")
			}
		})
	}
}

func TestSanitizeResetsUnusedScheduleFields(t *testing.T) {
	now := time.Now()

	daily := validReport()
	daily.DayOfWeek = "monday"
	daily.WeekOfMonth = 2
	daily.DateRange = "last-7-days"
	Sanitize(&daily, now)
	if daily.DayOfWeek != "" || daily.WeekOfMonth != 0 {
		t.Errorf("daily kept day_of_week=%q week_of_month=%d", daily.DayOfWeek, daily.WeekOfMonth)
	}

	weekly := validReport()
	weekly.Frequency = models.FrequencyWeekly
	weekly.DayOfWeek = "monday"
	weekly.WeekOfMonth = 2
	weekly.DateRange = "last-7-days"
	Sanitize(&weekly, now)
	if weekly.DayOfWeek != "monday" {
		t.Errorf("weekly lost its weekday: %q", weekly.DayOfWeek)
	}
	if weekly.WeekOfMonth != 0 {
		t.Errorf("weekly kept week_of_month=%d", weekly.WeekOfMonth)
	}
}

func TestSanitizeResetsUnknownDateRange(t *testing.T) {
	r := validReport()
	r.DateRange = "last-fortnight"
	Sanitize(&r, time.Now())
	if r.DateRange != "last-7-days" {
		t.Errorf("DateRange = %q, want last-7-days", r.DateRange)
	}

	// Custom spans are known ranges and survive.
	r.DateRange = "custom:2026-01-01:2026-01-31"
	Sanitize(&r, time.Now())
	if r.DateRange != "custom:2026-01-01:2026-01-31" {
		t.Errorf("custom DateRange reset to %q", r.DateRange)
	}
}

func TestSanitizeBlocks(t *testing.T) {
	r := validReport()
	r.DateRange = "last-7-days"
	r.Blocks = []models.ContentBlock{
		{Metrics: []string{"pageviews"}},
		{ID: "keep-me", DateRange: "bogus-range", DateRangeEnabled: true},
		{ID: "b3", DateRange: "last-30-days", DateRangeEnabled: true},
	}
	Sanitize(&r, time.Now())

	if r.Blocks[0].ID == "" {
		t.Error("block without ID was not assigned one")
	}
	if r.Blocks[1].ID != "keep-me" {
		t.Errorf("existing block ID rewritten to %q", r.Blocks[1].ID)
	}
	if r.Blocks[1].DateRangeEnabled {
		t.Error("override with unknown range left enabled")
	}
	if !r.Blocks[2].DateRangeEnabled {
		t.Error("valid override was disabled")
	}
}

func TestSanitizeRecipients(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "lowercases and dedupes",
			in:   []string{"Ann@Example.com", "ann@example.com", "bob@example.com"},
			want: []string{"ann@example.com", "bob@example.com"},
		},
		{
			name: "drops invalid addresses",
			in:   []string{"not an address", "ok@example.com", ""},
			want: []string{"ok@example.com"},
		},
		{
			name: "preserves first seen order",
			in:   []string{"z@example.com", "a@example.com", "Z@example.com"},
			want: []string{"z@example.com", "a@example.com"},
		},
		{
			name: "trims surrounding whitespace",
			in:   []string{"  ann@example.com  "},
			want: []string{"ann@example.com"},
		},
		{
			name: "empty input",
			in:   nil,
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeRecipients(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SanitizeRecipients() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueueIDs(t *testing.T) {
	at := time.Date(2026, 8, 26, 17, 45, 12, 0, time.UTC)

	if got := QueueID(at); got != "2026-08-26" {
		t.Errorf("QueueID() = %q, want 2026-08-26", got)
	}

	test1 := TestQueueID(at)
	if !strings.HasPrefix(test1, "test-2026-08-26-") {
		t.Errorf("TestQueueID() = %q", test1)
	}
	if test2 := TestQueueID(at.Add(time.Second)); test2 == test1 {
		t.Error("test queue IDs a second apart collide")
	}
}

func TestFreezeEndDate(t *testing.T) {
	r := validReport()
	FreezeEndDate(&r, time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC))
	if r.FixedEndDate != "2026-08-25" {
		t.Errorf("FixedEndDate = %q, want 2026-08-25", r.FixedEndDate)
	}
}
