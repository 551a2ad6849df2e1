// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

// Package reportlog reconciles parent and child report-send log entries
// into one operator-facing status per send occurrence.
//
// A send occurrence fans out into independent batch jobs whose completion
// order is not guaranteed. The aggregation and finalization logic here is
// written to tolerate out-of-order and partial batch completion, and to
// surface missed sends (due but never attempted) as their own status
// rather than conflating them with send failures.
package reportlog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lumeo-analytics/lumeo/internal/logging"
	"github.com/lumeo-analytics/lumeo/internal/metrics"
	"github.com/lumeo-analytics/lumeo/internal/models"
	"github.com/lumeo-analytics/lumeo/internal/reports"
)

// Store is the persistence surface the aggregator needs.
type Store interface {
	// Occurrence returns the parent entry and its children for one
	// (report, queue) key. parent is nil when no parent row exists.
	Occurrence(ctx context.Context, reportID int64, queueID string) (*models.ReportLogEntry, []models.ReportLogEntry, error)

	// HasOccurrence reports whether any parent entry exists for the key.
	HasOccurrence(ctx context.Context, reportID int64, queueID string) (bool, error)

	// InsertLogEntry persists a new log entry.
	InsertLogEntry(ctx context.Context, entry *models.ReportLogEntry) error

	// UpdateLogStatus updates one entry's status and message.
	UpdateLogStatus(ctx context.Context, id int64, status models.SendStatus, message string) error
}

// Aggregate merges raw log rows into per-occurrence groups. Parent entries
// seed groups keyed by (report_id, queue_id); child entries append to the
// group's batch list and bump the group time to the most recent activity.
// Orphaned children with no parent are dropped. Groups are returned most
// recent first.
func Aggregate(entries []models.ReportLogEntry) []models.SendOccurrence {
	type key struct {
		reportID int64
		queueID  string
	}

	groups := make(map[key]*models.SendOccurrence)
	order := make([]key, 0)

	for _, e := range entries {
		if e.Kind != models.LogEntryParent {
			continue
		}
		k := key{e.ReportID, e.QueueID}
		if _, dup := groups[k]; dup {
			continue
		}
		groups[k] = &models.SendOccurrence{
			ReportID: e.ReportID,
			QueueID:  e.QueueID,
			Status:   e.Status,
			Message:  e.Message,
			Time:     e.Time,
		}
		order = append(order, k)
	}

	for _, e := range entries {
		if e.Kind != models.LogEntryChild {
			continue
		}
		g, ok := groups[key{e.ReportID, e.QueueID}]
		if !ok {
			logging.Debug().
				Int64("report_id", e.ReportID).
				Str("queue_id", e.QueueID).
				Msg("Dropping orphaned batch log entry")
			continue
		}
		g.Batches = append(g.Batches, e)
		if e.Time.After(g.Time) {
			g.Time = e.Time
		}
	}

	out := make([]models.SendOccurrence, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.After(out[j].Time)
	})
	return out
}

// ResolveStatus computes a parent's terminal status from its children:
//
//   - no children: the send produced nothing, sending_failed
//   - any child partly sent: partly_sent
//   - all children agree: adopt their status
//   - mixed with at least one success: partly_sent
//   - mixed failures only: sending_failed
func ResolveStatus(children []models.ReportLogEntry) (models.SendStatus, string) {
	if len(children) == 0 {
		return models.StatusSendingFailed, "no batches processed"
	}

	uniform := true
	anySuccess := false
	for _, c := range children {
		if c.Status == models.StatusPartlySent {
			return models.StatusPartlySent, ""
		}
		if c.Status != children[0].Status {
			uniform = false
		}
		if c.Status == models.StatusSendingSuccessful {
			anySuccess = true
		}
	}

	if uniform {
		return children[0].Status, ""
	}
	if anySuccess {
		return models.StatusPartlySent, ""
	}
	return models.StatusSendingFailed, ""
}

// Finalize resolves a parent entry's terminal status once its batches are
// believed complete. Finalizing a parent that is no longer processing is a
// no-op, making the operation idempotent against repeated invocation.
func Finalize(ctx context.Context, store Store, reportID int64, queueID string) error {
	parent, children, err := store.Occurrence(ctx, reportID, queueID)
	if err != nil {
		return fmt.Errorf("load occurrence %d/%s: %w", reportID, queueID, err)
	}
	if parent == nil {
		return fmt.Errorf("no parent log entry for %d/%s", reportID, queueID)
	}
	if parent.Status != models.StatusProcessing {
		return nil
	}

	status, message := ResolveStatus(children)
	if err := store.UpdateLogStatus(ctx, parent.ID, status, message); err != nil {
		return fmt.Errorf("finalize %d/%s: %w", reportID, queueID, err)
	}

	logging.Info().
		Int64("report_id", reportID).
		Str("queue_id", queueID).
		Str("status", string(status)).
		Int("batches", len(children)).
		Msg("Report send finalized")
	return nil
}

// DetectMisses inserts a cron_miss entry for every enabled, scheduled
// report whose most recent due send is more than the lateness window in
// the past with no log row for that date. Re-running is safe: existence is
// checked by (report, date) before inserting.
func DetectMisses(ctx context.Context, store Store, all []models.Report, now time.Time) error {
	for i := range all {
		r := &all[i]
		if !r.Enabled || !r.Scheduled {
			continue
		}

		dueDate, ok := lastDueDate(r, now)
		if !ok {
			continue
		}
		dueAt, ok := reports.SendInstantOn(r, dueDate)
		if !ok {
			continue
		}
		if now.Sub(dueAt) <= reports.LatenessWindow {
			continue
		}

		queueID := reports.QueueID(dueDate)
		exists, err := store.HasOccurrence(ctx, r.ID, queueID)
		if err != nil {
			return fmt.Errorf("check occurrence %d/%s: %w", r.ID, queueID, err)
		}
		if exists {
			continue
		}

		entry := &models.ReportLogEntry{
			Kind:     models.LogEntryParent,
			ReportID: r.ID,
			QueueID:  queueID,
			Status:   models.StatusCronMiss,
			Message:  "scheduled send was never attempted",
			Time:     now,
		}
		if err := store.InsertLogEntry(ctx, entry); err != nil {
			return fmt.Errorf("record cron miss %d/%s: %w", r.ID, queueID, err)
		}
		metrics.CronMissesTotal.Inc()
		logging.Warn().
			Int64("report_id", r.ID).
			Str("queue_id", queueID).
			Msg("Recorded missed scheduled send")
	}
	return nil
}

// lastDueDate finds the most recent calendar date on or before now that
// matches the report's schedule, searching back at most 62 days.
func lastDueDate(r *models.Report, now time.Time) (time.Time, bool) {
	day := reports.Midnight(now)
	for back := 0; back < 62; back++ {
		if reports.MatchesSchedule(r, day) {
			return day, true
		}
		day = day.AddDate(0, 0, -1)
	}
	return time.Time{}, false
}
