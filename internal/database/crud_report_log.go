// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lumeo-analytics/lumeo/internal/models"
)

const logColumns = `id, kind, report_id, queue_id, batch_id, status, message, time`

// InsertLogEntry inserts a send log row and sets its generated ID.
func (db *DB) InsertLogEntry(ctx context.Context, entry *models.ReportLogEntry) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}

	query := `
		INSERT INTO report_log (kind, report_id, queue_id, batch_id, status, message, time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := db.conn.QueryRowContext(ctx, query,
		string(entry.Kind),
		entry.ReportID,
		entry.QueueID,
		nullableString(entry.BatchID),
		string(entry.Status),
		nullableString(entry.Message),
		entry.Time,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}

	return nil
}

// UpdateLogStatus updates the status and message of one log row.
func (db *DB) UpdateLogStatus(ctx context.Context, id int64, status models.SendStatus, message string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE report_log SET status = ?, message = ?, time = ? WHERE id = ?`,
		string(status), nullableString(message), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update log status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Occurrence returns the parent log row for (reportID, queueID) and all of
// its child batch rows. A nil parent with no error means the occurrence
// does not exist.
func (db *DB) Occurrence(ctx context.Context, reportID int64, queueID string) (*models.ReportLogEntry, []models.ReportLogEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT ` + logColumns + `
		FROM report_log
		WHERE report_id = ? AND queue_id = ?
		ORDER BY id`

	entries, err := queryAndScan(ctx, db.conn, query, []interface{}{reportID, queueID}, scanLogEntry)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load occurrence: %w", err)
	}

	var parent *models.ReportLogEntry
	var children []models.ReportLogEntry
	for i := range entries {
		if entries[i].Kind == models.LogEntryParent && parent == nil {
			parent = &entries[i]
			continue
		}
		children = append(children, entries[i])
	}

	return parent, children, nil
}

// HasOccurrence reports whether any log row exists for (reportID, queueID).
func (db *DB) HasOccurrence(ctx context.Context, reportID int64, queueID string) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM report_log WHERE report_id = ? AND queue_id = ?`,
		reportID, queueID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check occurrence: %w", err)
	}
	return count > 0, nil
}

// ListLogEntries returns log rows in reverse chronological order, optionally
// restricted to one report. Limit 0 means no limit.
func (db *DB) ListLogEntries(ctx context.Context, reportID int64, limit int) ([]models.ReportLogEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT ` + logColumns + ` FROM report_log`
	args := make([]interface{}, 0, 2)
	if reportID > 0 {
		query += ` WHERE report_id = ?`
		args = append(args, reportID)
	}
	query += ` ORDER BY time DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	entries, err := queryAndScan(ctx, db.conn, query, args, scanLogEntry)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	return entries, nil
}

// PurgeLogsBefore deletes log rows older than cutoff and returns the count.
func (db *DB) PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx, `DELETE FROM report_log WHERE time < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge log entries: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check purge result: %w", err)
	}
	return deleted, nil
}

// scanLogEntry scans one report_log row.
func scanLogEntry(rows *sql.Rows) (models.ReportLogEntry, error) {
	var entry models.ReportLogEntry
	var kind, status string
	var batchID, message sql.NullString

	err := rows.Scan(
		&entry.ID,
		&kind,
		&entry.ReportID,
		&entry.QueueID,
		&batchID,
		&status,
		&message,
		&entry.Time,
	)
	if err != nil {
		return models.ReportLogEntry{}, err
	}

	entry.Kind = models.LogEntryKind(kind)
	entry.Status = models.SendStatus(status)
	entry.BatchID = batchID.String
	entry.Message = message.String

	return entry, nil
}
