// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

// Package database provides database operations for the Lumeo application.
//
// crud_reports.go - Email Report Database Operations
//
// This file contains CRUD operations for report definitions:
//   - Create, read, update, delete
//   - Listing with enabled/scheduled filters
//   - Duplication ("Copy of ..." with a fresh identity)
//
// All operations use parameterized queries to prevent SQL injection.
// Blocks and recipients are JSON columns handled with proper marshaling.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lumeo-analytics/lumeo/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

const reportColumns = `
	id, name, frequency, day_of_week, week_of_month, send_time, timezone,
	scheduled, enabled, blocks::VARCHAR, date_range, fixed_end_date,
	recipients::VARCHAR, subject, last_edit, created_at`

// CreateReport inserts a new report and sets its generated ID.
func (db *DB) CreateReport(ctx context.Context, report *models.Report) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	blocksJSON, err := marshalJSONField(report.Blocks, "blocks")
	if err != nil {
		return err
	}
	recipientsJSON, err := marshalJSONField(report.Recipients, "recipients")
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if report.CreatedAt.IsZero() {
		report.CreatedAt = now
	}
	report.LastEdit = now

	query := `
		INSERT INTO reports (
			name, frequency, day_of_week, week_of_month, send_time, timezone,
			scheduled, enabled, blocks, date_range, fixed_end_date,
			recipients, subject, last_edit, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err = db.conn.QueryRowContext(ctx, query,
		report.Name,
		string(report.Frequency),
		nullableString(report.DayOfWeek),
		report.WeekOfMonth,
		report.SendTime,
		report.Timezone,
		report.Scheduled,
		report.Enabled,
		blocksJSON,
		report.DateRange,
		nullableString(report.FixedEndDate),
		recipientsJSON,
		report.Subject,
		report.LastEdit,
		report.CreatedAt,
	).Scan(&report.ID)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	return nil
}

// GetReport retrieves a report by ID. Returns ErrNotFound if it does not exist.
func (db *DB) GetReport(ctx context.Context, id int64) (*models.Report, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT` + reportColumns + ` FROM reports WHERE id = ?`

	row := db.conn.QueryRowContext(ctx, query, id)
	report, err := scanReportRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}
	return report, nil
}

// ListReports returns all reports ordered by creation time.
func (db *DB) ListReports(ctx context.Context) ([]models.Report, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT` + reportColumns + ` FROM reports ORDER BY created_at, id`

	results, err := queryAndScan(ctx, db.conn, query, nil, func(rows *sql.Rows) (models.Report, error) {
		report, err := scanReportRow(rows.Scan)
		if err != nil {
			return models.Report{}, err
		}
		return *report, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return results, nil
}

// ListActiveScheduledReports returns reports the scheduler should consider:
// enabled and marked as scheduled.
func (db *DB) ListActiveScheduledReports(ctx context.Context) ([]models.Report, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT` + reportColumns + ` FROM reports WHERE enabled AND scheduled ORDER BY id`

	results, err := queryAndScan(ctx, db.conn, query, nil, func(rows *sql.Rows) (models.Report, error) {
		report, err := scanReportRow(rows.Scan)
		if err != nil {
			return models.Report{}, err
		}
		return *report, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled reports: %w", err)
	}
	return results, nil
}

// UpdateReport persists all mutable fields of an existing report.
func (db *DB) UpdateReport(ctx context.Context, report *models.Report) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	blocksJSON, err := marshalJSONField(report.Blocks, "blocks")
	if err != nil {
		return err
	}
	recipientsJSON, err := marshalJSONField(report.Recipients, "recipients")
	if err != nil {
		return err
	}

	report.LastEdit = time.Now().UTC()

	query := `
		UPDATE reports SET
			name = ?, frequency = ?, day_of_week = ?, week_of_month = ?,
			send_time = ?, timezone = ?, scheduled = ?, enabled = ?,
			blocks = ?, date_range = ?, fixed_end_date = ?,
			recipients = ?, subject = ?, last_edit = ?
		WHERE id = ?
	`

	result, err := db.conn.ExecContext(ctx, query,
		report.Name,
		string(report.Frequency),
		nullableString(report.DayOfWeek),
		report.WeekOfMonth,
		report.SendTime,
		report.Timezone,
		report.Scheduled,
		report.Enabled,
		blocksJSON,
		report.DateRange,
		nullableString(report.FixedEndDate),
		recipientsJSON,
		report.Subject,
		report.LastEdit,
		report.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update report: %w", err)
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

// DeleteReport removes a report and its log entries.
func (db *DB) DeleteReport(ctx context.Context, id int64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if _, err := db.conn.ExecContext(ctx, `DELETE FROM report_log WHERE report_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete report log entries: %w", err)
	}

	return nil
}

// DuplicateReport copies an existing report under a new name. The copy is
// disabled so it never sends before the user reviews it.
func (db *DB) DuplicateReport(ctx context.Context, id int64) (*models.Report, error) {
	original, err := db.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}

	duplicate := *original
	duplicate.ID = 0
	duplicate.Name = "Copy of " + original.Name
	duplicate.Enabled = false
	duplicate.CreatedAt = time.Time{}

	if err := db.CreateReport(ctx, &duplicate); err != nil {
		return nil, err
	}
	return &duplicate, nil
}

// scanReportRow scans one report row from either *sql.Row or *sql.Rows.
func scanReportRow(scan func(dest ...interface{}) error) (*models.Report, error) {
	var report models.Report
	var frequency string
	var dayOfWeek, fixedEndDate sql.NullString
	var blocksJSON, recipientsJSON sql.NullString

	err := scan(
		&report.ID,
		&report.Name,
		&frequency,
		&dayOfWeek,
		&report.WeekOfMonth,
		&report.SendTime,
		&report.Timezone,
		&report.Scheduled,
		&report.Enabled,
		&blocksJSON,
		&report.DateRange,
		&fixedEndDate,
		&recipientsJSON,
		&report.Subject,
		&report.LastEdit,
		&report.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	report.Frequency = models.ReportFrequency(frequency)
	report.DayOfWeek = dayOfWeek.String
	report.FixedEndDate = fixedEndDate.String

	if err := parseJSONFieldInto(blocksJSON, &report.Blocks, "blocks"); err != nil {
		return nil, err
	}
	if err := parseJSONFieldInto(recipientsJSON, &report.Recipients, "recipients"); err != nil {
		return nil, err
	}

	return &report, nil
}
