// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lumeo-analytics/lumeo/internal/logging"
	"github.com/lumeo-analytics/lumeo/internal/models"
	"github.com/lumeo-analytics/lumeo/internal/query"
)

// ExecuteDescriptor renders a sanitized query descriptor into SQL and runs
// it against the statistics tables. Results come back as one map per row,
// keyed by result column name.
func (db *DB) ExecuteDescriptor(ctx context.Context, d *query.Descriptor, start, end time.Time) ([]map[string]interface{}, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	sqlText, args := d.Render(start, end)

	logging.Debug().
		Str("sql", sqlText).
		Int("args", len(args)).
		Msg("Executing analytics query")

	rows, err := db.conn.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute analytics query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics query iteration failed: %w", err)
	}

	return results, nil
}

// InsertStatistic records one pageview.
func (db *DB) InsertStatistic(ctx context.Context, stat *models.Statistic) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if stat.Time.IsZero() {
		stat.Time = time.Now().UTC()
	}

	query := `
		INSERT INTO statistics (
			uid, session_id, time, page_url, page_id, page_type, referrer,
			device, browser, browser_version, platform, country,
			campaign, source, medium, bounce, first_time_visit, time_on_page
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := db.conn.QueryRowContext(ctx, query,
		stat.UID,
		stat.SessionID,
		stat.Time,
		stat.PageURL,
		stat.PageID,
		nullableString(stat.PageType),
		nullableString(stat.Referrer),
		nullableString(stat.Device),
		nullableString(stat.Browser),
		nullableString(stat.BrowserVersion),
		nullableString(stat.Platform),
		nullableString(stat.Country),
		nullableString(stat.Campaign),
		nullableString(stat.Source),
		nullableString(stat.Medium),
		stat.Bounce,
		stat.FirstTimeVisit,
		stat.TimeOnPage,
	).Scan(&stat.ID)
	if err != nil {
		return fmt.Errorf("failed to insert statistic: %w", err)
	}

	return nil
}

// MarkSessionEngaged clears the bounce flag for every pageview in a session.
// Called when a session records a second pageview or meaningful interaction.
func (db *DB) MarkSessionEngaged(ctx context.Context, sessionID string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`UPDATE statistics SET bounce = FALSE WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session engaged: %w", err)
	}
	return nil
}

// InsertGoalHit records one conversion event.
func (db *DB) InsertGoalHit(ctx context.Context, hit *models.GoalHit) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if hit.Time.IsZero() {
		hit.Time = time.Now().UTC()
	}

	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO goal_hits (goal_id, statistic_id, session_id, time)
		 VALUES (?, ?, ?, ?) RETURNING id`,
		hit.GoalID, hit.StatisticID, hit.SessionID, hit.Time,
	).Scan(&hit.ID)
	if err != nil {
		return fmt.Errorf("failed to insert goal hit: %w", err)
	}

	return nil
}

// GetRecordCounts returns row counts for the main tables, used by the
// health endpoint and backup verification.
func (db *DB) GetRecordCounts(ctx context.Context) (statistics int64, reports int64, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	err = db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM statistics").Scan(&statistics)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count statistics: %w", err)
	}

	err = db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&reports)
	if err != nil {
		return statistics, 0, fmt.Errorf("failed to count reports: %w", err)
	}

	return statistics, reports, nil
}
