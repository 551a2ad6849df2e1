// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

/*
schema.go - Database Schema Management

This file manages the DuckDB database schema including table creation
and index management.

Tables:
  - statistics: one row per pageview (session, visitor, page, referrer,
    device attributes, bounce flag, time on page)
  - goal_hits: conversion events joined against statistics sessions
  - reports: scheduled and manual email report definitions
    (blocks and recipients stored as JSON columns)
  - report_log: parent/child send log rows, grouped by (report_id, queue_id)
  - share_links: read-only report share link records

Schema Strategy:
All columns are defined in the initial CREATE TABLE statement, giving a
single source of truth and no migrations to run at startup. Integer
primary keys come from DuckDB sequences.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// tableCreationQueries returns the table creation SQL statements
func tableCreationQueries() []string {
	return []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_statistics_id START 1`,
		`CREATE SEQUENCE IF NOT EXISTS seq_goal_hits_id START 1`,
		`CREATE SEQUENCE IF NOT EXISTS seq_reports_id START 1`,
		`CREATE SEQUENCE IF NOT EXISTS seq_report_log_id START 1`,
		`CREATE SEQUENCE IF NOT EXISTS seq_share_links_id START 1`,

		// Pageview statistics - one row per pageview
		`CREATE TABLE IF NOT EXISTS statistics (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_statistics_id'),
			uid TEXT NOT NULL,
			session_id TEXT NOT NULL,
			time TIMESTAMP NOT NULL,
			page_url TEXT NOT NULL,
			page_id BIGINT,
			page_type TEXT,
			referrer TEXT,
			device TEXT,
			browser TEXT,
			browser_version TEXT,
			platform TEXT,
			country TEXT,
			campaign TEXT,
			source TEXT,
			medium TEXT,
			bounce BOOLEAN NOT NULL DEFAULT TRUE,
			first_time_visit BOOLEAN NOT NULL DEFAULT FALSE,
			time_on_page BIGINT NOT NULL DEFAULT 0
		)`,

		// Conversion events
		`CREATE TABLE IF NOT EXISTS goal_hits (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_goal_hits_id'),
			goal_id BIGINT NOT NULL,
			statistic_id BIGINT NOT NULL,
			session_id TEXT NOT NULL,
			time TIMESTAMP NOT NULL
		)`,

		// Email report definitions. Blocks and recipients are JSON columns,
		// marshaled by the CRUD layer.
		`CREATE TABLE IF NOT EXISTS reports (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_reports_id'),
			name TEXT NOT NULL,
			frequency TEXT NOT NULL,
			day_of_week TEXT,
			week_of_month INTEGER NOT NULL DEFAULT 0,
			send_time TEXT NOT NULL,
			timezone TEXT NOT NULL,
			scheduled BOOLEAN NOT NULL DEFAULT TRUE,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			blocks JSON NOT NULL,
			date_range TEXT NOT NULL,
			fixed_end_date TEXT,
			recipients JSON NOT NULL,
			subject TEXT NOT NULL,
			last_edit TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		// Send log. Parent rows have kind 'parent' and an empty batch_id,
		// child rows carry the recipient batch they cover.
		`CREATE TABLE IF NOT EXISTS report_log (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_report_log_id'),
			kind TEXT NOT NULL,
			report_id BIGINT NOT NULL,
			queue_id TEXT NOT NULL,
			batch_id TEXT,
			status TEXT NOT NULL,
			message TEXT,
			time TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS share_links (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_share_links_id'),
			token_id TEXT NOT NULL UNIQUE,
			report_id BIGINT NOT NULL,
			password_hash TEXT,
			expires_at TIMESTAMP NOT NULL,
			revoked BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`,
	}
}

// createIndexes creates indexes for common query patterns
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_statistics_time ON statistics(time)`,
		`CREATE INDEX IF NOT EXISTS idx_statistics_session ON statistics(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_statistics_uid ON statistics(uid)`,
		`CREATE INDEX IF NOT EXISTS idx_goal_hits_session ON goal_hits(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_goal_hits_time ON goal_hits(time)`,
		`CREATE INDEX IF NOT EXISTS idx_report_log_occurrence ON report_log(report_id, queue_id)`,
		`CREATE INDEX IF NOT EXISTS idx_report_log_time ON report_log(time)`,
		`CREATE INDEX IF NOT EXISTS idx_share_links_token ON share_links(token_id)`,
	}

	for _, idx := range indexes {
		if _, err := db.conn.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", idx, err)
		}
	}

	return nil
}
