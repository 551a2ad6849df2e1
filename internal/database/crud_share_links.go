// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lumeo-analytics/lumeo/internal/models"
)

// CreateShareLink inserts a share link record and sets its generated ID.
func (db *DB) CreateShareLink(ctx context.Context, link *models.ShareLink) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}

	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO share_links (token_id, report_id, password_hash, expires_at, revoked, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		link.TokenID,
		link.ReportID,
		nullableString(link.PasswordHash),
		link.ExpiresAt,
		link.Revoked,
		link.CreatedAt,
	).Scan(&link.ID)
	if err != nil {
		return fmt.Errorf("failed to insert share link: %w", err)
	}

	return nil
}

// GetShareLinkByToken retrieves a share link by its token ID.
// Returns ErrNotFound if it does not exist.
func (db *DB) GetShareLinkByToken(ctx context.Context, tokenID string) (*models.ShareLink, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var link models.ShareLink
	var passwordHash sql.NullString

	err := db.conn.QueryRowContext(ctx,
		`SELECT id, token_id, report_id, password_hash, expires_at, revoked, created_at
		 FROM share_links WHERE token_id = ?`, tokenID).Scan(
		&link.ID,
		&link.TokenID,
		&link.ReportID,
		&passwordHash,
		&link.ExpiresAt,
		&link.Revoked,
		&link.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan share link: %w", err)
	}

	link.PasswordHash = passwordHash.String
	return &link, nil
}

// ListShareLinks returns share links for one report, newest first.
func (db *DB) ListShareLinks(ctx context.Context, reportID int64) ([]models.ShareLink, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT id, token_id, report_id, password_hash, expires_at, revoked, created_at
		FROM share_links WHERE report_id = ? ORDER BY created_at DESC, id DESC`

	links, err := queryAndScan(ctx, db.conn, query, []interface{}{reportID}, func(rows *sql.Rows) (models.ShareLink, error) {
		var link models.ShareLink
		var passwordHash sql.NullString
		err := rows.Scan(
			&link.ID,
			&link.TokenID,
			&link.ReportID,
			&passwordHash,
			&link.ExpiresAt,
			&link.Revoked,
			&link.CreatedAt,
		)
		if err != nil {
			return models.ShareLink{}, err
		}
		link.PasswordHash = passwordHash.String
		return link, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list share links: %w", err)
	}
	return links, nil
}

// RevokeShareLink marks a share link as revoked.
func (db *DB) RevokeShareLink(ctx context.Context, tokenID string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE share_links SET revoked = TRUE WHERE token_id = ?`, tokenID)
	if err != nil {
		return fmt.Errorf("failed to revoke share link: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check revoke result: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteExpiredShareLinks removes links past their expiry and returns the count.
func (db *DB) DeleteExpiredShareLinks(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM share_links WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired share links: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check delete result: %w", err)
	}
	return deleted, nil
}
