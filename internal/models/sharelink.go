// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package models

import "time"

// ShareLink is a read-only link to one report. The token itself is a signed
// JWT; this record tracks revocation and the optional password.
type ShareLink struct {
	ID           int64     `json:"id"`
	TokenID      string    `json:"token_id"`
	ReportID     int64     `json:"report_id"`
	PasswordHash string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	Revoked      bool      `json:"revoked"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasPassword reports whether the link requires a password to view.
func (l *ShareLink) HasPassword() bool {
	return l.PasswordHash != ""
}
