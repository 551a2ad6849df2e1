// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package models

import "time"

// Statistic is one recorded pageview.
type Statistic struct {
	ID             int64     `json:"id"`
	UID            string    `json:"uid"`
	SessionID      string    `json:"session_id"`
	Time           time.Time `json:"time"`
	PageURL        string    `json:"page_url"`
	PageID         int64     `json:"page_id,omitempty"`
	PageType       string    `json:"page_type,omitempty"`
	Referrer       string    `json:"referrer,omitempty"`
	Device         string    `json:"device,omitempty"`
	Browser        string    `json:"browser,omitempty"`
	BrowserVersion string    `json:"browser_version,omitempty"`
	Platform       string    `json:"platform,omitempty"`
	Country        string    `json:"country,omitempty"`
	Campaign       string    `json:"campaign,omitempty"`
	Source         string    `json:"source,omitempty"`
	Medium         string    `json:"medium,omitempty"`
	Bounce         bool      `json:"bounce"`
	FirstTimeVisit bool      `json:"first_time_visit"`
	TimeOnPage     int64     `json:"time_on_page"`
}

// GoalHit is one recorded conversion event, tied to the session and the
// pageview during which the goal completed.
type GoalHit struct {
	ID          int64     `json:"id"`
	GoalID      int64     `json:"goal_id"`
	StatisticID int64     `json:"statistic_id"`
	SessionID   string    `json:"session_id"`
	Time        time.Time `json:"time"`
}
