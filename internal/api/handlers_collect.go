// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package api

import (
	"net/http"

	"github.com/lumeo-analytics/lumeo/internal/models"
)

// CollectRequest is the tracking payload posted by the client script.
// Type selects the event: "pageview" records a new statistic, "engagement"
// clears the bounce flag for a session, "goal" records a conversion.
type CollectRequest struct {
	Type string `json:"type"`

	// Pageview fields.
	UID            string `json:"uid,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	PageURL        string `json:"page_url,omitempty"`
	PageID         int64  `json:"page_id,omitempty"`
	PageType       string `json:"page_type,omitempty"`
	Referrer       string `json:"referrer,omitempty"`
	Device         string `json:"device,omitempty"`
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	Platform       string `json:"platform,omitempty"`
	Country        string `json:"country,omitempty"`
	Campaign       string `json:"campaign,omitempty"`
	Source         string `json:"source,omitempty"`
	Medium         string `json:"medium,omitempty"`
	FirstTimeVisit bool   `json:"first_time_visit,omitempty"`
	TimeOnPage     int64  `json:"time_on_page,omitempty"`

	// Goal fields.
	GoalID      int64 `json:"goal_id,omitempty"`
	StatisticID int64 `json:"statistic_id,omitempty"`
}

// Collect ingests one tracking event.
func (h *Handlers) Collect(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req CollectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}

	switch req.Type {
	case "pageview":
		if req.UID == "" || req.SessionID == "" || req.PageURL == "" {
			rw.BadRequest("pageview requires uid, session_id and page_url")
			return
		}
		stat := &models.Statistic{
			UID:            req.UID,
			SessionID:      req.SessionID,
			PageURL:        req.PageURL,
			PageID:         req.PageID,
			PageType:       req.PageType,
			Referrer:       req.Referrer,
			Device:         req.Device,
			Browser:        req.Browser,
			BrowserVersion: req.BrowserVersion,
			Platform:       req.Platform,
			Country:        req.Country,
			Campaign:       req.Campaign,
			Source:         req.Source,
			Medium:         req.Medium,
			Bounce:         true,
			FirstTimeVisit: req.FirstTimeVisit,
			TimeOnPage:     req.TimeOnPage,
		}
		if err := h.db.InsertStatistic(r.Context(), stat); err != nil {
			rw.DatabaseError(err)
			return
		}
		rw.Created(map[string]interface{}{"id": stat.ID})

	case "engagement":
		if req.SessionID == "" {
			rw.BadRequest("engagement requires session_id")
			return
		}
		if err := h.db.MarkSessionEngaged(r.Context(), req.SessionID); err != nil {
			rw.DatabaseError(err)
			return
		}
		rw.Success(map[string]interface{}{"updated": true})

	case "goal":
		if req.GoalID == 0 || req.SessionID == "" {
			rw.BadRequest("goal requires goal_id and session_id")
			return
		}
		hit := &models.GoalHit{
			GoalID:      req.GoalID,
			StatisticID: req.StatisticID,
			SessionID:   req.SessionID,
		}
		if err := h.db.InsertGoalHit(r.Context(), hit); err != nil {
			rw.DatabaseError(err)
			return
		}
		rw.Created(map[string]interface{}{"id": hit.ID})

	default:
		rw.BadRequest("unknown event type")
	}
}
