// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/lumeo-analytics/lumeo/internal/metrics"
	"github.com/lumeo-analytics/lumeo/internal/query"
	"github.com/lumeo-analytics/lumeo/internal/reports"
)

// QueryRequest describes one analytics query. The date window comes either
// from DateRange (a named token or "custom:YYYY-MM-DD:YYYY-MM-DD") or from
// explicit DateStart and DateEnd; DateRange wins when both are set.
type QueryRequest struct {
	Metrics   []string               `json:"metrics"`
	Filters   map[string]interface{} `json:"filters,omitempty"`
	GroupBy   []string               `json:"group_by,omitempty"`
	OrderBy   []string               `json:"order_by,omitempty"`
	DateRange string                 `json:"date_range,omitempty"`
	DateStart string                 `json:"date_start,omitempty"`
	DateEnd   string                 `json:"date_end,omitempty"`
	Limit     int                    `json:"limit,omitempty"`

	// Mode selects the privilege mode, "strict" (default) or "full".
	// Authorization for full mode sits in front of this service; the API
	// trusts the deployment to only route privileged callers here.
	Mode string `json:"mode,omitempty"`
}

// QueryResponse carries the query results and the window they cover.
type QueryResponse struct {
	Rows      []map[string]interface{} `json:"rows"`
	DateStart string                   `json:"date_start"`
	DateEnd   string                   `json:"date_end"`
	Mode      string                   `json:"mode"`
}

// Query executes an allowlist-governed analytics query.
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req QueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if len(req.Metrics) == 0 {
		rw.BadRequest("at least one metric is required")
		return
	}

	mode := query.ModeStrict
	if req.Mode == string(query.ModeFull) {
		mode = query.ModeFull
	}

	start, end, err := h.resolveQueryWindow(&req)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	limit := req.Limit
	if limit <= 0 || limit > h.cfg.API.MaxQueryLimit {
		limit = h.cfg.API.MaxQueryLimit
	}

	allow := query.Resolve(mode, query.DefaultVocabulary())
	d := query.NewDescriptor(mode, allow).
		Select(req.Metrics...).
		Filters(req.Filters).
		GroupBy(req.GroupBy...).
		OrderBy(req.OrderBy...).
		Limit(limit)

	if len(d.Selected()) == 0 {
		rw.BadRequest("no requested metric is allowed")
		return
	}

	// Windows are inclusive day spans; the query wants an exclusive
	// upper bound.
	begin := time.Now()
	rows, err := h.db.ExecuteDescriptor(r.Context(), d, start, end.AddDate(0, 0, 1))
	metrics.RecordQuery(string(mode), err, time.Since(begin))
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.Success(QueryResponse{
		Rows:      rows,
		DateStart: start.Format(reports.DateLayout),
		DateEnd:   end.Format(reports.DateLayout),
		Mode:      string(mode),
	})
}

// resolveQueryWindow resolves the request's date fields to an inclusive
// [start, end] day window. Defaults to last-7-days ending yesterday.
func (h *Handlers) resolveQueryWindow(req *QueryRequest) (time.Time, time.Time, error) {
	yesterday := reports.Midnight(time.Now().UTC()).AddDate(0, 0, -1)

	if req.DateRange != "" {
		start, end := reports.ResolveRange(req.DateRange, yesterday)
		return start, end, nil
	}

	if req.DateStart != "" || req.DateEnd != "" {
		start, err := time.Parse(reports.DateLayout, req.DateStart)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid date_start: %w", err)
		}
		end, err := time.Parse(reports.DateLayout, req.DateEnd)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid date_end: %w", err)
		}
		if end.Before(start) {
			return time.Time{}, time.Time{}, fmt.Errorf("date_end before date_start")
		}
		return start, end, nil
	}

	start, end := reports.ResolveRange("last-7-days", yesterday)
	return start, end, nil
}
