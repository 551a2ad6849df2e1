// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package api

import (
	"net/http"
	"strconv"

	"github.com/lumeo-analytics/lumeo/internal/reportlog"
)

// Logs returns send occurrences, newest first. Optional query parameters:
// report_id filters to one report, limit caps the number of raw log rows
// read before aggregation.
func (h *Handlers) Logs(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var reportID int64
	if raw := r.URL.Query().Get("report_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			rw.BadRequest("invalid report_id")
			return
		}
		reportID = id
	}

	limit := h.cfg.API.MaxPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			rw.BadRequest("invalid limit")
			return
		}
		if n < limit {
			limit = n
		}
	}

	entries, err := h.db.ListLogEntries(r.Context(), reportID, limit)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	occurrences := reportlog.Aggregate(entries)
	rw.SuccessWithMeta(occurrences, &APIMeta{
		Pagination: &PaginationMeta{
			Count:   len(occurrences),
			Limit:   limit,
			HasMore: len(entries) == limit,
		},
	})
}
