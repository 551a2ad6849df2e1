// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package api

import (
	"net/http"
)

// HealthResponse is the payload of GET /api/v1/health.
type HealthResponse struct {
	Status   string         `json:"status"`
	Database DatabaseHealth `json:"database"`
}

// DatabaseHealth summarizes database connectivity and record counts.
type DatabaseHealth struct {
	Connected  bool   `json:"connected"`
	Statistics int64  `json:"statistics"`
	Reports    int64  `json:"reports"`
	Error      string `json:"error,omitempty"`
}

// Health reports service and database status.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	resp := HealthResponse{Status: "ok", Database: DatabaseHealth{Connected: true}}

	if err := h.db.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database.Connected = false
		resp.Database.Error = err.Error()
		rw.SuccessWithMeta(resp, nil)
		return
	}

	stats, reports, err := h.db.GetRecordCounts(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to read record counts")
	} else {
		resp.Database.Statistics = stats
		resp.Database.Reports = reports
	}

	rw.Success(resp)
}
