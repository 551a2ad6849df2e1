// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/lumeo-analytics/lumeo/internal/database"
	"github.com/lumeo-analytics/lumeo/internal/models"
	"github.com/lumeo-analytics/lumeo/internal/reports"
	"github.com/lumeo-analytics/lumeo/internal/validation"
)

// ListReports returns all configured reports.
func (h *Handlers) ListReports(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	list, err := h.db.ListReports(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.SuccessWithMeta(list, &APIMeta{
		Pagination: &PaginationMeta{Count: len(list)},
	})
}

// GetReport returns one report by ID.
func (h *Handlers) GetReport(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := urlID(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	report, err := h.db.GetReport(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("report not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.Success(report)
}

// CreateReport validates and stores a new report.
func (h *Handlers) CreateReport(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req models.Report
	if err := decodeJSON(w, r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}

	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	report, err := reports.New(req, time.Now())
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	if err := h.db.CreateReport(r.Context(), report); err != nil {
		rw.DatabaseError(err)
		return
	}

	h.logger.Info().Int64("report_id", report.ID).Str("name", report.Name).Msg("Report created")
	rw.Created(report)
}

// UpdateReport validates and saves changes to an existing report.
func (h *Handlers) UpdateReport(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := urlID(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	var req models.Report
	if err := decodeJSON(w, r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	req.ID = id

	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}
	if err := reports.ValidateSchedule(&req); err != nil {
		rw.BadRequest(err.Error())
		return
	}

	reports.Sanitize(&req, time.Now())

	err = h.db.UpdateReport(r.Context(), &req)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("report not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.Success(&req)
}

// DeleteReport removes a report and its log entries.
func (h *Handlers) DeleteReport(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := urlID(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	err = h.db.DeleteReport(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("report not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	h.logger.Info().Int64("report_id", id).Msg("Report deleted")
	rw.Success(map[string]interface{}{"deleted": true})
}

// DuplicateReport copies a report. The copy is disabled and renamed.
func (h *Handlers) DuplicateReport(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := urlID(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	dup, err := h.db.DuplicateReport(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("report not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.Created(dup)
}

// TestSendRequest optionally overrides the recipient list for a test send.
type TestSendRequest struct {
	Recipients []string `json:"recipients,omitempty"`
}

// TestSendReport sends a report immediately without affecting its schedule
// or stored configuration.
func (h *Handlers) TestSendReport(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.scheduler == nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "report sending is not configured")
		return
	}

	id, err := urlID(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	var req TestSendRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			rw.BadRequest(err.Error())
			return
		}
	}

	queueID, err := h.scheduler.TriggerTestSend(r.Context(), id, req.Recipients)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("report not found")
		return
	}
	if err != nil {
		rw.InternalError(err.Error())
		return
	}

	rw.Success(map[string]interface{}{"queue_id": queueID})
}
