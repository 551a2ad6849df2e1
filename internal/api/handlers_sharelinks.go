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
	"github.com/lumeo-analytics/lumeo/internal/metrics"
	"github.com/lumeo-analytics/lumeo/internal/models"
	"github.com/lumeo-analytics/lumeo/internal/query"
	"github.com/lumeo-analytics/lumeo/internal/reports"
	"github.com/lumeo-analytics/lumeo/internal/sharelink"
)

// CreateShareLinkRequest describes a new share link.
type CreateShareLinkRequest struct {
	ReportID int64 `json:"report_id"`

	// Password optionally protects the link. Empty means public.
	Password string `json:"password,omitempty"`

	// ExpiryDays overrides the configured default expiry when positive.
	ExpiryDays int `json:"expiry_days,omitempty"`
}

// ShareLinkResponse pairs the signed token with its stored record. The
// token is only returned at creation time.
type ShareLinkResponse struct {
	Token string            `json:"token"`
	Link  *models.ShareLink `json:"link"`
}

// CreateShareLink issues a signed share link for a report.
func (h *Handlers) CreateShareLink(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.shareLinks == nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "share links are not configured")
		return
	}

	var req CreateShareLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if req.ReportID <= 0 {
		rw.BadRequest("report_id is required")
		return
	}

	// The report must exist before a link points at it.
	if _, err := h.db.GetReport(r.Context(), req.ReportID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			rw.NotFound("report not found")
			return
		}
		rw.DatabaseError(err)
		return
	}

	var expiry time.Duration
	if req.ExpiryDays > 0 {
		expiry = time.Duration(req.ExpiryDays) * 24 * time.Hour
	}

	token, link, err := h.shareLinks.Create(r.Context(), req.ReportID, req.Password, expiry)
	if err != nil {
		rw.InternalError(err.Error())
		return
	}

	rw.Created(ShareLinkResponse{Token: token, Link: link})
}

// ListShareLinks returns all share links for a report.
func (h *Handlers) ListShareLinks(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.shareLinks == nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "share links are not configured")
		return
	}

	id, err := urlID(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	links, err := h.shareLinks.List(r.Context(), id)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.SuccessWithMeta(links, &APIMeta{
		Pagination: &PaginationMeta{Count: len(links)},
	})
}

// RevokeShareLinkRequest identifies the link to revoke by its token ID.
type RevokeShareLinkRequest struct {
	TokenID string `json:"token_id"`
}

// RevokeShareLink invalidates a share link before its expiry.
func (h *Handlers) RevokeShareLink(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.shareLinks == nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "share links are not configured")
		return
	}

	var req RevokeShareLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if req.TokenID == "" {
		rw.BadRequest("token_id is required")
		return
	}

	err := h.shareLinks.RevokeByTokenID(r.Context(), req.TokenID)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("share link not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.Success(map[string]interface{}{"revoked": true})
}

// ViewSharedRequest carries the share token and, when the link is
// protected, its password.
type ViewSharedRequest struct {
	Token    string `json:"token"`
	Password string `json:"password,omitempty"`
}

// SharedReportView is the read-only payload returned to share link holders.
type SharedReportView struct {
	Report *models.Report    `json:"report"`
	Blocks []SharedBlockView `json:"blocks"`
}

// SharedBlockView is one content block with its resolved window and data.
type SharedBlockView struct {
	ID        string                   `json:"id"`
	Title     string                   `json:"title,omitempty"`
	DateStart string                   `json:"date_start"`
	DateEnd   string                   `json:"date_end"`
	Rows      []map[string]interface{} `json:"rows"`
}

// ViewShared validates a share link and returns the report with its block
// data. Blocks always run against the strict allowlist; a share link never
// widens query privileges.
func (h *Handlers) ViewShared(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.shareLinks == nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "share links are not configured")
		return
	}

	var req ViewSharedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if req.Token == "" {
		rw.BadRequest("token is required")
		return
	}

	reportID, err := h.shareLinks.Validate(r.Context(), req.Token, req.Password)
	if err != nil {
		metrics.ShareLinkValidations.WithLabelValues(shareLinkOutcome(err)).Inc()
		switch {
		case errors.Is(err, sharelink.ErrPasswordRequired):
			rw.Unauthorized("password required")
		case errors.Is(err, sharelink.ErrWrongPassword):
			rw.Unauthorized("incorrect password")
		case errors.Is(err, sharelink.ErrLinkExpired):
			rw.Forbidden("share link has expired")
		case errors.Is(err, sharelink.ErrLinkRevoked):
			rw.Forbidden("share link has been revoked")
		default:
			rw.Unauthorized("invalid share link")
		}
		return
	}
	metrics.ShareLinkValidations.WithLabelValues("success").Inc()

	report, err := h.db.GetReport(r.Context(), reportID)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("report not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	view := SharedReportView{Report: report}
	today := reports.Midnight(time.Now().UTC())
	allow := query.Resolve(query.ModeStrict, query.DefaultVocabulary())

	for i, block := range report.Blocks {
		start, end := reports.ResolveWindow(report, i, today)

		blockMetrics := block.Metrics
		if len(blockMetrics) == 0 {
			blockMetrics = []string{"pageviews", "visitors"}
		}

		d := query.NewDescriptor(query.ModeStrict, allow).
			Select(blockMetrics...).
			Filters(block.Filters)

		rows, err := h.db.ExecuteDescriptor(r.Context(), d, start, end.AddDate(0, 0, 1))
		if err != nil {
			rw.DatabaseError(err)
			return
		}

		view.Blocks = append(view.Blocks, SharedBlockView{
			ID:        block.ID,
			Title:     block.CommentTitle,
			DateStart: start.Format(reports.DateLayout),
			DateEnd:   end.Format(reports.DateLayout),
			Rows:      rows,
		})
	}

	rw.Success(view)
}

// shareLinkOutcome maps a validation error to a metrics label.
func shareLinkOutcome(err error) string {
	switch {
	case errors.Is(err, sharelink.ErrLinkExpired):
		return "expired"
	case errors.Is(err, sharelink.ErrLinkRevoked):
		return "revoked"
	case errors.Is(err, sharelink.ErrPasswordRequired):
		return "password_required"
	case errors.Is(err, sharelink.ErrWrongPassword):
		return "wrong_password"
	default:
		return "invalid"
	}
}
