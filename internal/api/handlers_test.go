// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/lumeo-analytics/lumeo/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		API: config.APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			MaxQueryLimit:   1000,
		},
		Security: config.SecurityConfig{
			RateLimitRequests: 1000,
			RateLimitWindow:   0,
			CORSOrigins:       []string{"*"},
		},
	}
}

// Unconfigured optional subsystems answer 503, not 500 or panic.
func TestOptionalSubsystemsUnavailable(t *testing.T) {
	h := NewHandlers(nil, nil, nil, testConfig())

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		handler http.HandlerFunc
	}{
		{"test send", http.MethodPost, "/reports/1/test-send", "", h.TestSendReport},
		{"create share link", http.MethodPost, "/sharelinks", `{"report_id":1}`, h.CreateShareLink},
		{"list share links", http.MethodGet, "/reports/1/sharelinks", "", h.ListShareLinks},
		{"revoke share link", http.MethodPost, "/sharelinks/revoke", `{"token_id":"x"}`, h.RevokeShareLink},
		{"view shared", http.MethodPost, "/shared/view", `{"token":"x"}`, h.ViewShared},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body *strings.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			} else {
				body = strings.NewReader("")
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			rec := httptest.NewRecorder()
			tt.handler(rec, req)

			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want 503", rec.Code)
			}
			resp := decodeResponse(t, rec)
			if resp.Error == nil || resp.Error.Code != ErrCodeServiceUnavailable {
				t.Errorf("error = %+v, want code %s", resp.Error, ErrCodeServiceUnavailable)
			}
		})
	}
}

// Updates go through the same schedule checks as creates; a report the
// scheduler cannot evaluate must never reach the store.
func TestUpdateReportRejectsInvalidSchedule(t *testing.T) {
	h := NewHandlers(nil, nil, nil, testConfig())

	tests := []struct {
		name string
		body string
	}{
		{
			"unknown frequency",
			`{"name":"Traffic","frequency":"hourly","send_time":"09:00","date_range":"last-7-days","recipients":["ops@example.com"]}`,
		},
		{
			"weekly without weekday",
			`{"name":"Traffic","frequency":"weekly","send_time":"09:00","date_range":"last-7-days","recipients":["ops@example.com"]}`,
		},
		{
			"monthly with bad ordinal",
			`{"name":"Traffic","frequency":"monthly","day_of_week":"friday","week_of_month":5,"send_time":"09:00","date_range":"last-7-days","recipients":["ops@example.com"]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/reports/1", strings.NewReader(tt.body))
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", "1")
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

			rec := httptest.NewRecorder()
			h.UpdateReport(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestQueryRejectsEmptyMetrics(t *testing.T) {
	h := NewHandlers(nil, nil, nil, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"metrics":[]}`))
	rec := httptest.NewRecorder()
	h.Query(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestQueryRejectsReversedWindow(t *testing.T) {
	h := NewHandlers(nil, nil, nil, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/query",
		strings.NewReader(`{"metrics":["pageviews"],"date_start":"2026-08-20","date_end":"2026-08-10"}`))
	rec := httptest.NewRecorder()
	h.Query(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
