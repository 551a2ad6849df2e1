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
	"github.com/goccy/go-json"

	"github.com/lumeo-analytics/lumeo/internal/logging"
)

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v\n%s", err, rec.Body.String())
	}
	return resp
}

func TestSuccessResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil)

	rw := NewResponseWriter(rec, req)
	rw.Success(map[string]interface{}{"hello": "world"})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("content type = %q", ct)
	}

	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Error("success = false")
	}
	if resp.Error != nil {
		t.Errorf("error present on success: %+v", resp.Error)
	}
	if resp.Meta == nil || resp.Meta.Timestamp.IsZero() {
		t.Error("meta timestamp missing")
	}
}

func TestCreatedResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", nil)

	NewResponseWriter(rec, req).Created(map[string]int64{"id": 7})
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if resp := decodeResponse(t, rec); !resp.Success {
		t.Error("success = false")
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name       string
		write      func(*ResponseWriter)
		wantStatus int
		wantCode   string
	}{
		{"bad request", func(rw *ResponseWriter) { rw.BadRequest("nope") }, http.StatusBadRequest, ErrCodeBadRequest},
		{"unauthorized", func(rw *ResponseWriter) { rw.Unauthorized("who") }, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"forbidden", func(rw *ResponseWriter) { rw.Forbidden("no") }, http.StatusForbidden, ErrCodeForbidden},
		{"not found", func(rw *ResponseWriter) { rw.NotFound("gone") }, http.StatusNotFound, ErrCodeNotFound},
		{"internal", func(rw *ResponseWriter) { rw.InternalError("boom") }, http.StatusInternalServerError, ErrCodeInternalError},
		{"validation", func(rw *ResponseWriter) {
			rw.ValidationError("invalid", map[string]string{"name": "required"})
		}, http.StatusBadRequest, ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.write(NewResponseWriter(rec, req))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			resp := decodeResponse(t, rec)
			if resp.Success {
				t.Error("success = true on error response")
			}
			if resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Errorf("error = %+v, want code %s", resp.Error, tt.wantCode)
			}
		})
	}
}

func TestErrorCarriesRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(logging.ContextWithRequestID(req.Context(), "req-123"))

	NewResponseWriter(rec, req).NotFound("gone")

	resp := decodeResponse(t, rec)
	if resp.Error.RequestID != "req-123" {
		t.Errorf("error request ID = %q, want req-123", resp.Error.RequestID)
	}
	if resp.Meta.RequestID != "req-123" {
		t.Errorf("meta request ID = %q, want req-123", resp.Meta.RequestID)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok"}`))
		var p payload
		if err := decodeJSON(httptest.NewRecorder(), req, &p); err != nil {
			t.Fatalf("decodeJSON() error: %v", err)
		}
		if p.Name != "ok" {
			t.Errorf("name = %q", p.Name)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok","bogus":1}`))
		var p payload
		if err := decodeJSON(httptest.NewRecorder(), req, &p); err == nil {
			t.Error("decodeJSON() accepted unknown field")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		var p payload
		if err := decodeJSON(httptest.NewRecorder(), req, &p); err == nil {
			t.Error("decodeJSON() accepted malformed JSON")
		}
	})
}

func TestURLID(t *testing.T) {
	requestWithID := func(raw string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/reports/"+raw, nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", raw)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	id, err := urlID(requestWithID("42"))
	if err != nil || id != 42 {
		t.Errorf("urlID(42) = (%d, %v)", id, err)
	}

	for _, raw := range []string{"0", "-3", "abc", ""} {
		if _, err := urlID(requestWithID(raw)); err == nil {
			t.Errorf("urlID(%q) accepted invalid id", raw)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDWithLogging()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("generates an ID", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if seen == "" {
			t.Error("no request ID in context")
		}
		if got := rec.Header().Get("X-Request-ID"); got != seen {
			t.Errorf("response header %q does not match context ID %q", got, seen)
		}
	})

	t.Run("honors inbound ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "caller-supplied")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if seen != "caller-supplied" {
			t.Errorf("context ID = %q, want caller-supplied", seen)
		}
	})
}
