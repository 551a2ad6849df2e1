// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package validation

import (
	"strings"
	"testing"
)

type reportInput struct {
	Name      string   `validate:"required,min=1,max=100"`
	SendTime  string   `validate:"required,send_time"`
	DateRange string   `validate:"required,date_range"`
	Emails    []string `validate:"required,min=1,dive,email"`
}

func validInput() reportInput {
	return reportInput{
		Name:      "Weekly traffic",
		SendTime:  "09:00",
		DateRange: "last-7-days",
		Emails:    []string{"ann@example.com"},
	}
}

func TestValidateStructAccepts(t *testing.T) {
	in := validInput()
	if err := ValidateStruct(&in); err != nil {
		t.Errorf("ValidateStruct() = %v, want nil", err)
	}
}

func TestValidateStructFieldErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*reportInput)
		wantField string
	}{
		{"missing name", func(r *reportInput) { r.Name = "" }, "Name"},
		{"name too long", func(r *reportInput) { r.Name = strings.Repeat("x", 101) }, "Name"},
		{"bad send time", func(r *reportInput) { r.SendTime = "25:00" }, "SendTime"},
		{"send time with seconds", func(r *reportInput) { r.SendTime = "09:00:00" }, "SendTime"},
		{"bad date range shape", func(r *reportInput) { r.DateRange = "Last 7 Days" }, "DateRange"},
		{"bad email", func(r *reportInput) { r.Emails = []string{"nope"} }, "Emails[0]"},
		{"empty email list", func(r *reportInput) { r.Emails = nil }, "Emails"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			err := ValidateStruct(&in)
			if err == nil {
				t.Fatal("ValidateStruct() accepted invalid input")
			}
			found := false
			for _, fe := range err.Errors() {
				if fe.Field() == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for field %s in %v", tt.wantField, err)
			}
		})
	}
}

func TestSendTimeValidator(t *testing.T) {
	type in struct {
		T string `validate:"send_time"`
	}

	valid := []string{"00:00", "09:30", "23:59", "12:05"}
	invalid := []string{"24:00", "9:30", "09:60", "noon", "09-30", ""}

	for _, v := range valid {
		if err := ValidateStruct(&in{T: v}); err != nil {
			t.Errorf("send_time rejected %q: %v", v, err)
		}
	}
	for _, v := range invalid {
		if err := ValidateStruct(&in{T: v}); err == nil {
			t.Errorf("send_time accepted %q", v)
		}
	}
}

func TestDateRangeValidator(t *testing.T) {
	type in struct {
		R string `validate:"date_range"`
	}

	valid := []string{
		"last-7-days",
		"yesterday",
		"week-to-date",
		"custom:2026-01-01:2026-01-31",
		"custom:2026-01-01:2026-01-01",
	}
	invalid := []string{
		"Last-7-Days",
		"custom:2026-01-31:2026-01-01", // end before start
		"custom:2026-01-01",
		"custom:jan:feb",
		"7days!",
		"",
	}

	for _, v := range valid {
		if err := ValidateStruct(&in{R: v}); err != nil {
			t.Errorf("date_range rejected %q: %v", v, err)
		}
	}
	for _, v := range invalid {
		if err := ValidateStruct(&in{R: v}); err == nil {
			t.Errorf("date_range accepted %q", v)
		}
	}
}

func TestToAPIErrorSingleField(t *testing.T) {
	in := validInput()
	in.SendTime = "25:61"

	apiErr := ValidateStruct(&in).ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %q", apiErr.Code)
	}
	if apiErr.Details["field"] != "SendTime" {
		t.Errorf("details field = %v", apiErr.Details["field"])
	}
	if !strings.Contains(apiErr.Message, "24-hour") {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestToAPIErrorMultipleFields(t *testing.T) {
	in := reportInput{}

	apiErr := ValidateStruct(&in).ToAPIError()
	fields, ok := apiErr.Details["fields"].([]map[string]interface{})
	if !ok {
		t.Fatalf("details = %+v, want fields list", apiErr.Details)
	}
	if len(fields) < 2 {
		t.Errorf("got %d field errors, want several", len(fields))
	}
}

func TestErrorMessageIsReadable(t *testing.T) {
	in := validInput()
	in.Name = ""

	err := ValidateStruct(&in)
	if !strings.Contains(err.Error(), "Name is required") {
		t.Errorf("Error() = %q", err.Error())
	}
}
