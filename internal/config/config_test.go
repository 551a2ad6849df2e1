// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package config

import (
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration is invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Server.Timezone = "Mars/Olympus" },
			wantErr: "server.timezone",
		},
		{
			name: "smtp host without from",
			mutate: func(c *Config) {
				c.SMTP.Host = "smtp.example.com"
			},
			wantErr: "smtp.from",
		},
		{
			name: "smtp from not an address",
			mutate: func(c *Config) {
				c.SMTP.Host = "smtp.example.com"
				c.SMTP.From = "not an address"
			},
			wantErr: "smtp.from",
		},
		{
			name: "reports enabled without smtp",
			mutate: func(c *Config) {
				c.Reports.Enabled = true
			},
			wantErr: "reports.enabled",
		},
		{
			name: "short share link secret",
			mutate: func(c *Config) {
				c.ShareLink.Secret = "too-short"
			},
			wantErr: "share_link.secret",
		},
		{
			name: "page size above max",
			mutate: func(c *Config) {
				c.API.DefaultPageSize = 500
			},
			wantErr: "api.default_page_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.From = "reports@example.com"
	cfg.Reports.Enabled = true
	cfg.ShareLink.Secret = strings.Repeat("s", 32)
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() rejected complete config: %v", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"LUMEO_DATABASE_PATH", "database.path"},
		{"LUMEO_SERVER_PORT", "server.port"},
		{"LUMEO_SERVER_BASE_URL", "server.base_url"},
		{"LUMEO_SMTP_RATE_PER_SECOND", "smtp.rate_per_second"},
		{"LUMEO_SHARE_LINK_SECRET", "share_link.secret"},
		{"LUMEO_SHARE_LINK_DEFAULT_EXPIRY", "share_link.default_expiry"},
		{"LUMEO_SECURITY_CORS_ORIGINS", "security.cors_origins"},
		{"LUMEO_LOGGING_LEVEL", "logging.level"},
		// No section separator: passed through unchanged.
		{"LUMEO_DEBUG", "debug"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := envTransformFunc(tt.in); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
