// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package config

import (
	"fmt"
	"net/mail"
	"time"
)

// Config holds all application configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in sensible defaults for all optional settings
//  2. Config File: optional YAML config file (config.yaml)
//  3. Environment Variables: override any setting
//
// Config is immutable after Load() and safe for concurrent read access.
type Config struct {
	Database  DatabaseConfig  `koanf:"database"`
	Server    ServerConfig    `koanf:"server"`
	API       APIConfig       `koanf:"api"`
	SMTP      SMTPConfig      `koanf:"smtp"`
	Reports   ReportsConfig   `koanf:"reports"`
	Locks     LocksConfig     `koanf:"locks"`
	Security  SecurityConfig  `koanf:"security"`
	ShareLink ShareLinkConfig `koanf:"share_link"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the database file location.
	Path string `koanf:"path"`

	// MaxMemory caps DuckDB's memory use (e.g. "2GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB thread count. 0 = runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// Timezone is the site timezone used for schedule evaluation when a
	// report does not carry its own.
	Timezone string `koanf:"timezone"`

	// BaseURL is the externally reachable URL, used in share links and
	// email footers.
	BaseURL string `koanf:"base_url"`
}

// APIConfig holds pagination and response limits.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`

	// MaxQueryLimit caps the limit a strict-mode caller may request.
	MaxQueryLimit int `koanf:"max_query_limit"`
}

// SMTPConfig holds outbound email settings.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	FromName string `koanf:"from_name"`
	UseTLS   bool   `koanf:"use_tls"`

	// Timeout is the per-connection SMTP timeout.
	Timeout time.Duration `koanf:"timeout"`

	// RatePerSecond throttles outbound messages. 0 = unlimited.
	RatePerSecond float64 `koanf:"rate_per_second"`
}

// ReportsConfig holds report scheduler settings.
type ReportsConfig struct {
	// Enabled controls whether the scheduler runs.
	Enabled bool `koanf:"enabled"`

	// CheckInterval is how often due reports are checked.
	CheckInterval time.Duration `koanf:"check_interval"`

	// MaxConcurrentSends limits reports sent concurrently per tick.
	MaxConcurrentSends int `koanf:"max_concurrent_sends"`

	// ExecutionTimeout caps one report send end to end.
	ExecutionTimeout time.Duration `koanf:"execution_timeout"`

	// BatchSize is the number of recipients per send batch.
	BatchSize int `koanf:"batch_size"`
}

// LocksConfig holds advisory lock store settings.
type LocksConfig struct {
	// Path is the BadgerDB directory for lock leases.
	Path string `koanf:"path"`

	// DefaultTTL is the lease duration when callers pass none.
	DefaultTTL time.Duration `koanf:"default_ttl"`
}

// SecurityConfig holds API protection settings.
type SecurityConfig struct {
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// ShareLinkConfig holds share-link token settings.
type ShareLinkConfig struct {
	// Secret signs share-link tokens. Required when share links are used;
	// 32+ characters.
	Secret string `koanf:"secret"`

	// DefaultExpiry is the lifetime of newly issued links.
	DefaultExpiry time.Duration `koanf:"default_expiry"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for malformed or inconsistent values.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.Timezone != "" {
		if _, err := time.LoadLocation(c.Server.Timezone); err != nil {
			return fmt.Errorf("server.timezone: %w", err)
		}
	}
	if c.SMTP.Host != "" {
		if c.SMTP.From == "" {
			return fmt.Errorf("smtp.from is required when smtp.host is set")
		}
		if _, err := mail.ParseAddress(c.SMTP.From); err != nil {
			return fmt.Errorf("smtp.from: %w", err)
		}
	}
	if c.Reports.Enabled && c.SMTP.Host == "" {
		return fmt.Errorf("reports.enabled requires smtp.host")
	}
	if c.ShareLink.Secret != "" && len(c.ShareLink.Secret) < 32 {
		return fmt.Errorf("share_link.secret must be at least 32 characters")
	}
	if c.API.DefaultPageSize <= 0 || c.API.DefaultPageSize > c.API.MaxPageSize {
		return fmt.Errorf("api.default_page_size %d invalid against max %d",
			c.API.DefaultPageSize, c.API.MaxPageSize)
	}
	return nil
}
