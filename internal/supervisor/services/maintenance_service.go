// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// MaintenanceStore is the database surface the maintenance loop touches.
type MaintenanceStore interface {
	DeleteExpiredShareLinks(ctx context.Context, now time.Time) (int64, error)
	Checkpoint(ctx context.Context) error
}

// LockGC triggers value-log garbage collection on the lock store.
type LockGC interface {
	RunGC()
}

// MaintenanceService runs periodic housekeeping: expired share link
// cleanup, lock store garbage collection and a WAL checkpoint.
type MaintenanceService struct {
	store    MaintenanceStore
	locks    LockGC
	interval time.Duration
	logger   zerolog.Logger
}

// NewMaintenanceService creates the loop. locks may be nil. interval
// defaults to one hour.
func NewMaintenanceService(store MaintenanceStore, locks LockGC, interval time.Duration, logger zerolog.Logger) *MaintenanceService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &MaintenanceService{
		store:    store,
		locks:    locks,
		interval: interval,
		logger:   logger.With().Str("component", "maintenance").Logger(),
	}
}

// Serve implements suture.Service.
func (m *MaintenanceService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

func (m *MaintenanceService) runOnce(ctx context.Context) {
	removed, err := m.store.DeleteExpiredShareLinks(ctx, time.Now().UTC())
	if err != nil {
		m.logger.Warn().Err(err).Msg("Expired share link cleanup failed")
	} else if removed > 0 {
		m.logger.Info().Int64("removed", removed).Msg("Removed expired share links")
	}

	if m.locks != nil {
		m.locks.RunGC()
	}

	if err := m.store.Checkpoint(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Checkpoint failed")
	}
}

// String implements fmt.Stringer for suture's event log.
func (m *MaintenanceService) String() string {
	return "maintenance"
}
