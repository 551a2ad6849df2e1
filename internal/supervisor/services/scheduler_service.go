// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package services

import (
	"context"
	"fmt"
)

// SchedulerManager matches the report scheduler's Start/Stop lifecycle.
type SchedulerManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// SchedulerService runs the report scheduler under supervision.
type SchedulerService struct {
	manager SchedulerManager
}

// NewSchedulerService wraps a scheduler.
func NewSchedulerService(manager SchedulerManager) *SchedulerService {
	return &SchedulerService{manager: manager}
}

// Serve implements suture.Service. Start spawns the scheduler's internal
// loop; Serve then blocks until cancellation and stops it.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("report scheduler start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("report scheduler stop failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture's event log.
func (s *SchedulerService) String() string {
	return "report-scheduler"
}
