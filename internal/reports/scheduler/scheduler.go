// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

// Package scheduler drives automatic report sending.
//
// The scheduler runs on a configurable interval (default: 1 minute).
// Each tick it:
//  1. Finds enabled scheduled reports that are due now and have no log
//     occurrence for today's queue ID
//  2. For each due report: freezes the end date, creates the parent
//     processing log row, renders the blocks, hands recipient batches
//     to the delivery manager, records child rows and finalizes the
//     parent status from the children
//  3. Runs cron-miss detection so silently skipped sends surface in the
//     log as cron_miss rows
//
// An advisory lock keeps overlapping instances from double-sending; the
// queue-ID occurrence check remains the real idempotency guard because
// the lock is best-effort.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumeo-analytics/lumeo/internal/locks"
	"github.com/lumeo-analytics/lumeo/internal/metrics"
	"github.com/lumeo-analytics/lumeo/internal/models"
	"github.com/lumeo-analytics/lumeo/internal/reportlog"
	"github.com/lumeo-analytics/lumeo/internal/reports"
	"github.com/lumeo-analytics/lumeo/internal/reports/delivery"
	"github.com/lumeo-analytics/lumeo/internal/reports/render"
)

// schedulerLockName is the advisory lock guarding tick execution.
const schedulerLockName = "report-scheduler"

// Store defines the database operations required by the scheduler.
type Store interface {
	reportlog.Store

	ListActiveScheduledReports(ctx context.Context) ([]models.Report, error)
	GetReport(ctx context.Context, id int64) (*models.Report, error)
	UpdateReport(ctx context.Context, report *models.Report) error
}

// LockStore is the advisory lock surface used by the scheduler.
type LockStore interface {
	Acquire(name, owner string, ttl time.Duration) error
	Release(name, owner string) error
}

// Config holds configuration for the report scheduler.
type Config struct {
	// CheckInterval is how often to check for due reports (default: 1 minute)
	CheckInterval time.Duration

	// MaxConcurrentSends is the maximum number of reports sent concurrently
	MaxConcurrentSends int

	// ExecutionTimeout is the maximum time allowed for a single report send
	ExecutionTimeout time.Duration

	// Enabled controls whether the scheduler is active
	Enabled bool

	// LockOwner identifies this instance when acquiring the advisory lock
	LockOwner string
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval:      time.Minute,
		MaxConcurrentSends: 5,
		ExecutionTimeout:   5 * time.Minute,
		Enabled:            true,
	}
}

// Scheduler manages automatic report sending.
type Scheduler struct {
	store           Store
	lockStore       LockStore
	renderer        *render.Renderer
	deliveryManager *delivery.Manager
	logger          zerolog.Logger
	config          Config

	// Runtime state
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a new report scheduler. lockStore may be nil, in
// which case tick execution relies solely on the occurrence check.
func NewScheduler(
	store Store,
	lockStore LockStore,
	renderer *render.Renderer,
	deliveryManager *delivery.Manager,
	logger *zerolog.Logger,
	config Config,
) *Scheduler {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if config.MaxConcurrentSends <= 0 {
		config.MaxConcurrentSends = 5
	}
	if config.ExecutionTimeout <= 0 {
		config.ExecutionTimeout = 5 * time.Minute
	}
	if config.LockOwner == "" {
		config.LockOwner = fmt.Sprintf("scheduler-%d", time.Now().UnixNano())
	}

	return &Scheduler{
		store:           store,
		lockStore:       lockStore,
		renderer:        renderer,
		deliveryManager: deliveryManager,
		logger:          logger.With().Str("component", "report-scheduler").Logger(),
		config:          config,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if !s.config.Enabled {
		s.logger.Info().Msg("Report scheduler disabled")
		go func() {
			defer close(s.doneCh)
			<-s.stopCh
		}()
		return nil
	}

	s.logger.Info().
		Dur("check_interval", s.config.CheckInterval).
		Int("max_concurrent", s.config.MaxConcurrentSends).
		Msg("Starting report scheduler")

	go s.run(ctx)
	return nil
}

// Stop stops the scheduler loop and waits for it to complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info().Msg("Stopping report scheduler...")
	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info().Msg("Report scheduler stopped")
	return nil
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick evaluates all scheduled reports once.
func (s *Scheduler) tick(ctx context.Context) {
	metrics.SchedulerTicks.Inc()

	if s.lockStore != nil {
		err := s.lockStore.Acquire(schedulerLockName, s.config.LockOwner, s.config.CheckInterval*2)
		if err != nil {
			if errors.Is(err, locks.ErrLockHeld) {
				s.logger.Debug().Msg("Another instance holds the scheduler lock, skipping tick")
				return
			}
			// Lock store trouble must not stop sending, occurrence
			// checks still prevent duplicates
			s.logger.Warn().Err(err).Msg("Advisory lock acquisition failed, continuing without it")
		} else {
			defer func() {
				if err := s.lockStore.Release(schedulerLockName, s.config.LockOwner); err != nil {
					s.logger.Debug().Err(err).Msg("Failed to release scheduler lock")
				}
			}()
		}
	}

	now := time.Now()

	all, err := s.store.ListActiveScheduledReports(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list scheduled reports")
		return
	}

	due := s.findDue(ctx, all, now)
	if len(due) > 0 {
		s.logger.Info().Int("count", len(due)).Msg("Found reports due for sending")
		s.executeDue(ctx, due, now)
	}

	if err := reportlog.DetectMisses(ctx, s.store, all, now); err != nil {
		s.logger.Error().Err(err).Msg("Cron-miss detection failed")
	}
}

// findDue filters reports to those due now with no occurrence yet.
func (s *Scheduler) findDue(ctx context.Context, all []models.Report, now time.Time) []models.Report {
	var due []models.Report
	for i := range all {
		r := &all[i]
		if !reports.DueNow(r, now) {
			continue
		}

		queueID := reports.QueueID(now)
		exists, err := s.store.HasOccurrence(ctx, r.ID, queueID)
		if err != nil {
			s.logger.Error().Err(err).Int64("report_id", r.ID).Msg("Occurrence check failed")
			continue
		}
		if exists {
			continue
		}

		due = append(due, all[i])
	}
	return due
}

// executeDue sends due reports with bounded concurrency.
func (s *Scheduler) executeDue(ctx context.Context, due []models.Report, now time.Time) {
	sem := make(chan struct{}, s.config.MaxConcurrentSends)
	var wg sync.WaitGroup

	for i := range due {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			execCtx, cancel := context.WithTimeout(ctx, s.config.ExecutionTimeout)
			defer cancel()

			s.executeReport(execCtx, &due[idx], reports.QueueID(now), now, true)
		}(i)
	}

	wg.Wait()
}

// executeReport performs one send occurrence end to end. persist controls
// whether the frozen end date is written back; test sends render with the
// frozen date but leave the stored report untouched.
func (s *Scheduler) executeReport(ctx context.Context, report *models.Report, queueID string, now time.Time, persist bool) {
	startTime := time.Now()
	logger := s.logger.With().
		Int64("report_id", report.ID).
		Str("report_name", report.Name).
		Str("queue_id", queueID).
		Logger()

	logger.Info().Msg("Executing report send")

	// Freeze the window end so the logged occurrence stays reproducible
	reports.FreezeEndDate(report, now)
	if persist {
		if err := s.store.UpdateReport(ctx, report); err != nil {
			logger.Error().Err(err).Msg("Failed to persist frozen end date")
			return
		}
	}

	parent := &models.ReportLogEntry{
		Kind:     models.LogEntryParent,
		ReportID: report.ID,
		QueueID:  queueID,
		Status:   models.StatusProcessing,
		Time:     now,
	}
	if err := s.store.InsertLogEntry(ctx, parent); err != nil {
		logger.Error().Err(err).Msg("Failed to create parent log entry")
		return
	}

	subject, bodyHTML, bodyText, err := s.renderer.Render(ctx, report, now)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to render report")
		s.failOccurrence(ctx, parent, "render failed: "+err.Error())
		return
	}

	results := s.deliveryManager.Deliver(ctx, &delivery.DeliveryRequest{
		ReportID:   report.ID,
		QueueID:    queueID,
		Recipients: report.Recipients,
		Subject:    subject,
		BodyHTML:   bodyHTML,
		BodyText:   bodyText,
	})

	for _, result := range results {
		child := &models.ReportLogEntry{
			Kind:     models.LogEntryChild,
			ReportID: report.ID,
			QueueID:  queueID,
			BatchID:  result.BatchID,
			Status:   result.Status,
			Message:  result.Message,
		}
		if err := s.store.InsertLogEntry(ctx, child); err != nil {
			logger.Error().Err(err).Str("batch_id", result.BatchID).Msg("Failed to record batch log entry")
		}
	}

	if err := reportlog.Finalize(ctx, s.store, report.ID, queueID); err != nil {
		logger.Error().Err(err).Msg("Failed to finalize send occurrence")
		return
	}

	if parentAfter, _, err := s.store.Occurrence(ctx, report.ID, queueID); err == nil && parentAfter != nil {
		metrics.ReportsSentTotal.WithLabelValues(string(parentAfter.Status)).Inc()
	}
	metrics.ReportSendDuration.Observe(time.Since(startTime).Seconds())

	logger.Info().Dur("duration", time.Since(startTime)).Msg("Report send finished")
}

// failOccurrence marks the parent row failed when the send never reached
// delivery.
func (s *Scheduler) failOccurrence(ctx context.Context, parent *models.ReportLogEntry, message string) {
	if err := s.store.UpdateLogStatus(ctx, parent.ID, models.StatusSendingFailed, message); err != nil {
		s.logger.Error().Err(err).Int64("log_id", parent.ID).Msg("Failed to mark occurrence failed")
	}
	metrics.ReportsSentTotal.WithLabelValues(string(models.StatusSendingFailed)).Inc()
}

// TriggerTestSend sends a report immediately to override recipients (or the
// report's own list when none given), under a test queue ID so it never
// collides with a scheduled occurrence.
func (s *Scheduler) TriggerTestSend(ctx context.Context, reportID int64, recipients []string) (string, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return "", err
	}

	if len(recipients) > 0 {
		report.Recipients = reports.SanitizeRecipients(recipients)
		if len(report.Recipients) == 0 {
			return "", fmt.Errorf("no valid recipients for test send")
		}
	}

	now := time.Now()
	queueID := reports.TestQueueID(now)

	ctx, cancel := context.WithTimeout(ctx, s.config.ExecutionTimeout)
	defer cancel()

	s.executeReport(ctx, report, queueID, now, false)
	return queueID, nil
}
