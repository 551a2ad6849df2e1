// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lumeo-analytics/lumeo/internal/metrics"
	"github.com/lumeo-analytics/lumeo/internal/models"
)

// Manager fans one report send out over recipient batches.
// It handles retry logic, parallel delivery and per-batch status rollup.
type Manager struct {
	sender      Sender
	logger      zerolog.Logger
	batchSize   int
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	parallelism int
}

// ManagerConfig contains configuration for the delivery manager.
type ManagerConfig struct {
	// BatchSize is how many recipients share one batch log row.
	BatchSize int

	// MaxRetries is the maximum number of retry attempts for transient errors.
	MaxRetries int

	// BaseDelay is the initial delay between retries.
	BaseDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// Parallelism is the maximum number of concurrent batch sends.
	Parallelism int
}

// DefaultManagerConfig returns a default manager configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BatchSize:   25,
		MaxRetries:  3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Parallelism: 5,
	}
}

// NewManager creates a new delivery manager.
func NewManager(sender Sender, logger *zerolog.Logger, config ManagerConfig) *Manager {
	if config.BatchSize <= 0 {
		config.BatchSize = 25
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 1 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 5
	}

	return &Manager{
		sender:      sender,
		logger:      logger.With().Str("component", "report-delivery").Logger(),
		batchSize:   config.BatchSize,
		maxRetries:  config.MaxRetries,
		baseDelay:   config.BaseDelay,
		maxDelay:    config.MaxDelay,
		parallelism: config.Parallelism,
	}
}

// RecipientResult is the outcome of sending to one address.
type RecipientResult struct {
	Recipient string
	Success   bool
	Status    models.SendStatus
	Error     string
}

// BatchResult is the outcome of one recipient batch, recorded as a child
// log row under the send occurrence.
type BatchResult struct {
	BatchID    string
	Status     models.SendStatus
	Message    string
	Recipients []RecipientResult
}

// DeliveryRequest contains everything needed to send one report occurrence.
type DeliveryRequest struct {
	ReportID   int64
	QueueID    string
	Recipients []string
	Subject    string
	BodyHTML   string
	BodyText   string
}

// Deliver sends the report to all recipients in batches and returns the
// per-batch results. Batches run concurrently up to the configured
// parallelism; recipients within a batch are sent sequentially so their
// rollup reflects one SMTP conversation window.
func (m *Manager) Deliver(ctx context.Context, req *DeliveryRequest) []BatchResult {
	batches := chunkRecipients(req.Recipients, m.batchSize)

	m.logger.Info().
		Int64("report_id", req.ReportID).
		Str("queue_id", req.QueueID).
		Int("recipients", len(req.Recipients)).
		Int("batches", len(batches)).
		Msg("starting report delivery")

	results := make([]BatchResult, len(batches))

	sem := make(chan struct{}, m.parallelism)
	var wg sync.WaitGroup

	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = m.deliverBatch(ctx, req, batch)
		}(i, batch)
	}

	wg.Wait()

	for _, result := range results {
		metrics.EmailBatchesTotal.WithLabelValues(string(result.Status)).Inc()
	}

	return results
}

// deliverBatch sends to every recipient in one batch and rolls the
// individual outcomes up into the batch status.
func (m *Manager) deliverBatch(ctx context.Context, req *DeliveryRequest, recipients []string) BatchResult {
	result := BatchResult{
		BatchID:    uuid.New().String(),
		Recipients: make([]RecipientResult, 0, len(recipients)),
	}

	for _, recipient := range recipients {
		rr := m.deliverToRecipient(ctx, req, recipient)
		result.Recipients = append(result.Recipients, rr)

		switch {
		case rr.Success:
			metrics.EmailSendsTotal.WithLabelValues("success").Inc()
		case rr.Status == models.StatusEmailDomainError:
			metrics.EmailSendsTotal.WithLabelValues("domain_error").Inc()
		case rr.Status == models.StatusEmailAddressError:
			metrics.EmailSendsTotal.WithLabelValues("address_error").Inc()
		default:
			metrics.EmailSendsTotal.WithLabelValues("failure").Inc()
		}
	}

	result.Status, result.Message = rollupBatch(result.Recipients)

	m.logger.Debug().
		Str("queue_id", req.QueueID).
		Str("batch_id", result.BatchID).
		Str("status", string(result.Status)).
		Int("recipients", len(recipients)).
		Msg("batch delivery finished")

	return result
}

// deliverToRecipient sends one email with retries on transient failures.
func (m *Manager) deliverToRecipient(ctx context.Context, req *DeliveryRequest, recipient string) RecipientResult {
	email := &Email{
		To:       recipient,
		Subject:  req.Subject,
		BodyHTML: req.BodyHTML,
		BodyText: req.BodyText,
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			delay := m.calculateBackoff(attempt)
			m.logger.Debug().
				Str("recipient", recipient).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying send after delay")

			select {
			case <-ctx.Done():
				return RecipientResult{
					Recipient: recipient,
					Status:    models.StatusSendingFailed,
					Error:     "delivery canceled",
				}
			case <-time.After(delay):
			}
		}

		err := m.sender.Send(ctx, email)
		if err == nil {
			return RecipientResult{
				Recipient: recipient,
				Success:   true,
				Status:    models.StatusSendingSuccessful,
			}
		}

		lastErr = err
		status, transient := ClassifySendError(err)
		if !transient {
			m.logger.Warn().
				Str("recipient", recipient).
				Str("status", string(status)).
				Err(err).
				Msg("permanent delivery error, not retrying")
			return RecipientResult{
				Recipient: recipient,
				Status:    status,
				Error:     err.Error(),
			}
		}
	}

	status, _ := ClassifySendError(lastErr)
	return RecipientResult{
		Recipient: recipient,
		Status:    status,
		Error:     lastErr.Error(),
	}
}

// calculateBackoff returns the exponential backoff delay before attempt.
func (m *Manager) calculateBackoff(attempt int) time.Duration {
	delay := m.baseDelay * (1 << uint(attempt-1))
	if delay > m.maxDelay {
		delay = m.maxDelay
	}
	return delay
}

// rollupBatch folds recipient outcomes into one batch status. All success
// gives sending_successful, uniform failures keep their classification,
// mixed outcomes become partly_sent.
func rollupBatch(recipients []RecipientResult) (models.SendStatus, string) {
	if len(recipients) == 0 {
		return models.StatusSendingFailed, "batch contained no recipients"
	}

	succeeded := 0
	var firstFailure *RecipientResult
	uniformFailure := true
	for i := range recipients {
		if recipients[i].Success {
			succeeded++
			continue
		}
		if firstFailure == nil {
			firstFailure = &recipients[i]
		} else if recipients[i].Status != firstFailure.Status {
			uniformFailure = false
		}
	}

	switch {
	case succeeded == len(recipients):
		return models.StatusSendingSuccessful, ""
	case succeeded == 0 && uniformFailure:
		return firstFailure.Status, firstFailure.Error
	case succeeded == 0:
		return models.StatusSendingFailed, firstFailure.Error
	default:
		return models.StatusPartlySent, firstFailure.Error
	}
}

// chunkRecipients splits recipients into batches of at most size.
func chunkRecipients(recipients []string, size int) [][]string {
	if len(recipients) == 0 {
		return nil
	}

	var batches [][]string
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		batches = append(batches, recipients[start:end])
	}
	return batches
}
