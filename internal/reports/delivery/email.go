// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

// Package delivery sends rendered report emails over SMTP.
//
// Sending is wrapped in a circuit breaker so a dead mail server fails fast
// instead of stalling the scheduler, and a token-bucket rate limiter keeps
// the send rate under provider limits. Failures are classified so the send
// log can distinguish a bad domain from a bad mailbox from a transient
// outage.
package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/lumeo-analytics/lumeo/internal/config"
	"github.com/lumeo-analytics/lumeo/internal/logging"
	"github.com/lumeo-analytics/lumeo/internal/metrics"
	"github.com/lumeo-analytics/lumeo/internal/models"
)

// ErrBreakerOpen indicates the SMTP circuit breaker refused the send.
var ErrBreakerOpen = errors.New("smtp circuit breaker is open")

// Email is one message ready to send.
type Email struct {
	To       string
	Subject  string
	BodyHTML string
	BodyText string
}

// Sender delivers a single email.
type Sender interface {
	Send(ctx context.Context, email *Email) error
}

// SMTPSender sends email through a configured SMTP relay.
type SMTPSender struct {
	cfg     *config.SMTPConfig
	cb      *gobreaker.CircuitBreaker[struct{}]
	limiter *rate.Limiter
}

// NewSMTPSender creates a sender for the configured relay.
// Circuit breaker configuration:
// - Opens after 60% failure rate with minimum 5 requests
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
func NewSMTPSender(cfg *config.SMTPConfig) *SMTPSender {
	cbName := "smtp"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("SMTP circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	ratePerSecond := cfg.RatePerSecond
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}

	return &SMTPSender{
		cfg:     cfg,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)+1),
	}
}

// Send delivers one email, honoring the rate limiter and circuit breaker.
func (s *SMTPSender) Send(ctx context.Context, email *Email) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait canceled: %w", err)
	}

	_, err := s.cb.Execute(func() (struct{}, error) {
		return struct{}{}, s.sendSMTP(ctx, email)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues("smtp", "rejected").Inc()
			return fmt.Errorf("%w: %v", ErrBreakerOpen, err)
		}
		metrics.CircuitBreakerRequests.WithLabelValues("smtp", "failure").Inc()
		return err
	}

	metrics.CircuitBreakerRequests.WithLabelValues("smtp", "success").Inc()
	return nil
}

// buildMessage constructs the email message with headers.
func (s *SMTPSender) buildMessage(email *Email) string {
	var msg strings.Builder

	fromName := s.cfg.FromName
	if fromName == "" {
		fromName = "Lumeo Analytics"
	}

	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", fromName, s.cfg.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", email.To))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	msg.WriteString("MIME-Version: 1.0\r\n")

	hasHTML := email.BodyHTML != ""
	hasText := email.BodyText != ""

	switch {
	case hasHTML && hasText:
		boundary := fmt.Sprintf("boundary_%d", time.Now().UnixNano())
		msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n", boundary))
		msg.WriteString("\r\n")

		msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(email.BodyText)
		msg.WriteString("\r\n")

		msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(email.BodyHTML)
		msg.WriteString("\r\n")

		msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	case hasHTML:
		msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(email.BodyHTML)
	default:
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(email.BodyText)
	}

	return msg.String()
}

// sendSMTP performs the actual SMTP conversation.
func (s *SMTPSender) sendSMTP(ctx context.Context, email *Email) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if s.cfg.UseTLS {
		tlsConfig := &tls.Config{
			ServerName: s.cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if s.cfg.User != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}

	if err := client.Rcpt(email.To); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}

	if _, err := writer.Write([]byte(s.buildMessage(email))); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	// Quit errors after the message was accepted are not failures
	_ = client.Quit()

	return nil
}

// ClassifySendError maps a send error to the status recorded on the batch
// log row and whether a retry is worthwhile.
func ClassifySendError(err error) (status models.SendStatus, transient bool) {
	if err == nil {
		return models.StatusSendingSuccessful, false
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "no such host"),
		strings.Contains(errStr, "domain"),
		strings.Contains(errStr, "dns"):
		return models.StatusEmailDomainError, false
	case strings.Contains(errStr, "recipient"),
		strings.Contains(errStr, "mailbox"),
		strings.Contains(errStr, "user unknown"):
		return models.StatusEmailAddressError, false
	case errors.Is(err, ErrBreakerOpen),
		strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "connect"),
		strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline"),
		strings.Contains(errStr, "rate"):
		return models.StatusSendingFailed, true
	default:
		return models.StatusSendingFailed, false
	}
}

// stateToFloat converts circuit breaker state to a numeric value for metrics.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to a string for logging.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
