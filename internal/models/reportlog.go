// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

// Package models provides data structures for the Lumeo application.
//
// reportlog.go - Report Send Log Models
//
// One scheduled occurrence of a report is tracked as a parent log entry
// keyed by (report_id, queue_id) plus zero or more child entries, one per
// recipient batch. The queue ID encodes the target send date, which makes
// the parent key idempotent per calendar day.
package models

import (
	"time"
)

// SendStatus is the closed set of report send statuses.
type SendStatus string

const (
	// StatusProcessing marks a send that has started but not finished.
	StatusProcessing SendStatus = "processing"

	// StatusSendingSuccessful marks a fully successful send.
	StatusSendingSuccessful SendStatus = "sending_successful"

	// StatusSendingFailed marks a fully failed send.
	StatusSendingFailed SendStatus = "sending_failed"

	// StatusPartlySent marks a send where some batches succeeded and some failed.
	StatusPartlySent SendStatus = "partly_sent"

	// StatusEmailDomainError marks a batch rejected for an unroutable domain.
	StatusEmailDomainError SendStatus = "email_domain_error"

	// StatusEmailAddressError marks a batch rejected for a bad mailbox.
	StatusEmailAddressError SendStatus = "email_address_error"

	// StatusCronMiss records that a due send was never attempted.
	// It points at the scheduler infrastructure, not the send logic.
	StatusCronMiss SendStatus = "cron_miss"

	// StatusConcept marks a report that is still being drafted.
	StatusConcept SendStatus = "concept"

	// StatusScheduled marks a report waiting for its send window.
	StatusScheduled SendStatus = "scheduled"

	// StatusReadyToSend marks a report whose window has opened.
	StatusReadyToSend SendStatus = "ready_to_send"
)

// ValidSendStatuses contains all valid send statuses.
var ValidSendStatuses = []SendStatus{
	StatusProcessing,
	StatusSendingSuccessful,
	StatusSendingFailed,
	StatusPartlySent,
	StatusEmailDomainError,
	StatusEmailAddressError,
	StatusCronMiss,
	StatusConcept,
	StatusScheduled,
	StatusReadyToSend,
}

// IsValidSendStatus checks if a send status is valid.
func IsValidSendStatus(s SendStatus) bool {
	for _, valid := range ValidSendStatuses {
		if s == valid {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends a send attempt. A parent in a
// terminal status is never finalized again.
func (s SendStatus) IsTerminal() bool {
	switch s {
	case StatusSendingSuccessful, StatusSendingFailed, StatusPartlySent,
		StatusEmailDomainError, StatusEmailAddressError, StatusCronMiss:
		return true
	default:
		return false
	}
}

// LogEntryKind discriminates parent and child log entries explicitly.
type LogEntryKind string

const (
	// LogEntryParent is the per-occurrence aggregate entry.
	LogEntryParent LogEntryKind = "parent"

	// LogEntryChild is a per-batch entry under a parent.
	LogEntryChild LogEntryKind = "child"
)

// ReportLogEntry is one row of the report send log. Kind replaces the
// legacy null-batch-id discriminator: a parent entry has Kind
// LogEntryParent and an empty BatchID, a child entry has Kind
// LogEntryChild and a non-empty BatchID.
type ReportLogEntry struct {
	// ID is the log row identifier. Zero until persisted.
	ID int64 `json:"id"`

	// Kind discriminates parent and child entries.
	Kind LogEntryKind `json:"kind"`

	// ReportID references the report this entry belongs to.
	ReportID int64 `json:"report_id"`

	// QueueID identifies one send occurrence. It is the target send date
	// ("2025-01-06") or "test-{date}-{unix}" for test sends.
	QueueID string `json:"queue_id"`

	// BatchID identifies the batch for child entries. Empty on parents.
	BatchID string `json:"batch_id,omitempty"`

	// Status is the entry's send status.
	Status SendStatus `json:"status"`

	// Message holds the operator-facing detail for this entry.
	Message string `json:"message,omitempty"`

	// Time is when the entry was created or last updated.
	Time time.Time `json:"time"`
}

// SendOccurrence is the aggregated, operator-facing view of one send:
// the parent entry merged with its child batches.
type SendOccurrence struct {
	// ReportID references the report.
	ReportID int64 `json:"report_id"`

	// QueueID identifies the occurrence.
	QueueID string `json:"queue_id"`

	// Status is the parent's current status.
	Status SendStatus `json:"status"`

	// Message is the parent's message.
	Message string `json:"message,omitempty"`

	// Time is the most recent activity across the parent and all batches.
	Time time.Time `json:"time"`

	// Batches lists the child entries, in insertion order.
	Batches []ReportLogEntry `json:"batches,omitempty"`
}
