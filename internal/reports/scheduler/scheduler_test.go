// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumeo-analytics/lumeo/internal/models"
	"github.com/lumeo-analytics/lumeo/internal/query"
	"github.com/lumeo-analytics/lumeo/internal/reports/delivery"
	"github.com/lumeo-analytics/lumeo/internal/reports/render"
)

// memStore is an in-memory Store for scheduler tests.
type memStore struct {
	mu      sync.Mutex
	reports map[int64]*models.Report
	entries []models.ReportLogEntry
	updated []int64
	nextID  int64
}

func newMemStore(reports ...*models.Report) *memStore {
	s := &memStore{reports: make(map[int64]*models.Report)}
	for _, r := range reports {
		s.reports[r.ID] = r
	}
	return s
}

func (s *memStore) ListActiveScheduledReports(context.Context) ([]models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Report
	for _, r := range s.reports {
		if r.Enabled && r.Scheduled {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) GetReport(_ context.Context, id int64) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %d not found", id)
	}
	clone := *r
	return &clone, nil
}

func (s *memStore) UpdateReport(_ context.Context, report *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, report.ID)
	clone := *report
	s.reports[report.ID] = &clone
	return nil
}

func (s *memStore) Occurrence(_ context.Context, reportID int64, queueID string) (*models.ReportLogEntry, []models.ReportLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var parent *models.ReportLogEntry
	var children []models.ReportLogEntry
	for i := range s.entries {
		e := s.entries[i]
		if e.ReportID != reportID || e.QueueID != queueID {
			continue
		}
		if e.Kind == models.LogEntryParent && parent == nil {
			p := e
			parent = &p
		} else if e.Kind == models.LogEntryChild {
			children = append(children, e)
		}
	}
	return parent, children, nil
}

func (s *memStore) HasOccurrence(_ context.Context, reportID int64, queueID string) (bool, error) {
	parent, _, _ := s.Occurrence(context.Background(), reportID, queueID)
	return parent != nil, nil
}

func (s *memStore) InsertLogEntry(_ context.Context, entry *models.ReportLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memStore) UpdateLogStatus(_ context.Context, id int64, status models.SendStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries[i].Status = status
			s.entries[i].Message = message
		}
	}
	return nil
}

// okSender accepts every email.
type okSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *okSender) Send(_ context.Context, email *delivery.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, email.To)
	return nil
}

// stubExecutor returns one fixed row for every block query.
type stubExecutor struct{}

func (stubExecutor) ExecuteDescriptor(context.Context, *query.Descriptor, time.Time, time.Time) ([]map[string]interface{}, error) {
	return []map[string]interface{}{{"pageviews": float64(10), "visitors": float64(4)}}, nil
}

func newTestScheduler(store Store, sender delivery.Sender) *Scheduler {
	logger := zerolog.Nop()
	renderer := render.NewRenderer(stubExecutor{}, &logger, "")
	mgrCfg := delivery.DefaultManagerConfig()
	mgrCfg.MaxRetries = 1
	mgrCfg.BaseDelay = time.Millisecond
	mgr := delivery.NewManager(sender, &logger, mgrCfg)
	return NewScheduler(store, nil, renderer, mgr, &logger, Config{
		CheckInterval: time.Minute,
		Enabled:       true,
		LockOwner:     "test",
	})
}

func scheduledReport(id int64) *models.Report {
	return &models.Report{
		ID:         id,
		Name:       "daily numbers",
		Frequency:  models.FrequencyDaily,
		SendTime:   "09:00",
		Timezone:   "UTC",
		Scheduled:  true,
		Enabled:    true,
		DateRange:  "last-7-days",
		Recipients: []string{"owner@example.com"},
		Blocks:     []models.ContentBlock{{ID: "b1", Metrics: []string{"pageviews"}}},
	}
}

func TestFindDue(t *testing.T) {
	now := time.Date(2026, 8, 26, 9, 5, 0, 0, time.UTC)

	due := scheduledReport(1)
	notYet := scheduledReport(2)
	notYet.SendTime = "23:00"
	alreadySent := scheduledReport(3)

	store := newMemStore(due, notYet, alreadySent)
	store.entries = []models.ReportLogEntry{
		{ID: 1, Kind: models.LogEntryParent, ReportID: 3, QueueID: "2026-08-26", Status: models.StatusSendingSuccessful, Time: now},
	}

	s := newTestScheduler(store, &okSender{})
	all, err := store.ListActiveScheduledReports(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	got := s.findDue(context.Background(), all, now)
	if len(got) != 1 {
		t.Fatalf("found %d due reports, want 1", len(got))
	}
	if got[0].ID != 1 {
		t.Errorf("due report = %d, want 1", got[0].ID)
	}
}

func TestExecuteReportRecordsOccurrence(t *testing.T) {
	report := scheduledReport(1)
	store := newMemStore(report)
	sender := &okSender{}
	s := newTestScheduler(store, sender)

	now := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	s.executeReport(context.Background(), report, "2026-08-26", now, true)

	parent, children, err := store.Occurrence(context.Background(), 1, "2026-08-26")
	if err != nil {
		t.Fatal(err)
	}
	if parent == nil {
		t.Fatal("no parent log entry recorded")
	}
	if parent.Status != models.StatusSendingSuccessful {
		t.Errorf("parent status = %s, want %s", parent.Status, models.StatusSendingSuccessful)
	}
	if len(children) != 1 {
		t.Errorf("recorded %d batch entries, want 1", len(children))
	}
	if len(sender.sent) != 1 || sender.sent[0] != "owner@example.com" {
		t.Errorf("sent to %v", sender.sent)
	}

	// Persisted send freezes the end date on the stored report.
	stored, _ := store.GetReport(context.Background(), 1)
	if stored.FixedEndDate != "2026-08-25" {
		t.Errorf("stored FixedEndDate = %q, want 2026-08-25", stored.FixedEndDate)
	}
	if len(store.updated) != 1 {
		t.Errorf("report updated %d times, want 1", len(store.updated))
	}
}

func TestTriggerTestSend(t *testing.T) {
	report := scheduledReport(1)
	store := newMemStore(report)
	sender := &okSender{}
	s := newTestScheduler(store, sender)

	queueID, err := s.TriggerTestSend(context.Background(), 1, []string{"QA@Example.com"})
	if err != nil {
		t.Fatalf("TriggerTestSend() error: %v", err)
	}
	if !strings.HasPrefix(queueID, "test-") {
		t.Errorf("queue ID = %q, want test- prefix", queueID)
	}

	// Override recipients are sanitized and used instead of the stored list.
	if len(sender.sent) != 1 || sender.sent[0] != "qa@example.com" {
		t.Errorf("sent to %v, want [qa@example.com]", sender.sent)
	}

	// Test sends never write the frozen end date back.
	if len(store.updated) != 0 {
		t.Error("test send persisted report changes")
	}

	parent, _, _ := store.Occurrence(context.Background(), 1, queueID)
	if parent == nil {
		t.Fatal("test send recorded no log entry")
	}
	if parent.Status != models.StatusSendingSuccessful {
		t.Errorf("parent status = %s", parent.Status)
	}
}

func TestTriggerTestSendRejectsInvalidRecipients(t *testing.T) {
	store := newMemStore(scheduledReport(1))
	s := newTestScheduler(store, &okSender{})

	if _, err := s.TriggerTestSend(context.Background(), 1, []string{"not an address"}); err == nil {
		t.Error("TriggerTestSend() accepted an all-invalid recipient list")
	}
}

func TestTriggerTestSendUnknownReport(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, &okSender{})

	if _, err := s.TriggerTestSend(context.Background(), 99, nil); err == nil {
		t.Error("TriggerTestSend() accepted an unknown report")
	}
}

func TestStartStop(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, &okSender{})
	s.config.Enabled = false

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start() did not fail")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	// Stopping an already stopped scheduler is a no-op.
	if err := s.Stop(); err != nil {
		t.Fatalf("repeated Stop() error: %v", err)
	}
}
