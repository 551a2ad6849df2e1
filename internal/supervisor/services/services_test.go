// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeHTTPServer blocks in ListenAndServe until Shutdown is called.
type fakeHTTPServer struct {
	listenErr error
	stopCh    chan struct{}
	shutdowns atomic.Int32
}

func newFakeHTTPServer(listenErr error) *fakeHTTPServer {
	return &fakeHTTPServer{listenErr: listenErr, stopCh: make(chan struct{})}
}

func (s *fakeHTTPServer) ListenAndServe() error {
	if s.listenErr != nil {
		return s.listenErr
	}
	<-s.stopCh
	return http.ErrServerClosed
}

func (s *fakeHTTPServer) Shutdown(context.Context) error {
	s.shutdowns.Add(1)
	close(s.stopCh)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	server := newFakeHTTPServer(nil)
	svc := NewHTTPService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	// Give the listener goroutine a moment to start, then cancel.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancellation")
	}
	if server.shutdowns.Load() != 1 {
		t.Errorf("Shutdown called %d times, want 1", server.shutdowns.Load())
	}
}

func TestHTTPServiceListenFailure(t *testing.T) {
	boom := errors.New("port already in use")
	svc := NewHTTPService(newFakeHTTPServer(boom), time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, boom) {
		t.Errorf("Serve() error = %v, want wrapped listen failure", err)
	}
}

func TestHTTPServiceString(t *testing.T) {
	if got := NewHTTPService(newFakeHTTPServer(nil), 0).String(); got != "http-server" {
		t.Errorf("String() = %q", got)
	}
}

// fakeScheduler records lifecycle calls.
type fakeScheduler struct {
	startErr error
	started  atomic.Int32
	stopped  atomic.Int32
}

func (s *fakeScheduler) Start(context.Context) error {
	s.started.Add(1)
	return s.startErr
}

func (s *fakeScheduler) Stop() error {
	s.stopped.Add(1)
	return nil
}

func TestSchedulerServiceLifecycle(t *testing.T) {
	mgr := &fakeScheduler{}
	svc := NewSchedulerService(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after cancellation")
	}

	if mgr.started.Load() != 1 || mgr.stopped.Load() != 1 {
		t.Errorf("started = %d, stopped = %d, want 1/1", mgr.started.Load(), mgr.stopped.Load())
	}
}

func TestSchedulerServiceStartFailure(t *testing.T) {
	mgr := &fakeScheduler{startErr: errors.New("already running")}
	if err := NewSchedulerService(mgr).Serve(context.Background()); err == nil {
		t.Error("Serve() swallowed the start error")
	}
	if mgr.stopped.Load() != 0 {
		t.Error("Stop called after failed Start")
	}
}

// fakeMaintenanceStore counts maintenance operations.
type fakeMaintenanceStore struct {
	deleted     atomic.Int32
	checkpoints atomic.Int32
	deleteErr   error
}

func (s *fakeMaintenanceStore) DeleteExpiredShareLinks(context.Context, time.Time) (int64, error) {
	s.deleted.Add(1)
	return 2, s.deleteErr
}

func (s *fakeMaintenanceStore) Checkpoint(context.Context) error {
	s.checkpoints.Add(1)
	return nil
}

type fakeLockGC struct {
	runs atomic.Int32
}

func (g *fakeLockGC) RunGC() { g.runs.Add(1) }

func TestMaintenanceRunOnce(t *testing.T) {
	store := &fakeMaintenanceStore{}
	gc := &fakeLockGC{}
	svc := NewMaintenanceService(store, gc, time.Hour, zerolog.Nop())

	svc.runOnce(context.Background())

	if store.deleted.Load() != 1 {
		t.Errorf("share link cleanup ran %d times", store.deleted.Load())
	}
	if store.checkpoints.Load() != 1 {
		t.Errorf("checkpoint ran %d times", store.checkpoints.Load())
	}
	if gc.runs.Load() != 1 {
		t.Errorf("lock GC ran %d times", gc.runs.Load())
	}
}

func TestMaintenanceRunOnceWithoutLocks(t *testing.T) {
	store := &fakeMaintenanceStore{}
	svc := NewMaintenanceService(store, nil, time.Hour, zerolog.Nop())

	// Must not panic with a nil lock store.
	svc.runOnce(context.Background())
	if store.checkpoints.Load() != 1 {
		t.Error("checkpoint skipped")
	}
}

func TestMaintenanceCleanupFailureStillCheckpoints(t *testing.T) {
	store := &fakeMaintenanceStore{deleteErr: errors.New("table locked")}
	svc := NewMaintenanceService(store, nil, time.Hour, zerolog.Nop())

	svc.runOnce(context.Background())
	if store.checkpoints.Load() != 1 {
		t.Error("cleanup failure aborted the rest of the run")
	}
}

func TestMaintenanceServeStopsOnCancel(t *testing.T) {
	store := &fakeMaintenanceStore{}
	svc := NewMaintenanceService(store, nil, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after cancellation")
	}
	if store.deleted.Load() == 0 {
		t.Error("maintenance never ran")
	}
}
