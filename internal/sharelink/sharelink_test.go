// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package sharelink

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lumeo-analytics/lumeo/internal/config"
	"github.com/lumeo-analytics/lumeo/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// memStore keeps share links in a map keyed by token ID.
type memStore struct {
	links map[string]*models.ShareLink
}

func newMemStore() *memStore {
	return &memStore{links: make(map[string]*models.ShareLink)}
}

func (s *memStore) CreateShareLink(_ context.Context, link *models.ShareLink) error {
	clone := *link
	s.links[link.TokenID] = &clone
	return nil
}

func (s *memStore) GetShareLinkByToken(_ context.Context, tokenID string) (*models.ShareLink, error) {
	link, ok := s.links[tokenID]
	if !ok {
		return nil, errors.New("share link not found")
	}
	clone := *link
	return &clone, nil
}

func (s *memStore) ListShareLinks(_ context.Context, reportID int64) ([]models.ShareLink, error) {
	var out []models.ShareLink
	for _, l := range s.links {
		if l.ReportID == reportID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *memStore) RevokeShareLink(_ context.Context, tokenID string) error {
	link, ok := s.links[tokenID]
	if !ok {
		return errors.New("share link not found")
	}
	link.Revoked = true
	return nil
}

func newTestManager(t *testing.T, store Store) *Manager {
	t.Helper()
	m, err := NewManager(store, &config.ShareLinkConfig{
		Secret:        testSecret,
		DefaultExpiry: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	return m
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(newMemStore(), &config.ShareLinkConfig{}); err == nil {
		t.Error("NewManager() accepted an empty secret")
	}
}

func TestCreateAndValidate(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := newTestManager(t, store)

	token, link, err := m.Create(ctx, 42, "", 0)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if link.TokenID == "" {
		t.Error("link has no token ID")
	}
	if link.PasswordHash != "" {
		t.Error("public link has a password hash")
	}

	reportID, err := m.Validate(ctx, token, "")
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if reportID != 42 {
		t.Errorf("reportID = %d, want 42", reportID)
	}
}

func TestValidatePasswordProtected(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newMemStore())

	token, _, err := m.Create(ctx, 7, "hunter2", 0)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if _, err := m.Validate(ctx, token, ""); !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("missing password error = %v, want ErrPasswordRequired", err)
	}
	if _, err := m.Validate(ctx, token, "wrong"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("wrong password error = %v, want ErrWrongPassword", err)
	}
	if _, err := m.Validate(ctx, token, "hunter2"); err != nil {
		t.Errorf("correct password rejected: %v", err)
	}
}

func TestValidateRevoked(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := newTestManager(t, store)

	token, link, err := m.Create(ctx, 7, "", 0)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := m.RevokeByTokenID(ctx, link.TokenID); err != nil {
		t.Fatalf("RevokeByTokenID() error: %v", err)
	}

	if _, err := m.Validate(ctx, token, ""); !errors.Is(err, ErrLinkRevoked) {
		t.Errorf("revoked link error = %v, want ErrLinkRevoked", err)
	}
}

func TestValidateExpired(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := newTestManager(t, store)

	token, link, err := m.Create(ctx, 7, "", time.Hour)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Age the stored row past its expiry; the JWT itself is still valid so
	// the server-side check must catch it.
	store.links[link.TokenID].ExpiresAt = time.Now().Add(-time.Minute)

	if _, err := m.Validate(ctx, token, ""); !errors.Is(err, ErrLinkExpired) {
		t.Errorf("expired link error = %v, want ErrLinkExpired", err)
	}
}

func TestValidateTamperedToken(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newMemStore())

	token, _, err := m.Create(ctx, 7, "", 0)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Corrupt the signature segment.
	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	if _, err := m.Validate(ctx, tampered, ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("tampered token error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateGarbageToken(t *testing.T) {
	m := newTestManager(t, newMemStore())
	if _, err := m.Validate(context.Background(), "not.a.jwt", ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateForeignSecret(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	other, err := NewManager(store, &config.ShareLinkConfig{
		Secret:        "another-secret-entirely-0123456789",
		DefaultExpiry: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	token, _, err := other.Create(ctx, 7, "", 0)
	if err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, store)
	if _, err := m.Validate(ctx, token, ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign-secret token error = %v, want ErrInvalidToken", err)
	}
}

func TestRevokeBySignedToken(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := newTestManager(t, store)

	token, link, err := m.Create(ctx, 7, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Revoke(ctx, token); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	if !store.links[link.TokenID].Revoked {
		t.Error("link not marked revoked")
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := newTestManager(t, store)

	for i := 0; i < 3; i++ {
		if _, _, err := m.Create(ctx, 7, "", 0); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := m.Create(ctx, 8, "", 0); err != nil {
		t.Fatal(err)
	}

	links, err := m.List(ctx, 7)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(links) != 3 {
		t.Errorf("List() returned %d links, want 3", len(links))
	}
}
