// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

// Package sharelink issues and validates read-only report share links.
//
// A share link is an HS256-signed JWT carrying the report ID and a token ID.
// The token ID is also stored server-side so a link can be revoked before
// its JWT expiry. Links may additionally be protected by a bcrypt-hashed
// password checked on every view.
package sharelink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lumeo-analytics/lumeo/internal/config"
	"github.com/lumeo-analytics/lumeo/internal/models"
)

// Share link errors
var (
	// ErrLinkExpired indicates the link is past its expiry.
	ErrLinkExpired = errors.New("share link has expired")

	// ErrLinkRevoked indicates the link was revoked.
	ErrLinkRevoked = errors.New("share link has been revoked")

	// ErrPasswordRequired indicates the link needs a password and none was given.
	ErrPasswordRequired = errors.New("share link requires a password")

	// ErrWrongPassword indicates the supplied password did not match.
	ErrWrongPassword = errors.New("share link password is incorrect")

	// ErrInvalidToken indicates the token failed signature or structure checks.
	ErrInvalidToken = errors.New("share link token is invalid")
)

// Claims are the JWT claims carried by a share link token.
type Claims struct {
	ReportID int64 `json:"report_id"`
	jwt.RegisteredClaims
}

// Store is the persistence needed by the manager.
type Store interface {
	CreateShareLink(ctx context.Context, link *models.ShareLink) error
	GetShareLinkByToken(ctx context.Context, tokenID string) (*models.ShareLink, error)
	ListShareLinks(ctx context.Context, reportID int64) ([]models.ShareLink, error)
	RevokeShareLink(ctx context.Context, tokenID string) error
}

// Manager creates and validates share links.
type Manager struct {
	store         Store
	secret        []byte
	defaultExpiry time.Duration
}

// NewManager creates a share link manager. The secret must be at least
// 32 characters; config validation enforces this before startup.
func NewManager(store Store, cfg *config.ShareLinkConfig) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("share link secret is required but was empty")
	}

	return &Manager{
		store:         store,
		secret:        []byte(cfg.Secret),
		defaultExpiry: cfg.DefaultExpiry,
	}, nil
}

// Create issues a new share link for a report. An empty password makes the
// link public; expiry 0 uses the configured default.
func (m *Manager) Create(ctx context.Context, reportID int64, password string, expiry time.Duration) (string, *models.ShareLink, error) {
	if expiry <= 0 {
		expiry = m.defaultExpiry
	}

	now := time.Now()
	link := &models.ShareLink{
		TokenID:   uuid.New().String(),
		ReportID:  reportID,
		ExpiresAt: now.Add(expiry),
		CreatedAt: now,
	}

	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", nil, fmt.Errorf("failed to hash password: %w", err)
		}
		link.PasswordHash = string(hash)
	}

	claims := &Claims{
		ReportID: reportID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        link.TokenID,
			ExpiresAt: jwt.NewNumericDate(link.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign share link token: %w", err)
	}

	if err := m.store.CreateShareLink(ctx, link); err != nil {
		return "", nil, err
	}

	return signedToken, link, nil
}

// Validate checks a share link token and optional password, returning the
// report ID the link grants access to.
func (m *Manager) Validate(ctx context.Context, tokenString, password string) (int64, error) {
	claims, err := m.parseToken(tokenString)
	if err != nil {
		return 0, err
	}

	link, err := m.store.GetShareLinkByToken(ctx, claims.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to look up share link: %w", err)
	}

	switch {
	case link.Revoked:
		return 0, ErrLinkRevoked
	case time.Now().After(link.ExpiresAt):
		return 0, ErrLinkExpired
	}

	if link.HasPassword() {
		if password == "" {
			return 0, ErrPasswordRequired
		}
		if err := bcrypt.CompareHashAndPassword([]byte(link.PasswordHash), []byte(password)); err != nil {
			return 0, ErrWrongPassword
		}
	}

	return claims.ReportID, nil
}

// Revoke invalidates a share link by its signed token.
func (m *Manager) Revoke(ctx context.Context, tokenString string) error {
	claims, err := m.parseToken(tokenString)
	if err != nil {
		return err
	}
	return m.store.RevokeShareLink(ctx, claims.ID)
}

// RevokeByTokenID invalidates a share link by its stored token ID.
func (m *Manager) RevokeByTokenID(ctx context.Context, tokenID string) error {
	return m.store.RevokeShareLink(ctx, tokenID)
}

// List returns the share links issued for a report.
func (m *Manager) List(ctx context.Context, reportID int64) ([]models.ShareLink, error) {
	return m.store.ListShareLinks(ctx, reportID)
}

// parseToken verifies signature, algorithm and time claims.
func (m *Manager) parseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		// Reject anything but HS256 to prevent algorithm confusion
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrLinkExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
