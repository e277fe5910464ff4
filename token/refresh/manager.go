package refresh

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/primehr-session/internal/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Manager handles refresh token creation, validation, and rotation
type Manager struct {
	repo        Repo
	tokenLength int
	expiry      time.Duration
}

// NewManager creates a new refresh token manager
func NewManager(repo Repo, tokenLength int, expiry time.Duration) *Manager {
	return &Manager{
		repo:        repo,
		tokenLength: tokenLength,
		expiry:      expiry,
	}
}

// Create generates a new refresh token for the session and stores it
func (m *Manager) Create(userID, sessionID string) (string, error) {
	tokenBytes := make([]byte, m.tokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	tokenStr := hex.EncodeToString(tokenBytes)
	if err := m.repo.Upsert(&StoredRefreshToken{
		Token:     tokenStr,
		UserID:    userID,
		SessionID: sessionID,
		Iat:       NowTimeFunc(),
	}); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return tokenStr, nil
}

// Rotate exchanges a valid refresh token for a new one. The old token is consumed.
func (m *Manager) Rotate(token string) (*StoredRefreshToken, string, error) {
	rt, err := m.repo.Get(token)
	if err != nil {
		return nil, "", apperrors.ErrInvalidRefreshToken
	}
	if err := m.repo.Delete(token); err != nil {
		return nil, "", fmt.Errorf("failed to delete consumed refresh token: %w", err)
	}
	if m.IsExpired(rt) {
		return nil, "", apperrors.ErrRefreshTokenExpired
	}

	next, err := m.Create(rt.UserID, rt.SessionID)
	if err != nil {
		return nil, "", err
	}
	return rt, next, nil
}

// Revoke removes every refresh token of the session the given token belongs to.
func (m *Manager) Revoke(token string) error {
	rt, err := m.repo.Get(token)
	if err != nil {
		return apperrors.ErrInvalidRefreshToken
	}
	return m.repo.DeleteBySessionID(rt.SessionID)
}

// IsExpired checks if a refresh token has expired
func (m *Manager) IsExpired(rt *StoredRefreshToken) bool {
	return NowTimeFunc().Sub(rt.Iat) > m.expiry
}
