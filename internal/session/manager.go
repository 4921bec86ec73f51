package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

const tokenKey = "session_id"

// Manager owns the single opaque session token. The token is loaded once from
// the KV and written through on every change.
type Manager struct {
	kv KV

	mu    sync.RWMutex
	token string
}

// NewManager loads the current token, if any, from kv.
func NewManager(kv KV) (*Manager, error) {
	if kv == nil {
		return nil, errors.New("session: kv must not be nil")
	}
	token, _, err := kv.Get(tokenKey)
	if err != nil {
		return nil, fmt.Errorf("session: load token: %w", err)
	}
	return &Manager{kv: kv, token: token}, nil
}

// Token returns the held token and whether one is set.
func (m *Manager) Token() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.token != ""
}

// SetTokenIfAbsent stores token only when none is held. It reports whether the
// token was stored. The token is kept exactly as given; empty or
// whitespace-only tokens are ignored.
func (m *Manager) SetTokenIfAbsent(token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" {
		return false, nil
	}
	if err := m.kv.Set(tokenKey, token); err != nil {
		return false, fmt.Errorf("session: store token: %w", err)
	}
	m.token = token
	return true, nil
}

// ClearToken forgets the held token.
func (m *Manager) ClearToken() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.kv.Delete(tokenKey); err != nil {
		return fmt.Errorf("session: clear token: %w", err)
	}
	m.token = ""
	return nil
}
