package server

import (
	"crypto/subtle"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Session acquisition errors.
var (
	ErrSessionClaimed = errors.New("session already claimed by another client")
	ErrInvalidSecret  = errors.New("invalid API secret")
)

// SessionManager grants a single client session, first come first served.
type SessionManager struct {
	mu     sync.Mutex
	secret string // empty disables the check
	token  string
	remote string
}

// NewSessionManager requires apiSecret from every client when it is set.
func NewSessionManager(apiSecret string) *SessionManager {
	return &SessionManager{secret: apiSecret}
}

// Acquire claims the session for remoteAddr and returns its token.
func (m *SessionManager) Acquire(secret string, remoteAddr string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.secret != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(m.secret)) != 1 {
		return "", ErrInvalidSecret
	}
	if m.token != "" {
		return "", ErrSessionClaimed
	}

	m.token = uuid.NewString()
	m.remote = remoteAddr
	log.Printf("Client session %.8s opened from %s", m.token, remoteAddr)
	return m.token, nil
}

// Release frees the session if token still holds it. A stale token is ignored.
func (m *SessionManager) Release(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" || m.token != token {
		return
	}
	log.Printf("Client session %.8s closed", m.token)
	m.token = ""
	m.remote = ""
}

// Active reports whether a session is held, and by which address.
func (m *SessionManager) Active() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != "", m.remote
}
