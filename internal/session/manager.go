package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/technosupport/ts-ppe/internal/auth"
	"github.com/technosupport/ts-ppe/internal/data"
)

const (
	// SessionTTL bounds every session; there is no sliding refresh.
	SessionTTL = 24 * time.Hour

	MaxSessionsPerUser = 5
)

var (
	// ErrSessionInvalid covers unknown, revoked and expired tokens as well
	// as disabled users: all answer 401.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrCompanySuspended means the token itself was fine but the tenant is
	// switched off: 403, not 401.
	ErrCompanySuspended = errors.New("company suspended")
)

// Manager issues and validates opaque session tokens. Postgres is the
// authority; the Redis registry only accelerates eviction bookkeeping and
// carries login lockout counters, and the Manager keeps working without it.
type Manager struct {
	sessions data.SessionModel
	registry *Registry

	// TTL bounds new sessions; zero means SessionTTL.
	TTL time.Duration
}

func NewManager(sessions data.SessionModel, registry *Registry) *Manager {
	return &Manager{sessions: sessions, registry: registry, TTL: SessionTTL}
}

func (m *Manager) ttl() time.Duration {
	if m.TTL > 0 {
		return m.TTL
	}
	return SessionTTL
}

// Issue creates a session for an authenticated user, evicting the oldest
// one if the user is at the cap.
func (m *Manager) Issue(ctx context.Context, user *data.User, ip, userAgent string) (*data.Session, error) {
	active, err := m.sessions.ListActiveForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	for len(active) >= MaxSessionsPerUser {
		oldest := active[0]
		if err := m.sessions.Revoke(ctx, oldest.ID); err != nil {
			return nil, fmt.Errorf("evict session: %w", err)
		}
		m.registryForget(ctx, user.ID, oldest.ID)
		active = active[1:]
	}

	token, err := auth.NewSessionToken()
	if err != nil {
		return nil, err
	}
	s := &data.Session{
		ID:        token,
		UserID:    user.ID,
		CompanyID: user.CompanyID,
		ExpiresAt: time.Now().Add(m.ttl()),
		IPAddress: ip,
		UserAgent: userAgent,
		Status:    "active",
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if m.registry != nil {
		if err := m.registry.Track(ctx, user.ID, user.CompanyID, token, m.ttl()); err != nil {
			log.Printf("[SESSION] registry track failed: %v", err)
		}
	}
	return s, nil
}

// Validate resolves a token to a caller identity. It fails unless the
// session row is active and unexpired, the user is active and the company
// is active, in that order of checks.
func (m *Manager) Validate(ctx context.Context, token string) (*data.SessionIdentity, error) {
	if token == "" {
		return nil, ErrSessionInvalid
	}
	ident, err := m.sessions.Identity(ctx, token)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	if time.Now().After(ident.ExpiresAt) {
		return nil, ErrSessionInvalid
	}
	if ident.UserStatus != "active" {
		return nil, ErrSessionInvalid
	}
	if ident.CompanyStatus != "active" {
		return nil, ErrCompanySuspended
	}
	return ident, nil
}

// Revoke ends one session. Idempotent.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	ident, err := m.sessions.Identity(ctx, token)
	if err != nil && !errors.Is(err, data.ErrRecordNotFound) {
		return err
	}
	if err := m.sessions.Revoke(ctx, token); err != nil {
		return err
	}
	if ident != nil {
		m.registryForget(ctx, ident.UserID, token)
	}
	return nil
}

// RevokeAllForUser ends every session a user holds, e.g. after a password
// change or account disable.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID string) error {
	if err := m.sessions.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	if m.registry != nil {
		if err := m.registry.ForgetUser(ctx, userID); err != nil {
			log.Printf("[SESSION] registry cleanup failed: %v", err)
		}
	}
	return nil
}

func (m *Manager) registryForget(ctx context.Context, userID, token string) {
	if m.registry == nil {
		return
	}
	if err := m.registry.Forget(ctx, userID, token); err != nil {
		log.Printf("[SESSION] registry forget failed: %v", err)
	}
}
