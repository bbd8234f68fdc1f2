package data

import (
	"context"
	"database/sql"
	"time"
)

type Session struct {
	ID        string
	UserID    string
	CompanyID string
	CreatedAt time.Time
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
	Status    string
}

// SessionIdentity is the joined view the auth middleware needs to admit a
// request: the session row plus the status of its user and company. Expiry
// and status checks stay in the caller so it can distinguish 401 from 403.
type SessionIdentity struct {
	SessionID     string
	ExpiresAt     time.Time
	UserID        string
	Username      string
	Role          string
	UserStatus    string
	CompanyID     string
	CompanyStatus string
}

type SessionModel struct {
	DB DBTX
}

func (m SessionModel) Create(ctx context.Context, s *Session) error {
	query := `
		INSERT INTO sessions (id, user_id, company_id, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	return withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query,
			s.ID, s.UserID, s.CompanyID, s.ExpiresAt, s.IPAddress, s.UserAgent,
		).Scan(&s.CreatedAt)
	})
}

// Identity resolves a session token to the joined session/user/company view.
// Revoked sessions and unknown tokens both come back as ErrRecordNotFound.
func (m SessionModel) Identity(ctx context.Context, sessionID string) (*SessionIdentity, error) {
	query := `
		SELECT s.id, s.expires_at, u.id, u.username, u.role, u.status, c.id, c.status
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		JOIN companies c ON c.id = s.company_id
		WHERE s.id = $1 AND s.status = 'active'
	`
	var ident SessionIdentity
	err := withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query, sessionID).Scan(
			&ident.SessionID, &ident.ExpiresAt,
			&ident.UserID, &ident.Username, &ident.Role, &ident.UserStatus,
			&ident.CompanyID, &ident.CompanyStatus,
		)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &ident, nil
}

// Revoke marks a single session revoked. Revoking twice is a no-op, not an
// error, so logout stays idempotent.
func (m SessionModel) Revoke(ctx context.Context, sessionID string) error {
	query := `UPDATE sessions SET status = 'revoked' WHERE id = $1`
	return withRetry(ctx, func() error {
		_, err := m.DB.ExecContext(ctx, query, sessionID)
		return err
	})
}

func (m SessionModel) RevokeAllForUser(ctx context.Context, userID string) error {
	query := `UPDATE sessions SET status = 'revoked' WHERE user_id = $1 AND status = 'active'`
	return withRetry(ctx, func() error {
		_, err := m.DB.ExecContext(ctx, query, userID)
		return err
	})
}

// DeleteExpired prunes sessions whose expiry is in the past. Run from the
// maintenance scheduler; validation never depends on it.
func (m SessionModel) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < NOW()`
	var deleted int64
	err := withRetry(ctx, func() error {
		res, execErr := m.DB.ExecContext(ctx, query)
		if execErr != nil {
			return execErr
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// CountActiveForUser supports the per-user session cap.
func (m SessionModel) CountActiveForUser(ctx context.Context, userID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM sessions
		WHERE user_id = $1 AND status = 'active' AND expires_at > NOW()
	`
	var n int
	err := withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query, userID).Scan(&n)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ListActiveForUser returns live sessions oldest first, so the session cap
// can evict the stalest one.
func (m SessionModel) ListActiveForUser(ctx context.Context, userID string) ([]*Session, error) {
	query := `
		SELECT id, user_id, company_id, created_at, expires_at, ip_address, user_agent, status
		FROM sessions
		WHERE user_id = $1 AND status = 'active' AND expires_at > NOW()
		ORDER BY created_at ASC
	`
	var sessions []*Session
	err := withRetry(ctx, func() error {
		rows, queryErr := m.DB.QueryContext(ctx, query, userID)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		sessions = sessions[:0]
		for rows.Next() {
			var s Session
			if scanErr := rows.Scan(&s.ID, &s.UserID, &s.CompanyID, &s.CreatedAt, &s.ExpiresAt, &s.IPAddress, &s.UserAgent, &s.Status); scanErr != nil {
				return scanErr
			}
			sessions = append(sessions, &s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
