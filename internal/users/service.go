// Package users covers authentication and admin user management for one
// tenant. Sessions themselves live in internal/session; this package decides
// whether a login attempt deserves one.
package users

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/technosupport/ts-ppe/internal/audit"
	"github.com/technosupport/ts-ppe/internal/auth"
	"github.com/technosupport/ts-ppe/internal/data"
)

var (
	// ErrBadCredentials covers unknown emails, wrong passwords and logins
	// against the wrong tenant. Callers answer 401 without distinguishing.
	ErrBadCredentials = errors.New("invalid email or password")

	// ErrLockedOut means too many recent failures for this email; the
	// password was not even checked.
	ErrLockedOut = errors.New("account temporarily locked")

	ErrUserDisabled     = errors.New("account disabled")
	ErrCompanySuspended = errors.New("company suspended")

	// ErrLastAdmin guards the only remaining admin from being disabled.
	ErrLastAdmin = errors.New("company must keep one active admin")
)

// UserStore is the slice of the data layer this service needs.
type UserStore interface {
	Create(ctx context.Context, u *data.User) error
	GetByID(ctx context.Context, id string) (*data.User, error)
	GetByEmail(ctx context.Context, email string) (*data.User, error)
	List(ctx context.Context, companyID string) ([]*data.User, error)
	Update(ctx context.Context, u *data.User) error
	TouchLastLogin(ctx context.Context, id string) error
	CountAdmins(ctx context.Context, companyID string) (int, error)
}

type CompanyStore interface {
	GetByID(ctx context.Context, id string) (*data.Company, error)
}

// SessionManager issues and revokes the opaque tokens a successful login
// hands out.
type SessionManager interface {
	Issue(ctx context.Context, user *data.User, ip, userAgent string) (*data.Session, error)
	Revoke(ctx context.Context, token string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

// Lockout tracks failed attempts per (company, email). Implemented by the
// Redis session registry; optional, logins work without it.
type Lockout interface {
	CheckLockout(ctx context.Context, companyID, email string) (bool, error)
	RecordFailedAttempt(ctx context.Context, companyID, email string) error
	ClearFailures(ctx context.Context, companyID, email string) error
}

type Auditor interface {
	WriteEvent(ctx context.Context, evt audit.Event) error
}

type Service struct {
	Users     UserStore
	Companies CompanyStore
	Sessions  SessionManager
	Lockout   Lockout
	Audit     Auditor
}

func NewService(users UserStore, companies CompanyStore, sessions SessionManager) *Service {
	return &Service{Users: users, Companies: companies, Sessions: sessions}
}

// Login authenticates an email/password pair against one tenant and issues
// a session. Unknown emails and wrong-tenant logins burn the same bcrypt
// time as a real comparison so the two are indistinguishable on the wire.
func (s *Service) Login(ctx context.Context, companyID, email, password, ip, userAgent string) (*data.Session, *data.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if s.Lockout != nil {
		locked, err := s.Lockout.CheckLockout(ctx, companyID, email)
		if err != nil {
			log.Printf("[USERS] lockout check failed, allowing attempt: %v", err)
		} else if locked {
			return nil, nil, ErrLockedOut
		}
	}

	u, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			auth.BurnTime(password)
			s.noteFailure(ctx, companyID, email, ip)
			return nil, nil, ErrBadCredentials
		}
		return nil, nil, err
	}
	if u.CompanyID != companyID {
		// The account exists under another tenant; never compare its
		// real hash for a cross-tenant attempt.
		auth.BurnTime(password)
		s.noteFailure(ctx, companyID, email, ip)
		return nil, nil, ErrBadCredentials
	}

	ok, err := auth.CheckPassword(password, u.PasswordHash)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		s.noteFailure(ctx, companyID, email, ip)
		return nil, nil, ErrBadCredentials
	}

	if u.Status != "active" {
		return nil, nil, ErrUserDisabled
	}
	company, err := s.Companies.GetByID(ctx, u.CompanyID)
	if err != nil {
		return nil, nil, err
	}
	if company.Status != "active" {
		return nil, nil, ErrCompanySuspended
	}

	if s.Lockout != nil {
		if err := s.Lockout.ClearFailures(ctx, companyID, email); err != nil {
			log.Printf("[USERS] clearing lockout counter failed: %v", err)
		}
	}

	sess, err := s.Sessions.Issue(ctx, u, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Users.TouchLastLogin(ctx, u.ID); err != nil {
		log.Printf("[USERS] touching last_login for %s failed: %v", u.ID, err)
	}
	s.recordAudit(ctx, audit.Event{
		CompanyID: u.CompanyID,
		UserID:    u.ID,
		Action:    "user.login",
		IPAddress: ip,
	})
	return sess, u, nil
}

// Logout revokes the presented session token. Idempotent.
func (s *Service) Logout(ctx context.Context, companyID, userID, token string) error {
	if err := s.Sessions.Revoke(ctx, token); err != nil {
		return err
	}
	s.recordAudit(ctx, audit.Event{CompanyID: companyID, UserID: userID, Action: "user.logout"})
	return nil
}

// CreateInput is the admin form for adding a user to the tenant.
type CreateInput struct {
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// Create adds a user to the actor's tenant. Admin only; the role gate runs
// in middleware, this method only validates the payload.
func (s *Service) Create(ctx context.Context, companyID, actorID string, in CreateInput) (*data.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if in.Username == "" {
		return nil, data.Invalid("username", "required")
	}
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return nil, data.Invalid("email", "valid address required")
	}
	if len(in.Password) < 8 {
		return nil, data.Invalid("password", "at least 8 characters")
	}
	if in.Role == "" {
		in.Role = data.RoleViewer
	}
	if !data.IsRole(in.Role) {
		return nil, data.Invalid("role", "unknown role")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &data.User{
		ID:           data.NewID("USR"),
		CompanyID:    companyID,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		Permissions:  in.Permissions,
		Status:       "active",
	}
	if err := s.Users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, audit.Event{
		CompanyID: companyID,
		UserID:    actorID,
		Action:    "user.create",
		Target:    u.ID,
		Detail:    audit.Payload(map[string]any{"username": u.Username, "role": u.Role}),
	})
	return u, nil
}

// List returns the tenant's users, never including password hashes in what
// handlers serialize (they strip the field).
func (s *Service) List(ctx context.Context, companyID string) ([]*data.User, error) {
	return s.Users.List(ctx, companyID)
}

// Disable switches a user off and revokes every session they hold. The last
// active admin of a company cannot be disabled.
func (s *Service) Disable(ctx context.Context, companyID, actorID, userID string) error {
	u, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.CompanyID != companyID {
		return data.ErrRecordNotFound
	}
	if u.Status != "active" {
		return nil
	}
	if u.Role == data.RoleAdmin {
		admins, err := s.Users.CountAdmins(ctx, companyID)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return ErrLastAdmin
		}
	}

	u.Status = "disabled"
	if err := s.Users.Update(ctx, u); err != nil {
		return err
	}
	if err := s.Sessions.RevokeAllForUser(ctx, userID); err != nil {
		log.Printf("[USERS] revoking sessions for disabled user %s failed: %v", userID, err)
	}
	s.recordAudit(ctx, audit.Event{
		CompanyID: companyID,
		UserID:    actorID,
		Action:    "user.disable",
		Target:    userID,
	})
	return nil
}

func (s *Service) noteFailure(ctx context.Context, companyID, email, ip string) {
	if s.Lockout != nil {
		if err := s.Lockout.RecordFailedAttempt(ctx, companyID, email); err != nil {
			log.Printf("[USERS] recording failed attempt failed: %v", err)
		}
	}
	s.recordAudit(ctx, audit.Event{
		CompanyID: companyID,
		Action:    "user.login_failed",
		Target:    email,
		IPAddress: ip,
	})
}

func (s *Service) recordAudit(ctx context.Context, evt audit.Event) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.WriteEvent(ctx, evt); err != nil {
		log.Printf("[USERS] audit write failed: %v", err)
	}
}
