// Package companies handles tenant lifecycle: registration, PPE policy,
// dashboard stats, subscription info and the cascade account delete.
package companies

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/technosupport/ts-ppe/internal/audit"
	"github.com/technosupport/ts-ppe/internal/auth"
	"github.com/technosupport/ts-ppe/internal/data"
)

const (
	// DefaultMaxCameras bounds a fresh tenant unless configuration says
	// otherwise.
	DefaultMaxCameras = 5

	// subscriptionTerm is the initial window granted on registration.
	subscriptionTerm = 365 * 24 * time.Hour

	defaultSubscriptionType = "standard"
)

// CompanyStore is the slice of the data layer this service needs.
type CompanyStore interface {
	Create(ctx context.Context, c *data.Company) error
	GetByID(ctx context.Context, id string) (*data.Company, error)
	UpdatePPE(ctx context.Context, id string, required, optional []string) error
	Delete(ctx context.Context, id string) error
	SubscriptionHistory(ctx context.Context, companyID string, limit int) ([]data.SubscriptionRecord, error)
}

type UserStore interface {
	Create(ctx context.Context, u *data.User) error
	List(ctx context.Context, companyID string) ([]*data.User, error)
}

type StatsStore interface {
	Summary(ctx context.Context, companyID string) (*data.DashboardStats, error)
	ComplianceSeries(ctx context.Context, companyID string, days int) ([]data.CompliancePoint, error)
	PerCamera(ctx context.Context, companyID string) ([]data.CameraStats, error)
}

// RuntimeControl is the supervisor surface the service drives: policy
// changes reach running detectors, account deletion tears them down.
type RuntimeControl interface {
	StopCompany(ctx context.Context, companyID string) int
	UpdateRequiredPPE(companyID string, required []string) int
}

type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string) error
}

type Auditor interface {
	WriteEvent(ctx context.Context, evt audit.Event) error
}

// Service wires the tenant operations together. Runtime, Sessions and Audit
// are optional; without them the corresponding side effects are skipped.
type Service struct {
	Companies  CompanyStore
	Users      UserStore
	Stats      StatsStore
	Runtime    RuntimeControl
	Sessions   SessionRevoker
	Audit      Auditor
	MaxCameras int
}

func NewService(companies CompanyStore, users UserStore, stats StatsStore) *Service {
	return &Service{Companies: companies, Users: users, Stats: stats, MaxCameras: DefaultMaxCameras}
}

// RegisterInput is the public registration form: the company plus its
// bootstrap admin in one payload.
type RegisterInput struct {
	CompanyName      string    `json:"company_name"`
	Sector           string    `json:"sector"`
	ContactPerson    string    `json:"contact_person"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	Address          string    `json:"address"`
	Password         string    `json:"password"`
	AdminUsername    string    `json:"admin_username"`
	MaxCameras       int       `json:"max_cameras"`
	SubscriptionType string    `json:"subscription_type"`
	RequiredPPE      PPEConfig `json:"required_ppe"`
}

// PPEConfig mirrors the company policy as stored and served.
type PPEConfig struct {
	Required []string `json:"required"`
	Optional []string `json:"optional"`
}

// Register creates a company and its bootstrap admin. The two inserts are
// compensated rather than transactional: a failed admin insert deletes the
// fresh company row again so the email is not burned.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*data.Company, *data.User, error) {
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.AdminUsername = strings.TrimSpace(in.AdminUsername)

	if in.CompanyName == "" {
		return nil, nil, data.Invalid("company_name", "required")
	}
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return nil, nil, data.Invalid("email", "valid address required")
	}
	if len(in.Password) < 8 {
		return nil, nil, data.Invalid("password", "at least 8 characters")
	}
	if in.MaxCameras < 0 {
		return nil, nil, data.Invalid("max_cameras", "must not be negative")
	}
	if err := data.ValidatePPEConfig(in.RequiredPPE.Required, in.RequiredPPE.Optional); err != nil {
		return nil, nil, data.Invalid("required_ppe", err.Error())
	}

	if in.MaxCameras == 0 {
		in.MaxCameras = s.MaxCameras
	}
	if in.SubscriptionType == "" {
		in.SubscriptionType = defaultSubscriptionType
	}
	if in.AdminUsername == "" {
		in.AdminUsername = "admin"
	}
	if len(in.RequiredPPE.Required) == 0 {
		in.RequiredPPE.Required = []string{"helmet", "safety_vest"}
	}

	apiKey, err := auth.NewAPIKey()
	if err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()
	company := &data.Company{
		ID:                data.NewID("COMP"),
		CompanyName:       in.CompanyName,
		Sector:            in.Sector,
		ContactPerson:     in.ContactPerson,
		Email:             in.Email,
		Phone:             in.Phone,
		Address:           in.Address,
		MaxCameras:        in.MaxCameras,
		SubscriptionType:  in.SubscriptionType,
		SubscriptionStart: now,
		SubscriptionEnd:   now.Add(subscriptionTerm),
		Status:            "active",
		APIKey:            apiKey,
		PPERequired:       in.RequiredPPE.Required,
		PPEOptional:       in.RequiredPPE.Optional,
	}
	if err := s.Companies.Create(ctx, company); err != nil {
		return nil, nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		s.rollbackCompany(ctx, company.ID)
		return nil, nil, err
	}
	admin := &data.User{
		ID:           data.NewID("USR"),
		CompanyID:    company.ID,
		Username:     in.AdminUsername,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         data.RoleAdmin,
		Status:       "active",
	}
	if err := s.Users.Create(ctx, admin); err != nil {
		s.rollbackCompany(ctx, company.ID)
		return nil, nil, err
	}

	s.recordAudit(ctx, audit.Event{
		CompanyID: company.ID,
		UserID:    admin.ID,
		Action:    "company.register",
		Detail:    audit.Payload(map[string]any{"company_name": company.CompanyName, "sector": company.Sector}),
	})
	log.Printf("[COMPANIES] registered %s (%s), %d camera budget", company.ID, company.CompanyName, company.MaxCameras)
	return company, admin, nil
}

func (s *Service) rollbackCompany(ctx context.Context, id string) {
	if err := s.Companies.Delete(ctx, id); err != nil && !errors.Is(err, data.ErrRecordNotFound) {
		log.Printf("[COMPANIES] rollback of %s failed, row left behind: %v", id, err)
	}
}

// GetPPEConfig returns the tenant's equipment policy.
func (s *Service) GetPPEConfig(ctx context.Context, companyID string) (*PPEConfig, error) {
	c, err := s.Companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return &PPEConfig{Required: c.PPERequired, Optional: c.PPEOptional}, nil
}

// UpdatePPEConfig stores a new equipment policy and pushes it into every
// running detection pipeline of the tenant.
func (s *Service) UpdatePPEConfig(ctx context.Context, companyID, actorID string, cfg PPEConfig) error {
	if len(cfg.Required) == 0 {
		return data.Invalid("required_ppe", "at least one required class")
	}
	if err := data.ValidatePPEConfig(cfg.Required, cfg.Optional); err != nil {
		return data.Invalid("required_ppe", err.Error())
	}
	if err := s.Companies.UpdatePPE(ctx, companyID, cfg.Required, cfg.Optional); err != nil {
		return err
	}

	updated := 0
	if s.Runtime != nil {
		updated = s.Runtime.UpdateRequiredPPE(companyID, cfg.Required)
	}
	s.recordAudit(ctx, audit.Event{
		CompanyID: companyID,
		UserID:    actorID,
		Action:    "company.ppe_update",
		Detail:    audit.Payload(map[string]any{"required": cfg.Required, "optional": cfg.Optional, "runtimes_updated": updated}),
	})
	return nil
}

// Dashboard bundles everything the stats endpoint serves.
type Dashboard struct {
	Summary *data.DashboardStats   `json:"summary"`
	Series  []data.CompliancePoint `json:"compliance_series"`
	Cameras []data.CameraStats     `json:"cameras"`
}

// Dashboard aggregates the tenant's numbers: today and month totals, the
// 7-day compliance series and the per-camera breakdown.
func (s *Service) Dashboard(ctx context.Context, companyID string) (*Dashboard, error) {
	summary, err := s.Stats.Summary(ctx, companyID)
	if err != nil {
		return nil, err
	}
	series, err := s.Stats.ComplianceSeries(ctx, companyID, 7)
	if err != nil {
		return nil, err
	}
	cameras, err := s.Stats.PerCamera(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return &Dashboard{Summary: summary, Series: series, Cameras: cameras}, nil
}

// Subscription describes the tenant's current window plus its history.
type Subscription struct {
	Type    string                    `json:"type"`
	Start   time.Time                 `json:"start"`
	End     time.Time                 `json:"end"`
	Active  bool                      `json:"active"`
	History []data.SubscriptionRecord `json:"history,omitempty"`
}

func (s *Service) Subscription(ctx context.Context, companyID string) (*Subscription, error) {
	c, err := s.Companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	history, err := s.Companies.SubscriptionHistory(ctx, companyID, 12)
	if err != nil {
		return nil, err
	}
	return &Subscription{
		Type:    c.SubscriptionType,
		Start:   c.SubscriptionStart,
		End:     c.SubscriptionEnd,
		Active:  c.SubscriptionActive(time.Now()),
		History: history,
	}, nil
}

// DeleteAccount removes the tenant and everything it owns: runtimes stop,
// sessions die, then the company row cascades through the child tables.
// Snapshot files on disk are left to the retention sweeper.
func (s *Service) DeleteAccount(ctx context.Context, companyID, actorID string) error {
	stopped := 0
	if s.Runtime != nil {
		stopped = s.Runtime.StopCompany(ctx, companyID)
	}

	if s.Sessions != nil {
		us, err := s.Users.List(ctx, companyID)
		if err != nil {
			return err
		}
		for _, u := range us {
			if err := s.Sessions.RevokeAllForUser(ctx, u.ID); err != nil {
				log.Printf("[COMPANIES] revoking sessions for %s failed: %v", u.ID, err)
			}
		}
	}

	if err := s.Companies.Delete(ctx, companyID); err != nil {
		return err
	}

	// The tenant is gone; the trail entry survives with the dead id.
	s.recordAudit(ctx, audit.Event{
		CompanyID: companyID,
		UserID:    actorID,
		Action:    "company.delete",
		Detail:    audit.Payload(map[string]any{"runtimes_stopped": stopped}),
	})
	log.Printf("[COMPANIES] account %s deleted (%d runtimes stopped)", companyID, stopped)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, evt audit.Event) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.WriteEvent(ctx, evt); err != nil {
		log.Printf("[COMPANIES] audit write failed: %v", err)
	}
}
