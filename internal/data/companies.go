package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

type Company struct {
	ID                string
	CompanyName       string
	Sector            string
	ContactPerson     string
	Email             string
	Phone             string
	Address           string
	MaxCameras        int
	SubscriptionType  string
	SubscriptionStart time.Time
	SubscriptionEnd   time.Time
	Status            string
	APIKey            string
	PPERequired       []string
	PPEOptional       []string
	CreatedAt         time.Time
}

// SubscriptionActive reports whether the subscription window covers now.
func (c *Company) SubscriptionActive(now time.Time) bool {
	return !now.Before(c.SubscriptionStart) && now.Before(c.SubscriptionEnd)
}

type CompanyModel struct {
	DB DBTX
}

const companyColumns = `id, company_name, sector, contact_person, email, phone, address,
	max_cameras, subscription_type, subscription_start, subscription_end,
	status, api_key, ppe_required, ppe_optional, created_at`

func scanCompany(row *sql.Row) (*Company, error) {
	var c Company
	err := row.Scan(
		&c.ID, &c.CompanyName, &c.Sector, &c.ContactPerson, &c.Email, &c.Phone, &c.Address,
		&c.MaxCameras, &c.SubscriptionType, &c.SubscriptionStart, &c.SubscriptionEnd,
		&c.Status, &c.APIKey, pq.Array(&c.PPERequired), pq.Array(&c.PPEOptional), &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new company together with its first subscription_history
// row. The email unique constraint maps to ErrDuplicateEmail.
func (m CompanyModel) Create(ctx context.Context, c *Company) error {
	query := `
		INSERT INTO companies (id, company_name, sector, contact_person, email, phone, address,
			max_cameras, subscription_type, subscription_start, subscription_end,
			status, api_key, ppe_required, ppe_optional)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at
	`
	err := withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query,
			c.ID, c.CompanyName, c.Sector, c.ContactPerson, c.Email, c.Phone, c.Address,
			c.MaxCameras, c.SubscriptionType, c.SubscriptionStart, c.SubscriptionEnd,
			c.Status, c.APIKey, pq.Array(c.PPERequired), pq.Array(c.PPEOptional),
		).Scan(&c.CreatedAt)
	})
	if err != nil {
		if uniqueViolation(err, "companies_email_key") {
			return ErrDuplicateEmail
		}
		return err
	}

	history := `
		INSERT INTO subscription_history (company_id, subscription_type, starts_at, ends_at)
		VALUES ($1, $2, $3, $4)
	`
	return withRetry(ctx, func() error {
		_, err := m.DB.ExecContext(ctx, history, c.ID, c.SubscriptionType, c.SubscriptionStart, c.SubscriptionEnd)
		return err
	})
}

func (m CompanyModel) GetByID(ctx context.Context, id string) (*Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = $1`
	var c *Company
	err := withRetry(ctx, func() error {
		var scanErr error
		c, scanErr = scanCompany(m.DB.QueryRowContext(ctx, query, id))
		return scanErr
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return c, nil
}

func (m CompanyModel) GetByAPIKey(ctx context.Context, apiKey string) (*Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE api_key = $1`
	var c *Company
	err := withRetry(ctx, func() error {
		var scanErr error
		c, scanErr = scanCompany(m.DB.QueryRowContext(ctx, query, apiKey))
		return scanErr
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return c, nil
}

func (m CompanyModel) GetByEmail(ctx context.Context, email string) (*Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE email = $1`
	var c *Company
	err := withRetry(ctx, func() error {
		var scanErr error
		c, scanErr = scanCompany(m.DB.QueryRowContext(ctx, query, email))
		return scanErr
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return c, nil
}

// UpdatePPE replaces both equipment lists.
func (m CompanyModel) UpdatePPE(ctx context.Context, id string, required, optional []string) error {
	query := `
		UPDATE companies
		SET ppe_required = $1, ppe_optional = $2
		WHERE id = $3
	`
	err := withRetry(ctx, func() error {
		res, execErr := m.DB.ExecContext(ctx, query, pq.Array(required), pq.Array(optional), id)
		if execErr != nil {
			return execErr
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

func (m CompanyModel) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE companies SET status = $1 WHERE id = $2`
	err := withRetry(ctx, func() error {
		res, execErr := m.DB.ExecContext(ctx, query, status, id)
		if execErr != nil {
			return execErr
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

// RenewSubscription moves the subscription window and records the change in
// subscription_history.
func (m CompanyModel) RenewSubscription(ctx context.Context, id, subType string, start, end time.Time) error {
	query := `
		UPDATE companies
		SET subscription_type = $1, subscription_start = $2, subscription_end = $3
		WHERE id = $4
	`
	err := withRetry(ctx, func() error {
		res, execErr := m.DB.ExecContext(ctx, query, subType, start, end, id)
		if execErr != nil {
			return execErr
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrRecordNotFound
		}
		return err
	}

	history := `
		INSERT INTO subscription_history (company_id, subscription_type, starts_at, ends_at)
		VALUES ($1, $2, $3, $4)
	`
	return withRetry(ctx, func() error {
		_, execErr := m.DB.ExecContext(ctx, history, id, subType, start, end)
		return execErr
	})
}

// Delete removes the company row. Users, cameras, sessions, detections and
// violations go with it through ON DELETE CASCADE.
func (m CompanyModel) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM companies WHERE id = $1`
	err := withRetry(ctx, func() error {
		res, execErr := m.DB.ExecContext(ctx, query, id)
		if execErr != nil {
			return execErr
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

// SubscriptionHistory lists past subscription windows, newest first.
func (m CompanyModel) SubscriptionHistory(ctx context.Context, companyID string, limit int) ([]SubscriptionRecord, error) {
	query := `
		SELECT id, subscription_type, starts_at, ends_at, created_at
		FROM subscription_history
		WHERE company_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var records []SubscriptionRecord
	err := withRetry(ctx, func() error {
		rows, queryErr := m.DB.QueryContext(ctx, query, companyID, limit)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			var r SubscriptionRecord
			if scanErr := rows.Scan(&r.ID, &r.SubscriptionType, &r.StartsAt, &r.EndsAt, &r.CreatedAt); scanErr != nil {
				return scanErr
			}
			records = append(records, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

type SubscriptionRecord struct {
	ID               int64     `json:"id"`
	SubscriptionType string    `json:"subscription_type"`
	StartsAt         time.Time `json:"starts_at"`
	EndsAt           time.Time `json:"ends_at"`
	CreatedAt        time.Time `json:"created_at"`
}
