package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

type User struct {
	ID           string
	CompanyID    string
	Username     string
	Email        string
	PasswordHash string
	Role         string
	Permissions  []string
	LastLogin    *time.Time
	Status       string
	CreatedAt    time.Time
}

// Roles in descending order of privilege.
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var roleRank = map[string]int{
	RoleAdmin:    4,
	RoleManager:  3,
	RoleOperator: 2,
	RoleViewer:   1,
}

// IsRole reports whether name is a known role.
func IsRole(name string) bool {
	_, ok := roleRank[name]
	return ok
}

// RoleAtLeast reports whether role meets or exceeds min in privilege.
func RoleAtLeast(role, min string) bool {
	return roleRank[role] >= roleRank[min]
}

type UserModel struct {
	DB DBTX
}

const userColumns = `id, company_id, username, email, password_hash, role, permissions, last_login, status, created_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.CompanyID, &u.Username, &u.Email, &u.PasswordHash,
		&u.Role, pq.Array(&u.Permissions), &u.LastLogin, &u.Status, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user. Unique constraints map to ErrDuplicateEmail and
// ErrDuplicateUsername so handlers can answer with the offending field.
func (m UserModel) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (id, company_id, username, email, password_hash, role, permissions, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	err := withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query,
			u.ID, u.CompanyID, u.Username, u.Email, u.PasswordHash, u.Role, pq.Array(u.Permissions), u.Status,
		).Scan(&u.CreatedAt)
	})
	if err != nil {
		if uniqueViolation(err, "users_email_key") {
			return ErrDuplicateEmail
		}
		if uniqueViolation(err, "users_company_username_key") {
			return ErrDuplicateUsername
		}
		return err
	}
	return nil
}

func (m UserModel) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	var u *User
	err := withRetry(ctx, func() error {
		var scanErr error
		u, scanErr = scanUser(m.DB.QueryRowContext(ctx, query, id))
		return scanErr
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return u, nil
}

// GetByUsername is tenant scoped: usernames are only unique per company.
func (m UserModel) GetByUsername(ctx context.Context, companyID, username string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE company_id = $1 AND username = $2`
	var u *User
	err := withRetry(ctx, func() error {
		var scanErr error
		u, scanErr = scanUser(m.DB.QueryRowContext(ctx, query, companyID, username))
		return scanErr
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return u, nil
}

// GetByEmail looks up across all tenants; emails are globally unique.
func (m UserModel) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	var u *User
	err := withRetry(ctx, func() error {
		var scanErr error
		u, scanErr = scanUser(m.DB.QueryRowContext(ctx, query, email))
		return scanErr
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return u, nil
}

func (m UserModel) List(ctx context.Context, companyID string) ([]*User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE company_id = $1
		ORDER BY created_at ASC
	`
	var users []*User
	err := withRetry(ctx, func() error {
		rows, queryErr := m.DB.QueryContext(ctx, query, companyID)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		users = users[:0]
		for rows.Next() {
			var u User
			if scanErr := rows.Scan(
				&u.ID, &u.CompanyID, &u.Username, &u.Email, &u.PasswordHash,
				&u.Role, pq.Array(&u.Permissions), &u.LastLogin, &u.Status, &u.CreatedAt,
			); scanErr != nil {
				return scanErr
			}
			users = append(users, &u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// Update changes role, permissions and status. Identity fields are fixed at
// creation.
func (m UserModel) Update(ctx context.Context, u *User) error {
	query := `
		UPDATE users
		SET role = $1, permissions = $2, status = $3
		WHERE id = $4 AND company_id = $5
	`
	err := withRetry(ctx, func() error {
		res, execErr := m.DB.ExecContext(ctx, query, u.Role, pq.Array(u.Permissions), u.Status, u.ID, u.CompanyID)
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

func (m UserModel) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE users SET password_hash = $1 WHERE id = $2`
	err := withRetry(ctx, func() error {
		res, execErr := m.DB.ExecContext(ctx, query, passwordHash, id)
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

func (m UserModel) TouchLastLogin(ctx context.Context, id string) error {
	query := `UPDATE users SET last_login = NOW() WHERE id = $1`
	return withRetry(ctx, func() error {
		_, err := m.DB.ExecContext(ctx, query, id)
		return err
	})
}

// Delete removes the user row; sessions cascade.
func (m UserModel) Delete(ctx context.Context, companyID, id string) error {
	query := `DELETE FROM users WHERE id = $1 AND company_id = $2`
	err := withRetry(ctx, func() error {
		res, execErr := m.DB.ExecContext(ctx, query, id, companyID)
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

// CountAdmins counts active admins for the last-admin guard on role changes
// and deletions.
func (m UserModel) CountAdmins(ctx context.Context, companyID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM users
		WHERE company_id = $1 AND role = 'admin' AND status = 'active'
	`
	var n int
	err := withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query, companyID).Scan(&n)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
