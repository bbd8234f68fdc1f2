package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Violation records one compliant-to-non-compliant transition for a tracked
// person. The detection runtime guarantees at most one row per transition,
// so counts here reflect incidents rather than frames.
type Violation struct {
	ID            int64
	CompanyID     string
	CameraID      string
	UserID        *string
	Timestamp     time.Time
	ViolationType string
	MissingPPE    []string
	Severity      string
	PenaltyAmount float64
	ImagePath     *string
	Resolved      bool
	ResolvedBy    *string
	ResolvedAt    *time.Time
}

type ViolationModel struct {
	DB DBTX
}

const violationColumns = `id, company_id, camera_id, user_id, ts, violation_type, missing_ppe,
	severity, penalty_amount, image_path, resolved, resolved_by, resolved_at`

func (v *Violation) scanDest() []any {
	return []any{
		&v.ID, &v.CompanyID, &v.CameraID, &v.UserID, &v.Timestamp, &v.ViolationType, pq.Array(&v.MissingPPE),
		&v.Severity, &v.PenaltyAmount, &v.ImagePath, &v.Resolved, &v.ResolvedBy, &v.ResolvedAt,
	}
}

func (m ViolationModel) Insert(ctx context.Context, v *Violation) error {
	query := `
		INSERT INTO violations (company_id, camera_id, user_id, ts, violation_type, missing_ppe,
			severity, penalty_amount, image_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	return withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query,
			v.CompanyID, v.CameraID, v.UserID, v.Timestamp, v.ViolationType, pq.Array(v.MissingPPE),
			v.Severity, v.PenaltyAmount, v.ImagePath,
		).Scan(&v.ID)
	})
}

func (m ViolationModel) GetByID(ctx context.Context, companyID string, id int64) (*Violation, error) {
	query := `SELECT ` + violationColumns + ` FROM violations WHERE id = $1 AND company_id = $2`
	var v Violation
	err := withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query, id, companyID).Scan(v.scanDest()...)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &v, nil
}

// ViolationFilter narrows List. Zero values mean "no constraint".
type ViolationFilter struct {
	CameraID string
	Type     string
	From     time.Time
	To       time.Time
	Resolved *bool
	Limit    int
	Offset   int
}

// List returns a tenant's violations newest first, with optional filters
// applied in the query rather than in Go.
func (m ViolationModel) List(ctx context.Context, companyID string, f ViolationFilter) ([]*Violation, error) {
	query := `SELECT ` + violationColumns + ` FROM violations WHERE company_id = $1`
	args := []any{companyID}
	if f.CameraID != "" {
		query += fmt.Sprintf(" AND camera_id = $%d", len(args)+1)
		args = append(args, f.CameraID)
	}
	if f.Type != "" {
		query += fmt.Sprintf(" AND violation_type = $%d", len(args)+1)
		args = append(args, f.Type)
	}
	if !f.From.IsZero() {
		query += fmt.Sprintf(" AND ts >= $%d", len(args)+1)
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		query += fmt.Sprintf(" AND ts < $%d", len(args)+1)
		args = append(args, f.To)
	}
	if f.Resolved != nil {
		query += fmt.Sprintf(" AND resolved = $%d", len(args)+1)
		args = append(args, *f.Resolved)
	}
	query += " ORDER BY ts DESC"
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, f.Offset)

	var out []*Violation
	err := withRetry(ctx, func() error {
		rows, queryErr := m.DB.QueryContext(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var v Violation
			if scanErr := rows.Scan(v.scanDest()...); scanErr != nil {
				return scanErr
			}
			out = append(out, &v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve marks a violation handled. Resolving an already-resolved or
// unknown row returns ErrRecordNotFound.
func (m ViolationModel) Resolve(ctx context.Context, companyID string, id int64, resolvedBy string) error {
	query := `
		UPDATE violations
		SET resolved = TRUE, resolved_by = $1, resolved_at = NOW()
		WHERE id = $2 AND company_id = $3 AND resolved = FALSE
	`
	err := withRetry(ctx, func() error {
		res, execErr := m.DB.ExecContext(ctx, query, resolvedBy, id, companyID)
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

func (m ViolationModel) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM violations WHERE ts < $1`
	var deleted int64
	err := withRetry(ctx, func() error {
		res, execErr := m.DB.ExecContext(ctx, query, before)
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
