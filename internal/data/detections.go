package data

import (
	"context"
	"fmt"
	"time"
)

// Detection is one appended row of detector output. Rows are immutable once
// written; retention cleanup is the only thing that removes them.
type Detection struct {
	ID              int64
	CompanyID       string
	CameraID        string
	Timestamp       time.Time
	TotalPeople     int
	CompliantPeople int
	ViolationPeople int
	ComplianceRate  float64
	ConfidenceScore float64
	ImagePath       *string
	Data            []byte
	TrackID         *string
}

type DetectionModel struct {
	DB DBTX
}

func (m DetectionModel) Insert(ctx context.Context, d *Detection) error {
	query := `
		INSERT INTO detections (company_id, camera_id, ts, total_people, compliant_people,
			violation_people, compliance_rate, confidence_score, image_path, detection_data, track_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	data := d.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	return withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query,
			d.CompanyID, d.CameraID, d.Timestamp, d.TotalPeople, d.CompliantPeople,
			d.ViolationPeople, d.ComplianceRate, d.ConfidenceScore, d.ImagePath, data, d.TrackID,
		).Scan(&d.ID)
	})
}

// DetectionFilter narrows List. Zero values mean "no constraint".
type DetectionFilter struct {
	CameraID string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// List returns detections for a tenant, newest first.
func (m DetectionModel) List(ctx context.Context, companyID string, f DetectionFilter) ([]*Detection, error) {
	query := `
		SELECT id, company_id, camera_id, ts, total_people, compliant_people,
			violation_people, compliance_rate, confidence_score, image_path, detection_data, track_id
		FROM detections
		WHERE company_id = $1
	`
	args := []any{companyID}
	if f.CameraID != "" {
		query += fmt.Sprintf(" AND camera_id = $%d", len(args)+1)
		args = append(args, f.CameraID)
	}
	if !f.From.IsZero() {
		query += fmt.Sprintf(" AND ts >= $%d", len(args)+1)
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		query += fmt.Sprintf(" AND ts < $%d", len(args)+1)
		args = append(args, f.To)
	}
	query += " ORDER BY ts DESC"
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, f.Offset)

	var out []*Detection
	err := withRetry(ctx, func() error {
		rows, queryErr := m.DB.QueryContext(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var d Detection
			if scanErr := rows.Scan(
				&d.ID, &d.CompanyID, &d.CameraID, &d.Timestamp, &d.TotalPeople, &d.CompliantPeople,
				&d.ViolationPeople, &d.ComplianceRate, &d.ConfidenceScore, &d.ImagePath, &d.Data, &d.TrackID,
			); scanErr != nil {
				return scanErr
			}
			out = append(out, &d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteOlderThan prunes rows past the retention horizon and returns how
// many went.
func (m DetectionModel) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM detections WHERE ts < $1`
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
