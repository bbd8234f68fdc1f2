package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Camera struct {
	ID            string
	CompanyID     string
	Name          string
	Location      string
	IPAddress     string
	Port          int
	Protocol      string
	StreamPath    string
	AuthType      string
	Username      string
	ResolutionW   int
	ResolutionH   int
	FPS           int
	Status        string
	LastDetection *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// Camera protocols and auth schemes. Values outside these sets are rejected
// before they reach the database CHECK constraints.
var (
	CameraProtocols = []string{"http", "rtsp", "local", "usb", "ip_webcam"}
	CameraAuthTypes = []string{"none", "basic", "digest"}
)

func IsCameraProtocol(p string) bool {
	for _, v := range CameraProtocols {
		if v == p {
			return true
		}
	}
	return false
}

func IsCameraAuthType(a string) bool {
	for _, v := range CameraAuthTypes {
		if v == a {
			return true
		}
	}
	return false
}

// Camera statuses.
const (
	CameraActive     = "active"
	CameraInactive   = "inactive"
	CameraError      = "error"
	CameraDiscovered = "discovered"
	CameraDeleted    = "deleted"
)

type CameraModel struct {
	DB DBTX
}

const cameraColumns = `id, company_id, name, location, ip_address, port, protocol, stream_path,
	auth_type, username, resolution_w, resolution_h, fps, status, last_detection,
	created_at, updated_at, deleted_at`

func (c *Camera) scanDest() []any {
	return []any{
		&c.ID, &c.CompanyID, &c.Name, &c.Location, &c.IPAddress, &c.Port, &c.Protocol, &c.StreamPath,
		&c.AuthType, &c.Username, &c.ResolutionW, &c.ResolutionH, &c.FPS, &c.Status, &c.LastDetection,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	}
}

// Create inserts a camera only while the tenant is under its camera budget.
// The count guard runs inside the INSERT so two concurrent creates cannot
// both slip under the limit. No row back means the budget was full.
func (m CameraModel) Create(ctx context.Context, c *Camera) error {
	query := `
		INSERT INTO cameras (id, company_id, name, location, ip_address, port, protocol, stream_path,
			auth_type, username, resolution_w, resolution_h, fps, status)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		WHERE (SELECT COUNT(*) FROM cameras WHERE company_id = $2 AND status <> 'deleted')
		      < (SELECT max_cameras FROM companies WHERE id = $2)
		RETURNING created_at, updated_at
	`
	err := withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query,
			c.ID, c.CompanyID, c.Name, c.Location, c.IPAddress, c.Port, c.Protocol, c.StreamPath,
			c.AuthType, c.Username, c.ResolutionW, c.ResolutionH, c.FPS, c.Status,
		).Scan(&c.CreatedAt, &c.UpdatedAt)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrCameraLimit
		}
		if uniqueViolation(err, "idx_cameras_company_name") {
			return ErrDuplicateName
		}
		return err
	}
	return nil
}

// GetByID is tenant scoped and never returns deleted cameras.
func (m CameraModel) GetByID(ctx context.Context, companyID, id string) (*Camera, error) {
	query := `
		SELECT ` + cameraColumns + `
		FROM cameras
		WHERE id = $1 AND company_id = $2 AND status <> 'deleted'
	`
	var c Camera
	err := withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query, id, companyID).Scan(c.scanDest()...)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &c, nil
}

// List returns the tenant's non-deleted cameras, optionally narrowed to one
// status, ordered by creation time.
func (m CameraModel) List(ctx context.Context, companyID, status string) ([]*Camera, error) {
	query := `
		SELECT ` + cameraColumns + `
		FROM cameras
		WHERE company_id = $1 AND status <> 'deleted'
	`
	args := []any{companyID}
	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, status)
	}
	query += " ORDER BY created_at ASC"

	var cameras []*Camera
	err := withRetry(ctx, func() error {
		rows, queryErr := m.DB.QueryContext(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		cameras = cameras[:0]
		for rows.Next() {
			var c Camera
			if scanErr := rows.Scan(c.scanDest()...); scanErr != nil {
				return scanErr
			}
			cameras = append(cameras, &c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return cameras, nil
}

// Update rewrites the editable fields of a camera.
func (m CameraModel) Update(ctx context.Context, c *Camera) error {
	query := `
		UPDATE cameras
		SET name = $1, location = $2, ip_address = $3, port = $4, protocol = $5,
			stream_path = $6, auth_type = $7, username = $8,
			resolution_w = $9, resolution_h = $10, fps = $11, updated_at = NOW()
		WHERE id = $12 AND company_id = $13 AND status <> 'deleted'
		RETURNING updated_at
	`
	err := withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query,
			c.Name, c.Location, c.IPAddress, c.Port, c.Protocol,
			c.StreamPath, c.AuthType, c.Username,
			c.ResolutionW, c.ResolutionH, c.FPS,
			c.ID, c.CompanyID,
		).Scan(&c.UpdatedAt)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrRecordNotFound
		}
		if uniqueViolation(err, "idx_cameras_company_name") {
			return ErrDuplicateName
		}
		return err
	}
	return nil
}

func (m CameraModel) UpdateStatus(ctx context.Context, companyID, id, status string) error {
	query := `
		UPDATE cameras
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND company_id = $3 AND status <> 'deleted'
	`
	err := withRetry(ctx, func() error {
		res, execErr := m.DB.ExecContext(ctx, query, status, id, companyID)
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

// SoftDelete tombstones the camera. The partial unique index frees the name
// for reuse; detection and violation rows keep pointing at the tombstone.
func (m CameraModel) SoftDelete(ctx context.Context, companyID, id string) error {
	query := `
		UPDATE cameras
		SET status = 'deleted', deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND company_id = $2 AND status <> 'deleted'
	`
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

// TouchDetection stamps last_detection; called from the detection pipeline.
func (m CameraModel) TouchDetection(ctx context.Context, id string) error {
	query := `UPDATE cameras SET last_detection = NOW() WHERE id = $1`
	return withRetry(ctx, func() error {
		_, err := m.DB.ExecContext(ctx, query, id)
		return err
	})
}

func (m CameraModel) CountNonDeleted(ctx context.Context, companyID string) (int, error) {
	query := `SELECT COUNT(*) FROM cameras WHERE company_id = $1 AND status <> 'deleted'`
	var n int
	err := withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query, companyID).Scan(&n)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ExistsByEndpoint reports whether a non-deleted camera already claims the
// given ip:port; discovery sync uses it to skip known devices.
func (m CameraModel) ExistsByEndpoint(ctx context.Context, companyID, ip string, port int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM cameras
			WHERE company_id = $1 AND ip_address = $2 AND port = $3 AND status <> 'deleted'
		)
	`
	var exists bool
	err := withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query, companyID, ip, port).Scan(&exists)
	})
	if err != nil {
		return false, err
	}
	return exists, nil
}

// GetByEndpoint fetches the non-deleted camera bound to ip:port, if any.
func (m CameraModel) GetByEndpoint(ctx context.Context, companyID, ip string, port int) (*Camera, error) {
	query := `
		SELECT ` + cameraColumns + `
		FROM cameras
		WHERE company_id = $1 AND ip_address = $2 AND port = $3 AND status <> 'deleted'
	`
	var c Camera
	err := withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query, companyID, ip, port).Scan(c.scanDest()...)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListActive returns every active camera across all tenants. The runtime
// supervisor uses it to rebuild capture state after a restart.
func (m CameraModel) ListActive(ctx context.Context) ([]*Camera, error) {
	query := `
		SELECT ` + cameraColumns + `
		FROM cameras
		WHERE status = 'active'
		ORDER BY company_id, created_at
	`
	var cameras []*Camera
	err := withRetry(ctx, func() error {
		rows, queryErr := m.DB.QueryContext(ctx, query)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		cameras = cameras[:0]
		for rows.Next() {
			var c Camera
			if scanErr := rows.Scan(c.scanDest()...); scanErr != nil {
				return scanErr
			}
			cameras = append(cameras, &c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return cameras, nil
}
