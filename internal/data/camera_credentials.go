package data

import (
	"context"
	"database/sql"
	"time"
)

// CameraCredential holds the envelope-encrypted stream password for one
// camera: a per-camera DEK wrapped by the master key identified by KID, plus
// the password sealed under that DEK. Both blobs are nonce-prefixed.
// Plaintext passwords never touch the cameras table.
type CameraCredential struct {
	CameraID   string
	KID        string
	WrappedDEK []byte
	Ciphertext []byte
	UpdatedAt  time.Time
}

type CredentialModel struct {
	DB DBTX
}

func (m CredentialModel) Get(ctx context.Context, cameraID string) (*CameraCredential, error) {
	query := `
		SELECT camera_id, kid, wrapped_dek, ciphertext, updated_at
		FROM camera_credentials
		WHERE camera_id = $1
	`
	var c CameraCredential
	err := withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query, cameraID).Scan(
			&c.CameraID, &c.KID, &c.WrappedDEK, &c.Ciphertext, &c.UpdatedAt,
		)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (m CredentialModel) Upsert(ctx context.Context, c *CameraCredential) error {
	query := `
		INSERT INTO camera_credentials (camera_id, kid, wrapped_dek, ciphertext, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (camera_id) DO UPDATE SET
			kid = EXCLUDED.kid,
			wrapped_dek = EXCLUDED.wrapped_dek,
			ciphertext = EXCLUDED.ciphertext,
			updated_at = NOW()
		RETURNING updated_at
	`
	return withRetry(ctx, func() error {
		return m.DB.QueryRowContext(ctx, query,
			c.CameraID, c.KID, c.WrappedDEK, c.Ciphertext,
		).Scan(&c.UpdatedAt)
	})
}

func (m CredentialModel) Delete(ctx context.Context, cameraID string) error {
	query := `DELETE FROM camera_credentials WHERE camera_id = $1`
	err := withRetry(ctx, func() error {
		res, execErr := m.DB.ExecContext(ctx, query, cameraID)
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
