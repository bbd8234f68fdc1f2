package data

import (
	"context"
	"crypto/rand"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
)

var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateName     = errors.New("name already taken")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrCameraLimit       = errors.New("camera limit reached")
)

// InvalidError rejects a request payload, naming the first failing field.
type InvalidError struct {
	Field  string
	Reason string
}

func (e *InvalidError) Error() string { return e.Field + ": " + e.Reason }

func Invalid(field, reason string) *InvalidError {
	return &InvalidError{Field: field, Reason: reason}
}

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const (
	retryAttempts = 3
	retryBaseWait = 100 * time.Millisecond
)

// isTransient reports whether err looks like a connection-level failure
// worth retrying. Constraint violations and missing rows never are.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 08 = connection exception, 53 = insufficient resources,
		// 57 = operator intervention (shutdown in progress etc.)
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return true
		}
	}
	return false
}

// withRetry runs fn up to retryAttempts times with a linear backoff between
// attempts. Non-transient errors pass through unchanged so callers can still
// compare against sql.ErrNoRows or inspect constraint names. Exhausting all
// attempts wraps the last error in ErrStoreUnavailable.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt < retryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBaseWait):
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// NewID returns a prefixed random identifier such as CAM_3FA2B41C9D0E.
// Six random bytes keep IDs short enough to read aloud while leaving
// collisions to the unique constraint.
func NewID(prefix string) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("data: rand.Read: %v", err))
	}
	return prefix + "_" + strings.ToUpper(hex.EncodeToString(buf))
}

// uniqueViolation reports whether err is a Postgres unique violation on the
// given constraint. An empty constraint name matches any unique violation.
func uniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
