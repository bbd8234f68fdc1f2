package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	DB *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{DB: db}
}

// WriteEvent persists one entry. A database failure does not lose the event:
// it is spooled to disk and replayed later, so the caller only sees an error
// when both the database and the spool are unavailable.
func (s *Service) WriteEvent(ctx context.Context, evt Event) error {
	if evt.EventID == "" {
		evt.EventID = uuid.New().String()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	if len(evt.Detail) == 0 {
		evt.Detail = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO audit_events (event_id, company_id, user_id, action, target, detail, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := s.DB.ExecContext(ctx, query,
		evt.EventID, evt.CompanyID, evt.UserID, evt.Action, evt.Target,
		[]byte(evt.Detail), evt.IPAddress, evt.CreatedAt,
	)
	if err == nil {
		return nil
	}

	log.Printf("[AUDIT] db write failed, spooling event %s: %v", evt.EventID, err)
	if spoolErr := SpoolEvent(evt); spoolErr != nil {
		log.Printf("[AUDIT] spool failed for event %s: %v", evt.EventID, spoolErr)
		return fmt.Errorf("audit write and spool both failed: %v", spoolErr)
	}
	return nil
}

const eventColumns = `id, event_id, company_id, user_id, action, target, detail, ip_address, created_at`

// List pages through a tenant's trail, newest first. The returned cursor
// feeds the next call; zero means the trail is exhausted.
func (s *Service) List(ctx context.Context, f Filter) ([]Event, int64, error) {
	query := `SELECT ` + eventColumns + ` FROM audit_events WHERE company_id = $1`
	args := []any{f.CompanyID}

	if f.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", len(args)+1)
		args = append(args, f.UserID)
	}
	if f.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", len(args)+1)
		args = append(args, f.Action)
	}
	if f.From != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", len(args)+1)
		args = append(args, *f.From)
	}
	if f.To != nil {
		query += fmt.Sprintf(" AND created_at < $%d", len(args)+1)
		args = append(args, *f.To)
	}
	if f.Cursor > 0 {
		query += fmt.Sprintf(" AND id < $%d", len(args)+1)
		args = append(args, f.Cursor)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		events []Event
		cursor int64
	)
	for rows.Next() {
		var (
			evt    Event
			detail []byte
		)
		if err := rows.Scan(&evt.ID, &evt.EventID, &evt.CompanyID, &evt.UserID,
			&evt.Action, &evt.Target, &detail, &evt.IPAddress, &evt.CreatedAt); err != nil {
			return nil, 0, err
		}
		evt.Detail = json.RawMessage(detail)
		events = append(events, evt)
		cursor = evt.ID
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(events) < limit {
		cursor = 0
	}
	return events, cursor, nil
}

// Export streams a tenant's trail as JSON lines, bounded so a runaway export
// cannot hold a connection forever.
func (s *Service) Export(ctx context.Context, companyID string, w io.Writer) error {
	const maxExport = 10000

	query := `SELECT ` + eventColumns + ` FROM audit_events WHERE company_id = $1 ORDER BY id DESC LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, companyID, maxExport)
	if err != nil {
		return err
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	for rows.Next() {
		var (
			evt    Event
			detail []byte
		)
		if err := rows.Scan(&evt.ID, &evt.EventID, &evt.CompanyID, &evt.UserID,
			&evt.Action, &evt.Target, &detail, &evt.IPAddress, &evt.CreatedAt); err != nil {
			return err
		}
		evt.Detail = json.RawMessage(detail)
		if err := enc.Encode(evt); err != nil {
			return err
		}
	}
	return rows.Err()
}
