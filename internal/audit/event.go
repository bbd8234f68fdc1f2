// Package audit records who did what to which resource. The log is append
// only; the service exposes no update or delete beyond the retention purge.
package audit

import (
	"encoding/json"
	"time"
)

// Event is a single audit entry. EventID is the idempotency key: replaying a
// spooled event a second time is a no-op.
type Event struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	CompanyID string          `json:"company_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Action    string          `json:"action"`
	Target    string          `json:"target,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	IPAddress string          `json:"ip_address,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// spoolRecord wraps an event for the JSONL failover file.
type spoolRecord struct {
	EventID   string    `json:"event_id"`
	Payload   Event     `json:"payload"`
	SpooledAt time.Time `json:"spooled_at"`
}

// Filter narrows List queries. Cursor is the id of the last row already seen;
// zero starts from the newest entry.
type Filter struct {
	CompanyID string
	UserID    string
	Action    string
	From      *time.Time
	To        *time.Time
	Limit     int
	Cursor    int64
}

// Payload marshals structured detail for an event. Marshal failures collapse
// to an empty object rather than losing the event itself.
func Payload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
