package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject prefixes. The company id is the last token so consumers can
// subscribe per tenant or wildcard across all of them.
const (
	subjectDetections = "ppe.detections."
	subjectViolations = "ppe.violations."
)

// Publisher pushes envelopes onto NATS with a short retry ladder. It is safe
// for a single dispatch goroutine; the bus serializes access.
type Publisher struct {
	conn       *nats.Conn
	maxRetries int
}

func NewPublisher(conn *nats.Conn, maxRetries int) *Publisher {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Publisher{conn: conn, maxRetries: maxRetries}
}

func (p *Publisher) Publish(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := SubjectFor(env.Type, env.CompanyID)

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("publish to %s failed after %d retries: %w", subject, p.maxRetries, err)
}

// SubjectFor names the per-tenant subject for an event type.
func SubjectFor(eventType, companyID string) string {
	switch eventType {
	case TypeViolation:
		return subjectViolations + companyID
	default:
		return subjectDetections + companyID
	}
}
