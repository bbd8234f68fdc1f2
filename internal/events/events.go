// Package events fans recorded detections and violations out to live
// listeners: NATS subjects for downstream consumers and a websocket hub for
// dashboards. Delivery is best effort; the database row is always written
// first and never waits on this package.
package events

import (
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-ppe/internal/data"
	"github.com/technosupport/ts-ppe/internal/detect"
	"github.com/technosupport/ts-ppe/internal/metrics"
)

const (
	TypeDetection = "detection"
	TypeViolation = "violation"

	queueSize = 256
)

// Envelope is the wire shape shared by NATS and the websocket feed.
type Envelope struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	CompanyID  string          `json:"company_id"`
	CameraID   string          `json:"camera_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// ViolationPayload is the violation row projected onto the wire.
type ViolationPayload struct {
	ID            int64     `json:"id"`
	CameraID      string    `json:"camera_id"`
	ViolationType string    `json:"violation_type"`
	MissingPPE    []string  `json:"missing_ppe"`
	Severity      string    `json:"severity"`
	PenaltyAmount float64   `json:"penalty_amount"`
	ImagePath     *string   `json:"image_path"`
	Timestamp     time.Time `json:"ts"`
}

// Bus queues events from the recording path and dispatches them off to the
// side. Enqueueing never blocks; when the queue is full the event is dropped
// and counted. Either transport may be nil.
type Bus struct {
	pub *Publisher
	hub *Hub

	queue   chan Envelope
	quit    chan struct{}
	done    chan struct{}
	dropped atomic.Int64
}

func NewBus(pub *Publisher, hub *Hub) *Bus {
	b := &Bus{
		pub:   pub,
		hub:   hub,
		queue: make(chan Envelope, queueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go b.run()
	return b
}

// DetectionRecorded queues a detection result for fan-out.
func (b *Bus) DetectionRecorded(companyID string, res *detect.Result) {
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	b.enqueue(Envelope{
		EventID:    uuid.New().String(),
		Type:       TypeDetection,
		CompanyID:  companyID,
		CameraID:   res.CameraID,
		OccurredAt: res.Timestamp,
		Payload:    payload,
	})
}

// ViolationRecorded queues a stored violation row for fan-out.
func (b *Bus) ViolationRecorded(companyID string, v *data.Violation) {
	payload, err := json.Marshal(ViolationPayload{
		ID:            v.ID,
		CameraID:      v.CameraID,
		ViolationType: v.ViolationType,
		MissingPPE:    v.MissingPPE,
		Severity:      v.Severity,
		PenaltyAmount: v.PenaltyAmount,
		ImagePath:     v.ImagePath,
		Timestamp:     v.Timestamp,
	})
	if err != nil {
		return
	}
	b.enqueue(Envelope{
		EventID:    uuid.New().String(),
		Type:       TypeViolation,
		CompanyID:  companyID,
		CameraID:   v.CameraID,
		OccurredAt: v.Timestamp,
		Payload:    payload,
	})
}

// Close stops the dispatch loop after it drains what is already queued.
func (b *Bus) Close() {
	close(b.quit)
	<-b.done
}

func (b *Bus) enqueue(env Envelope) {
	select {
	case b.queue <- env:
	default:
		metrics.EventsDropped.Inc()
		if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("[EVENTS] queue full, dropped %d events so far", n)
		}
	}
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		select {
		case env := <-b.queue:
			b.dispatch(env)
		case <-b.quit:
			for {
				select {
				case env := <-b.queue:
					b.dispatch(env)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(env Envelope) {
	if b.hub != nil {
		b.hub.Broadcast(env)
	}
	if b.pub != nil {
		if err := b.pub.Publish(env); err != nil {
			log.Printf("[EVENTS] nats publish %s: %v", env.Type, err)
		}
	}
}
