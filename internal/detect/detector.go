// Package detect runs PPE compliance analysis over captured frames. One
// detection runtime per active camera samples frames out of the capture
// slot, asks a Detector what it sees, writes the annotated frame back and
// fans results out to the result queue and the violation sink.
package detect

import (
	"context"
	"time"

	"github.com/technosupport/ts-ppe/internal/capture"
)

// BBox is a normalized bounding box, all fields in [0,1] relative to the
// frame size.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Person is one detected person with their equipment reading. Missing lists
// the required classes the detector did not see on them; Compliant is true
// exactly when Missing is empty.
type Person struct {
	TrackID    string   `json:"track_id"`
	BBox       BBox     `json:"bbox"`
	Confidence float64  `json:"confidence"`
	Equipment  []string `json:"equipment,omitempty"`
	Missing    []string `json:"missing,omitempty"`
	Compliant  bool     `json:"compliant"`
}

// Result is the outcome of analyzing one frame.
type Result struct {
	CompanyID      string    `json:"company_id"`
	CameraID       string    `json:"camera_id"`
	FrameSeq       uint64    `json:"frame_seq"`
	Timestamp      time.Time `json:"timestamp"`
	People         []Person  `json:"people"`
	PeopleDetected int       `json:"people_detected"`
	CompliantCount int       `json:"compliant_count"`
	ViolationCount int       `json:"violation_count"`
	ComplianceRate float64   `json:"compliance_rate"`
	Simulated      bool      `json:"simulated,omitempty"`
}

// finalize fills the aggregate counters from People.
func (r *Result) finalize() {
	r.PeopleDetected = len(r.People)
	r.CompliantCount = 0
	for i := range r.People {
		if r.People[i].Compliant {
			r.CompliantCount++
		}
	}
	r.ViolationCount = r.PeopleDetected - r.CompliantCount
	if r.PeopleDetected > 0 {
		r.ComplianceRate = float64(r.CompliantCount) / float64(r.PeopleDetected) * 100
	} else {
		r.ComplianceRate = 100
	}
}

// Detector analyzes a single frame. Implementations fill Person.Equipment,
// Missing and Compliant against the required classes; track IDs are assigned
// by the runtime afterwards. Detect must be safe for concurrent use, one
// call per camera loop.
type Detector interface {
	Detect(ctx context.Context, frame *capture.Frame, required []string, minConfidence float64) ([]Person, error)
	Name() string
}

// ViolationEvent is one compliant-to-violating transition for a tracked
// person. Frame is the raw frame the violation was seen on, kept for the
// snapshot writer.
type ViolationEvent struct {
	CompanyID string
	CameraID  string
	Person    Person
	Frame     *capture.Frame
	Timestamp time.Time
	Simulated bool
}

// Sink receives detector output. Calls happen on the camera's detection
// goroutine; implementations that do slow work hand it off instead of
// blocking the loop.
type Sink interface {
	RecordResult(ctx context.Context, res *Result)
	RecordViolation(ctx context.Context, ev *ViolationEvent)
}

// missingFor returns the required classes not present in equipment,
// preserving the order of required.
func missingFor(required, equipment []string) []string {
	if len(required) == 0 {
		return nil
	}
	have := make(map[string]struct{}, len(equipment))
	for _, e := range equipment {
		have[e] = struct{}{}
	}
	var missing []string
	for _, r := range required {
		if _, ok := have[r]; !ok {
			missing = append(missing, r)
		}
	}
	return missing
}
