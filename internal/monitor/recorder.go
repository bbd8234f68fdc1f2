package monitor

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"github.com/technosupport/ts-ppe/internal/data"
	"github.com/technosupport/ts-ppe/internal/detect"
	"github.com/technosupport/ts-ppe/internal/metrics"
	"github.com/technosupport/ts-ppe/internal/snapshot"
)

type DetectionStore interface {
	Insert(ctx context.Context, d *data.Detection) error
}

type ViolationStore interface {
	Insert(ctx context.Context, v *data.Violation) error
}

type DetectionToucher interface {
	TouchDetection(ctx context.Context, id string) error
}

// Notifier fans recorded events out to live listeners. Implementations must
// not block.
type Notifier interface {
	DetectionRecorded(companyID string, res *detect.Result)
	ViolationRecorded(companyID string, v *data.Violation)
}

// Recorder is the detection sink: aggregates land in the detections log,
// compliance transitions become violation rows with a snapshot on disk.
// Snapshots and events are best-effort; the row is the record of truth and
// a failed snapshot only costs the row its image path.
type Recorder struct {
	Detections DetectionStore
	Violations ViolationStore
	Cameras    DetectionToucher
	Snapshots  *snapshot.Store
	Events     Notifier
}

func (r *Recorder) RecordResult(ctx context.Context, res *detect.Result) {
	payload, err := json.Marshal(res.People)
	if err != nil {
		payload = []byte("[]")
	}
	row := &data.Detection{
		CompanyID:       res.CompanyID,
		CameraID:        res.CameraID,
		Timestamp:       res.Timestamp,
		TotalPeople:     res.PeopleDetected,
		CompliantPeople: res.CompliantCount,
		ViolationPeople: res.ViolationCount,
		ComplianceRate:  res.ComplianceRate,
		ConfidenceScore: meanConfidence(res.People),
		Data:            payload,
	}
	if err := r.Detections.Insert(ctx, row); err != nil {
		log.Printf("[MONITOR] camera %s: detection insert failed: %v", res.CameraID, err)
		return
	}
	metrics.DetectionsRecorded.WithLabelValues(detectorLabel(res.Simulated)).Inc()
	if err := r.Cameras.TouchDetection(ctx, res.CameraID); err != nil {
		log.Printf("[MONITOR] camera %s: last-detection update failed: %v", res.CameraID, err)
	}
	if r.Events != nil {
		r.Events.DetectionRecorded(res.CompanyID, res)
	}
}

func (r *Recorder) RecordViolation(ctx context.Context, ev *detect.ViolationEvent) {
	eventID := uuid.New().String()
	violationType := ViolationTypeFor(ev.Person.Missing)
	severity := SeverityFor(ev.Person.Missing)

	var imagePath *string
	if r.Snapshots != nil && ev.Frame != nil {
		rel, err := r.Snapshots.Save(ev.Frame.Data, snapshot.Region{
			X: ev.Person.BBox.X,
			Y: ev.Person.BBox.Y,
			W: ev.Person.BBox.W,
			H: ev.Person.BBox.H,
		}, snapshot.Event{
			CompanyID:     ev.CompanyID,
			CameraID:      ev.CameraID,
			PersonID:      ev.Person.TrackID,
			ViolationType: violationType,
			EventID:       eventID,
			Timestamp:     ev.Timestamp,
		})
		if err != nil {
			log.Printf("[MONITOR] camera %s: snapshot for event %s failed, recording without image: %v", ev.CameraID, eventID, err)
			metrics.SnapshotWrites.WithLabelValues("error").Inc()
		} else {
			imagePath = &rel
			metrics.SnapshotWrites.WithLabelValues("ok").Inc()
		}
	}

	v := &data.Violation{
		CompanyID:     ev.CompanyID,
		CameraID:      ev.CameraID,
		Timestamp:     ev.Timestamp,
		ViolationType: violationType,
		MissingPPE:    ev.Person.Missing,
		Severity:      severity,
		PenaltyAmount: PenaltyFor(severity),
		ImagePath:     imagePath,
	}
	if err := r.Violations.Insert(ctx, v); err != nil {
		log.Printf("[MONITOR] camera %s: violation insert failed: %v", ev.CameraID, err)
		return
	}
	metrics.ViolationsRecorded.WithLabelValues(violationType, severity).Inc()
	log.Printf("[MONITOR] camera %s: violation %s (%s, %s) person %s", ev.CameraID, eventID, violationType, severity, ev.Person.TrackID)
	if r.Events != nil {
		r.Events.ViolationRecorded(ev.CompanyID, v)
	}
}

// violationTypes maps an equipment class to the violation it causes when
// missing.
var violationTypes = map[string]string{
	"helmet":       "no_helmet",
	"safety_vest":  "no_vest",
	"safety_shoes": "no_shoes",
	"gloves":       "no_gloves",
	"glasses":      "no_glasses",
	"face_mask":    "no_mask",
	"hairnet":      "no_hairnet",
	"apron":        "no_apron",
	"safety_suit":  "no_suit",
}

// classPriority orders classes by how serious their absence is. The first
// missing class in this order names the violation.
var classPriority = []string{
	"helmet", "safety_vest", "safety_shoes", "glasses", "face_mask",
	"gloves", "hairnet", "apron", "safety_suit",
}

func ViolationTypeFor(missing []string) string {
	for _, class := range classPriority {
		for _, m := range missing {
			if m == class {
				return violationTypes[class]
			}
		}
	}
	if len(missing) > 0 {
		return "no_" + missing[0]
	}
	return "unknown"
}

// SeverityFor grades a violation: a bare head or multiple missing items is
// high, missing vest or shoes is medium, the rest is low.
func SeverityFor(missing []string) string {
	if len(missing) >= 2 {
		return "high"
	}
	for _, m := range missing {
		switch m {
		case "helmet":
			return "high"
		case "safety_vest", "safety_shoes":
			return "medium"
		}
	}
	return "low"
}

var penaltyBySeverity = map[string]float64{
	"high":   100,
	"medium": 50,
	"low":    25,
}

func PenaltyFor(severity string) float64 {
	return penaltyBySeverity[severity]
}

func detectorLabel(simulated bool) string {
	if simulated {
		return "simulation"
	}
	return "remote"
}

func meanConfidence(people []detect.Person) float64 {
	if len(people) == 0 {
		return 0
	}
	sum := 0.0
	for i := range people {
		sum += people[i].Confidence
	}
	return sum / float64(len(people))
}
