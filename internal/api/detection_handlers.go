package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/technosupport/ts-ppe/internal/data"
	"github.com/technosupport/ts-ppe/internal/monitor"
)

type DetectionHandler struct {
	Runtime    Runtime
	Detections data.DetectionModel
}

// POST /api/company/{cid}/start-detection
func (h *DetectionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Camera     string  `json:"camera"`
		Mode       string  `json:"mode"`
		Confidence float64 `json:"confidence"`
	}
	if err := readJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Camera == "" {
		respondError(w, http.StatusBadRequest, "camera: must be provided")
		return
	}

	opts := monitor.StartOptions{Mode: req.Mode, Confidence: req.Confidence}
	if err := h.Runtime.StartDetection(r.Context(), r.PathValue("cid"), req.Camera, opts); err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "started", "camera": req.Camera})
}

// POST /api/company/{cid}/stop-detection
func (h *DetectionHandler) StopAll(w http.ResponseWriter, r *http.Request) {
	stopped := h.Runtime.StopCompany(r.Context(), r.PathValue("cid"))
	respondJSON(w, http.StatusOK, map[string]any{"status": "stopped", "cameras": stopped})
}

// POST /api/company/{cid}/cameras/{camid}/stop
func (h *DetectionHandler) StopCamera(w http.ResponseWriter, r *http.Request) {
	if err := h.Runtime.StopDetection(r.Context(), r.PathValue("cid"), r.PathValue("camid")); err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// detectionRow is a stored detection projected onto the wire.
type detectionRow struct {
	ID             int64     `json:"id"`
	CameraID       string    `json:"camera_id"`
	Timestamp      time.Time `json:"ts"`
	TotalPeople    int       `json:"total_people"`
	Compliant      int       `json:"compliant_people"`
	Violations     int       `json:"violation_people"`
	ComplianceRate float64   `json:"compliance_rate"`
	Confidence     float64   `json:"confidence_score"`
	ImagePath      *string   `json:"image_path,omitempty"`
}

// GET /api/company/{cid}/detection-results/{camid}
//
// Without parameters this returns the camera's latest in-memory result, or
// an empty object when the pipeline has not produced one. ?history=N swaps
// to the last N persisted rows instead.
func (h *DetectionHandler) Results(w http.ResponseWriter, r *http.Request) {
	cid, camID := r.PathValue("cid"), r.PathValue("camid")

	if raw := r.URL.Query().Get("history"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "history: must be between 1 and 500")
			return
		}
		rows, err := h.Detections.List(r.Context(), cid, data.DetectionFilter{CameraID: camID, Limit: n})
		if err != nil {
			translateError(w, r, err)
			return
		}
		out := make([]detectionRow, 0, len(rows))
		for _, d := range rows {
			out = append(out, detectionRow{
				ID:             d.ID,
				CameraID:       d.CameraID,
				Timestamp:      d.Timestamp,
				TotalPeople:    d.TotalPeople,
				Compliant:      d.CompliantPeople,
				Violations:     d.ViolationPeople,
				ComplianceRate: d.ComplianceRate,
				Confidence:     d.ConfidenceScore,
				ImagePath:      d.ImagePath,
			})
		}
		respondJSON(w, http.StatusOK, map[string]any{"results": out})
		return
	}

	res, ok := h.Runtime.PollResult(cid, camID)
	if !ok || res == nil {
		respondJSON(w, http.StatusOK, map[string]any{})
		return
	}
	respondJSON(w, http.StatusOK, res)
}
