package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/technosupport/ts-ppe/internal/data"
	"github.com/technosupport/ts-ppe/internal/middleware"
)

type ViolationHandler struct {
	Violations data.ViolationModel
}

// violationRow is a stored violation projected onto the wire. image_path is
// relative to the snapshot root; clients fetch it via /violations/{path}.
type violationRow struct {
	ID            int64      `json:"id"`
	CameraID      string     `json:"camera_id"`
	Timestamp     time.Time  `json:"ts"`
	ViolationType string     `json:"violation_type"`
	MissingPPE    []string   `json:"missing_ppe"`
	Severity      string     `json:"severity"`
	PenaltyAmount float64    `json:"penalty_amount"`
	ImagePath     *string    `json:"image_path,omitempty"`
	Resolved      bool       `json:"resolved"`
	ResolvedBy    *string    `json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// GET /api/company/{cid}/violations
//
// Filters: camera, type, resolved (true/false), from, to (RFC 3339),
// limit, offset.
func (h *ViolationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := data.ViolationFilter{
		CameraID: q.Get("camera"),
		Type:     q.Get("type"),
	}
	if raw := q.Get("resolved"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "resolved: must be true or false")
			return
		}
		f.Resolved = &v
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "from: must be RFC 3339")
			return
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "to: must be RFC 3339")
			return
		}
		f.To = t
	}
	if raw := q.Get("limit"); raw != "" {
		f.Limit, _ = strconv.Atoi(raw)
	}
	if raw := q.Get("offset"); raw != "" {
		f.Offset, _ = strconv.Atoi(raw)
	}

	rows, err := h.Violations.List(r.Context(), r.PathValue("cid"), f)
	if err != nil {
		translateError(w, r, err)
		return
	}

	out := make([]violationRow, 0, len(rows))
	for _, v := range rows {
		out = append(out, violationRow{
			ID:            v.ID,
			CameraID:      v.CameraID,
			Timestamp:     v.Timestamp,
			ViolationType: v.ViolationType,
			MissingPPE:    v.MissingPPE,
			Severity:      v.Severity,
			PenaltyAmount: v.PenaltyAmount,
			ImagePath:     v.ImagePath,
			Resolved:      v.Resolved,
			ResolvedBy:    v.ResolvedBy,
			ResolvedAt:    v.ResolvedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"violations": out})
}

// POST /api/company/{cid}/violations/{id}/resolve
func (h *ViolationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "id: must be numeric")
		return
	}

	if err := h.Violations.Resolve(r.Context(), r.PathValue("cid"), id, p.UserID); err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
