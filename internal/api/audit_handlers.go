package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/technosupport/ts-ppe/internal/audit"
)

type AuditHandler struct {
	Audit *audit.Service
}

// GET /api/company/{cid}/audit
//
// Filters: user, action, from, to (RFC 3339), limit, cursor. ?format=export
// streams the whole trail as JSON lines instead of a page.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	q := r.URL.Query()

	if q.Get("format") == "export" {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", `attachment; filename="audit-`+cid+`.jsonl"`)
		if err := h.Audit.Export(r.Context(), cid, w); err != nil {
			// Headers are gone; all that is left is cutting the stream.
			return
		}
		return
	}

	f := audit.Filter{
		CompanyID: cid,
		UserID:    q.Get("user"),
		Action:    q.Get("action"),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "from: must be RFC 3339")
			return
		}
		f.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "to: must be RFC 3339")
			return
		}
		f.To = &t
	}
	if raw := q.Get("limit"); raw != "" {
		f.Limit, _ = strconv.Atoi(raw)
	}
	if raw := q.Get("cursor"); raw != "" {
		f.Cursor, _ = strconv.ParseInt(raw, 10, 64)
	}

	events, cursor, err := h.Audit.List(r.Context(), f)
	if err != nil {
		translateError(w, r, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events, "cursor": cursor})
}
