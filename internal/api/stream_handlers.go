package api

import (
	"net/http"

	"github.com/technosupport/ts-ppe/internal/middleware"
	"github.com/technosupport/ts-ppe/internal/snapshot"
	"github.com/technosupport/ts-ppe/internal/stream"
)

type StreamHandler struct {
	Runtime   Runtime
	Snapshots *snapshot.Store
}

// GET /api/company/{cid}/video-feed/{camid}
func (h *StreamHandler) VideoFeed(w http.ResponseWriter, r *http.Request) {
	slot, done, ok := h.Runtime.Stream(r.PathValue("cid"), r.PathValue("camid"))
	if !ok {
		respondError(w, http.StatusNotFound, "no live stream for camera")
		return
	}
	stream.ServeMJPEG(w, r, slot, done)
}

// GET /violations/{path...}
//
// Snapshot files live outside the /company/{cid} tree, so tenancy comes
// from the principal: the store only resolves paths under the caller's own
// company directory.
func (h *StreamHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	stream.ServeSnapshot(w, r, h.Snapshots, p.CompanyID, r.PathValue("path"))
}
