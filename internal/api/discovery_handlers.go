package api

import (
	"net/http"

	"github.com/technosupport/ts-ppe/internal/discovery"
)

type DiscoveryHandler struct {
	Discovery *discovery.Service
}

// POST /api/company/{cid}/cameras/discover
func (h *DiscoveryHandler) Discover(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")

	var req struct {
		NetworkRange string `json:"network_range"`
		AutoSync     bool   `json:"auto_sync"`
	}
	if err := readJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.AutoSync {
		report, err := h.Discovery.Sync(r.Context(), cid, req.NetworkRange, false)
		if err != nil {
			translateError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, report)
		return
	}

	report, err := h.Discovery.Discover(r.Context(), cid, req.NetworkRange)
	if err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"cameras":       report.Candidates,
		"network":       report.Network,
		"hosts_scanned": report.HostsScanned,
		"duration_ms":   report.DurationMS,
		"errors":        report.Errors,
	})
}

// POST /api/company/{cid}/cameras/sync
func (h *DiscoveryHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NetworkRange string `json:"network_range"`
		ForceSync    bool   `json:"force_sync"`
	}
	if err := readJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.Discovery.Sync(r.Context(), r.PathValue("cid"), req.NetworkRange, req.ForceSync)
	if err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
