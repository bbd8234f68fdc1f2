package api

import (
	"net/http"

	"github.com/technosupport/ts-ppe/internal/health"
)

type HealthHandler struct {
	Checker *health.Checker
}

// GET /health
//
// "ok" and "degraded" answer 200 so load balancers keep routing while an
// optional dependency is down; "down" answers 503.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.Checker.Run(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, report)
}
