package api

import (
	"net/http"

	"github.com/technosupport/ts-ppe/internal/events"
)

type EventHandler struct {
	Hub *events.Hub
}

// GET /api/company/{cid}/events/ws
func (h *EventHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.Hub.Serve(w, r, r.PathValue("cid"))
}
