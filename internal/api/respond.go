// Package api holds the HTTP handlers for the control and data planes. Each
// concern gets a handler struct over its service; routing and middleware
// order live in cmd/server. Handlers translate service errors to statuses in
// one place, translateError, so a new sentinel only needs wiring once.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/technosupport/ts-ppe/internal/data"
	"github.com/technosupport/ts-ppe/internal/discovery"
	"github.com/technosupport/ts-ppe/internal/middleware"
	"github.com/technosupport/ts-ppe/internal/monitor"
	"github.com/technosupport/ts-ppe/internal/users"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondConflict carries a machine-readable code alongside the message so
// clients can tell the 409 variants apart without string matching.
func respondConflict(w http.ResponseWriter, code, message string) {
	respondJSON(w, http.StatusConflict, map[string]string{"error": message, "code": code})
}

// translateError maps service errors onto HTTP statuses. Unknown errors
// become a 500 carrying the request id, and the detail stays in the log.
func translateError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *data.InvalidError
	switch {
	case errors.As(err, &invalid):
		respondError(w, http.StatusBadRequest, invalid.Error())
	case errors.Is(err, data.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, data.ErrDuplicateEmail):
		respondConflict(w, "duplicate_email", err.Error())
	case errors.Is(err, data.ErrDuplicateName):
		respondConflict(w, "name_taken", err.Error())
	case errors.Is(err, data.ErrDuplicateUsername):
		respondConflict(w, "username_taken", err.Error())
	case errors.Is(err, data.ErrCameraLimit):
		respondConflict(w, "camera_limit", err.Error())
	case errors.Is(err, users.ErrLastAdmin):
		respondConflict(w, "last_admin", err.Error())
	case errors.Is(err, users.ErrBadCredentials):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, users.ErrLockedOut),
		errors.Is(err, users.ErrUserDisabled),
		errors.Is(err, users.ErrCompanySuspended):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, monitor.ErrAlreadyRunning):
		respondConflict(w, "already_running", err.Error())
	case errors.Is(err, monitor.ErrNotRunning):
		respondConflict(w, "not_running", err.Error())
	case errors.Is(err, monitor.ErrBadMode):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, monitor.ErrDetectorUnavailable):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, discovery.ErrNoNetworkRange):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, data.ErrStoreUnavailable):
		respondError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		id := middleware.RequestIDFrom(r.Context())
		log.Printf("[ERR:%s] %s %s: %v", id, r.Method, r.URL.Path, err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error":      "internal error",
			"request_id": id,
		})
	}
}

// readJSON decodes the request body into dst, rejecting bodies over 1 MiB
// and trailing garbage.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	if dec.More() {
		return errors.New("invalid request body")
	}
	return nil
}
