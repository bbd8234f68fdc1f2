package api

import (
	"net/http"
	"time"

	"github.com/technosupport/ts-ppe/internal/data"
	"github.com/technosupport/ts-ppe/internal/middleware"
	"github.com/technosupport/ts-ppe/internal/users"
)

type UserHandler struct {
	Users *users.Service
}

// userRow is a user projected onto the wire. The password hash never
// leaves the service.
type userRow struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	Permissions []string   `json:"permissions"`
	Status      string     `json:"status"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toUserRow(u *data.User) userRow {
	return userRow{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Role:        u.Role,
		Permissions: u.Permissions,
		Status:      u.Status,
		LastLogin:   u.LastLogin,
		CreatedAt:   u.CreatedAt,
	}
}

// GET /api/company/{cid}/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Users.List(r.Context(), r.PathValue("cid"))
	if err != nil {
		translateError(w, r, err)
		return
	}
	out := make([]userRow, 0, len(rows))
	for _, u := range rows {
		out = append(out, toUserRow(u))
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": out})
}

// POST /api/company/{cid}/users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var in users.CreateInput
	if err := readJSON(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.Users.Create(r.Context(), r.PathValue("cid"), p.UserID, in)
	if err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toUserRow(u))
}

// POST /api/company/{cid}/users/{uid}/disable
func (h *UserHandler) Disable(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.Users.Disable(r.Context(), r.PathValue("cid"), p.UserID, r.PathValue("uid")); err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}
