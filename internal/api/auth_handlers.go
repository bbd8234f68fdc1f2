package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/technosupport/ts-ppe/internal/companies"
	"github.com/technosupport/ts-ppe/internal/middleware"
	"github.com/technosupport/ts-ppe/internal/users"
)

type AuthHandler struct {
	Companies *companies.Service
	Users     *users.Service
}

// POST /api/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in companies.RegisterInput
	if err := readJSON(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	company, admin, err := h.Companies.Register(r.Context(), in)
	if err != nil {
		translateError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"company_id": company.ID,
		"admin_id":   admin.ID,
		"login_url":  "/company/" + company.ID + "/login",
	})
}

// POST /company/{cid}/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, user, err := h.Users.Login(r.Context(), cid, req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		translateError(w, r, err)
		return
	}

	// The cookie serves browsers; API clients read the token from the body
	// and send it as a bearer header instead.
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	respondJSON(w, http.StatusOK, map[string]any{
		"redirect":   "/company/" + cid + "/dashboard",
		"token":      sess.ID,
		"expires_at": sess.ExpiresAt,
		"user": map[string]string{
			"id":       user.ID,
			"username": user.Username,
			"role":     user.Role,
		},
	})
}

// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.Users.Logout(r.Context(), p.CompanyID, p.UserID, p.SessionID); err != nil {
		translateError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// clientIP favours the first X-Forwarded-For hop so session and audit rows
// record the caller, not the proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
