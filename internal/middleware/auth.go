package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/technosupport/ts-ppe/internal/data"
	"github.com/technosupport/ts-ppe/internal/session"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "ts_ppe_session"

// SessionValidator is the slice of session.Manager the middleware needs.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*data.SessionIdentity, error)
}

type Authenticator struct {
	Sessions SessionValidator
}

func NewAuthenticator(sessions SessionValidator) *Authenticator {
	return &Authenticator{Sessions: sessions}
}

// TokenFromRequest extracts the session token: Authorization: Bearer first,
// then the session cookie, then ?token=. The query form exists because
// browsers cannot set headers on <img> sources or websocket dials.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// Require rejects unauthenticated requests and attaches the Principal for
// everything downstream. Invalid or expired tokens are 401; a valid token
// whose company is suspended is 403; a store outage is 503.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			deny(w, http.StatusUnauthorized, "authentication required")
			return
		}

		ident, err := a.Sessions.Validate(r.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrSessionInvalid):
			deny(w, http.StatusUnauthorized, "session invalid or expired")
			return
		case errors.Is(err, session.ErrCompanySuspended):
			deny(w, http.StatusForbidden, "company suspended")
			return
		case errors.Is(err, data.ErrStoreUnavailable):
			deny(w, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		default:
			log.Printf("[AUTH] validate failed: %v", err)
			deny(w, http.StatusUnauthorized, "session invalid or expired")
			return
		}

		p := &Principal{
			SessionID: ident.SessionID,
			UserID:    ident.UserID,
			Username:  ident.Username,
			Role:      ident.Role,
			CompanyID: ident.CompanyID,
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// TenantGuard compares the authenticated company against the {cid} path
// element before any handler or store runs. It must sit inside Require.
func TenantGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			deny(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if cid := r.PathValue("cid"); cid == "" || cid != p.CompanyID {
			deny(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole gates a route on the role hierarchy admin > manager >
// operator > viewer.
func RequireRole(min string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !data.RoleAtLeast(p.Role, min) {
				deny(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// deny writes the same JSON error shape the handlers use.
func deny(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
