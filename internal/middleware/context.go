package middleware

import "context"

type contextKey string

const (
	principalKey contextKey = "principal"
	requestIDKey contextKey = "request_id"
)

// Principal is the authenticated identity the auth middleware attaches to
// the request. SessionID is the bearer token itself, which logout needs to
// revoke the right row.
type Principal struct {
	SessionID string
	UserID    string
	Username  string
	Role      string
	CompanyID string
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the correlation id the logger assigned, or "" when
// the request skipped the logger.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
