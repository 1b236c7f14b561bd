// Package authctx implements the per-request auth identity: a value
// carried on context.Context, request-scoped and never an ambient
// global, holding the caller's {agentId, agentType, permissions,
// authenticated, authMethod}.
package authctx

import "context"

type ctxKey struct{}

var key = ctxKey{}

// AuthMethod names how the caller's identity was established.
type AuthMethod string

const (
	AuthMethodNone   AuthMethod = ""
	AuthMethodOpaque AuthMethod = "opaque_token"
	AuthMethodJWT    AuthMethod = "bare_jwt"
)

// AuthContext is the per-request identity value.
type AuthContext struct {
	AgentID       string
	AgentType     string
	Permissions   []string
	Authenticated bool
	AuthMethod    AuthMethod
}

// Unauthenticated is the value for a request with a missing or invalid
// token: not an error, a caller with read-only, unauthenticated standing.
func Unauthenticated() AuthContext {
	return AuthContext{
		AgentID:       "unknown",
		AgentType:     "unknown",
		Permissions:   []string{"read"},
		Authenticated: false,
	}
}

// WithAuthContext returns a new context carrying ac. Each request gets
// its own derived context, so two concurrent requests on the same
// process never observe each other's identity.
func WithAuthContext(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, key, ac)
}

// FromContext retrieves the AuthContext, defaulting to Unauthenticated()
// if none was attached.
func FromContext(ctx context.Context) AuthContext {
	if ac, ok := ctx.Value(key).(AuthContext); ok {
		return ac
	}
	return Unauthenticated()
}

// Has reports whether the context's caller holds permission p.
func (ac AuthContext) Has(p string) bool {
	for _, have := range ac.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// ErrPermissionDenied is returned by RequirePermission when the caller
// lacks the required permission.
type ErrPermissionDenied struct {
	Required string
}

func (e ErrPermissionDenied) Error() string {
	return "permission denied: requires " + e.Required
}

// RequirePermission short-circuits with ErrPermissionDenied when p is not
// held by the context's caller; tool handlers call this before touching
// the store.
func RequirePermission(ctx context.Context, p string) error {
	ac := FromContext(ctx)
	if !ac.Has(p) {
		return ErrPermissionDenied{Required: p}
	}
	return nil
}
