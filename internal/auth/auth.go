// Package auth resolves the calling principal from headers set by the
// trusted edge proxy.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Header names set by the edge proxy
const (
	HeaderUser   = "X-Scout-User"
	HeaderTenant = "X-Scout-Tenant"
	HeaderRole   = "X-Scout-Role"
	HeaderSecret = "X-Scout-Proxy-Secret"
)

// Roles
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ErrUnauthenticated is returned when no principal could be resolved
var ErrUnauthenticated = errors.New("unauthenticated")

// Principal is the authenticated caller
type Principal struct {
	UserID   string
	TenantID string
	Role     string
}

// CanRunPipelines reports whether the role may start pipelines
func (p *Principal) CanRunPipelines() bool {
	return p.Role == RoleOwner || p.Role == RoleAdmin
}

// Resolver derives a principal from a request
type Resolver interface {
	Resolve(r *http.Request) (*Principal, error)
}

// HeaderResolver trusts the identity headers only when the proxy secret matches
type HeaderResolver struct {
	secret []byte
}

// NewHeaderResolver creates a resolver. An empty secret rejects every request.
func NewHeaderResolver(secret string) *HeaderResolver {
	return &HeaderResolver{secret: []byte(secret)}
}

func (h *HeaderResolver) Resolve(r *http.Request) (*Principal, error) {
	if len(h.secret) == 0 {
		return nil, ErrUnauthenticated
	}
	got := []byte(r.Header.Get(HeaderSecret))
	if subtle.ConstantTimeCompare(got, h.secret) != 1 {
		return nil, ErrUnauthenticated
	}

	p := &Principal{
		UserID:   strings.TrimSpace(r.Header.Get(HeaderUser)),
		TenantID: strings.TrimSpace(r.Header.Get(HeaderTenant)),
		Role:     strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderRole))),
	}
	if p.UserID == "" || p.TenantID == "" {
		return nil, ErrUnauthenticated
	}
	if p.Role == "" {
		p.Role = RoleMember
	}
	return p, nil
}

type contextKey struct{}

// WithPrincipal stores p in ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal stored by Middleware, if any
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok && p != nil
}

// Middleware resolves the principal and stores it in the request context.
// Unauthenticated requests pass through; handlers decide how to reject them.
func Middleware(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := resolver.Resolve(r)
			if err != nil {
				slog.Debug("Request without principal", "path", r.URL.Path, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// SetHeaders adds proxy identity headers to an outgoing request
func SetHeaders(req *http.Request, p Principal, secret string) {
	req.Header.Set(HeaderUser, p.UserID)
	req.Header.Set(HeaderTenant, p.TenantID)
	req.Header.Set(HeaderRole, p.Role)
	req.Header.Set(HeaderSecret, secret)
}
