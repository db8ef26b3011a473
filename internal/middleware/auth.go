// Package middleware carries the HTTP cross-cutting layers: tenant
// authentication and rate limiting.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/openlabels/scanner/internal/auth"
	"github.com/openlabels/scanner/internal/core"
	"github.com/openlabels/scanner/internal/database"
)

type ctxKey int

const (
	tenantKey ctxKey = iota
	actorKey
)

// TenantFrom returns the authenticated tenant id set by Authenticator.
func TenantFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantKey).(uuid.UUID)
	return id, ok
}

// ActorFrom returns the authenticated principal for audit trails.
func ActorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey).(string); ok {
		return a
	}
	return "unknown"
}

// ErrorWriter renders an error response; injected from the api package
// so middleware and handlers share one error shape.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, code, message string)

// Authenticator resolves the tenant behind each request. API keys
// (ols_ prefix) are checked against the store; anything else goes
// through the OIDC verifier when one is configured.
type Authenticator struct {
	store    *database.Store
	verifier *auth.Verifier // nil when provider is none
	devMode  bool
	writeErr ErrorWriter
}

// NewAuthenticator builds the middleware. A nil verifier with devMode
// false rejects everything but API keys.
func NewAuthenticator(store *database.Store, verifier *auth.Verifier, devMode bool, writeErr ErrorWriter) *Authenticator {
	return &Authenticator{store: store, verifier: verifier, devMode: devMode, writeErr: writeErr}
}

// Middleware is the mux.MiddlewareFunc.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)

		switch {
		case strings.HasPrefix(token, "ols_"):
			tenantID, err := a.store.ValidateAPIKey(r.Context(), token)
			if err != nil {
				a.writeErr(w, r, http.StatusUnauthorized, string(core.CodeUnauthorized), "invalid API key")
				return
			}
			next.ServeHTTP(w, a.withIdentity(r, tenantID, "api-key"))

		case token != "" && a.verifier != nil:
			claims, err := a.verifier.Verify(r.Context(), token)
			if err != nil {
				a.writeErr(w, r, http.StatusUnauthorized, string(core.CodeUnauthorized), "invalid token")
				return
			}
			tenantID, err := uuid.Parse(claims.TenantID)
			if err != nil {
				a.writeErr(w, r, http.StatusForbidden, string(core.CodeForbidden), "token carries no tenant claim")
				return
			}
			actor := claims.Email
			if actor == "" {
				actor = claims.Subject
			}
			next.ServeHTTP(w, a.withIdentity(r, tenantID, actor))

		case a.devMode:
			// Development only: the tenant comes from a header and no
			// credential is checked.
			tenantID, err := uuid.Parse(r.Header.Get("X-Tenant-ID"))
			if err != nil {
				a.writeErr(w, r, http.StatusUnauthorized, string(core.CodeUnauthorized), "X-Tenant-ID header required")
				return
			}
			next.ServeHTTP(w, a.withIdentity(r, tenantID, "dev"))

		default:
			a.writeErr(w, r, http.StatusUnauthorized, string(core.CodeUnauthorized), "bearer token required")
		}
	})
}

func (a *Authenticator) withIdentity(r *http.Request, tenantID uuid.UUID, actor string) *http.Request {
	ctx := context.WithValue(r.Context(), tenantKey, tenantID)
	ctx = context.WithValue(ctx, actorKey, actor)
	return r.WithContext(ctx)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
