package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/core"
)

func testErrorWriter(t *testing.T) (ErrorWriter, *string) {
	t.Helper()
	var code string
	return func(w http.ResponseWriter, r *http.Request, status int, c, msg string) {
		code = c
		w.WriteHeader(status)
	}, &code
}

func TestAuthenticatorDevMode(t *testing.T) {
	writeErr, _ := testErrorWriter(t)
	a := NewAuthenticator(nil, nil, true, writeErr)
	tenantID := uuid.New()

	var gotTenant uuid.UUID
	var gotActor string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant, _ = TenantFrom(r.Context())
		gotActor = ActorFrom(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/targets", nil)
	req.Header.Set("X-Tenant-ID", tenantID.String())
	rec := httptest.NewRecorder()
	a.Middleware(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tenantID, gotTenant)
	assert.Equal(t, "dev", gotActor)
}

func TestAuthenticatorDevModeRequiresHeader(t *testing.T) {
	writeErr, code := testErrorWriter(t)
	a := NewAuthenticator(nil, nil, true, writeErr)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(core.CodeUnauthorized), *code)
}

func TestAuthenticatorRejectsMissingCredentials(t *testing.T) {
	writeErr, code := testErrorWriter(t)
	a := NewAuthenticator(nil, nil, false, writeErr)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(core.CodeUnauthorized), *code)
}

func TestAuthenticatorRejectsTokenWithoutVerifier(t *testing.T) {
	writeErr, code := testErrorWriter(t)
	a := NewAuthenticator(nil, nil, false, writeErr)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer some.jwt.token")
	rec := httptest.NewRecorder()
	a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(core.CodeUnauthorized), *code)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", bearerToken(req))

	req.Header.Set("Authorization", "bearer abc123")
	assert.Equal(t, "abc123", bearerToken(req))

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, bearerToken(req))
}

func TestActorFromDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "unknown", ActorFrom(req.Context()))

	_, ok := TenantFrom(req.Context())
	require.False(t, ok)
}
