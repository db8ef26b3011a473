// Package auth verifies bearer credentials: OIDC access tokens against
// a discovered JWKS, or scanner API keys checked in the operational
// store by the middleware layer.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openlabels/scanner/internal/config"
)

// jwksTTL bounds how long signing keys are served from cache. A token
// signed with an unknown kid forces an early refresh.
const jwksTTL = time.Hour

var (
	ErrNoToken      = errors.New("auth: no bearer token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims are the verified token fields the API layer consumes.
type Claims struct {
	Subject  string
	Email    string
	TenantID string
}

// Verifier validates OIDC tokens against the provider's JWKS.
type Verifier struct {
	discoveryURL string
	audience     string
	client       *http.Client

	mu        sync.Mutex
	issuer    string
	jwksURL   string
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewVerifier builds a verifier for the configured provider. Azure AD
// is OIDC with a well-known discovery layout.
func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	discovery := cfg.OIDC.DiscoveryURL
	if cfg.Provider == "azure_ad" {
		if cfg.TenantID == "" {
			return nil, fmt.Errorf("auth: azure_ad requires tenant_id")
		}
		discovery = fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0/.well-known/openid-configuration", cfg.TenantID)
	}
	if discovery == "" {
		return nil, fmt.Errorf("auth: oidc requires a discovery url")
	}
	return &Verifier{
		discoveryURL: discovery,
		audience:     cfg.ClientID,
		client:       &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Verify parses and validates a raw token, returning its claims.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	issuer, err := v.ensureDiscovery(ctx)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims jwt.MapClaims
	_, err = jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keyFor(ctx, kid)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	out := &Claims{}
	out.Subject, _ = claims["sub"].(string)
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	} else if upn, ok := claims["preferred_username"].(string); ok {
		out.Email = upn
	}
	for _, k := range []string{"tenant_id", "tid"} {
		if tid, ok := claims[k].(string); ok && tid != "" {
			out.TenantID = tid
			break
		}
	}
	return out, nil
}

// ensureDiscovery resolves issuer and jwks_uri once and caches them.
func (v *Verifier) ensureDiscovery(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.issuer != "" {
		return v.issuer, nil
	}

	var doc struct {
		Issuer  string `json:"issuer"`
		JWKSURI string `json:"jwks_uri"`
	}
	if err := v.getJSON(ctx, v.discoveryURL, &doc); err != nil {
		return "", fmt.Errorf("auth: discovery: %w", err)
	}
	if doc.Issuer == "" || doc.JWKSURI == "" {
		return "", fmt.Errorf("auth: discovery document incomplete")
	}
	v.issuer = doc.Issuer
	v.jwksURL = doc.JWKSURI
	return v.issuer, nil
}

// keyFor returns the signing key for kid, refreshing the JWKS when the
// cache is stale or the kid is unknown.
func (v *Verifier) keyFor(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok && time.Since(v.fetchedAt) < jwksTTL {
		return key, nil
	}
	if err := v.refreshLocked(ctx); err != nil {
		return nil, err
	}
	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("auth: unknown signing key %q", kid)
	}
	return key, nil
}

func (v *Verifier) refreshLocked(ctx context.Context) error {
	var doc struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := v.getJSON(ctx, v.jwksURL, &doc); err != nil {
		return fmt.Errorf("auth: jwks fetch: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("auth: jwks contained no usable keys")
	}
	v.keys = keys
	v.fetchedAt = time.Now()
	return nil
}

func (v *Verifier) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
