// Package oidc implements the Workload Identity Verifier (C5): RS256 JWT
// verification against a lazily fetched, cached JWKS endpoint.
package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the selected fields this service cares about from a
// verified workload-identity token.
type Claims struct {
	Repository           string
	RepositoryVisibility string
	EventName             string
	Ref                   string
	Actor                 string
	SHA                   string
	Workflow              string
}

type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Verifier fetches and caches a JWKS document, verifying tokens against it.
type Verifier struct {
	Issuer   string
	JWKSURI  string
	Audience string

	httpClient *http.Client
	cacheTTL   time.Duration

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewVerifier constructs a Verifier. issuer and jwksURI are the fixed
// constants for the configured identity provider; audience is deployment
// specific.
func NewVerifier(issuer, jwksURI, audience string) *Verifier {
	return &Verifier{
		Issuer:     issuer,
		JWKSURI:    jwksURI,
		Audience:   audience,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		cacheTTL:   10 * time.Minute,
		keys:       map[string]*rsa.PublicKey{},
	}
}

// Verify parses and validates tokenString: RS256 signature against a JWKS
// key matching the token's kid, non-expired, matching issuer and audience.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return v.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.Issuer),
		jwt.WithAudience(v.Audience),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("verify token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, fmt.Errorf("token not valid")
	}

	get := func(k string) string {
		s, _ := claims[k].(string)
		return s
	}
	return Claims{
		Repository:            get("repository"),
		RepositoryVisibility:  get("repository_visibility"),
		EventName:              get("event_name"),
		Ref:                    get("ref"),
		Actor:                  get("actor"),
		SHA:                    get("sha"),
		Workflow:               get("workflow"),
	}, nil
}

func (v *Verifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok && time.Since(v.fetchedAt) < v.cacheTTL {
		return key, nil
	}
	if err := v.refreshLocked(ctx); err != nil {
		return nil, err
	}
	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no JWKS key for kid %q", kid)
	}
	return key, nil
}

func (v *Verifier) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.JWKSURI, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return fmt.Errorf("decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := decodeRSAKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	v.keys = keys
	v.fetchedAt = time.Now()
	return nil
}

func decodeRSAKey(k jwkKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
