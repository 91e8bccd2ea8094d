package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func startJWKS(t *testing.T, priv *rsa.PrivateKey, kid string) *httptest.Server {
	t.Helper()
	n := base64.RawURLEncoding.EncodeToString(priv.PublicKey.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big64(priv.PublicKey.E))

	jwks := jwksResponse{Keys: []jwkKey{{Kty: "RSA", Kid: kid, N: n, E: e}}}
	body, err := json.Marshal(jwks)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
}

func big64(e int) []byte {
	b := []byte{byte(e >> 16), byte(e >> 8), byte(e)}
	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}
	return b
}

func signToken(t *testing.T, priv *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerifierAcceptsValidToken(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := startJWKS(t, priv, "key-1")
	defer srv.Close()

	v := NewVerifier("https://token.actions.example.com", srv.URL, "pository")
	token := signToken(t, priv, "key-1", jwt.MapClaims{
		"iss":                    v.Issuer,
		"aud":                    v.Audience,
		"exp":                    time.Now().Add(time.Hour).Unix(),
		"repository":             "alice/foo",
		"repository_visibility":  "private",
		"event_name":             "push",
	})

	claims, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Repository != "alice/foo" || claims.EventName != "push" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestVerifierRejectsWrongAudience(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := startJWKS(t, priv, "key-1")
	defer srv.Close()

	v := NewVerifier("https://token.actions.example.com", srv.URL, "pository")
	token := signToken(t, priv, "key-1", jwt.MapClaims{
		"iss": v.Issuer,
		"aud": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.Verify(context.Background(), token); err == nil {
		t.Fatal("expected audience mismatch to be rejected")
	}
}

func TestVerifierRejectsExpiredToken(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := startJWKS(t, priv, "key-1")
	defer srv.Close()

	v := NewVerifier("https://token.actions.example.com", srv.URL, "pository")
	token := signToken(t, priv, "key-1", jwt.MapClaims{
		"iss": v.Issuer,
		"aud": v.Audience,
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	if _, err := v.Verify(context.Background(), token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}
