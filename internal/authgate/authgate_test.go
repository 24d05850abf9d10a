package authgate

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/interuss/flight-blender/internal/jwksverify"
)

// rsaJWK renders an RSA public key as the RFC 7517 JSON shape
// jwksverify's parseKeys expects, so tests can exercise the real
// fetch-parse-verify path instead of stubbing it out.
func rsaJWK(kid string, pub *rsa.PublicKey) map[string]interface{} {
	enc := base64.RawURLEncoding
	eBytes := big.NewInt(int64(pub.E)).Bytes()
	return map[string]interface{}{
		"kty": "RSA",
		"kid": kid,
		"alg": "RS256",
		"use": "sig",
		"n":   enc.EncodeToString(pub.N.Bytes()),
		"e":   enc.EncodeToString(eBytes),
	}
}

func jwksFetcher(keys ...map[string]interface{}) func(ctx context.Context, url string) (map[string]interface{}, error) {
	docs := make([]interface{}, len(keys))
	for i, k := range keys {
		docs[i] = k
	}
	return func(ctx context.Context, url string) (map[string]interface{}, error) {
		return map[string]interface{}{"keys": docs}, nil
	}
}

func signedToken(t *testing.T, key *rsa.PrivateKey, kid, issuer, audience, scope string) string {
	t.Helper()
	claims := Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    issuer,
			Audience:  audience,
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		},
		Scope: scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func newPassthroughGate(t *testing.T, key *rsa.PublicKey, kid string, cfg Config) *Gate {
	t.Helper()
	fetch := func(ctx context.Context, url string) (map[string]interface{}, error) {
		return map[string]interface{}{"keys": []interface{}{}}, nil
	}
	cache := jwksverify.New(jwksverify.Config{}, fetch)
	g := New(cfg, cache)
	return g
}

func TestRequireRejectsMissingHeader(t *testing.T) {
	g := New(Config{}, jwksverify.New(jwksverify.Config{}, nil))
	handler := g.Require(Policy{Required: []string{"rid.display_provider"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be invoked")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
}

func TestBypassPathAllowsDummyIssuer(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	g := newPassthroughGate(t, &key.PublicKey, "kid1", Config{BypassAuthTokenVerification: true, IsDebug: true})

	token := signedToken(t, key, "kid1", "dummy", "flight-blender", "rid.display_provider")
	invoked := false
	handler := g.Require(Policy{Required: []string{"rid.display_provider"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		invoked = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if !invoked {
		t.Fatal("expected handler to be invoked")
	}
}

func TestBypassPathRejectsMissingScope(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	g := newPassthroughGate(t, &key.PublicKey, "kid1", Config{BypassAuthTokenVerification: true, IsDebug: true})

	token := signedToken(t, key, "kid1", "dummy", "flight-blender", "utm.strategic_coordination")
	handler := g.Require(Policy{Required: []string{"rid.display_provider"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be invoked")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
}

func newVerifiedGate(t *testing.T, passportKey *rsa.PublicKey, passportKid string, cfg Config) *Gate {
	t.Helper()
	fetch := func(ctx context.Context, url string) (map[string]interface{}, error) {
		if url == cfg.DSSJWKSURL {
			return map[string]interface{}{"keys": []interface{}{}}, nil
		}
		return jwksFetcher(rsaJWK(passportKid, passportKey))(ctx, url)
	}
	return New(cfg, jwksverify.New(jwksverify.Config{}, fetch))
}

func verifiedGateConfig() Config {
	return Config{
		PassportJWKSURL:  "https://passport.example/.well-known/jwks.json",
		PassportAudience: "aud",
		PassportIssuer:   "https://passport.example",
		DSSJWKSURL:       "https://dss.example/.well-known/jwks.json",
		DSSIssuer:        "https://dss.example",
	}
}

func TestVerifiedPathAllowsAllowlistedIssuer(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	cfg := verifiedGateConfig()
	g := newVerifiedGate(t, &key.PublicKey, "kid1", cfg)

	// Trailing slash on iss must still match the configured issuer.
	token := signedToken(t, key, "kid1", "https://passport.example/", "aud", "rid.display_provider")
	invoked := false
	handler := g.Require(Policy{Required: []string{"rid.display_provider"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		invoked = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if !invoked {
		t.Fatal("expected handler to be invoked")
	}
}

func TestVerifiedPathRejectsForgedIssuer(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	cfg := verifiedGateConfig()
	g := newVerifiedGate(t, &key.PublicKey, "kid1", cfg)

	token := signedToken(t, key, "kid1", "https://evil.example", "aud", "rid.display_provider")
	handler := g.Require(Policy{Required: []string{"rid.display_provider"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be invoked")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401, body=%s", rec.Code, rec.Body.String())
	}
	if got, want := rec.Body.String(), errInvalidIssuer.Error()+"\n"; got != want {
		t.Fatalf("got body %q, want %q", got, want)
	}
}

func TestVerifiedPathRejectsUnknownKid(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	cfg := verifiedGateConfig()
	g := newVerifiedGate(t, &key.PublicKey, "kid1", cfg)

	token := signedToken(t, key, "kid-unknown", "https://passport.example", "aud", "rid.display_provider")
	handler := g.Require(Policy{Required: []string{"rid.display_provider"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be invoked")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401, body=%s", rec.Code, rec.Body.String())
	}
}

func TestVerifiedPathRejectsInsufficientScope(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	cfg := verifiedGateConfig()
	g := newVerifiedGate(t, &key.PublicKey, "kid1", cfg)

	token := signedToken(t, key, "kid1", "https://passport.example", "aud", "utm.strategic_coordination")
	handler := g.Require(Policy{Required: []string{"rid.display_provider"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be invoked")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("got %d, want 403, body=%s", rec.Code, rec.Body.String())
	}
}

func TestPolicySatisfiedByAllowAny(t *testing.T) {
	p := Policy{Required: []string{"a", "b"}, AllowAny: true}
	if !p.satisfiedBy(map[string]bool{"b": true}) {
		t.Fatal("expected allow-any intersection to satisfy policy")
	}
	if p.satisfiedBy(map[string]bool{"c": true}) {
		t.Fatal("expected no intersection to fail policy")
	}
}

func TestPolicySatisfiedBySubset(t *testing.T) {
	p := Policy{Required: []string{"a", "b"}}
	if p.satisfiedBy(map[string]bool{"a": true}) {
		t.Fatal("expected partial scopes to fail subset policy")
	}
	if !p.satisfiedBy(map[string]bool{"a": true, "b": true, "c": true}) {
		t.Fatal("expected superset scopes to satisfy policy")
	}
}
