package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

const schedulerAudience = "https://portal.example.com/api/v1/internal/payments/reminders:sweep"

func TestOIDCRequireOIDC_Success(t *testing.T) {
	validator, token, fetches := setupOIDCTest(t, nil)

	mw := validator.RequireOIDC(schedulerAudience, []string{"https://accounts.google.com"})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/payments/reminders:sweep", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := ServiceIdentityFromContext(r.Context())
		if !ok || identity.Email != "scheduler@waypoint.iam.gserviceaccount.com" {
			t.Fatalf("expected service identity in context, got %+v", identity)
		}
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}

	// second request served from cache
	rr = httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rr, req)
	if got := fetches.Load(); got != 1 {
		t.Fatalf("expected single JWKS fetch, got %d", got)
	}
}

func TestOIDCRequireOIDC_Rejections(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(jwt.MapClaims)
		audience string
		issuers  []string
		status   int
	}{
		{name: "audience mismatch", audience: "https://other.example.com", issuers: []string{"https://accounts.google.com"}, status: http.StatusUnauthorized},
		{name: "issuer mismatch", audience: schedulerAudience, issuers: []string{"https://cloud.google.com/iap"}, status: http.StatusUnauthorized},
		{name: "expired", audience: schedulerAudience, issuers: []string{"https://accounts.google.com"}, status: http.StatusUnauthorized,
			mutate: func(c jwt.MapClaims) { c["exp"] = float64(time.Unix(1_600_000_000, 0).Unix()) }},
		{name: "audience not configured", audience: "", issuers: []string{"https://accounts.google.com"}, status: http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validator, token, _ := setupOIDCTest(t, tc.mutate)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)

			validator.RequireOIDC(tc.audience, tc.issuers)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not be called")
			})).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestOIDCRequireOIDC_JWKSUnavailable(t *testing.T) {
	validator, token, _ := setupOIDCTest(t, nil)
	validator.cache.url = "http://127.0.0.1:1/unreachable"

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	validator.RequireOIDC(schedulerAudience, []string{"https://accounts.google.com"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestMaxAge(t *testing.T) {
	if got := maxAge("public, max-age=600, must-revalidate"); got != 10*time.Minute {
		t.Fatalf("unexpected max age %s", got)
	}
	if got := maxAge("no-cache"); got != defaultJWKSValidity {
		t.Fatalf("expected default validity, got %s", got)
	}
}

func setupOIDCTest(t *testing.T, mutate func(jwt.MapClaims)) (*OIDCValidator, string, *atomic.Int32) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "svc-key", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}

	fetches := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Cache-Control", "max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)

	now := time.Unix(1_700_000_000, 0)
	original := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = original })

	validator := NewOIDCValidator(NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return now })), zap.NewNop())

	claims := jwt.MapClaims{
		"aud":   schedulerAudience,
		"iss":   "https://accounts.google.com",
		"sub":   "1234567890",
		"email": "scheduler@waypoint.iam.gserviceaccount.com",
		"exp":   float64(now.Add(time.Hour).Unix()),
		"iat":   float64(now.Unix()),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return validator, signed, fetches
}
