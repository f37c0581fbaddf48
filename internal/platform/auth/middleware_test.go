package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func TestRequireFirebaseAuth_AllowsAdmin(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: "staff-1",
		Claims: map[string]any{
			"role":   []any{"admin", "ADMIN"},
			"email":  "staff@waypoint.example",
			"locale": "es",
		},
	}}
	authn := NewAuthenticator(verifier)

	called := false
	handler := authn.RequireFirebaseAuth(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if !identity.IsAdmin() || len(identity.Roles) != 1 {
			t.Fatalf("expected de-duplicated admin role, got %v", identity.Roles)
		}
		if identity.Email != "staff@waypoint.example" || identity.Locale != "es" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/payments/register", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !called || rr.Code != http.StatusNoContent {
		t.Fatalf("expected handler to run, status %d", rr.Code)
	}
	if verifier.received != "token-abc" {
		t.Fatalf("unexpected token forwarded: %s", verifier.received)
	}
}

func TestRequireFirebaseAuth_DefaultsToClientRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "client-1", Claims: map[string]any{}}}
	authn := NewAuthenticator(verifier)

	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if !identity.HasRole(RoleClient) {
			t.Fatalf("expected client role, got %v", identity.Roles)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer t")
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func TestRequireFirebaseAuth_AdminFlagClaim(t *testing.T) {
	roles := rolesFromClaims(map[string]any{"admin": true}, "role")
	if len(roles) != 1 || roles[0] != RoleAdmin {
		t.Fatalf("expected admin flag to map to admin role, got %v", roles)
	}
}

func TestRequireFirebaseAuth_Errors(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		verifier *stubTokenVerifier
		roles    []string
		status   int
		code     string
	}{
		{name: "missing header", status: http.StatusUnauthorized, code: "unauthenticated",
			verifier: &stubTokenVerifier{}},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized, code: "unauthenticated",
			verifier: &stubTokenVerifier{}},
		{name: "expired", header: "Bearer t", status: http.StatusUnauthorized, code: "token_expired",
			verifier: &stubTokenVerifier{err: ErrTokenExpired}},
		{name: "invalid", header: "Bearer t", status: http.StatusUnauthorized, code: "invalid_token",
			verifier: &stubTokenVerifier{err: errors.New("boom")}},
		{name: "wrong role", header: "Bearer t", roles: []string{RoleAdmin}, status: http.StatusForbidden, code: "forbidden",
			verifier: &stubTokenVerifier{token: &firebaseauth.Token{UID: "client-1", Claims: map[string]any{"role": "client"}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authn := NewAuthenticator(tc.verifier)
			handler := authn.RequireFirebaseAuth(tc.roles...)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not be called")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mw := RequireRole(RoleAdmin)(next)

	rr := httptest.NewRecorder()
	mw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), &Identity{UID: "c", Roles: []string{RoleClient}}))
	rr = httptest.NewRecorder()
	mw.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for client, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), &Identity{UID: "a", Roles: []string{"Admin"}}))
	rr = httptest.NewRecorder()
	mw.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rr.Code)
	}
}
