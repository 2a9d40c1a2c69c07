package rest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signedToken(t *testing.T, secret []byte, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// newAuthServer builds a router with HS256 auth enabled on mutating routes.
func newAuthServer(ms *mockStore, mb *mockBlocker) http.Handler {
	logger := discardLogger()
	srv := NewServer(ms, mb, &mockDetector{}, nil, logger)
	return NewRouter(srv, testSecret, logger)
}

func authRequest(t *testing.T, h http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/block",
		strings.NewReader(`{"ip_address":"198.51.100.1"}`))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth_ValidToken(t *testing.T) {
	mb := &mockBlocker{}
	h := newAuthServer(&mockStore{}, mb)

	rec := authRequest(t, h, signedToken(t, testSecret, time.Now().Add(time.Hour)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(mb.blocked) != 1 {
		t.Error("handler did not run behind valid token")
	}
}

func TestRequireAuth_MissingToken(t *testing.T) {
	mb := &mockBlocker{}
	h := newAuthServer(&mockStore{}, mb)

	rec := authRequest(t, h, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(mb.blocked) != 0 {
		t.Error("handler ran without a token")
	}
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	h := newAuthServer(&mockStore{}, &mockBlocker{})
	rec := authRequest(t, h, signedToken(t, testSecret, time.Now().Add(-time.Hour)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuth_WrongSecret(t *testing.T) {
	h := newAuthServer(&mockStore{}, &mockBlocker{})
	rec := authRequest(t, h, signedToken(t, []byte("other-secret"), time.Now().Add(time.Hour)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuth_ReadsAndIngestStayOpen(t *testing.T) {
	h := newAuthServer(&mockStore{}, &mockBlocker{})

	for _, path := range []string{"/api/v1/suspicious-ips", "/api/v1/vms", "/api/v1/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusUnauthorized {
			t.Errorf("%s requires auth, want open", path)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events",
		strings.NewReader(`{"host_id":"vm-1","events":[]}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("ingest status = %d, want 200 without auth", rec.Code)
	}
}
