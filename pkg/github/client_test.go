package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestNewWithToken_Disabled(t *testing.T) {
	for _, tok := range []string{"", DisabledToken} {
		if c := NewWithToken(tok); c != nil {
			t.Errorf("NewWithToken(%q) = %v, want nil", tok, c)
		}
	}
}

func TestCreateIssue(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":9001,"number":42,"title":"Disk full","html_url":"https://github.com/acme/ops/issues/42"}`))
	}))
	defer srv.Close()

	c := NewWithToken("ghp_secret", WithBaseURL(srv.URL))
	issue, err := c.CreateIssue(context.Background(), "acme/ops", "Disk full", "on host-3")
	if err != nil {
		t.Fatalf("CreateIssue() error: %v", err)
	}
	if gotPath != "/repos/acme/ops/issues" {
		t.Errorf("path = %q, want %q", gotPath, "/repos/acme/ops/issues")
	}
	if gotAuth != "Bearer ghp_secret" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer ghp_secret")
	}
	if gotBody["title"] != "Disk full" || gotBody["body"] != "on host-3" {
		t.Errorf("body = %v", gotBody)
	}
	if issue.HTMLURL != "https://github.com/acme/ops/issues/42" {
		t.Errorf("HTMLURL = %q", issue.HTMLURL)
	}
	if issue.ID != 9001 || issue.Number != 42 {
		t.Errorf("ID/Number = %d/%d, want 9001/42", issue.ID, issue.Number)
	}
}

func TestCreateIssue_InvalidRepo(t *testing.T) {
	c := NewWithToken("t", WithBaseURL("http://127.0.0.1:0"))
	for _, repo := range []string{"", "acme", "/ops", "acme/", "a/b/c"} {
		if _, err := c.CreateIssue(context.Background(), repo, "t", ""); err == nil {
			t.Errorf("CreateIssue(%q) expected error", repo)
		}
	}
}

func TestCreateIssue_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not Found","documentation_url":"https://docs.github.com"}`))
	}))
	defer srv.Close()

	_, err := NewWithToken("t", WithBaseURL(srv.URL)).CreateIssue(context.Background(), "acme/ops", "x", "")
	if !IsNotFound(err) {
		t.Fatalf("IsNotFound(%v) = false, want true", err)
	}
	if IsRateLimited(err) {
		t.Error("IsRateLimited() = true for 404")
	}
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&APIError{StatusCode: 429}, true},
		{&APIError{StatusCode: 403, Message: "API rate limit exceeded for installation"}, true},
		{&APIError{StatusCode: 403, Message: "Resource not accessible"}, false},
		{&APIError{StatusCode: 500}, false},
	}
	for _, tt := range tests {
		if got := IsRateLimited(tt.err); got != tt.want {
			t.Errorf("IsRateLimited(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func testKeyPEM(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return key, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func TestAppAuth_ExchangesAndCaches(t *testing.T) {
	key, keyPEM := testKeyPEM(t)

	var exchanges atomic.Int32
	var issueAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/installations/77/access_tokens":
			exchanges.Add(1)
			raw := r.Header.Get("Authorization")[len("Bearer "):]
			tok, err := jwtlib.ParseWithClaims(raw, &jwtlib.RegisteredClaims{}, func(*jwtlib.Token) (any, error) {
				return &key.PublicKey, nil
			}, jwtlib.WithValidMethods([]string{"RS256"}))
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			if iss, _ := tok.Claims.GetIssuer(); iss != "12" {
				http.Error(w, "bad issuer "+iss, http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"token":      "ghs_install",
				"expires_at": time.Now().Add(time.Hour),
			})
		case "/repos/acme/ops/issues":
			issueAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":1,"number":1,"title":"t","html_url":"u"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewWithApp(12, 77, keyPEM, WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewWithApp() error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := c.CreateIssue(context.Background(), "acme/ops", "t", ""); err != nil {
			t.Fatalf("CreateIssue() error: %v", err)
		}
	}
	if issueAuth != "Bearer ghs_install" {
		t.Errorf("Authorization = %q, want %q", issueAuth, "Bearer ghs_install")
	}
	if got := exchanges.Load(); got != 1 {
		t.Errorf("token exchanges = %d, want 1", got)
	}
}

func TestAppAuth_RotatesBeforeExpiry(t *testing.T) {
	_, keyPEM := testKeyPEM(t)

	var exchanges atomic.Int32
	expiry := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"token": "ghs", "expires_at": expiry})
	}))
	defer srv.Close()

	auth, err := newAppAuth(1, 2, keyPEM)
	if err != nil {
		t.Fatalf("newAppAuth() error: %v", err)
	}
	auth.httpClient = srv.Client()
	auth.baseURL = srv.URL

	now := expiry.Add(-30 * time.Minute)
	auth.nowFunc = func() time.Time { return now }

	ctx := context.Background()
	if _, err := auth.authorization(ctx); err != nil {
		t.Fatalf("authorization() error: %v", err)
	}
	now = expiry.Add(-6 * time.Minute)
	auth.authorization(ctx)
	if got := exchanges.Load(); got != 1 {
		t.Fatalf("exchanges before margin = %d, want 1", got)
	}
	now = expiry.Add(-4 * time.Minute)
	auth.authorization(ctx)
	if got := exchanges.Load(); got != 2 {
		t.Errorf("exchanges inside margin = %d, want 2", got)
	}
}

func TestAppAuth_ExchangeFailure(t *testing.T) {
	_, keyPEM := testKeyPEM(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"A JSON web token could not be decoded"}`))
	}))
	defer srv.Close()

	c, err := NewWithApp(1, 2, keyPEM, WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewWithApp() error: %v", err)
	}
	if _, err := c.CreateIssue(context.Background(), "a/b", "t", ""); err == nil {
		t.Error("expected error when token exchange fails")
	}
}

func TestNewWithApp_Invalid(t *testing.T) {
	if _, err := NewWithApp(1, 2, []byte("not a key")); err == nil {
		t.Error("expected error for invalid PEM")
	}
	_, keyPEM := testKeyPEM(t)
	if _, err := NewWithApp(0, 2, keyPEM); err == nil {
		t.Error("expected error for missing app id")
	}
}
