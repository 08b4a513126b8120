package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sessionkeeper/sessionkeeper/authn"
	"github.com/sessionkeeper/sessionkeeper/retry"
)

// fastRetry keeps test retries from sleeping.
func fastRetry(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Multiplier:  1.0,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{
		BaseURL: srv.URL,
		APIKey:  "test-apikey",
		Retry:   fastRetry(3),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client, srv
}

func TestSignInPasswordGrant(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/token" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("grant_type"); got != "password" {
			t.Errorf("grant_type = %q, want password", got)
		}
		if got := r.Header.Get("apikey"); got != "test-apikey" {
			t.Errorf("apikey header = %q", got)
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		if body["email"] != "u@example.com" || body["password"] != "pw" {
			t.Errorf("request body = %v", body)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"expires_in":    3600,
			"user":          map[string]string{"id": "user-1"},
		})
	}))

	sess, err := client.SignIn(context.Background(), authn.Credential{Email: "u@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if sess.AccessToken != "access-1" || sess.RefreshToken != "refresh-1" || sess.UserID != "user-1" {
		t.Fatalf("session = %+v", sess)
	}
	wantExp := time.Now().Add(time.Hour)
	if sess.ExpiresAt.Sub(wantExp).Abs() > 5*time.Second {
		t.Fatalf("ExpiresAt = %v, want about %v", sess.ExpiresAt, wantExp)
	}
}

func TestSignInRequiresIdentifier(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	if _, err := client.SignIn(context.Background(), authn.Credential{Password: "pw"}); err == nil {
		t.Fatal("expected an error for a credential with no identifier")
	}
}

func TestExchangeRefreshToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "refresh-old" {
			t.Errorf("refresh_token = %q", body["refresh_token"])
		}

		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-2",
			"refresh_token": "refresh-new",
			"expires_at":    time.Now().Add(time.Hour).Unix(),
			"user":          map[string]string{"id": "user-1"},
		})
	}))

	sess, err := client.ExchangeRefreshToken(context.Background(), "refresh-old")
	if err != nil {
		t.Fatalf("ExchangeRefreshToken failed: %v", err)
	}
	if sess.AccessToken != "access-2" || sess.RefreshToken != "refresh-new" {
		t.Fatalf("session = %+v", sess)
	}
	if sess.ExpiresAt.IsZero() {
		t.Fatal("ExpiresAt not populated from expires_at")
	}
}

func TestExchangeRejectedTokenIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error_description": "Invalid Refresh Token: Already Used",
		})
	}))

	_, err := client.ExchangeRefreshToken(context.Background(), "refresh-revoked")
	if !errors.Is(err, authn.ErrInvalidRefreshToken) {
		t.Fatalf("error = %v, want ErrInvalidRefreshToken", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("server calls = %d, a rejected refresh token must not be retried", n)
	}
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.ExchangeRefreshToken(context.Background(), "refresh-1")
	if !errors.Is(err, authn.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("server calls = %d, want every configured attempt", n)
	}
}

func TestServerErrorThenRecovery(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-3",
			"refresh_token": "refresh-3",
			"expires_in":    3600,
		})
	}))

	sess, err := client.ExchangeRefreshToken(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("ExchangeRefreshToken failed: %v", err)
	}
	if sess.AccessToken != "access-3" {
		t.Fatalf("session = %+v", sess)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("server calls = %d, want 2", n)
	}
}

func TestResumeWithTokensIsLocal(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("resume must not reach the network")
	}))

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-5",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("minting JWT failed: %v", err)
	}

	sess, err := client.ResumeWithTokens(context.Background(), access, "refresh-1")
	if err != nil {
		t.Fatalf("ResumeWithTokens failed: %v", err)
	}
	if sess.UserID != "user-5" || sess.AccessToken != access || sess.RefreshToken != "refresh-1" {
		t.Fatalf("session = %+v", sess)
	}
	if !sess.ExpiresAt.Equal(exp) {
		t.Fatalf("ExpiresAt = %v, want %v", sess.ExpiresAt, exp)
	}
}

func TestResumeRejectsNearExpiryToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("resume must not reach the network")
	}))

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Second)),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("minting JWT failed: %v", err)
	}

	if _, err := client.ResumeWithTokens(context.Background(), access, "refresh-1"); !errors.Is(err, authn.ErrResumeUnsupported) {
		t.Fatalf("error = %v, want ErrResumeUnsupported", err)
	}
}

func TestResumeRejectsOpaqueToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("resume must not reach the network")
	}))

	if _, err := client.ResumeWithTokens(context.Background(), "opaque", "refresh-1"); !errors.Is(err, authn.ErrResumeUnsupported) {
		t.Fatalf("error = %v, want ErrResumeUnsupported", err)
	}
}

func TestExpiryFallsBackToTokenClaim(t *testing.T) {
	exp := time.Now().Add(45 * time.Minute).Truncate(time.Second)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-8",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("minting JWT failed: %v", err)
	}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Neither expires_in nor expires_at nor a user record.
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"refresh_token": "refresh-1",
		})
	}))

	sess, err := client.ExchangeRefreshToken(context.Background(), "refresh-0")
	if err != nil {
		t.Fatalf("ExchangeRefreshToken failed: %v", err)
	}
	if !sess.ExpiresAt.Equal(exp) {
		t.Fatalf("ExpiresAt = %v, want the token's exp claim %v", sess.ExpiresAt, exp)
	}
	if sess.UserID != "user-8" {
		t.Fatalf("UserID = %q, want the token's sub claim", sess.UserID)
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected an error for a missing base URL")
	}
}
