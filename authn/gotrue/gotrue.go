// Package gotrue implements authn.Provider against a GoTrue-style
// authentication endpoint (the token API exposed by Supabase projects, among
// others). It speaks the password and refresh_token grants of
// POST {base}/token and fills in the session expiry from the response body,
// falling back to the access token's exp claim when the body omits it.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sessionkeeper/sessionkeeper/authn"
	"github.com/sessionkeeper/sessionkeeper/internal/tokeninfo"
	"github.com/sessionkeeper/sessionkeeper/retry"
)

// resumeSkew is the minimum remaining validity for ResumeWithTokens to accept
// a token pair without a network round trip.
const resumeSkew = 30 * time.Second

// Config contains configuration options for the GoTrue client.
type Config struct {
	// BaseURL is the auth endpoint root, e.g.
	// "https://<project>.supabase.co/auth/v1". Required.
	BaseURL string

	// APIKey is sent as the "apikey" header on every request. Required for
	// Supabase-hosted deployments.
	APIKey string

	// HTTPClient overrides the HTTP client. Defaults to a client with a
	// 10s timeout.
	HTTPClient *http.Client

	// Retry controls retries for transient transport failures. Defaults to
	// retry.DefaultPolicy. Non-retryable failures (rejected credentials,
	// revoked refresh tokens) are never retried.
	Retry retry.Policy
}

// Client is an HTTP authn.Provider.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   retry.Policy
}

var _ authn.Provider = (*Client)(nil)

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gotrue: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("gotrue: invalid base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
		retry:   policy,
	}, nil
}

// tokenResponse is the subset of the GoTrue token payload the coordinator
// needs.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

// errorResponse covers the error body shapes GoTrue has used across
// versions.
type errorResponse struct {
	Error       string `json:"error"`
	ErrorCode   string `json:"error_code"`
	Description string `json:"error_description"`
	Msg         string `json:"msg"`
	Message     string `json:"message"`
}

func (e *errorResponse) text() string {
	for _, s := range []string{e.Description, e.Msg, e.Message, e.Error, e.ErrorCode} {
		if s != "" {
			return s
		}
	}
	return "unknown error"
}

func (c *Client) SignIn(ctx context.Context, cred authn.Credential) (authn.Session, error) {
	body := map[string]string{"password": cred.Password}
	switch {
	case cred.Email != "":
		body["email"] = cred.Email
	case cred.Phone != "":
		body["phone"] = cred.Phone
	default:
		return authn.Session{}, errors.New("gotrue: credential requires email or phone")
	}

	return c.tokenGrant(ctx, "password", body)
}

// ResumeWithTokens accepts a previously issued pair without a network call
// when the access token still has comfortably more than resumeSkew of
// validity. GoTrue has no server-side resume endpoint, so anything closer to
// expiry is reported as unsupported and the caller falls back to the full
// refresh token exchange.
func (c *Client) ResumeWithTokens(ctx context.Context, accessToken, refreshToken string) (authn.Session, error) {
	exp, err := tokeninfo.Expiry(accessToken)
	if err != nil {
		return authn.Session{}, authn.ErrResumeUnsupported
	}
	if time.Until(exp) <= resumeSkew {
		return authn.Session{}, authn.ErrResumeUnsupported
	}

	sess := authn.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    exp,
	}
	if sub, err := tokeninfo.Subject(accessToken); err == nil {
		sess.UserID = sub
	}
	return sess, nil
}

func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (authn.Session, error) {
	return c.tokenGrant(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

func (c *Client) tokenGrant(ctx context.Context, grantType string, body map[string]string) (authn.Session, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return authn.Session{}, fmt.Errorf("gotrue: encode request: %w", err)
	}

	var sess authn.Session
	err = retry.Do(ctx, c.retry, func(ctx context.Context) error {
		var attemptErr error
		sess, attemptErr = c.tokenGrantOnce(ctx, grantType, payload)
		return attemptErr
	})
	return sess, err
}

func (c *Client) tokenGrantOnce(ctx context.Context, grantType string, payload []byte) (authn.Session, error) {
	endpoint := fmt.Sprintf("%s/token?grant_type=%s", c.baseURL, url.QueryEscape(grantType))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return authn.Session{}, retry.Stop(fmt.Errorf("gotrue: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return authn.Session{}, fmt.Errorf("%w: %v", authn.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return authn.Session{}, fmt.Errorf("%w: read response: %v", authn.ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return authn.Session{}, fmt.Errorf("%w: status %d", authn.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		var body errorResponse
		_ = json.Unmarshal(data, &body)
		if grantType == "refresh_token" {
			return authn.Session{}, retry.Stop(fmt.Errorf("%w: %s", authn.ErrInvalidRefreshToken, body.text()))
		}
		return authn.Session{}, retry.Stop(fmt.Errorf("gotrue: %s grant rejected: %s", grantType, body.text()))
	}

	var tok tokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		return authn.Session{}, retry.Stop(fmt.Errorf("gotrue: decode response: %w", err))
	}
	if tok.AccessToken == "" {
		return authn.Session{}, retry.Stop(errors.New("gotrue: response missing access token"))
	}

	sess := authn.Session{
		UserID:       tok.User.ID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	switch {
	case tok.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(tok.ExpiresAt, 0)
	case tok.ExpiresIn > 0:
		sess.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	default:
		if exp, err := tokeninfo.Expiry(tok.AccessToken); err == nil {
			sess.ExpiresAt = exp
		}
	}
	if sess.UserID == "" {
		if sub, err := tokeninfo.Subject(tok.AccessToken); err == nil {
			sess.UserID = sub
		}
	}
	return sess, nil
}
