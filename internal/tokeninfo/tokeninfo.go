// Package tokeninfo extracts claims from JWT access tokens and optionally
// verifies their signatures against a JWKS endpoint. The coordinator uses the
// unverified helpers to backfill an expiry when a session record carries none;
// deployments that want to verify a persisted session before trusting it can
// construct a Verifier.
package tokeninfo

import (
	"context"
	"errors"
	"fmt"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT indicates the token string is not parseable as a JWT at all.
var ErrNotJWT = errors.New("tokeninfo: token is not a JWT")

// ErrNoExpiry indicates the token parsed but carries no exp claim.
var ErrNoExpiry = errors.New("tokeninfo: token carries no expiry")

// ErrInvalidToken indicates a Verifier rejected the token (signature, expiry,
// issuer, or algorithm).
var ErrInvalidToken = errors.New("tokeninfo: invalid token")

var unverifiedParser = jwt.NewParser()

// Expiry returns the exp claim of the token without verifying its signature.
// The result is advisory: freshness decisions may rely on it, trust decisions
// must not.
func Expiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// Subject returns the sub claim of the token without verifying its signature.
func Subject(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotJWT, err)
	}
	return claims.Subject, nil
}

// VerifierConfig controls signature validation behavior.
type VerifierConfig struct {
	// JWKSURL is the endpoint serving the signing keys. Required.
	JWKSURL string

	// Issuer, when non-empty, is enforced against the iss claim.
	Issuer string

	// AllowedAlgs restricts accepted JWS algorithms. Defaults to RS256 and
	// ES256. "none" is never allowed.
	AllowedAlgs []string

	// Leeway adds clock-skew tolerance to time-based claims.
	Leeway time.Duration
}

// Verifier validates access token signatures against an auto-refreshing JWKS.
type Verifier struct {
	parser  *jwt.Parser
	keyfunc jwt.Keyfunc
}

// NewVerifier fetches the JWKS at cfg.JWKSURL and returns a Verifier that
// keeps the key set refreshed for the lifetime of ctx.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	if cfg.JWKSURL == "" {
		return nil, errors.New("tokeninfo: JWKS URL is required")
	}
	algs := cfg.AllowedAlgs
	if len(algs) == 0 {
		algs = []string{"RS256", "ES256"}
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(algs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Verifier{
		parser:  jwt.NewParser(parserOpts...),
		keyfunc: kf.Keyfunc,
	}, nil
}

// Verify checks the token's signature and time-based claims and returns its
// registered claims. Failures are reported as ErrInvalidToken.
func (v *Verifier) Verify(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, v.keyfunc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
