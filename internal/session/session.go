// Package session owns the authentication session: sign-in/sign-up, durable
// token storage, synchronous refresh on demand and proactive refresh in the
// background. Every other component obtains credentials exclusively through
// Manager.Token; nothing else reads token storage.
package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidCredentials = errors.New("session: invalid credentials")
	ErrAccountDisabled    = errors.New("session: account disabled")
	ErrAccountExists      = errors.New("session: account already exists")
	ErrRateLimited        = errors.New("session: rate limited")

	// ErrReauthenticationRequired means there is no usable session and no
	// refresh path; the user must sign in again.
	ErrReauthenticationRequired = errors.New("session: reauthentication required")
)

// Session is the single persisted authentication state.
type Session struct {
	SubjectID    string    `json:"subject_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IsZero reports an absent session.
func (s Session) IsZero() bool { return s.AccessToken == "" && s.RefreshToken == "" }

// FreshFor reports whether the access token is still usable at now plus the
// given safety window. The stored expiry is always checked against the wall
// clock; the token's own exp claim is never trusted on its own.
func (s Session) FreshFor(now time.Time, window time.Duration) bool {
	if s.AccessToken == "" || s.ExpiresAt.IsZero() {
		return false
	}
	exp := s.ExpiresAt
	// When the token itself carries an earlier expiry, believe the earlier one.
	if claim, ok := embeddedExpiry(s.AccessToken); ok && claim.Before(exp) {
		exp = claim
	}
	return now.Add(window).Before(exp)
}

// embeddedExpiry extracts the exp claim without verifying the signature;
// the server verifies, the client only schedules around it.
func embeddedExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// EmbeddedSubject extracts the sub claim without verification, for callers
// that need the user id before any profile read.
func EmbeddedSubject(token string) (string, bool) {
	if strings.Count(token, ".") != 2 {
		return "", false
	}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", false
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", false
	}
	return sub, true
}
