package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable reports a transient auth-service failure; the caller
// decides whether to retry the whole user action.
var ErrUnavailable = errors.New("session: service unavailable")

// Credentials are the sign-up inputs beyond identifier/secret.
type Credentials struct {
	Email    string
	Password string
	FullName string
}

// AuthAPI exchanges credentials for sessions and refreshes them. The REST
// implementation talks to the hosted identity service; tests use fakes.
type AuthAPI interface {
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignUp(ctx context.Context, creds Credentials) (Session, error)
	Refresh(ctx context.Context, refreshToken string) (Session, error)
}

// RESTAuthAPI implements AuthAPI over the identity service's JSON endpoints.
type RESTAuthAPI struct {
	base   string
	apiKey string
	http   *http.Client
	now    func() time.Time
}

// NewRESTAuthAPI creates the client. apiKey is appended to every call.
func NewRESTAuthAPI(base, apiKey string) *RESTAuthAPI {
	return &RESTAuthAPI{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (a *RESTAuthAPI) WithHTTPClient(h *http.Client) *RESTAuthAPI {
	if h != nil {
		a.http = h
	}
	return a
}

type authResponse struct {
	LocalID      string `json:"localId"`
	UserID       string `json:"user_id"`
	IDToken      string `json:"idToken"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refreshToken"`
	RefreshAlt   string `json:"refresh_token"`
	ExpiresIn    string `json:"expiresIn"`
	ExpiresAlt   string `json:"expires_in"`
}

func (a *RESTAuthAPI) SignIn(ctx context.Context, email, password string) (Session, error) {
	return a.post(ctx, "/accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
}

func (a *RESTAuthAPI) SignUp(ctx context.Context, creds Credentials) (Session, error) {
	return a.post(ctx, "/accounts:signUp", map[string]any{
		"email":             creds.Email,
		"password":          creds.Password,
		"displayName":       creds.FullName,
		"returnSecureToken": true,
	})
}

func (a *RESTAuthAPI) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, ErrReauthenticationRequired
	}
	return a.post(ctx, "/token", map[string]any{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
}

func (a *RESTAuthAPI) post(ctx context.Context, path string, body map[string]any) (Session, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Session{}, err
	}
	u := a.base + path
	if a.apiKey != "" {
		u += "?key=" + a.apiKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Session{}, a.mapError(resp)
	}
	var ar authResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return Session{}, fmt.Errorf("session: decode auth response: %w", err)
	}
	return a.toSession(ar)
}

func (a *RESTAuthAPI) toSession(ar authResponse) (Session, error) {
	s := Session{
		SubjectID:    firstNonEmpty(ar.LocalID, ar.UserID),
		AccessToken:  firstNonEmpty(ar.IDToken, ar.AccessToken),
		RefreshToken: firstNonEmpty(ar.RefreshToken, ar.RefreshAlt),
	}
	if s.AccessToken == "" {
		return Session{}, errors.New("session: auth response without token")
	}
	if s.SubjectID == "" {
		if sub, ok := EmbeddedSubject(s.AccessToken); ok {
			s.SubjectID = sub
		}
	}
	raw := firstNonEmpty(ar.ExpiresIn, ar.ExpiresAlt)
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		secs = 3600
	}
	s.ExpiresAt = a.now().UTC().Add(time.Duration(secs) * time.Second)
	return s, nil
}

func (a *RESTAuthAPI) mapError(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return ErrUnavailable
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)
	msg := body.Error.Message

	switch {
	case strings.HasPrefix(msg, "EMAIL_EXISTS"):
		return ErrAccountExists
	case strings.HasPrefix(msg, "USER_DISABLED"):
		return ErrAccountDisabled
	case strings.HasPrefix(msg, "TOO_MANY_ATTEMPTS"):
		return ErrRateLimited
	case strings.HasPrefix(msg, "EMAIL_NOT_FOUND"),
		strings.HasPrefix(msg, "INVALID_PASSWORD"),
		strings.HasPrefix(msg, "INVALID_LOGIN_CREDENTIALS"):
		return ErrInvalidCredentials
	case strings.HasPrefix(msg, "TOKEN_EXPIRED"),
		strings.HasPrefix(msg, "INVALID_REFRESH_TOKEN"),
		strings.HasPrefix(msg, "USER_NOT_FOUND"):
		return ErrReauthenticationRequired
	}
	return fmt.Errorf("session: auth request failed: %s (%d)", msg, resp.StatusCode)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
