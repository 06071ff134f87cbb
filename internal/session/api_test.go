package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func authServer(t *testing.T, status int, body map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestRESTSignInSuccess(t *testing.T) {
	srv := authServer(t, http.StatusOK, map[string]any{
		"localId":      "u1",
		"idToken":      "tok",
		"refreshToken": "ref",
		"expiresIn":    "3600",
	})
	defer srv.Close()

	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	api := NewRESTAuthAPI(srv.URL, "k")
	api.now = func() time.Time { return now }

	s, err := api.SignIn(context.Background(), "a@b.c", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if s.SubjectID != "u1" || s.AccessToken != "tok" || s.RefreshToken != "ref" {
		t.Fatalf("unexpected session: %#v", s)
	}
	if !s.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %v", s.ExpiresAt)
	}
}

func TestRESTErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		msg    string
		want   error
	}{
		{http.StatusBadRequest, "INVALID_LOGIN_CREDENTIALS", ErrInvalidCredentials},
		{http.StatusBadRequest, "EMAIL_NOT_FOUND", ErrInvalidCredentials},
		{http.StatusBadRequest, "USER_DISABLED", ErrAccountDisabled},
		{http.StatusBadRequest, "EMAIL_EXISTS", ErrAccountExists},
		{http.StatusBadRequest, "TOO_MANY_ATTEMPTS_TRY_LATER", ErrRateLimited},
		{http.StatusBadRequest, "TOKEN_EXPIRED", ErrReauthenticationRequired},
		{http.StatusInternalServerError, "", ErrUnavailable},
		{http.StatusTooManyRequests, "", ErrRateLimited},
	}
	for _, tc := range cases {
		srv := authServer(t, tc.status, map[string]any{
			"error": map[string]any{"message": tc.msg},
		})
		api := NewRESTAuthAPI(srv.URL, "k")
		_, err := api.SignIn(context.Background(), "a@b.c", "pw")
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("%d %q: expected %v, got %v", tc.status, tc.msg, tc.want, err)
		}
	}
}

func TestRESTRefreshSnakeCaseResponse(t *testing.T) {
	srv := authServer(t, http.StatusOK, map[string]any{
		"user_id":       "u1",
		"access_token":  "tok2",
		"refresh_token": "ref2",
		"expires_in":    "1800",
	})
	defer srv.Close()

	api := NewRESTAuthAPI(srv.URL, "k")
	s, err := api.Refresh(context.Background(), "ref1")
	if err != nil {
		t.Fatal(err)
	}
	if s.AccessToken != "tok2" || s.RefreshToken != "ref2" || s.SubjectID != "u1" {
		t.Fatalf("unexpected session: %#v", s)
	}
}

func TestRESTRefreshWithoutToken(t *testing.T) {
	api := NewRESTAuthAPI("http://127.0.0.1:0", "k")
	if _, err := api.Refresh(context.Background(), ""); !errors.Is(err, ErrReauthenticationRequired) {
		t.Fatalf("expected ErrReauthenticationRequired, got %v", err)
	}
}
