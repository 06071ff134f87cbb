package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"roomledger.org/internal/obs"
)

// State names the manager's position in its lifecycle.
type State string

const (
	StateNoSession      State = "no_session"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateRefreshing     State = "refreshing"
	StateExpired        State = "expired"
)

const (
	defaultSafetyWindow = 30 * time.Second
	minProactiveDelay   = 30 * time.Second
	proactiveTimeout    = 20 * time.Second
)

// Manager owns the persisted Session. It is the only writer of token
// storage; all reads go through Token so a concurrent refresh can never be
// observed as a torn session.
type Manager struct {
	api    AuthAPI
	store  TokenStore
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	state State
	timer *time.Timer // single outstanding proactive refresh
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithSafetyWindow sets how close to expiry a token is still handed out.
func WithSafetyWindow(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.window = d
		}
	}
}

// NewManager constructs a Manager over an auth API and a token store.
func NewManager(api AuthAPI, store TokenStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		api:    api,
		store:  store,
		window: defaultSafetyWindow,
		now:    time.Now,
		state:  StateNoSession,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SignIn exchanges credentials for a fresh session and persists it.
func (m *Manager) SignIn(ctx context.Context, email, password string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateAuthenticating
	s, err := m.api.SignIn(ctx, email, password)
	if err != nil {
		m.state = StateNoSession
		return Session{}, err
	}
	return m.adoptLocked(ctx, s)
}

// SignUp registers a new account and persists the resulting session.
func (m *Manager) SignUp(ctx context.Context, creds Credentials) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateAuthenticating
	s, err := m.api.SignUp(ctx, creds)
	if err != nil {
		m.state = StateNoSession
		return Session{}, err
	}
	return m.adoptLocked(ctx, s)
}

// SignOut clears persisted tokens and cancels any pending proactive
// refresh. Calling it without a session is fine.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
	m.state = StateNoSession
	return m.store.Clear(ctx)
}

// Token returns a currently valid access token, refreshing synchronously
// when the stored one is expired or inside the safety window. This is the
// docstore.TokenSource implementation every component uses.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.loadLocked(ctx)
	if !ok {
		m.state = StateNoSession
		return "", ErrReauthenticationRequired
	}
	if s.FreshFor(m.now(), m.window) {
		m.state = StateAuthenticated
		return s.AccessToken, nil
	}
	if s.RefreshToken == "" {
		m.state = StateExpired
		return "", ErrReauthenticationRequired
	}
	m.state = StateRefreshing
	refreshed, err := m.refreshLocked(ctx, s.RefreshToken, "lazy")
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Subject returns the signed-in user id, or ErrReauthenticationRequired.
func (m *Manager) Subject(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.loadLocked(ctx)
	if !ok || s.SubjectID == "" {
		return "", ErrReauthenticationRequired
	}
	return s.SubjectID, nil
}

// loadLocked reads the store; read errors degrade to "no session" so a
// locked device or unreachable store never crashes a background caller.
func (m *Manager) loadLocked(ctx context.Context) (Session, bool) {
	s, ok, err := m.store.Load(ctx)
	if err != nil {
		obs.LogOp(map[string]any{
			"ts":    m.now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "session store read failed, treating as signed out",
			"err":   err.Error(),
		})
		return Session{}, false
	}
	return s, ok && !s.IsZero()
}

func (m *Manager) adoptLocked(ctx context.Context, s Session) (Session, error) {
	if err := m.store.Save(ctx, s); err != nil {
		m.state = StateNoSession
		return Session{}, err
	}
	m.state = StateAuthenticated
	m.armTimerLocked(s)
	return s, nil
}

func (m *Manager) refreshLocked(ctx context.Context, refreshToken, trigger string) (Session, error) {
	s, err := m.api.Refresh(ctx, refreshToken)
	if err != nil {
		obs.CountTokenRefresh(trigger, "error")
		switch {
		case errors.Is(err, ErrReauthenticationRequired), errors.Is(err, ErrInvalidCredentials):
			m.state = StateExpired
			return Session{}, ErrReauthenticationRequired
		default:
			m.state = StateAuthenticated // old session may still be usable later
			return Session{}, err
		}
	}
	obs.CountTokenRefresh(trigger, "ok")
	return m.adoptLocked(ctx, s)
}

// armTimerLocked schedules the proactive refresh at 70% of the token's
// remaining lifetime, never sooner than the floor. Exactly one timer is
// outstanding per manager; re-arming stops the previous one.
func (m *Manager) armTimerLocked(s Session) {
	m.stopTimerLocked()
	remaining := s.ExpiresAt.Sub(m.now())
	if remaining <= 0 {
		return
	}
	delay := time.Duration(float64(remaining) * 0.7)
	if delay < minProactiveDelay {
		delay = minProactiveDelay
	}
	refreshToken := s.RefreshToken
	m.timer = time.AfterFunc(delay, func() { m.proactiveRefresh(refreshToken) })
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// proactiveRefresh runs on the timer goroutine. Failures are logged and
// swallowed; the next Token call retries lazily.
func (m *Manager) proactiveRefresh(refreshToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), proactiveTimeout)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.loadLocked(ctx)
	if !ok || s.RefreshToken != refreshToken {
		return // signed out or rotated since the timer was armed
	}
	if _, err := m.refreshLocked(ctx, s.RefreshToken, "proactive"); err != nil {
		obs.LogOp(map[string]any{
			"ts":    m.now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "proactive token refresh failed",
			"err":   err.Error(),
		})
	}
}
