// Package session owns the authentication session lifecycle: login, token
// persistence, expiry detection, and forced logout on authorization
// failure. The Manager is the only writer of the in-memory Session and the
// persisted token.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tonimelisma/tenantcal/internal/backend"
	"github.com/tonimelisma/tenantcal/internal/notify"
	"github.com/tonimelisma/tenantcal/internal/tokenfile"
)

// Exchanger trades a provider code for a session token.
type Exchanger interface {
	ExchangeCode(ctx context.Context, providerCode string) (*backend.AuthResponse, error)
}

// TokenStore is the persistent token store.
type TokenStore interface {
	Load() (*tokenfile.Record, error)
	Save(rec tokenfile.Record) error
	Remove() error
}

// Reasons attached to SessionInvalidated notifications.
const (
	ReasonUnauthorized = "authorization rejected by backend"
	ReasonExpired      = "session expired"
	ReasonTokenRemoved = "session token removed from store"
)

// Manager is the session state machine:
//
//	LoggedOut → Authenticating → LoggedIn → (Expired | Unauthorized) → LoggedOut
//
// All transitions happen under mu. Snapshot and State use atomics and never
// wait on a transition; Active, Credential and CurrentToken do only when they
// find the session expired.
type Manager struct {
	mu         sync.Mutex
	session    *Session
	generation uint64
	attempt    uint64 // login attempt counter, guards a login racing a logout
	listeners  []Listener

	state   atomic.Int32
	current atomic.Pointer[Session]

	exchanger Exchanger
	store     TokenStore
	bus       notify.Publisher
	logger    *slog.Logger
	nowFunc   func() time.Time
}

// NewManager creates a Manager in LoggedOut. Call Restore once at startup to
// pick up a persisted session.
func NewManager(exchanger Exchanger, store TokenStore, bus notify.Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if bus == nil {
		bus = notify.Discard
	}

	return &Manager{
		exchanger: exchanger,
		store:     store,
		bus:       bus,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// AddListener registers l for all subsequent transitions.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, l)
}

// State returns the current state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Snapshot returns a copy of the current session, or false when not
// LoggedIn.
func (m *Manager) Snapshot() (Session, bool) {
	s := m.current.Load()
	if s == nil {
		return Session{}, false
	}

	return *s, true
}

// Active returns the live session. A session found past its expiry is
// ended here (LoggedIn → Expired → LoggedOut) and reported as
// ErrSessionExpired; no session at all is ErrNotLoggedIn.
func (m *Manager) Active() (Session, error) {
	s := m.current.Load()
	if s == nil {
		return Session{}, ErrNotLoggedIn
	}

	if s.Expired(m.nowFunc()) {
		m.expire(s.Generation)
		return Session{}, ErrSessionExpired
	}

	return *s, nil
}

// Credential is the transport's view of Active: the token to attach, ""
// when logged out, or ErrSessionExpired when the request must not be sent.
func (m *Manager) Credential() (string, error) {
	s, err := m.Active()

	switch {
	case errors.Is(err, ErrNotLoggedIn):
		return "", nil
	case err != nil:
		return "", err
	}

	return s.Token, nil
}

// CurrentToken returns the session token, or false when not LoggedIn. Like
// Active it ends a session found past its expiry, so it must not be called
// from a Listener.
func (m *Manager) CurrentToken() (string, bool) {
	s, err := m.Active()
	if err != nil {
		return "", false
	}

	return s.Token, true
}

// Login exchanges providerCode for a session. Valid only from LoggedOut.
// On success the token and profile are persisted and the manager is
// LoggedIn; on failure it is back in LoggedOut and the error is an
// *AuthError.
func (m *Manager) Login(ctx context.Context, providerCode string) (User, error) {
	m.mu.Lock()

	if st := m.State(); st != LoggedOut {
		m.mu.Unlock()
		return User{}, fmt.Errorf("%w: login from %s", ErrInvalidTransition, st)
	}

	m.attempt++
	attempt := m.attempt
	m.setState(Authenticating)
	m.mu.Unlock()

	resp, err := m.exchanger.ExchangeCode(ctx, providerCode)

	m.mu.Lock()
	defer m.mu.Unlock()

	// A logout (or a newer login) ran while the exchange was in flight.
	if m.State() != Authenticating || m.attempt != attempt {
		m.logger.Info("discarding login result, session changed during exchange")
		return User{}, &AuthError{Reason: "login canceled"}
	}

	if err != nil {
		m.setState(LoggedOut)
		m.logger.Warn("login failed", slog.String("error", err.Error()))

		return User{}, &AuthError{Reason: backend.Reason(err), Err: err}
	}

	now := m.nowFunc()
	if !resp.ExpiresAt.IsZero() && !now.Before(resp.ExpiresAt) {
		m.setState(LoggedOut)
		return User{}, &AuthError{Reason: "backend issued an already expired session"}
	}

	user := User{ID: resp.User.ID, Email: resp.User.Email, TenantID: resp.User.TenantID}

	if err := m.store.Save(recordFor(resp.Token, resp.ExpiresAt, user)); err != nil {
		m.setState(LoggedOut)
		return User{}, &AuthError{Reason: "persisting session", Err: err}
	}

	m.begin(Session{Token: resp.Token, ExpiresAt: resp.ExpiresAt, User: user})

	m.logger.Info("login successful",
		slog.String("user_id", user.ID),
		slog.String("tenant_id", user.TenantID),
		slog.Time("expires_at", resp.ExpiresAt),
	)

	return user, nil
}

// Restore picks up a persisted session without a network call. A token
// that is missing, or expired by the local clock, leaves the manager in
// LoggedOut; an expired token is also deleted. Returns true when the
// manager is LoggedIn afterwards.
func (m *Manager) Restore() (User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch st := m.State(); st {
	case LoggedOut:
	case LoggedIn:
		return m.session.User, true, nil
	default:
		return User{}, false, fmt.Errorf("%w: restore from %s", ErrInvalidTransition, st)
	}

	rec, err := m.store.Load()
	if err != nil {
		return User{}, false, fmt.Errorf("session: restoring: %w", err)
	}

	if rec == nil {
		m.logger.Debug("no persisted session")
		return User{}, false, nil
	}

	if rec.Expired(m.nowFunc()) {
		m.logger.Info("persisted session expired, discarding",
			slog.Time("expires_at", rec.ExpiresAt),
		)

		if err := m.store.Remove(); err != nil {
			m.logger.Warn("failed to remove expired token", slog.String("error", err.Error()))
		}

		// Data cached for the expired session goes with it.
		m.setState(LoggedOut)

		return User{}, false, nil
	}

	user := User{
		ID:       rec.Meta[tokenfile.MetaUserID],
		Email:    rec.Meta[tokenfile.MetaEmail],
		TenantID: rec.Meta[tokenfile.MetaTenantID],
	}

	m.begin(Session{Token: rec.Token, ExpiresAt: rec.ExpiresAt, User: user, Restored: true})

	m.logger.Info("session restored",
		slog.String("user_id", user.ID),
		slog.String("tenant_id", user.TenantID),
		slog.Time("expires_at", rec.ExpiresAt),
	)

	return user, true, nil
}

// Logout clears the persisted token and the in-memory session. Valid from
// any state. Listeners always see a transition to LoggedOut, even from
// LoggedOut, so data left behind by an earlier process is cleared too.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	removeErr := m.store.Remove()

	if m.State() != LoggedOut {
		m.logger.Info("logged out")
	}

	m.setState(LoggedOut)
	m.session = nil

	if removeErr != nil {
		return fmt.Errorf("session: logout: %w", removeErr)
	}

	return nil
}

// OnUnauthorized is the transport's report that token was rejected. The
// first report for the live session moves LoggedIn → Unauthorized →
// LoggedOut, clears the persisted token and publishes one
// SessionInvalidated; every other report (concurrent duplicates, or a token
// from an earlier session) is ignored. An empty token means the current
// session. Returns true when this call ended the session.
func (m *Manager) OnUnauthorized(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != LoggedIn || m.session == nil {
		return false
	}

	if token != "" && token != m.session.Token {
		m.logger.Debug("ignoring authorization failure for a previous session")
		return false
	}

	m.invalidate(Unauthorized, ReasonUnauthorized)

	return true
}

// Close detaches listeners and forgets the in-memory session without
// touching the persisted token, so the next process can Restore it.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = nil
	m.session = nil
	m.current.Store(nil)
	m.state.Store(int32(LoggedOut))
}

// expire ends the session with the given generation if it is still live
// and past its expiry.
func (m *Manager) expire(generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != LoggedIn || m.session == nil || m.session.Generation != generation {
		return
	}

	if !m.session.Expired(m.nowFunc()) {
		return
	}

	m.invalidate(Expired, ReasonExpired)
}

// begin installs s as the live session with a fresh generation and enters
// LoggedIn. Caller holds mu.
func (m *Manager) begin(s Session) {
	m.generation++
	s.Generation = m.generation
	s.Status = LoggedIn
	m.session = &s
	m.setState(LoggedIn)
}

// invalidate ends the live session through the transient state via, then
// publishes SessionInvalidated. Listener effects (cache flush) complete
// before the notification. Caller holds mu.
func (m *Manager) invalidate(via State, reason string) {
	m.setState(via)

	if err := m.store.Remove(); err != nil {
		m.logger.Warn("failed to remove persisted token", slog.String("error", err.Error()))
	}

	m.setState(LoggedOut)
	m.session = nil

	m.logger.Warn("session invalidated", slog.String("reason", reason))
	m.bus.Publish(notify.Notification{Kind: notify.SessionInvalidated, Reason: reason})
}

// setState records the transition and delivers it to listeners. Caller
// holds mu.
func (m *Manager) setState(to State) {
	from := m.State()
	m.state.Store(int32(to))

	c := Change{From: from, To: to}

	if m.session != nil {
		m.session.Status = to
		c.Generation = m.session.Generation
		c.User = m.session.User
		c.Restored = m.session.Restored
	}

	if to == LoggedIn && m.session != nil {
		snap := *m.session
		m.current.Store(&snap)
	} else {
		m.current.Store(nil)
	}

	m.logger.Debug("session state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Uint64("generation", c.Generation),
	)

	for _, l := range m.listeners {
		l.SessionChanged(c)
	}
}

func recordFor(token string, expiresAt time.Time, u User) tokenfile.Record {
	return tokenfile.Record{
		Token:     token,
		ExpiresAt: expiresAt,
		Meta: map[string]string{
			tokenfile.MetaUserID:   u.ID,
			tokenfile.MetaEmail:    u.Email,
			tokenfile.MetaTenantID: u.TenantID,
		},
	}
}
