package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tenantcal/internal/backend"
	"github.com/tonimelisma/tenantcal/internal/notify"
	"github.com/tonimelisma/tenantcal/internal/tokenfile"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// fakeExchanger answers ExchangeCode from a fixed response or error. When
// gate is non-nil each call waits for a value on it first.
type fakeExchanger struct {
	resp  *backend.AuthResponse
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (f *fakeExchanger) ExchangeCode(ctx context.Context, _ string) (*backend.AuthResponse, error) {
	f.calls.Add(1)

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return f.resp, f.err
}

func okExchanger() *fakeExchanger {
	return &fakeExchanger{resp: &backend.AuthResponse{
		Token:     "tok-1",
		ExpiresAt: testNow.Add(time.Hour),
		User:      backend.User{ID: "u1", Email: "alice@example.com", TenantID: "acme"},
	}}
}

// changeRecorder is a Listener that records every transition.
type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) SessionChanged(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.changes = append(r.changes, c)
}

func (r *changeRecorder) path() [][2]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][2]State, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, [2]State{c.From, c.To})
	}

	return out
}

type fixture struct {
	mgr      *Manager
	ex       *fakeExchanger
	store    *tokenfile.Store
	bus      *notify.Bus
	notes    <-chan notify.Notification
	recorder *changeRecorder
}

func newFixture(t *testing.T, ex *fakeExchanger) *fixture {
	t.Helper()

	store := tokenfile.NewStore(filepath.Join(t.TempDir(), "session.json"))
	bus := notify.NewBus(slog.Default())
	notes, unsub := bus.Subscribe(64)
	t.Cleanup(unsub)

	mgr := NewManager(ex, store, bus, slog.Default())
	mgr.nowFunc = func() time.Time { return testNow }

	rec := &changeRecorder{}
	mgr.AddListener(rec)

	return &fixture{mgr: mgr, ex: ex, store: store, bus: bus, notes: notes, recorder: rec}
}

func drain(ch <-chan notify.Notification) []notify.Notification {
	var out []notify.Notification

	for {
		select {
		case n := <-ch:
			out = append(out, n)
		default:
			return out
		}
	}
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t, okExchanger())

	user, err := f.mgr.Login(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, User{ID: "u1", Email: "alice@example.com", TenantID: "acme"}, user)
	assert.Equal(t, LoggedIn, f.mgr.State())

	tok, ok := f.mgr.CurrentToken()
	assert.True(t, ok)
	assert.Equal(t, "tok-1", tok)

	rec, err := f.store.Load()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "tok-1", rec.Token)
	assert.Equal(t, "acme", rec.Meta[tokenfile.MetaTenantID])

	assert.Equal(t, [][2]State{
		{LoggedOut, Authenticating},
		{Authenticating, LoggedIn},
	}, f.recorder.path())

	snap, ok := f.mgr.Snapshot()
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Generation)
	assert.False(t, snap.Restored)
}

func TestLogin_BackendRejects(t *testing.T) {
	ex := &fakeExchanger{err: &backend.Error{Err: backend.ErrRejected, StatusCode: 401, Message: "invalid_grant"}}
	f := newFixture(t, ex)

	_, err := f.mgr.Login(context.Background(), "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.ErrorIs(t, err, backend.ErrRejected)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid_grant", authErr.Reason)

	assert.Equal(t, LoggedOut, f.mgr.State())

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLogin_TransportFailureIsDistinguishable(t *testing.T) {
	ex := &fakeExchanger{err: &backend.Error{Err: backend.ErrTransport, Cause: errors.New("connection refused")}}
	f := newFixture(t, ex)

	_, err := f.mgr.Login(context.Background(), "code")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.ErrorIs(t, err, backend.ErrTransport)
	assert.Equal(t, LoggedOut, f.mgr.State())
}

func TestLogin_AlreadyExpiredSession(t *testing.T) {
	ex := okExchanger()
	ex.resp.ExpiresAt = testNow.Add(-time.Second)
	f := newFixture(t, ex)

	_, err := f.mgr.Login(context.Background(), "code")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, LoggedOut, f.mgr.State())
}

func TestLogin_OnlyFromLoggedOut(t *testing.T) {
	f := newFixture(t, okExchanger())

	_, err := f.mgr.Login(context.Background(), "code")
	require.NoError(t, err)

	_, err = f.mgr.Login(context.Background(), "code")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, LoggedIn, f.mgr.State())
	assert.Equal(t, int32(1), f.ex.calls.Load())
}

func TestLogin_LogoutDuringExchangeDiscardsResult(t *testing.T) {
	ex := okExchanger()
	ex.gate = make(chan struct{})
	f := newFixture(t, ex)

	errCh := make(chan error, 1)
	go func() {
		_, err := f.mgr.Login(context.Background(), "code")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return f.mgr.State() == Authenticating }, 2*time.Second, time.Millisecond)

	require.NoError(t, f.mgr.Logout())
	close(ex.gate)

	err := <-errCh
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, LoggedOut, f.mgr.State())

	rec, loadErr := f.store.Load()
	require.NoError(t, loadErr)
	assert.Nil(t, rec)
}

func TestLoginLogoutSequences_EndLoggedOutWithNothingPersisted(t *testing.T) {
	tests := []struct {
		name  string
		steps string // l = login, o = logout
	}{
		{"login logout", "lo"},
		{"logout only", "o"},
		{"double logout", "loo"},
		{"repeated", "lololo"},
		{"logout first", "olo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, okExchanger())

			for _, step := range tt.steps {
				switch step {
				case 'l':
					_, err := f.mgr.Login(context.Background(), "code")
					require.NoError(t, err)
				case 'o':
					require.NoError(t, f.mgr.Logout())
				}
			}

			assert.Equal(t, LoggedOut, f.mgr.State())

			_, err := os.Stat(f.store.Path())
			assert.True(t, os.IsNotExist(err), "token file should not exist")

			_, ok := f.mgr.CurrentToken()
			assert.False(t, ok)
		})
	}
}

func TestLogout_WhenLoggedOutStillNotifiesListeners(t *testing.T) {
	f := newFixture(t, okExchanger())

	require.NoError(t, f.mgr.Logout())
	assert.Equal(t, LoggedOut, f.mgr.State())
	assert.Equal(t, [][2]State{{LoggedOut, LoggedOut}}, f.recorder.path())
	assert.Empty(t, drain(f.notes))
}

func TestLogout_DoesNotPublishInvalidation(t *testing.T) {
	f := newFixture(t, okExchanger())

	_, err := f.mgr.Login(context.Background(), "code")
	require.NoError(t, err)
	require.NoError(t, f.mgr.Logout())

	assert.Empty(t, drain(f.notes))
}

func TestOnUnauthorized_Transitions(t *testing.T) {
	f := newFixture(t, okExchanger())

	_, err := f.mgr.Login(context.Background(), "code")
	require.NoError(t, err)

	assert.True(t, f.mgr.OnUnauthorized("tok-1"))
	assert.Equal(t, LoggedOut, f.mgr.State())

	path := f.recorder.path()
	assert.Equal(t, [][2]State{
		{LoggedIn, Unauthorized},
		{Unauthorized, LoggedOut},
	}, path[len(path)-2:])

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)

	notes := drain(f.notes)
	require.Len(t, notes, 1)
	assert.Equal(t, notify.SessionInvalidated, notes[0].Kind)
	assert.Equal(t, ReasonUnauthorized, notes[0].Reason)
}

func TestOnUnauthorized_ConcurrentIsIdempotent(t *testing.T) {
	f := newFixture(t, okExchanger())

	var flushes atomic.Int32
	f.mgr.AddListener(ListenerFunc(func(c Change) {
		if c.To == LoggedOut {
			flushes.Add(1)
		}
	}))

	_, err := f.mgr.Login(context.Background(), "code")
	require.NoError(t, err)

	const n = 32

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)

	for range n {
		wg.Add(1)

		go func() {
			defer wg.Done()
			<-start

			if f.mgr.OnUnauthorized("tok-1") {
				winners.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(1), flushes.Load())

	notes := drain(f.notes)
	require.Len(t, notes, 1)
	assert.Equal(t, notify.SessionInvalidated, notes[0].Kind)
}

func TestOnUnauthorized_StaleTokenIgnored(t *testing.T) {
	f := newFixture(t, okExchanger())

	_, err := f.mgr.Login(context.Background(), "code")
	require.NoError(t, err)

	assert.False(t, f.mgr.OnUnauthorized("token-from-previous-session"))
	assert.Equal(t, LoggedIn, f.mgr.State())
	assert.Empty(t, drain(f.notes))
}

func TestOnUnauthorized_WhenLoggedOut(t *testing.T) {
	f := newFixture(t, okExchanger())

	assert.False(t, f.mgr.OnUnauthorized(""))
	assert.Empty(t, drain(f.notes))
}

func TestListenerEffectsHappenBeforeNotification(t *testing.T) {
	f := newFixture(t, okExchanger())

	var flushedBeforeNotify atomic.Bool
	f.mgr.AddListener(ListenerFunc(func(c Change) {
		if c.To == LoggedOut {
			flushedBeforeNotify.Store(len(drain(f.notes)) == 0)
		}
	}))

	_, err := f.mgr.Login(context.Background(), "code")
	require.NoError(t, err)
	f.mgr.OnUnauthorized("")

	assert.True(t, flushedBeforeNotify.Load())
	assert.Len(t, drain(f.notes), 1)
}

func TestRestore_ValidToken(t *testing.T) {
	f := newFixture(t, okExchanger())

	require.NoError(t, f.store.Save(recordFor("persisted", testNow.Add(time.Hour), User{ID: "u9", Email: "bob@example.com", TenantID: "globex"})))

	user, ok, err := f.mgr.Restore()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "globex", user.TenantID)
	assert.Equal(t, LoggedIn, f.mgr.State())
	assert.Zero(t, f.ex.calls.Load())

	tok, ok := f.mgr.CurrentToken()
	assert.True(t, ok)
	assert.Equal(t, "persisted", tok)

	snap, _ := f.mgr.Snapshot()
	assert.True(t, snap.Restored)
}

func TestRestore_ExpiredToken(t *testing.T) {
	f := newFixture(t, okExchanger())

	require.NoError(t, f.store.Save(recordFor("old", testNow.Add(-time.Minute), User{ID: "u1"})))

	_, ok, err := f.mgr.Restore()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, LoggedOut, f.mgr.State())
	assert.Zero(t, f.ex.calls.Load())

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec, "expired token should be deleted")

	assert.Equal(t, [][2]State{{LoggedOut, LoggedOut}}, f.recorder.path())
	assert.Empty(t, drain(f.notes))
}

func TestRestore_NoToken(t *testing.T) {
	f := newFixture(t, okExchanger())

	_, ok, err := f.mgr.Restore()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, LoggedOut, f.mgr.State())
}

func TestRestore_CorruptFile(t *testing.T) {
	f := newFixture(t, okExchanger())
	require.NoError(t, os.WriteFile(f.store.Path(), []byte("{garbage"), 0o600))

	_, ok, err := f.mgr.Restore()
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, LoggedOut, f.mgr.State())
}

func TestCurrentToken_DetectsExpiry(t *testing.T) {
	f := newFixture(t, okExchanger())

	_, err := f.mgr.Login(context.Background(), "code")
	require.NoError(t, err)

	f.mgr.nowFunc = func() time.Time { return testNow.Add(2 * time.Hour) }

	_, ok := f.mgr.CurrentToken()
	assert.False(t, ok)
	assert.Equal(t, LoggedOut, f.mgr.State())

	path := f.recorder.path()
	assert.Equal(t, [2]State{LoggedIn, Expired}, path[len(path)-2])

	notes := drain(f.notes)
	require.Len(t, notes, 1)
	assert.Equal(t, ReasonExpired, notes[0].Reason)

	rec, err := f.store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestActive(t *testing.T) {
	f := newFixture(t, okExchanger())

	_, err := f.mgr.Active()
	require.ErrorIs(t, err, ErrNotLoggedIn)

	tok, err := f.mgr.Credential()
	require.NoError(t, err)
	assert.Empty(t, tok)

	_, err = f.mgr.Login(context.Background(), "code")
	require.NoError(t, err)

	s, err := f.mgr.Active()
	require.NoError(t, err)
	assert.Equal(t, "acme", s.User.TenantID)

	tok, err = f.mgr.Credential()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
}

func TestActive_ExpiredSessionIsSessionExpired(t *testing.T) {
	f := newFixture(t, okExchanger())

	_, err := f.mgr.Login(context.Background(), "code")
	require.NoError(t, err)

	f.mgr.nowFunc = func() time.Time { return testNow.Add(2 * time.Hour) }

	_, err = f.mgr.Credential()
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.ErrorIs(t, err, backend.ErrSessionExpired)
	assert.Equal(t, LoggedOut, f.mgr.State())

	// Ended once: later callers see no session at all.
	_, err = f.mgr.Active()
	require.ErrorIs(t, err, ErrNotLoggedIn)
	assert.Len(t, drain(f.notes), 1)
}

func TestGenerationIncreasesPerSession(t *testing.T) {
	f := newFixture(t, okExchanger())

	_, err := f.mgr.Login(context.Background(), "code")
	require.NoError(t, err)

	first, _ := f.mgr.Snapshot()

	require.NoError(t, f.mgr.Logout())

	_, err = f.mgr.Login(context.Background(), "code")
	require.NoError(t, err)

	second, _ := f.mgr.Snapshot()
	assert.Greater(t, second.Generation, first.Generation)
}

func TestClose_KeepsPersistedToken(t *testing.T) {
	f := newFixture(t, okExchanger())

	_, err := f.mgr.Login(context.Background(), "code")
	require.NoError(t, err)

	before := len(f.recorder.path())
	f.mgr.Close()

	assert.Equal(t, LoggedOut, f.mgr.State())
	assert.Len(t, f.recorder.path(), before, "close must not notify listeners")

	rec, err := f.store.Load()
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestWatchTokenFile_ExternalRemovalInvalidates(t *testing.T) {
	f := newFixture(t, okExchanger())

	_, err := f.mgr.Login(context.Background(), "code")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.mgr.WatchTokenFile(ctx, f.store.Path()) }()

	// Give the watcher time to register before removing the file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.Remove(f.store.Path()))

	require.Eventually(t, func() bool { return f.mgr.State() == LoggedOut }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	notes := drain(f.notes)
	require.Len(t, notes, 1)
	assert.Equal(t, ReasonTokenRemoved, notes[0].Reason)
}
