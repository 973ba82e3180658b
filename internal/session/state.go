package session

import "time"

// State is a SessionManager state.
type State int32

// Session states. Expired and Unauthorized are transient: the manager passes
// through them on the way to LoggedOut so listeners can tell why the session
// ended.
const (
	LoggedOut State = iota
	Authenticating
	LoggedIn
	Expired
	Unauthorized
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case Authenticating:
		return "authenticating"
	case LoggedIn:
		return "logged_in"
	case Expired:
		return "expired"
	case Unauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// User is the authenticated identity bound to a session.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	TenantID string `json:"tenantId"`
}

// Session is the process-wide authenticated session. Generation identifies
// the session: it increases every time the manager enters LoggedIn, so a
// response tagged with an older generation belongs to a session that no
// longer exists.
type Session struct {
	Token      string
	ExpiresAt  time.Time
	User       User
	Status     State
	Generation uint64
	Restored   bool
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Change describes one state transition. User, Generation and Restored
// describe the session on the To side when To is LoggedIn, and the ending
// session otherwise.
type Change struct {
	From       State
	To         State
	Generation uint64
	User       User
	Restored   bool
}

// Listener observes session transitions. SessionChanged is called
// synchronously while the transition is in progress, before any
// notification is published, with the Manager's lock held. It must not call
// back into the Manager except for Snapshot and State. From may equal To
// when Logout runs without a live session.
type Listener interface {
	SessionChanged(c Change)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(c Change)

// SessionChanged calls f(c).
func (f ListenerFunc) SessionChanged(c Change) {
	f(c)
}
