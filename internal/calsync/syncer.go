// Package calsync keeps the local calendar cache: range loads that never let
// an older response overwrite a newer one, optimistic creates with rollback,
// and a full flush whenever the session ends or changes hands.
package calsync

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/tenantcal/internal/backend"
	"github.com/tonimelisma/tenantcal/internal/notify"
	"github.com/tonimelisma/tenantcal/internal/session"
)

// EventAPI is the backend calendar surface the syncer calls.
type EventAPI interface {
	ListEvents(ctx context.Context, start, end time.Time) ([]backend.Event, error)
	CreateEvent(ctx context.Context, draft backend.EventDraft) (*backend.Event, error)
}

// SessionSource reports the live session. Active fails with
// session.ErrNotLoggedIn, or session.ErrSessionExpired after ending a
// session found past its expiry. It is never called from SessionChanged.
type SessionSource interface {
	Active() (session.Session, error)
}

// storeTimeout bounds each snapshot write.
const storeTimeout = 5 * time.Second

// window records a range whose server state was applied at seq. A response
// with a lower seq must not touch events inside it.
type window struct {
	r   Range
	seq uint64
}

// Syncer owns the event cache. It must be registered as a session listener
// (Manager.AddListener) so the cache follows the session.
type Syncer struct {
	api      EventAPI
	sessions SessionSource
	bus      notify.Publisher
	store    Store
	logger   *slog.Logger
	newID    func() string

	mu         sync.Mutex
	cache      *cache
	generation uint64 // session generation the cache belongs to; 0 when logged out
	owner      Owner
	seq        uint64
	inflight   map[uint64]struct{}
	applied    []window
}

// NewSyncer returns an empty syncer. store may be nil to keep the cache in
// memory only.
func NewSyncer(api EventAPI, sessions SessionSource, bus notify.Publisher, store Store, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}

	if bus == nil {
		bus = notify.Discard
	}

	return &Syncer{
		api:      api,
		sessions: sessions,
		bus:      bus,
		store:    store,
		logger:   logger,
		newID:    uuid.NewString,
		cache:    newCache(),
		inflight: make(map[uint64]struct{}),
	}
}

// Events returns every cached event, pending ones included, in display
// order.
func (s *Syncer) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cache.snapshot()
}

// LoadEvents fetches r from the backend and merges the result into the
// cache. Only the part of r not already covered by a newer applied load or
// commit is touched; pending events are never replaced by a load. Returns
// the cached events overlapping r, sorted by start time.
func (s *Syncer) LoadEvents(ctx context.Context, r Range) ([]Event, error) {
	if !r.Valid() {
		return nil, ErrInvalidRange
	}

	sess, err := s.sessions.Active()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()

	if s.generation != sess.Generation {
		s.mu.Unlock()
		return nil, ErrSessionChanged
	}

	s.seq++
	seq := s.seq
	gen := s.generation
	s.inflight[seq] = struct{}{}

	s.mu.Unlock()

	remote, err := s.api.ListEvents(ctx, r.Start, r.End)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inflight, seq)
	defer s.pruneWindows()

	if err != nil {
		s.logger.Warn("event load failed",
			slog.Time("start", r.Start),
			slog.Time("end", r.End),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	if s.generation != gen {
		s.logger.Debug("discarding event load from an ended session", slog.Uint64("seq", seq))
		return nil, ErrSessionChanged
	}

	if s.applyLoad(r, seq, remote, sess.User.TenantID) {
		s.persist()
		s.bus.Publish(notify.Notification{Kind: notify.EventsUpdated})
	}

	return s.viewLocked(r), nil
}

// applyLoad merges a load response. Returns true if the cache changed.
// Caller holds mu.
func (s *Syncer) applyLoad(r Range, seq uint64, remote []backend.Event, tenantID string) bool {
	var newer []window

	for _, w := range s.applied {
		if w.seq > seq {
			newer = append(newer, w)
		}
	}

	covered := func(ev Event) bool {
		for _, w := range newer {
			if w.r.Holds(ev) {
				return true
			}
		}

		return false
	}

	if len(newer) > 0 {
		s.logger.Debug("applying event load partially, newer data present",
			slog.Uint64("seq", seq),
			slog.Int("newer", len(newer)),
		)
	}

	changed := s.cache.removeWhere(func(e Event) bool {
		return !e.Pending && r.Holds(e) && !covered(e)
	}) > 0

	for _, be := range remote {
		ev := fromBackend(be, tenantID)

		if ev.TenantID != tenantID {
			s.logger.Warn("dropping event from another tenant",
				slog.String("event_id", ev.ID),
				slog.String("tenant_id", ev.TenantID),
			)

			continue
		}

		if ev.ID == "" || !r.Holds(ev) || covered(ev) {
			continue
		}

		s.cache.put(ev)
		changed = true
	}

	s.applied = append(s.applied, window{r: r, seq: seq})

	return changed
}

// markApplied records a server-confirmed mutation over r so that loads
// initiated before it cannot undo it. Caller holds mu.
func (s *Syncer) markApplied(r Range) {
	s.seq++
	s.applied = append(s.applied, window{r: r, seq: s.seq})
	s.pruneWindows()
}

// pruneWindows forgets windows no in-flight load can be older than.
// Caller holds mu.
func (s *Syncer) pruneWindows() {
	if len(s.inflight) == 0 {
		s.applied = s.applied[:0]
		return
	}

	oldest := s.seq
	for seq := range s.inflight {
		oldest = min(oldest, seq)
	}

	s.applied = slices.DeleteFunc(s.applied, func(w window) bool {
		return w.seq < oldest
	})
}

// viewLocked returns cached events belonging to r, by start time then id.
// Caller holds mu.
func (s *Syncer) viewLocked(r Range) []Event {
	var out []Event

	for _, e := range s.cache.entries {
		if r.Holds(e) {
			out = append(out, e)
		}
	}

	slices.SortStableFunc(out, func(a, b Event) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}

		if a.ID < b.ID {
			return -1
		}

		if a.ID > b.ID {
			return 1
		}

		return 0
	})

	return out
}

// SessionChanged follows the session: entering LoggedIn binds the cache to
// the new generation (warming it from the store for a restored session),
// entering LoggedOut flushes memory and store. Runs under the session
// manager's lock; it must not call back into the manager.
func (s *Syncer) SessionChanged(c session.Change) {
	switch c.To {
	case session.LoggedIn:
		s.mu.Lock()
		defer s.mu.Unlock()

		s.flushLocked()
		s.generation = c.Generation
		s.owner = Owner{TenantID: c.User.TenantID, UserID: c.User.ID}

		if c.Restored {
			s.warmLocked()
		} else {
			s.clearStore()
		}

	case session.LoggedOut:
		s.mu.Lock()
		defer s.mu.Unlock()

		s.flushLocked()
		s.generation = 0
		s.owner = Owner{}
		s.clearStore()

	default:
	}
}

// flushLocked empties the in-memory cache. Caller holds mu.
func (s *Syncer) flushLocked() {
	had := s.cache.len()

	s.cache.clear()
	s.applied = s.applied[:0]
	clear(s.inflight)

	if had > 0 {
		s.logger.Info("event cache flushed", slog.Int("events", had))
		s.bus.Publish(notify.Notification{Kind: notify.EventsUpdated})
	}
}

func (s *Syncer) warmLocked() {
	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	events, err := s.store.Load(ctx, s.owner)
	if err != nil {
		s.logger.Warn("loading cached events failed", slog.String("error", err.Error()))
		return
	}

	for _, ev := range events {
		s.cache.put(ev)
	}

	if len(events) > 0 {
		s.logger.Debug("event cache warmed", slog.Int("events", len(events)))
		s.bus.Publish(notify.Notification{Kind: notify.EventsUpdated})
	}
}

func (s *Syncer) clearStore() {
	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := s.store.Clear(ctx); err != nil {
		s.logger.Warn("clearing cached events failed", slog.String("error", err.Error()))
	}
}

// persist writes the confirmed cache to the store. Failures are logged;
// the in-memory cache stays authoritative. Caller holds mu.
func (s *Syncer) persist() {
	if s.store == nil || s.generation == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := s.store.Save(ctx, s.owner, s.cache.entries); err != nil {
		s.logger.Warn("saving cached events failed", slog.String("error", err.Error()))
	}
}
