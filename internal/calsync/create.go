package calsync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tonimelisma/tenantcal/internal/backend"
	"github.com/tonimelisma/tenantcal/internal/notify"
)

// Creation is an optimistic create in flight. Placeholder is visible in the
// cache from the moment BeginCreate returns until the backend answers.
type Creation struct {
	CorrelationID string
	Placeholder   Event

	done  chan struct{}
	event Event
	err   error
}

// Done is closed once the create has been committed or rolled back.
func (c *Creation) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the create settles or ctx ends. On failure the error is
// a *CreationError.
func (c *Creation) Wait(ctx context.Context) (Event, error) {
	select {
	case <-c.done:
		return c.event, c.err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// CreateEvent creates an event and waits for the outcome.
func (s *Syncer) CreateEvent(ctx context.Context, d Draft) (Event, error) {
	c, err := s.BeginCreate(ctx, d)
	if err != nil {
		return Event{}, err
	}

	return c.Wait(ctx)
}

// BeginCreate validates d, inserts a pending placeholder and dispatches the
// request in the background. An invalid draft fails with ErrInvalidEvent
// and nothing is sent. ctx bounds the backend request.
func (s *Syncer) BeginCreate(ctx context.Context, d Draft) (*Creation, error) {
	d = d.normalized()

	if err := d.Validate(); err != nil {
		return nil, err
	}

	sess, err := s.sessions.Active()
	if err != nil {
		return nil, &CreationError{Cause: err}
	}

	s.mu.Lock()

	if s.generation != sess.Generation {
		s.mu.Unlock()
		return nil, &CreationError{Cause: ErrSessionChanged}
	}

	corr := s.newID()
	placeholder := Event{
		ID:            pendingPrefix + corr,
		Title:         d.Title,
		Start:         d.Start,
		End:           d.End,
		TenantID:      sess.User.TenantID,
		CorrelationID: corr,
		Pending:       true,
	}

	s.cache.put(placeholder)
	gen := s.generation

	s.mu.Unlock()

	s.logger.Debug("event creation dispatched", slog.String("correlation_id", corr))
	s.bus.Publish(notify.Notification{Kind: notify.EventsUpdated, CorrelationID: corr})

	c := &Creation{
		CorrelationID: corr,
		Placeholder:   placeholder,
		done:          make(chan struct{}),
	}

	go s.dispatch(ctx, c, d, gen)

	return c, nil
}

func (s *Syncer) dispatch(ctx context.Context, c *Creation, d Draft, gen uint64) {
	defer close(c.done)

	remote, err := s.api.CreateEvent(ctx, backend.EventDraft{
		Title: d.Title,
		Start: d.Start,
		End:   d.End,
	})
	if err != nil {
		s.rollback(c, gen, err)
		return
	}

	s.commit(c, gen, remote)
}

// commit swaps the placeholder for the confirmed event in place.
func (s *Syncer) commit(c *Creation, gen uint64, remote *backend.Event) {
	s.mu.Lock()

	if s.generation != gen {
		s.mu.Unlock()

		s.logger.Info("discarding created event, session changed",
			slog.String("correlation_id", c.CorrelationID),
			slog.String("event_id", remote.ID),
		)

		s.failed(c, ErrSessionChanged)

		return
	}

	ev := fromBackend(*remote, c.Placeholder.TenantID)

	if !s.cache.replace(c.Placeholder.ID, ev) {
		// Placeholder already gone (flushed and re-bound); treat as fresh.
		s.cache.put(ev)
	}

	s.markApplied(Range{Start: ev.Start, End: ev.End})
	s.persist()

	s.mu.Unlock()

	s.logger.Info("event created",
		slog.String("correlation_id", c.CorrelationID),
		slog.String("event_id", ev.ID),
	)

	s.bus.Publish(notify.Notification{Kind: notify.EventsUpdated, CorrelationID: c.CorrelationID})

	c.event = ev
}

// rollback removes the placeholder and reports the failure. A rejected
// session flushes the whole cache.
func (s *Syncer) rollback(c *Creation, gen uint64, cause error) {
	s.mu.Lock()

	if s.generation == gen {
		if errors.Is(cause, backend.ErrSessionExpired) {
			s.flushLocked()
		} else {
			s.cache.remove(c.Placeholder.ID)
		}
	}

	s.mu.Unlock()

	s.logger.Warn("event creation failed",
		slog.String("correlation_id", c.CorrelationID),
		slog.String("reason", backend.Reason(cause)),
	)

	s.bus.Publish(notify.Notification{Kind: notify.EventsUpdated, CorrelationID: c.CorrelationID})
	s.failed(c, cause)
}

// failed settles c with cause and publishes EventCreationFailed.
func (s *Syncer) failed(c *Creation, cause error) {
	s.bus.Publish(notify.Notification{
		Kind:          notify.EventCreationFailed,
		Reason:        backend.Reason(cause),
		CorrelationID: c.CorrelationID,
	})

	c.err = &CreationError{CorrelationID: c.CorrelationID, Cause: cause}
}
