package calsync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/tenantcal/internal/backend"
)

// Sentinel errors. Use errors.Is to check.
var (
	// ErrInvalidEvent: the draft failed local validation. No request was sent.
	ErrInvalidEvent = errors.New("calsync: invalid event")

	// ErrInvalidRange: a load range with start not before end.
	ErrInvalidRange = errors.New("calsync: invalid range")

	// ErrEventCreationFailed wraps every create failure after dispatch; the
	// optimistic placeholder has been rolled back when it is returned.
	ErrEventCreationFailed = errors.New("calsync: event creation failed")

	// ErrSessionChanged: the session the request was issued under ended
	// before the response arrived, so the response was ignored.
	ErrSessionChanged = errors.New("calsync: session changed while request was in flight")
)

// CreationError is returned when a dispatched create fails. Cause is one of
// backend.ErrValidation, backend.ErrTransport, backend.ErrSessionExpired
// (each wrapped in *backend.Error), session.ErrNotLoggedIn or
// ErrSessionChanged.
type CreationError struct {
	CorrelationID string
	Cause         error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrEventCreationFailed, e.Cause)
}

func (e *CreationError) Unwrap() []error {
	return []error{ErrEventCreationFailed, e.Cause}
}

// pendingPrefix marks the temporary id of a PendingEvent.
const pendingPrefix = "pending:"

// Event is a cached calendar event. Pending events carry a temporary id
// derived from CorrelationID until the server confirms them.
type Event struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	TenantID      string    `json:"tenantId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Pending       bool      `json:"pending,omitempty"`
}

func fromBackend(e backend.Event, tenantID string) Event {
	ev := Event{
		ID:       e.ID,
		Title:    e.Title,
		Start:    e.Start,
		End:      e.End,
		TenantID: e.TenantID,
	}

	if ev.TenantID == "" {
		ev.TenantID = tenantID
	}

	return ev
}

// Draft is a user's request to create an event.
type Draft struct {
	Title string
	Start time.Time
	End   time.Time
}

// normalized returns the draft with its title trimmed and NFC-normalized.
func (d Draft) normalized() Draft {
	d.Title = norm.NFC.String(strings.TrimSpace(d.Title))
	return d
}

// Validate checks the draft locally.
func (d Draft) Validate() error {
	if d.Start.IsZero() || d.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidEvent)
	}

	if !d.Start.Before(d.End) {
		return fmt.Errorf("%w: start %s is not before end %s",
			ErrInvalidEvent, d.Start.Format(time.RFC3339), d.End.Format(time.RFC3339))
	}

	return nil
}

// Range is a half-open time window [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether Start is before End.
func (r Range) Valid() bool {
	return r.Start.Before(r.End)
}

// Holds reports whether ev belongs to the range: it overlaps the window,
// or, for a zero-length event, starts inside it.
func (r Range) Holds(ev Event) bool {
	if ev.Start.Before(r.End) && ev.End.After(r.Start) {
		return true
	}

	return !ev.Start.Before(r.Start) && ev.Start.Before(r.End)
}
