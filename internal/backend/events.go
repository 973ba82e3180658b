package backend

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ListEvents returns the events overlapping [start, end).
func (c *Client) ListEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))

	var out []Event
	if err := c.doJSON(ctx, http.MethodGet, "/calendar/events?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}

	c.logger.Debug("listed events",
		slog.Time("start", start),
		slog.Time("end", end),
		slog.Int("count", len(out)),
	)

	return out, nil
}

// CreateEvent creates an event and returns it with its server-assigned id.
func (c *Client) CreateEvent(ctx context.Context, draft EventDraft) (*Event, error) {
	var out Event
	if err := c.doJSON(ctx, http.MethodPost, "/calendar/events", draft, &out); err != nil {
		return nil, err
	}

	if out.ID == "" {
		return nil, &Error{
			Method:  http.MethodPost,
			Path:    "/calendar/events",
			Message: "created event has no id",
			Err:     ErrTransport,
		}
	}

	c.logger.Info("event created", slog.String("id", out.ID))

	return &out, nil
}
