package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tonimelisma/tenantcal/internal/backend"
	"github.com/tonimelisma/tenantcal/internal/calsync"
	"github.com/tonimelisma/tenantcal/internal/session"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

type loginRequest struct {
	Code string `json:"code"`
}

type sessionView struct {
	State     string        `json:"state"`
	User      *session.User `json:"user,omitempty"`
	ExpiresAt *time.Time    `json:"expiresAt,omitempty"`
}

type createRequest struct {
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) getSession(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) sessionView() sessionView {
	v := sessionView{State: s.sessions.State().String()}

	if sess, ok := s.sessions.Snapshot(); ok {
		u := sess.User
		v.User = &u

		if !sess.ExpiresAt.IsZero() {
			exp := sess.ExpiresAt
			v.ExpiresAt = &exp
		}
	}

	return v
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.Code == "" {
		s.writeError(w, r, fmt.Errorf("%w: code is required", errBadRequest))
		return
	}

	if _, err := s.sessions.Login(r.Context(), req.Code); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	events, err := s.calendar.LoadEvents(r.Context(), rng)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if events == nil {
		events = []calsync.Event{}
	}

	s.writeJSON(w, http.StatusOK, events)
}

// createEvent answers 201 with the confirmed event, or with ?async=true,
// 202 with the pending placeholder as soon as it is in the cache. The
// outcome of an async create arrives on /notifications.
func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	draft := calsync.Draft{Title: req.Title, Start: req.Start, End: req.End}
	async := r.URL.Query().Get("async") == "true"

	ctx := r.Context()
	if async {
		// The create outlives the request.
		ctx = context.WithoutCancel(ctx)
	}

	c, err := s.calendar.BeginCreate(ctx, draft)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if async {
		s.writeJSON(w, http.StatusAccepted, c.Placeholder)
		return
	}

	ev, err := c.Wait(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, ev)
}

var errBadRequest = errors.New("bad request")

func parseRange(r *http.Request) (calsync.Range, error) {
	q := r.URL.Query()

	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		return calsync.Range{}, fmt.Errorf("%w: start must be RFC 3339", errBadRequest)
	}

	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		return calsync.Range{}, fmt.Errorf("%w: end must be RFC 3339", errBadRequest)
	}

	return calsync.Range{Start: start, End: end}, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}

	return nil
}

// statusFor maps core errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, calsync.ErrInvalidEvent),
		errors.Is(err, calsync.ErrInvalidRange),
		errors.Is(err, backend.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, backend.ErrSessionExpired),
		errors.Is(err, backend.ErrRejected),
		errors.Is(err, session.ErrNotLoggedIn),
		errors.Is(err, session.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, calsync.ErrSessionChanged):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, backend.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	body := errorBody{Error: err.Error()}

	var be *backend.Error
	if errors.As(err, &be) && be.Message != "" {
		body.Reason = be.Message
	}

	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}

	s.logger.Log(r.Context(), level, "bridge request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	s.writeJSON(w, status, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("writing response failed",
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
}
