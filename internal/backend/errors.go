// Package backend is the HTTP transport to the calendar backend API. Every
// outbound call goes through Client.Do, which attaches the current session
// credential and turns authorization failures into a forced logout.
package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, backend.ErrSessionExpired) to check.
var (
	// ErrSessionExpired: a request carrying a session credential was rejected
	// for authorization. The session has already been invalidated when this
	// is returned; callers must not retry before a new login.
	ErrSessionExpired = errors.New("backend: session expired")

	// ErrRejected: a request sent without a credential (the login exchange)
	// was rejected for authorization.
	ErrRejected = errors.New("backend: request rejected")

	// ErrValidation: the backend refused the request payload (400/422).
	ErrValidation = errors.New("backend: validation failed")

	// ErrTransport: network failure, timeout, non-2xx status outside the
	// classes above, or a malformed response. Retry is the caller's decision.
	ErrTransport = errors.New("backend: transport error")
)

// Error wraps a sentinel with the HTTP status, request id and the message
// the backend returned. StatusCode is zero for failures that never produced
// a response.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
	Cause      error // underlying network/decoding error, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s %s", e.Err, e.Method, e.Path)

	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}

	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request-id: %s)", e.RequestID)
	}

	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}

	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}

	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}

	return []error{e.Err, e.Cause}
}

// Reason returns the human-readable failure reason reported by the backend,
// falling back to the error text.
func Reason(err error) string {
	var be *Error
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}

	if err == nil {
		return ""
	}

	return err.Error()
}

// classifyStatus maps a non-2xx status to a sentinel. authorized reports
// whether the request carried a session credential.
func classifyStatus(code int, authorized bool) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		if authorized {
			return ErrSessionExpired
		}

		return ErrRejected
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrValidation
	default:
		return ErrTransport
	}
}

// isAuthFailure reports whether the status indicates a rejected credential.
func isAuthFailure(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// maxMessageBytes caps how much of an error body is kept in Error.Message.
const maxMessageBytes = 512

// errorMessage extracts a reason from an error response body. Backends
// answer with {"error": "..."} or {"message": "..."}; anything else is
// returned as trimmed text.
func errorMessage(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	if json.Unmarshal(body, &parsed) == nil {
		switch {
		case parsed.Message != "":
			return parsed.Message
		case parsed.Error != "":
			return parsed.Error
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxMessageBytes {
		msg = msg[:maxMessageBytes]
	}

	return msg
}
