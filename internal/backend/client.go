package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

const defaultUserAgent = "tenantcal/0.1"

// Authorizer is the session side of the interception point. The client asks
// it for a credential before every request and reports every rejected
// credential back to it.
type Authorizer interface {
	// Credential returns the session token, or "" when no session is
	// active. An error means the session has just ended (past its expiry)
	// and the request must not be sent.
	Credential() (string, error)

	// OnUnauthorized is called once per response that rejected token.
	OnUnauthorized(token string) bool
}

// Client is an HTTP client for the calendar backend. It handles request
// construction, credential injection, and error classification. It does not
// retry: retry policy belongs to the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string

	mu   sync.RWMutex
	auth Authorizer
}

// NewClient creates a backend client. baseURL is the API root without a
// trailing slash, e.g. "https://api.example.com".
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		userAgent:  userAgent,
	}
}

// SetAuthorizer installs the session that supplies credentials and receives
// authorization failures. Passing nil detaches it.
func (c *Client) SetAuthorizer(a Authorizer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.auth = a
}

func (c *Client) authorizer() Authorizer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.auth
}

// Do executes an HTTP request against the backend. The path is appended to
// the client's base URL. For non-nil bodies, Content-Type is set to
// application/json. The caller is responsible for closing the response body
// on success; every non-2xx response is returned as *Error.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &Error{Method: method, Path: path, Err: ErrTransport, Cause: err}
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	auth := c.authorizer()

	var token string
	if auth != nil {
		tok, err := auth.Credential()
		if err != nil {
			c.logger.Info("session ended before dispatch",
				slog.String("method", method),
				slog.String("path", path),
			)

			return nil, &Error{Method: method, Path: path, Err: ErrSessionExpired, Cause: err}
		}

		if tok != "" {
			token = tok
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Method: method, Path: path, Err: ErrTransport, Cause: ctx.Err()}
		}

		c.logger.Warn("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil, &Error{Method: method, Path: path, Err: ErrTransport, Cause: err}
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	apiErr := &Error{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-Id"),
		Message:    errorMessage(errBody),
		Err:        classifyStatus(resp.StatusCode, token != ""),
	}

	if token != "" && isAuthFailure(resp.StatusCode) {
		c.logger.Warn("credential rejected, invalidating session",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		auth.OnUnauthorized(token)
	} else {
		c.logger.Debug("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
	}

	return nil, apiErr
}

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// doJSON sends in (if non-nil) as JSON and decodes a 2xx response into out.
// A body that does not decode is a transport error.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: encoding %s %s request: %w", method, path, err)
		}

		body = bytes.NewReader(data)
	}

	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    "malformed response",
			Err:        ErrTransport,
			Cause:      err,
		}
	}

	return nil
}
