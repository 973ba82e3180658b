package backend

import (
	"context"
	"log/slog"
	"net/http"
)

type exchangeRequest struct {
	ProviderCode string `json:"providerCode"`
}

// ExchangeCode trades a provider authorization code for a session token.
// The backend owns the OAuth code exchange; this call never carries a
// credential, so a 401/403 comes back as ErrRejected.
func (c *Client) ExchangeCode(ctx context.Context, providerCode string) (*AuthResponse, error) {
	c.logger.Info("exchanging provider code for session")

	var out AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/exchange", exchangeRequest{ProviderCode: providerCode}, &out); err != nil {
		return nil, err
	}

	if out.Token == "" {
		return nil, &Error{
			Method:  http.MethodPost,
			Path:    "/auth/exchange",
			Message: "response has no token",
			Err:     ErrTransport,
		}
	}

	c.logger.Info("session issued",
		slog.String("user_id", out.User.ID),
		slog.String("tenant_id", out.User.TenantID),
		slog.Time("expires_at", out.ExpiresAt),
	)

	return &out, nil
}
