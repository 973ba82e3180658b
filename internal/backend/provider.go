package backend

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// ProviderConfig describes the calendar provider's authorization endpoint.
// The redirect dance itself is owned by the backend; this core only builds
// the URL the user is sent to.
type ProviderConfig struct {
	ClientID    string
	AuthURL     string
	RedirectURL string
	Scopes      []string
}

// AuthCodeURL returns the provider authorization URL and the random state
// value embedded in it.
func AuthCodeURL(pc ProviderConfig) (authURL, state string, err error) {
	if pc.ClientID == "" {
		return "", "", errors.New("backend: oauth client_id is not configured")
	}

	if pc.AuthURL == "" {
		return "", "", errors.New("backend: oauth auth_url is not configured")
	}

	state, err = generateState()
	if err != nil {
		return "", "", fmt.Errorf("backend: generating state token: %w", err)
	}

	cfg := &oauth2.Config{
		ClientID:    pc.ClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: pc.AuthURL},
		RedirectURL: pc.RedirectURL,
		Scopes:      pc.Scopes,
	}

	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), state, nil
}

// generateState produces a cryptographically random hex string for the
// OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
