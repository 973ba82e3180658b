package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeCode_Success(t *testing.T) {
	expires := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/exchange", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "code-1", req["providerCode"])

		_ = json.NewEncoder(w).Encode(AuthResponse{
			Token:     "tok",
			ExpiresAt: expires,
			User:      User{ID: "u1", Email: "a@example.com", TenantID: "acme"},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, &fakeAuthorizer{})
	resp, err := client.ExchangeCode(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "tok", resp.Token)
	assert.True(t, resp.ExpiresAt.Equal(expires))
	assert.Equal(t, "acme", resp.User.TenantID)
}

func TestExchangeCode_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	auth := &fakeAuthorizer{}
	client := newTestClient(t, srv.URL, auth)

	_, err := client.ExchangeCode(context.Background(), "bad")
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, "invalid_grant", Reason(err))
	assert.Empty(t, auth.rejections())
}

func TestExchangeCode_EmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"token":""}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, nil).ExchangeCode(context.Background(), "c")
	require.ErrorIs(t, err, ErrTransport)
}

func TestListEvents(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/calendar/events", r.URL.Path)
		assert.Equal(t, "2026-03-02T00:00:00Z", r.URL.Query().Get("start"))
		assert.Equal(t, "2026-03-03T00:00:00Z", r.URL.Query().Get("end"))

		_ = json.NewEncoder(w).Encode([]Event{
			{ID: "e1", Title: "Standup", Start: start.Add(9 * time.Hour), End: start.Add(9*time.Hour + 30*time.Minute), TenantID: "acme"},
		})
	}))
	defer srv.Close()

	events, err := newTestClient(t, srv.URL, &fakeAuthorizer{token: "t"}).ListEvents(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "Standup", events[0].Title)
}

func TestCreateEvent(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var draft EventDraft
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&draft))
		assert.Equal(t, "Standup", draft.Title)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Event{ID: "srv-1", Title: draft.Title, Start: draft.Start, End: draft.End, TenantID: "acme"})
	}))
	defer srv.Close()

	ev, err := newTestClient(t, srv.URL, &fakeAuthorizer{token: "t"}).CreateEvent(context.Background(), EventDraft{
		Title: "Standup",
		Start: start,
		End:   start.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", ev.ID)
}

func TestCreateEvent_ValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"title too long"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, &fakeAuthorizer{token: "t"}).CreateEvent(context.Background(), EventDraft{Title: "x"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "title too long", Reason(err))
}

func TestCreateEvent_MissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"title":"x"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, nil).CreateEvent(context.Background(), EventDraft{Title: "x"})
	require.ErrorIs(t, err, ErrTransport)
}

func TestAuthCodeURL(t *testing.T) {
	raw, state, err := AuthCodeURL(ProviderConfig{
		ClientID:    "client-1",
		AuthURL:     "https://accounts.example.com/o/authorize",
		RedirectURL: "https://app.example.com/callback",
		Scopes:      []string{"calendar"},
	})
	require.NoError(t, err)
	assert.Len(t, state, 2*stateTokenBytes)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "accounts.example.com", u.Host)
	assert.Equal(t, "client-1", u.Query().Get("client_id"))
	assert.Equal(t, state, u.Query().Get("state"))
	assert.Equal(t, "calendar", u.Query().Get("scope"))
	assert.Equal(t, "offline", u.Query().Get("access_type"))
}

func TestAuthCodeURL_MissingClientID(t *testing.T) {
	_, _, err := AuthCodeURL(ProviderConfig{AuthURL: "https://x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
}
