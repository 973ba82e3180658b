package backend

import "time"

// User is the authenticated user's profile as returned by the backend.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	TenantID string `json:"tenantId"`
}

// AuthResponse is the result of exchanging a provider code for a session.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

// Event is a calendar event as the backend serializes it.
type Event struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	TenantID string    `json:"tenantId"`
}

// EventDraft is the payload of a create request.
type EventDraft struct {
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
