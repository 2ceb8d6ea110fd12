// Package models defines types shared across internal packages.
package models

import "time"

// Chat sources.
const (
	ChatSourceThreadUpdate = "thread_update"
	ChatSourceLoaded       = "loaded"
)

// ChatRecord is a chat the account has been seen in.
type ChatRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	FirstSeen time.Time `json:"first_seen"`
}

// SessionRecord is one login of the daemon. EndedAt is zero while the
// session is running or if the process died without recording the end.
type SessionRecord struct {
	Username   string    `json:"username"`
	EndpointID string    `json:"endpoint_id"`
	Cloud      string    `json:"cloud"`
	LoggedInAt time.Time `json:"logged_in_at"`
	EndedAt    time.Time `json:"ended_at,omitzero"`
	EndReason  string    `json:"end_reason,omitempty"`
}

// APIKey is a persisted MCP API key. Only the key's SHA-256 digest is
// stored, as the bucket key.
type APIKey struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
