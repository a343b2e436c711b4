package session

import "time"

// CreateRequest defines payload for creating a new playback session.
type CreateRequest struct {
	ListenerID string `json:"listener_id"`
	Platform   string `json:"platform"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	ListenerID      string    `json:"listener_id"`
	Platform        string    `json:"platform"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
	WebSocketPath   string    `json:"ws_path,omitempty"`
}
