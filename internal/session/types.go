package session

import "time"

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// End reasons recorded on a session.
const (
	EndReasonClient   = "client_disconnected"
	EndReasonUpstream = "stt_link_lost"
	EndReasonForced   = "forced"
	EndReasonInactive = "inactive"
	EndReasonShutdown = "shutdown"
	EndReasonRefused  = "refused"
	EndReasonOverflow = "audio_buffer_overflow"
)

// Session is the registry view of one relay connection.
type Session struct {
	ID             string     `json:"session_id"`
	Status         Status     `json:"status"`
	State          string     `json:"state"`
	RemoteAddr     string     `json:"remote_addr,omitempty"`
	FramesIn       int64      `json:"frames_in"`
	Turns          int64      `json:"turns"`
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	EndReason      string     `json:"end_reason,omitempty"`
}

// ListResponse is returned by the session listing endpoint.
type ListResponse struct {
	Sessions        []*Session `json:"sessions"`
	Active          int        `json:"active"`
	InactivityTTLMS int64      `json:"inactivity_ttl_ms"`
}
