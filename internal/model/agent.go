package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AgentTimeout is how long an agent may stay silent before it is reported as not responding.
const AgentTimeout = 5 * time.Minute

type AgentState string

const (
	AgentWaiting       AgentState = "waiting"
	AgentRunning       AgentState = "running"
	AgentNotResponding AgentState = "not_responding"
)

// Agent is a backup target reachable only through a remote agent process
// that polls the manager for work.
type Agent struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	URL       string       `json:"url,omitempty"`
	Token     string       `json:"token,omitempty"`
	Type      DatabaseType `json:"type"`
	Active    bool         `json:"active"`
	LastSeen  *time.Time   `json:"last_seen,omitempty"`
	LastUsed  *time.Time   `json:"last_used,omitempty"`
	Databases []string     `json:"databases"`
	JobQueue  []string     `json:"job_queue"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// State derives liveness from LastSeen. It is never persisted.
func (a Agent) State(now time.Time) AgentState {
	if a.LastSeen == nil {
		return AgentWaiting
	}
	if now.Sub(*a.LastSeen) > AgentTimeout {
		return AgentNotResponding
	}
	return AgentRunning
}

// NewAgentToken returns an opaque bearer token made of three random UUIDs.
func NewAgentToken() string {
	var b strings.Builder
	for range 3 {
		b.WriteString(strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	return b.String()
}
