// SPDX-License-Identifier: MIT

package events

import (
	"time"

	"github.com/stackworks/agentmux/internal/types"
)

// EventType names a supervisor notification kind.
type EventType string

const (
	// EventOutput carries one OutputEvent line.
	EventOutput EventType = "session.output"
	// EventTerminated signals that a session process has exited.
	EventTerminated EventType = "session.terminated"
	// EventCrashed signals an abnormal process exit.
	EventCrashed EventType = "session.crashed"
	// EventStale is emitted by the health monitor before reclamation.
	EventStale EventType = "session.stale"
	// EventHealthCheck carries the health monitor pass snapshot.
	EventHealthCheck EventType = "health.check_complete"
)

// SessionNotification is the payload fanned out by the supervisor and the
// health monitor. Fields are populated per event type.
type SessionNotification struct {
	SessionID   string
	AgentID     string
	WorkspaceID string
	ProjectID   string

	// EventOutput
	Output *types.OutputEvent

	// EventTerminated / EventCrashed
	Exit *types.ExitStatus

	// EventStale
	LastHeartbeat time.Time

	// EventHealthCheck
	Health *HealthSnapshot
}

// HealthSnapshot summarizes one health monitor pass.
type HealthSnapshot struct {
	Total       int    `json:"total"`
	Active      int    `json:"active"`
	Stale       int    `json:"stale"`
	Terminated  int    `json:"terminated"`
	MemoryBytes uint64 `json:"memoryBytes"`
	Timestamp   string `json:"timestamp"` // ISO-8601
}

// SessionBroker is the concrete broker type shared by the supervisor,
// publisher and health monitor.
type SessionBroker = Broker[SessionNotification]

// NewSessionBroker creates the shared session notification broker.
func NewSessionBroker() *SessionBroker {
	return NewBroker[SessionNotification]()
}
