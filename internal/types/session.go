// SPDX-License-Identifier: MIT

// Package types holds the shared domain model: sessions, output events,
// stream events and the model-catalog/routing structures.
package types

import "time"

// SessionStatus is the client-visible lifecycle of a CLI session.
// Transitions: idle -> running on spawn success, running -> terminated on
// process exit. No other transitions exist.
type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"
	StatusRunning    SessionStatus = "running"
	StatusTerminated SessionStatus = "terminated"
)

// IsTerminal returns true if the status is final.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusTerminated
}

// Session is the store-level source of truth for a single CLI agent session.
// All wall-clock fields are UTC.
type Session struct {
	SessionID     string        `json:"sessionId"`
	WorkspaceID   string        `json:"workspaceId"`
	ProjectID     string        `json:"projectId"`
	AgentID       string        `json:"agentId"`
	PID           int           `json:"pid"`
	Status        SessionStatus `json:"status"`
	Task          string        `json:"task"`
	StartedAt     time.Time     `json:"startedAt"`
	LastHeartbeat time.Time     `json:"lastHeartbeat"`
	TerminatedAt  *time.Time    `json:"terminatedAt,omitempty"`
}

// OutputEventType classifies raw per-line emissions from the supervisor.
type OutputEventType string

const (
	OutputStdout  OutputEventType = "stdout"
	OutputStderr  OutputEventType = "stderr"
	OutputCommand OutputEventType = "command"
	OutputExit    OutputEventType = "exit"
)

// OutputEvent is the supervisor's line-granularity emission, produced before
// any enrichment. LineNumber is a per-session counter starting at 1.
type OutputEvent struct {
	SessionID  string          `json:"sessionId"`
	AgentID    string          `json:"agentId"`
	Type       OutputEventType `json:"type"`
	Content    string          `json:"content"`
	Timestamp  time.Time       `json:"timestamp"`
	LineNumber int             `json:"lineNumber"`
}

// ExitStatus describes how a session process ended.
type ExitStatus struct {
	Code       int    `json:"code"`
	Signal     string `json:"signal,omitempty"`
	Terminated bool   `json:"terminated"`
}
