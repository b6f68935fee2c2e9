// SPDX-License-Identifier: MIT

// Package store persists session metadata, tenancy indexes and replay
// history in a shared Redis instance so that any replica can observe
// sessions supervised elsewhere.
package store

import "fmt"

// Key families. The exact strings are wire compatibility: other services
// read these keys directly.
func sessionKey(sessionID string) string {
	return fmt.Sprintf("cli:session:%s", sessionID)
}

func workspaceKey(workspaceID string) string {
	return fmt.Sprintf("cli:workspace:%s:sessions", workspaceID)
}

func agentKey(agentID string) string {
	return fmt.Sprintf("cli:agent:%s", agentID)
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("cli:history:%s", sessionID)
}

// ChannelForWorkspace returns the pub/sub channel carrying stream events
// for a workspace.
func ChannelForWorkspace(workspaceID string) string {
	return fmt.Sprintf("cli-events:%s", workspaceID)
}

const sessionScanPattern = "cli:session:*"
