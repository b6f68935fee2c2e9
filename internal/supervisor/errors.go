// SPDX-License-Identifier: MIT

package supervisor

import "errors"

// Sentinel errors for the supervisor contract. Callers match with errors.Is.
var (
	// ErrInvalidArgument covers empty or malformed ids and tasks.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConcurrencyExceeded is returned when a workspace is at its session cap.
	ErrConcurrencyExceeded = errors.New("workspace session limit reached")

	// ErrSpawnFailed wraps process-launch errors.
	ErrSpawnFailed = errors.New("process spawn failed")

	// ErrNotRunning is returned for command writes to sessions that are not
	// running.
	ErrNotRunning = errors.New("session not running")

	// ErrStdinClosed is returned when the process input stream is gone.
	ErrStdinClosed = errors.New("session stdin closed")
)
