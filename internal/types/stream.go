// SPDX-License-Identifier: MIT

package types

import "time"

// StreamEventType refines output classification for downstream consumers.
type StreamEventType string

const (
	StreamOutput     StreamEventType = "output"
	StreamCommand    StreamEventType = "command"
	StreamFileChange StreamEventType = "file_change"
	StreamTestResult StreamEventType = "test_result"
	StreamError      StreamEventType = "error"
)

// FileChangeType describes what happened to a file.
type FileChangeType string

const (
	FileCreated FileChangeType = "created"
	FileEdited  FileChangeType = "edited"
	FileDeleted FileChangeType = "deleted"
)

// TestStatus is the outcome of a single test or a test summary line.
type TestStatus string

const (
	TestPassed  TestStatus = "passed"
	TestFailed  TestStatus = "failed"
	TestSkipped TestStatus = "skipped"
)

// TestSummary carries aggregate counts parsed from a runner summary line.
type TestSummary struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// StreamMetadata carries the per-type enrichment fields. Only the fields
// relevant to the event type are set; the whole struct is omitted from the
// wire form when empty.
type StreamMetadata struct {
	// output
	OutputType string `json:"outputType,omitempty"` // stdout or stderr
	// file_change
	FileName   string         `json:"fileName,omitempty"`
	FilePath   string         `json:"filePath,omitempty"`
	ChangeType FileChangeType `json:"changeType,omitempty"`
	// test_result
	TestName   string       `json:"testName,omitempty"`
	TestStatus TestStatus   `json:"testStatus,omitempty"`
	Summary    *TestSummary `json:"summary,omitempty"`
	// error
	ErrorType string `json:"errorType,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// IsZero reports whether no metadata field is populated.
func (m StreamMetadata) IsZero() bool {
	return m == StreamMetadata{}
}

// StreamEvent is the tenancy-tagged, type-refined form published to the
// per-workspace pub/sub channel as JSON.
type StreamEvent struct {
	SessionID   string          `json:"sessionId"`
	AgentID     string          `json:"agentId"`
	ProjectID   string          `json:"projectId"`
	WorkspaceID string          `json:"workspaceId"`
	Type        StreamEventType `json:"type"`
	Content     string          `json:"content"`
	Timestamp   time.Time       `json:"timestamp"`
	LineNumber  int             `json:"lineNumber"`
	Metadata    *StreamMetadata `json:"metadata,omitempty"`
}
