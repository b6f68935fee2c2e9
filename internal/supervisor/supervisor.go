// SPDX-License-Identifier: MIT

// Package supervisor owns the lifecycle of CLI agent processes: spawning,
// line-oriented output capture, heartbeats, command injection and graceful
// termination. It is the only writer of the in-memory handle maps; everything
// downstream observes sessions through the store or the event broker.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stackworks/agentmux/internal/events"
	"github.com/stackworks/agentmux/internal/log"
	"github.com/stackworks/agentmux/internal/metrics"
	"github.com/stackworks/agentmux/internal/store"
	"github.com/stackworks/agentmux/internal/types"
)

const (
	// DefaultMaxSessionsPerWorkspace caps concurrent sessions per tenant.
	DefaultMaxSessionsPerWorkspace = 10

	// DefaultHeartbeatInterval is the store refresh cadence while running.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultTerminateGrace is the window between SIGTERM and SIGKILL.
	DefaultTerminateGrace = 5 * time.Second

	// defaultCommand is the spawned CLI binary.
	defaultCommand = "claude"

	// scanner buffer sizing for long output lines.
	scanInitialBuf = 64 * 1024
	scanMaxBuf     = 1024 * 1024
)

// Config tunes supervisor behavior. Zero values select the defaults.
type Config struct {
	MaxSessionsPerWorkspace int
	HeartbeatInterval       time.Duration
	TerminateGrace          time.Duration

	// CommandPath overrides the spawned binary, used by tests.
	CommandPath string
}

func (c *Config) applyDefaults() {
	if c.MaxSessionsPerWorkspace <= 0 {
		c.MaxSessionsPerWorkspace = DefaultMaxSessionsPerWorkspace
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.TerminateGrace <= 0 {
		c.TerminateGrace = DefaultTerminateGrace
	}
	if c.CommandPath == "" {
		c.CommandPath = defaultCommand
	}
}

// CreateRequest carries the caller's session parameters.
type CreateRequest struct {
	AgentID     string
	Task        string
	WorkspaceID string
	ProjectID   string
	WorkingDir  string // empty: current process directory
}

// handle is the supervisor's private per-session runtime state.
type handle struct {
	session types.Session

	cmd   *exec.Cmd
	stdin io.WriteCloser
	ring  *outputRing

	lineNo atomic.Int64

	cancel  context.CancelFunc // stops the heartbeat loop
	done    chan struct{}      // closed after exit handling completes
	readers sync.WaitGroup     // stdout/stderr read loops

	mu          sync.Mutex
	stdinClosed bool
	terminating bool
}

// Supervisor spawns and tracks CLI sessions.
type Supervisor struct {
	cfg    Config
	store  *store.SessionStore
	broker *events.SessionBroker
	logger zerolog.Logger

	mu      sync.RWMutex
	byID    map[string]*handle
	byAgent map[string]string
}

// New creates a supervisor over the given store and notification broker.
func New(cfg Config, sessions *store.SessionStore, broker *events.SessionBroker) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg:     cfg,
		store:   sessions,
		broker:  broker,
		logger:  log.WithComponent("supervisor"),
		byID:    make(map[string]*handle),
		byAgent: make(map[string]string),
	}
}

// CreateSession validates the request, enforces the workspace cap, spawns
// the CLI process and starts its heartbeat and output readers.
func (s *Supervisor) CreateSession(ctx context.Context, req CreateRequest) (*types.Session, error) {
	if err := validateRequest(req); err != nil {
		metrics.IncSessionStart(false, "invalid_argument")
		return nil, err
	}

	s.mu.RLock()
	_, agentBusy := s.byAgent[req.AgentID]
	s.mu.RUnlock()
	if agentBusy {
		metrics.IncSessionStart(false, "agent_busy")
		return nil, fmt.Errorf("%w: agent %s already has an active session", ErrInvalidArgument, req.AgentID)
	}

	count, err := s.store.GetWorkspaceSessionCount(ctx, req.WorkspaceID)
	if err != nil {
		s.logger.Warn().Err(err).Str("workspace_id", req.WorkspaceID).
			Msg("workspace count read failed, admitting without cap check")
	} else if count >= s.cfg.MaxSessionsPerWorkspace {
		metrics.IncSessionStart(false, "concurrency")
		return nil, fmt.Errorf("%w: workspace %s has %d of %d sessions",
			ErrConcurrencyExceeded, req.WorkspaceID, count, s.cfg.MaxSessionsPerWorkspace)
	}

	sessionID := uuid.New().String()

	cmd := exec.Command(s.cfg.CommandPath, "--print", req.Task)
	cmd.Dir = req.WorkingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		metrics.IncSessionStart(false, "spawn")
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		metrics.IncSessionStart(false, "spawn")
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		metrics.IncSessionStart(false, "spawn")
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		metrics.IncSessionStart(false, "spawn")
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	now := time.Now().UTC()
	h := &handle{
		session: types.Session{
			SessionID:     sessionID,
			WorkspaceID:   req.WorkspaceID,
			ProjectID:     req.ProjectID,
			AgentID:       req.AgentID,
			PID:           cmd.Process.Pid,
			Status:        types.StatusRunning,
			Task:          req.Task,
			StartedAt:     now,
			LastHeartbeat: now,
		},
		cmd:   cmd,
		stdin: stdin,
		ring:  newOutputRing(),
		done:  make(chan struct{}),
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	// Store failures are logged and absorbed: the in-memory handle remains
	// authoritative and the next heartbeat retries the write.
	if err := s.store.StoreSession(ctx, &h.session); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).
			Msg("session metadata persist failed")
	}

	s.mu.Lock()
	s.byID[sessionID] = h
	s.byAgent[req.AgentID] = sessionID
	s.mu.Unlock()

	h.readers.Add(2)
	go s.readLoop(h, stdout, types.OutputStdout)
	go s.readLoop(h, stderr, types.OutputStderr)
	go s.heartbeatLoop(hbCtx, h)
	go s.waitForExit(h)

	metrics.IncSessionStart(true, "")
	metrics.SessionsActive.Inc()
	s.logger.Info().
		Str("session_id", sessionID).
		Str("agent_id", req.AgentID).
		Str("workspace_id", req.WorkspaceID).
		Int("pid", h.session.PID).
		Msg("session started")

	sess := h.session
	return &sess, nil
}

// GetSession returns a snapshot of an in-memory session, or nil.
func (s *Supervisor) GetSession(sessionID string) *types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.byID[sessionID]; ok {
		sess := h.session
		return &sess
	}
	return nil
}

// GetSessionByAgent returns the agent's current session snapshot, or nil.
func (s *Supervisor) GetSessionByAgent(agentID string) *types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byAgent[agentID]; ok {
		if h, ok := s.byID[id]; ok {
			sess := h.session
			return &sess
		}
	}
	return nil
}

// GetAllSessions snapshots every supervised session.
func (s *Supervisor) GetAllSessions() []*types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Session, 0, len(s.byID))
	for _, h := range s.byID {
		sess := h.session
		out = append(out, &sess)
	}
	return out
}

// GetRecentOutput returns the buffered output window for a session in
// chronological order, or nil for unknown ids.
func (s *Supervisor) GetRecentOutput(sessionID string) []*types.OutputEvent {
	s.mu.RLock()
	h, ok := s.byID[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return h.ring.snapshot()
}

// SendCommand writes a line to the session's stdin and echoes it as a
// command-typed output event.
func (s *Supervisor) SendCommand(sessionID, line string) error {
	s.mu.RLock()
	h, ok := s.byID[sessionID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: session %s", ErrNotRunning, sessionID)
	}

	h.mu.Lock()
	closed := h.stdinClosed
	h.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: session %s", ErrStdinClosed, sessionID)
	}

	if _, err := io.WriteString(h.stdin, line+"\n"); err != nil {
		h.mu.Lock()
		h.stdinClosed = true
		h.mu.Unlock()
		return fmt.Errorf("%w: session %s: %v", ErrStdinClosed, sessionID, err)
	}

	s.emitLine(h, types.OutputCommand, line)
	return nil
}

// TerminateSession gracefully stops a session: SIGTERM, then SIGKILL after
// the grace window. Unknown ids succeed silently.
func (s *Supervisor) TerminateSession(ctx context.Context, sessionID string) error {
	s.mu.RLock()
	h, ok := s.byID[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	h.mu.Lock()
	alreadyTerminating := h.terminating
	h.terminating = true
	h.mu.Unlock()

	if !alreadyTerminating {
		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("SIGTERM failed")
		}
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(s.cfg.TerminateGrace):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Warn().
		Str("session_id", sessionID).
		Dur("grace", s.cfg.TerminateGrace).
		Msg("grace window expired, killing process")
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("SIGKILL failed")
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TerminateAllSessions terminates every supervised session concurrently.
func (s *Supervisor) TerminateAllSessions(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			return s.TerminateSession(ctx, id)
		})
	}
	return g.Wait()
}

// SessionCount returns the number of supervised sessions.
func (s *Supervisor) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Supervisor) readLoop(h *handle, r io.Reader, eventType types.OutputEventType) {
	defer h.readers.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scanInitialBuf), scanMaxBuf)
	for scanner.Scan() {
		// ScanLines strips both \n and \r\n uniformly.
		s.emitLine(h, eventType, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn().Err(err).
			Str("session_id", h.session.SessionID).
			Str("stream", string(eventType)).
			Msg("output read ended with error")
	}
}

// emitLine assigns the next line number, buffers the event and fans it out.
// Line numbers are assigned before buffering, so interleaved stdout/stderr
// readers may each observe gaps in their own stream.
func (s *Supervisor) emitLine(h *handle, eventType types.OutputEventType, content string) {
	ev := &types.OutputEvent{
		SessionID:  h.session.SessionID,
		AgentID:    h.session.AgentID,
		Type:       eventType,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		LineNumber: int(h.lineNo.Add(1)),
	}
	h.ring.append(ev)
	s.broker.Publish(events.EventOutput, events.SessionNotification{
		SessionID:   ev.SessionID,
		AgentID:     ev.AgentID,
		WorkspaceID: h.session.WorkspaceID,
		ProjectID:   h.session.ProjectID,
		Output:      ev,
	})
}

func (s *Supervisor) heartbeatLoop(ctx context.Context, h *handle) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			now = now.UTC()
			if err := s.store.UpdateHeartbeat(ctx, h.session.SessionID, now); err != nil {
				metrics.HeartbeatFailures.Inc()
				s.logger.Warn().Err(err).
					Str("session_id", h.session.SessionID).
					Msg("heartbeat update failed")
				continue
			}
			s.mu.Lock()
			h.session.LastHeartbeat = now
			s.mu.Unlock()
		}
	}
}

// waitForExit handles process exit: synthesizes the exit event, publishes
// the crash/terminated notifications and cleans memory and store entries.
func (s *Supervisor) waitForExit(h *handle) {
	// Drain both pipes before Wait closes them.
	h.readers.Wait()
	err := h.cmd.Wait()
	code, signal := exitStatus(err)

	h.cancel()
	h.mu.Lock()
	h.stdinClosed = true
	requested := h.terminating
	h.mu.Unlock()

	s.emitLine(h, types.OutputExit, exitContent(code, signal))

	exit := &types.ExitStatus{Code: code, Signal: signal, Terminated: true}
	notif := events.SessionNotification{
		SessionID:   h.session.SessionID,
		AgentID:     h.session.AgentID,
		WorkspaceID: h.session.WorkspaceID,
		ProjectID:   h.session.ProjectID,
		Exit:        exit,
	}
	crashed := !requested && (code != 0 || signal != "")
	if crashed {
		s.broker.Publish(events.EventCrashed, notif)
	}
	s.broker.Publish(events.EventTerminated, notif)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.DeleteSession(ctx, h.session.SessionID); err != nil {
		s.logger.Warn().Err(err).
			Str("session_id", h.session.SessionID).
			Msg("store cleanup failed on exit")
	}

	s.mu.Lock()
	delete(s.byID, h.session.SessionID)
	delete(s.byAgent, h.session.AgentID)
	s.mu.Unlock()

	cause := "exited"
	switch {
	case requested:
		cause = "terminated"
	case crashed:
		cause = "crashed"
	}
	metrics.SessionsActive.Dec()
	metrics.IncSessionTerminated(cause)
	metrics.ObserveSessionDuration(time.Since(h.session.StartedAt))

	s.logger.Info().
		Str("session_id", h.session.SessionID).
		Int("code", code).
		Str("signal", signal).
		Str("cause", cause).
		Msg("session ended")

	close(h.done)
}

func validateRequest(req CreateRequest) error {
	for name, v := range map[string]string{
		"agentId":     req.AgentID,
		"task":        req.Task,
		"workspaceId": req.WorkspaceID,
		"projectId":   req.ProjectID,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s must not be empty", ErrInvalidArgument, name)
		}
	}
	// Only validate shape when the id already looks canonical.
	for name, v := range map[string]string{
		"agentId":     req.AgentID,
		"workspaceId": req.WorkspaceID,
		"projectId":   req.ProjectID,
	} {
		if len(v) == 36 {
			if _, err := uuid.Parse(v); err != nil {
				return fmt.Errorf("%w: %s is not a valid uuid", ErrInvalidArgument, name)
			}
		}
	}
	return nil
}

func exitStatus(err error) (code int, signal string) {
	if err == nil {
		return 0, ""
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -1, ws.Signal().String()
		}
		return exitErr.ExitCode(), ""
	}
	return -1, ""
}

func exitContent(code int, signal string) string {
	if signal == "" {
		signal = "null"
	}
	return fmt.Sprintf("Process exited with code %d, signal %s", code, signal)
}
