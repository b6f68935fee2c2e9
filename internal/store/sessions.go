// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stackworks/agentmux/internal/log"
	"github.com/stackworks/agentmux/internal/types"
)

const (
	// DefaultSessionTTL bounds how long a session record survives without
	// heartbeats refreshing it.
	DefaultSessionTTL = 86400 * time.Second

	// scanPageSize is the per-iteration COUNT hint for SCAN.
	scanPageSize = 100

	// DefaultMaxScanResults caps id enumeration to prevent unbounded traversal.
	DefaultMaxScanResults = 10000
)

// SessionStore is the Redis-backed index of supervised sessions.
type SessionStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewSessionStore creates a store over the given Redis client. ttl <= 0
// selects DefaultSessionTTL.
func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		rdb:    rdb,
		ttl:    ttl,
		logger: log.WithComponent("session-store"),
	}
}

// StoreSession writes the session record, the workspace index entry and the
// agent pointer.
func (s *SessionStore) StoreSession(ctx context.Context, sess *types.Session) error {
	fields := map[string]string{
		"sessionId":     sess.SessionID,
		"workspaceId":   sess.WorkspaceID,
		"projectId":     sess.ProjectID,
		"agentId":       sess.AgentID,
		"pid":           strconv.Itoa(sess.PID),
		"status":        string(sess.Status),
		"task":          sess.Task,
		"startedAt":     sess.StartedAt.UTC().Format(time.RFC3339Nano),
		"lastHeartbeat": sess.LastHeartbeat.UTC().Format(time.RFC3339Nano),
	}
	if sess.TerminatedAt != nil {
		fields["terminatedAt"] = sess.TerminatedAt.UTC().Format(time.RFC3339Nano)
	}

	pipe := s.rdb.TxPipeline()
	key := sessionKey(sess.SessionID)
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	pipe.SAdd(ctx, workspaceKey(sess.WorkspaceID), sess.SessionID)
	pipe.Set(ctx, agentKey(sess.AgentID), sess.SessionID, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session %s: %w", sess.SessionID, err)
	}
	return nil
}

// GetSession loads a session record. Returns (nil, nil) when absent.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	fields, err := s.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return sessionFromFields(fields)
}

// DeleteSession removes the session record plus its workspace-set membership
// and agent pointer. Unknown ids are a no-op.
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	// Read metadata first so the tenancy indexes can be cleaned.
	fields, err := s.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("delete session %s: read: %w", sessionID, err)
	}
	if len(fields) == 0 {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	if ws := fields["workspaceId"]; ws != "" {
		pipe.SRem(ctx, workspaceKey(ws), sessionID)
	}
	if agent := fields["agentId"]; agent != "" {
		pipe.Del(ctx, agentKey(agent))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// UpdateHeartbeat writes lastHeartbeat and refreshes the record TTL.
func (s *SessionStore) UpdateHeartbeat(ctx context.Context, sessionID string, at time.Time) error {
	key := sessionKey(sessionID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, "lastHeartbeat", at.UTC().Format(time.RFC3339Nano))
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update heartbeat %s: %w", sessionID, err)
	}
	return nil
}

// UpdateStatus writes the session status; terminal transitions also record
// terminatedAt.
func (s *SessionStore) UpdateStatus(ctx context.Context, sessionID string, status types.SessionStatus) error {
	fields := map[string]string{"status": string(status)}
	if status == types.StatusTerminated {
		fields["terminatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if err := s.rdb.HSet(ctx, sessionKey(sessionID), fields).Err(); err != nil {
		return fmt.Errorf("update status %s: %w", sessionID, err)
	}
	return nil
}

// GetWorkspaceSessions lists session ids registered for a workspace.
func (s *SessionStore) GetWorkspaceSessions(ctx context.Context, workspaceID string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, workspaceKey(workspaceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("workspace sessions %s: %w", workspaceID, err)
	}
	return ids, nil
}

// GetWorkspaceSessionCount returns the number of sessions registered for a
// workspace. This is the admission-control read; it is not atomic with the
// subsequent spawn, so contention may admit one extra session.
func (s *SessionStore) GetWorkspaceSessionCount(ctx context.Context, workspaceID string) (int, error) {
	n, err := s.rdb.SCard(ctx, workspaceKey(workspaceID)).Result()
	if err != nil {
		return 0, fmt.Errorf("workspace session count %s: %w", workspaceID, err)
	}
	return int(n), nil
}

// GetSessionByAgent resolves the agent pointer to a session id. Returns ""
// when the agent has no live session.
func (s *SessionStore) GetSessionByAgent(ctx context.Context, agentID string) (string, error) {
	id, err := s.rdb.Get(ctx, agentKey(agentID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session by agent %s: %w", agentID, err)
	}
	return id, nil
}

// SessionExists reports whether a session record is present.
func (s *SessionStore) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("session exists %s: %w", sessionID, err)
	}
	return n > 0, nil
}

// GetAllSessionIds enumerates session ids via SCAN with a bounded result
// count. maxResults <= 0 selects DefaultMaxScanResults.
func (s *SessionStore) GetAllSessionIds(ctx context.Context, maxResults int) ([]string, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxScanResults
	}

	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, sessionScanPattern, scanPageSize).Result()
		if err != nil {
			return nil, fmt.Errorf("scan sessions: %w", err)
		}
		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, "cli:session:"))
			if len(ids) >= maxResults {
				s.logger.Warn().
					Int("max_results", maxResults).
					Msg("session scan hit result cap, enumeration truncated")
				return ids, nil
			}
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}

// Ping verifies store connectivity.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func sessionFromFields(fields map[string]string) (*types.Session, error) {
	sess := &types.Session{
		SessionID:   fields["sessionId"],
		WorkspaceID: fields["workspaceId"],
		ProjectID:   fields["projectId"],
		AgentID:     fields["agentId"],
		Status:      types.SessionStatus(fields["status"]),
		Task:        fields["task"],
	}

	if raw := fields["pid"]; raw != "" {
		pid, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parse pid %q: %w", raw, err)
		}
		sess.PID = pid
	}

	var err error
	if sess.StartedAt, err = parseTimeField(fields, "startedAt"); err != nil {
		return nil, err
	}
	if sess.LastHeartbeat, err = parseTimeField(fields, "lastHeartbeat"); err != nil {
		return nil, err
	}
	if raw := fields["terminatedAt"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse terminatedAt %q: %w", raw, err)
		}
		sess.TerminatedAt = &t
	}
	return sess, nil
}

func parseTimeField(fields map[string]string, name string) (time.Time, error) {
	raw := fields[name]
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %q: %w", name, raw, err)
	}
	return t, nil
}
