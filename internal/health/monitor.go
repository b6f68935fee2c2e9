// SPDX-License-Identifier: MIT

// Package health runs the periodic staleness sweep over the session store.
// Sessions whose heartbeat stopped advancing are reclaimed through the
// supervisor; every pass ends with a published snapshot. The monitor absorbs
// all errors, it must keep running for the lifetime of the process.
package health

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackworks/agentmux/internal/events"
	"github.com/stackworks/agentmux/internal/log"
	"github.com/stackworks/agentmux/internal/metrics"
	"github.com/stackworks/agentmux/internal/store"
	"github.com/stackworks/agentmux/internal/types"
)

const (
	// DefaultCheckInterval is the sweep cadence.
	DefaultCheckInterval = 60 * time.Second

	// DefaultStaleThreshold is the heartbeat age past which a session is
	// considered abandoned.
	DefaultStaleThreshold = 300 * time.Second
)

// SessionTerminator is the slice of the supervisor the monitor needs.
type SessionTerminator interface {
	TerminateSession(ctx context.Context, sessionID string) error
}

// Config tunes the monitor. Zero values select the defaults.
type Config struct {
	CheckInterval  time.Duration
	StaleThreshold time.Duration
}

// Monitor periodically reclaims stale sessions.
type Monitor struct {
	cfg        Config
	store      *store.SessionStore
	terminator SessionTerminator
	broker     *events.SessionBroker
	logger     zerolog.Logger
}

// NewMonitor creates a health monitor.
func NewMonitor(cfg Config, sessions *store.SessionStore, terminator SessionTerminator, broker *events.SessionBroker) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	return &Monitor{
		cfg:        cfg,
		store:      sessions,
		terminator: terminator,
		broker:     broker,
		logger:     log.WithComponent("health-monitor"),
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info().
		Dur("interval", m.cfg.CheckInterval).
		Dur("stale_threshold", m.cfg.StaleThreshold).
		Msg("health monitor started")

	m.Sweep(ctx)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one full pass: classify every known session, reclaim stale
// ones, then publish the snapshot. Errors are logged and swallowed.
func (m *Monitor) Sweep(ctx context.Context) events.HealthSnapshot {
	start := time.Now()

	var total, active, stale, terminated int

	ids, err := m.store.GetAllSessionIds(ctx, 0)
	if err != nil {
		m.logger.Warn().Err(err).Msg("session enumeration failed, skipping pass")
	}

	now := time.Now()
	for _, id := range ids {
		sess, err := m.store.GetSession(ctx, id)
		if err != nil {
			m.logger.Warn().Err(err).Str("session_id", id).Msg("session read failed")
			continue
		}
		if sess == nil {
			// expired between scan and read
			continue
		}

		total++
		if sess.Status == types.StatusTerminated {
			terminated++
			continue
		}
		if now.Sub(sess.LastHeartbeat) > m.cfg.StaleThreshold {
			stale++
			m.reclaim(ctx, sess)
			continue
		}
		active++
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	snapshot := events.HealthSnapshot{
		Total:       total,
		Active:      active,
		Stale:       stale,
		Terminated:  terminated,
		MemoryBytes: mem.Alloc,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	m.broker.Publish(events.EventHealthCheck, events.SessionNotification{Health: &snapshot})

	metrics.RecordHealthSweep(time.Since(start), total, active, stale, terminated)
	m.logger.Debug().
		Int("total", total).
		Int("active", active).
		Int("stale", stale).
		Int("terminated", terminated).
		Dur("elapsed", time.Since(start)).
		Msg("health sweep complete")

	return snapshot
}

// reclaim notifies subscribers and terminates the stale session. When the
// supervisor cannot terminate it (for example a record owned by a replica
// that died), the record is marked terminated directly so the next pass
// does not re-process it.
func (m *Monitor) reclaim(ctx context.Context, sess *types.Session) {
	m.logger.Warn().
		Str("session_id", sess.SessionID).
		Str("agent_id", sess.AgentID).
		Time("last_heartbeat", sess.LastHeartbeat).
		Msg("stale session detected")

	m.broker.Publish(events.EventStale, events.SessionNotification{
		SessionID:     sess.SessionID,
		AgentID:       sess.AgentID,
		LastHeartbeat: sess.LastHeartbeat,
	})

	if err := m.terminator.TerminateSession(ctx, sess.SessionID); err != nil {
		m.logger.Warn().Err(err).
			Str("session_id", sess.SessionID).
			Msg("stale termination failed, marking terminated in store")
	}

	// The record may survive the terminate call when no replica holds the
	// process handle anymore. Mark it terminated so the next pass skips it.
	exists, err := m.store.SessionExists(ctx, sess.SessionID)
	if err != nil {
		m.logger.Warn().Err(err).Str("session_id", sess.SessionID).Msg("existence check failed")
	} else if exists {
		if err := m.store.UpdateStatus(ctx, sess.SessionID, types.StatusTerminated); err != nil {
			m.logger.Error().Err(err).
				Str("session_id", sess.SessionID).
				Msg("status fallback write failed")
			return
		}
	}
	metrics.StaleSessionsReclaimed.Inc()
}
