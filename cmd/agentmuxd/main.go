// SPDX-License-Identifier: MIT

// agentmuxd is the orchestration daemon: it supervises CLI agent processes,
// publishes their output to Redis pub/sub, reclaims stale sessions and
// answers routing and admin requests over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stackworks/agentmux/internal/api"
	"github.com/stackworks/agentmux/internal/catalog"
	"github.com/stackworks/agentmux/internal/config"
	"github.com/stackworks/agentmux/internal/events"
	"github.com/stackworks/agentmux/internal/health"
	amlog "github.com/stackworks/agentmux/internal/log"
	"github.com/stackworks/agentmux/internal/provider"
	"github.com/stackworks/agentmux/internal/publisher"
	"github.com/stackworks/agentmux/internal/router"
	"github.com/stackworks/agentmux/internal/store"
	"github.com/stackworks/agentmux/internal/supervisor"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Pretty output is an env-only knob: logging is configured before the
	// config file is read.
	amlog.Configure(amlog.Config{
		Service: "agentmux",
		Version: version,
		Pretty:  config.ParseBool("LOG_PRETTY", false),
	})
	logger := amlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("config_path", *configPath).Msg("failed to load configuration")
	}

	rdb, err := store.NewRedisClient(store.RedisConfig{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr()).Msg("redis unreachable")
	}

	sessionTTL := time.Duration(cfg.SessionTTLSeconds) * time.Second
	sessions := store.NewSessionStore(rdb, sessionTTL)
	history := store.NewHistoryBuffer(rdb, 0, sessionTTL)

	broker := events.NewSessionBroker()
	defer broker.Close()

	pub := publisher.NewStreamPublisher(rdb, history)

	sup := supervisor.New(supervisor.Config{
		MaxSessionsPerWorkspace: cfg.MaxConcurrentSessions,
		HeartbeatInterval:       cfg.HeartbeatInterval,
		TerminateGrace:          cfg.TerminateGrace,
	}, sessions, broker)

	go relayOutput(ctx, broker, sup, sessions, pub)

	monitor := health.NewMonitor(health.Config{
		CheckInterval:  cfg.HealthCheckInterval,
		StaleThreshold: cfg.StaleThreshold,
	}, sessions, sup, broker)
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	go monitor.Run(monitorCtx)

	cat := catalog.NewClient(cfg.ModelRegistryURL, cfg.ModelRegistryToken)

	registry := provider.NewRegistry()
	registry.Register(provider.NewAnthropicProvider(cfg.AnthropicBaseURL, cfg.ProviderTimeout))
	registry.Register(provider.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.ProviderTimeout))
	registry.Register(provider.NewGoogleProvider(cfg.GoogleAIBaseURL, cfg.ProviderTimeout))
	registry.Register(provider.NewDeepSeekProvider(cfg.DeepSeekBaseURL, cfg.ProviderTimeout))

	taskRouter := router.New(cat, registry)
	if err := taskRouter.WatchRulesFile(ctx, cfg.RoutingRulesPath); err != nil {
		logger.Error().Err(err).Str("path", cfg.RoutingRulesPath).Msg("routing rules file unusable, using defaults")
	}

	srv := api.NewServer(cfg.ListenAddr, sup, history, sessions, taskRouter)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	logger.Info().
		Str("version", version).
		Str("listen_addr", cfg.ListenAddr).
		Str("redis_addr", cfg.Redis.Addr()).
		Msg("agentmuxd started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("API server failed")
		}
	}

	// Shutdown cascade: stop admitting work, drain the publisher, then kill
	// remaining sessions and close the store.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API shutdown incomplete")
	}
	stopMonitor()
	pub.Shutdown(shutdownCtx)
	if err := sup.TerminateAllSessions(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("session termination incomplete")
	}
	if err := rdb.Close(); err != nil {
		logger.Warn().Err(err).Msg("redis close failed")
	}

	logger.Info().Msg("agentmuxd stopped")
}

// relayOutput forwards supervisor output notifications into the stream
// publisher. The notification carries its workspace and project scope, so
// lines arriving after session teardown still route correctly; the lookup
// path remains as a fallback for payloads without one.
func relayOutput(ctx context.Context, broker *events.SessionBroker, sup *supervisor.Supervisor, sessions *store.SessionStore, pub *publisher.StreamPublisher) {
	logger := amlog.WithComponent("relay")

	type scope struct{ workspaceID, projectID string }
	scopes := make(map[string]scope)

	for ev := range broker.Subscribe(ctx) {
		switch ev.Type {
		case events.EventOutput:
			out := ev.Payload.Output
			if out == nil {
				continue
			}

			if ev.Payload.WorkspaceID != "" {
				pub.PublishOutput(out, ev.Payload.WorkspaceID, ev.Payload.ProjectID)
				continue
			}

			sc, ok := scopes[out.SessionID]
			if !ok {
				sc, ok = resolveScope(ctx, sup, sessions, out.SessionID)
				if !ok {
					logger.Warn().Str("session_id", out.SessionID).Msg("dropping output with unknown workspace scope")
					continue
				}
				scopes[out.SessionID] = sc
			}
			pub.PublishOutput(out, sc.workspaceID, sc.projectID)

		case events.EventTerminated, events.EventCrashed:
			// Exit lines have already been relayed; forget the scope.
			delete(scopes, ev.Payload.SessionID)
		}
	}
}

func resolveScope(ctx context.Context, sup *supervisor.Supervisor, sessions *store.SessionStore, sessionID string) (struct{ workspaceID, projectID string }, bool) {
	type scope = struct{ workspaceID, projectID string }

	if sess := sup.GetSession(sessionID); sess != nil {
		return scope{sess.WorkspaceID, sess.ProjectID}, true
	}
	sess, err := sessions.GetSession(ctx, sessionID)
	if err != nil || sess == nil {
		return scope{}, false
	}
	return scope{sess.WorkspaceID, sess.ProjectID}, true
}
