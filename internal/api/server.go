// SPDX-License-Identifier: MIT

// Package api is the daemon's admin HTTP surface: health probes, Prometheus
// metrics, session CRUD and routing decisions.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/stackworks/agentmux/internal/log"
	"github.com/stackworks/agentmux/internal/store"
	"github.com/stackworks/agentmux/internal/supervisor"
	"github.com/stackworks/agentmux/internal/types"
)

// SessionManager is the supervisor surface the API needs.
type SessionManager interface {
	CreateSession(ctx context.Context, req supervisor.CreateRequest) (*types.Session, error)
	GetSession(sessionID string) *types.Session
	GetAllSessions() []*types.Session
	SendCommand(sessionID, line string) error
	TerminateSession(ctx context.Context, sessionID string) error
}

// TaskRouter is the routing surface the API needs.
type TaskRouter interface {
	RouteTask(ctx context.Context, req *types.TaskRoutingRequest, cfg *types.WorkspaceRoutingConfig) (*types.RoutingDecision, error)
}

// Server serves the admin API.
type Server struct {
	sessions SessionManager
	history  *store.HistoryBuffer
	store    *store.SessionStore
	router   TaskRouter
	logger   zerolog.Logger

	httpSrv *http.Server
}

// NewServer wires the admin API. Any dependency may be nil in tests; the
// corresponding routes then return 503.
func NewServer(addr string, sessions SessionManager, history *store.HistoryBuffer, st *store.SessionStore, taskRouter TaskRouter) *Server {
	s := &Server{
		sessions: sessions,
		history:  history,
		store:    st,
		router:   taskRouter,
		logger:   log.WithComponent("api"),
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Post("/sessions/{id}/command", s.handleSendCommand)
		r.Get("/sessions/{id}/history", s.handleGetHistory)
		r.Post("/route", s.handleRoute)
	})

	return r
}

// requestLogger lifts chi's request ID (and an optional caller correlation
// ID) into the logging context and emits one line per completed request.
// Handlers retrieve the enriched logger with log.FromContext.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.ContextWithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		if cid := r.Header.Get("X-Correlation-ID"); cid != "" {
			ctx = log.ContextWithCorrelationID(ctx, cid)
		}
		logger := log.WithContext(ctx, s.logger)
		ctx = logger.WithContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("admin API listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
