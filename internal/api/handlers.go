// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stackworks/agentmux/internal/log"
	"github.com/stackworks/agentmux/internal/supervisor"
	"github.com/stackworks/agentmux/internal/types"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports ready only when the store answers a ping.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "store not configured")
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.GetAllSessions())
}

// createSessionBody is the JSON form of a spawn request.
type createSessionBody struct {
	AgentID     string `json:"agentId"`
	Task        string `json:"task"`
	WorkspaceID string `json:"workspaceId"`
	ProjectID   string `json:"projectId"`
	WorkingDir  string `json:"workingDir,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	sess, err := s.sessions.CreateSession(r.Context(), supervisor.CreateRequest{
		AgentID:     body.AgentID,
		Task:        body.Task,
		WorkspaceID: body.WorkspaceID,
		ProjectID:   body.ProjectID,
		WorkingDir:  body.WorkingDir,
	})
	if err != nil {
		log.FromContext(r.Context()).Warn().
			Err(err).
			Str("agent_id", body.AgentID).
			Msg("session spawn rejected")
		writeDomainError(w, err)
		return
	}

	log.FromContext(r.Context()).Info().
		Str("session_id", sess.SessionID).
		Str("agent_id", sess.AgentID).
		Str("workspace_id", sess.WorkspaceID).
		Msg("session created")
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.GetSession(chi.URLParam(r, "id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.sessions.GetSession(id) == nil {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	ctx := log.ContextWithSessionID(r.Context(), id)
	if err := s.sessions.TerminateSession(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}
	logger := log.WithContext(ctx, s.logger)
	logger.Info().Msg("session terminated")
	w.WriteHeader(http.StatusNoContent)
}

type commandBody struct {
	Command string `json:"command"`
}

func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	var body commandBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if body.Command == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "command must not be empty")
		return
	}
	if err := s.sessions.SendCommand(chi.URLParam(r, "id"), body.Command); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "history not configured")
		return
	}
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	events, err := s.history.GetHistory(r.Context(), chi.URLParam(r, "id"), count)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// routeBody pairs the task request with the workspace routing policy.
type routeBody struct {
	Request         *types.TaskRoutingRequest     `json:"request"`
	WorkspaceConfig *types.WorkspaceRoutingConfig `json:"workspaceConfig"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var body routeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if body.Request == nil || body.WorkspaceConfig == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request and workspaceConfig are required")
		return
	}

	decision, err := s.router.RouteTask(r.Context(), body.Request, body.WorkspaceConfig)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	log.FromContext(r.Context()).Debug().
		Str("task_type", string(body.Request.TaskType)).
		Str("model", decision.SelectedModel).
		Str("provider", string(decision.Provider)).
		Str("reason", decision.Reason).
		Msg("task routed")
	writeJSON(w, http.StatusOK, decision)
}
