// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stackworks/agentmux/internal/router"
	"github.com/stackworks/agentmux/internal/supervisor"
)

// errorBody is the uniform JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, errorBody{Error: msg, Kind: kind})
}

// writeDomainError maps supervisor and router errors onto HTTP codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var re *router.RoutingError
	switch {
	case errors.Is(err, supervisor.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, supervisor.ErrConcurrencyExceeded):
		writeError(w, http.StatusTooManyRequests, "concurrency_exceeded", err.Error())
	case errors.Is(err, supervisor.ErrNotRunning):
		writeError(w, http.StatusNotFound, "not_running", err.Error())
	case errors.Is(err, supervisor.ErrStdinClosed):
		writeError(w, http.StatusConflict, "stdin_closed", err.Error())
	case errors.Is(err, supervisor.ErrSpawnFailed):
		writeError(w, http.StatusBadGateway, "spawn_failed", err.Error())
	case errors.As(err, &re):
		writeError(w, http.StatusConflict, "no_model_available", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
