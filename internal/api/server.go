// Package api exposes the workflow engine's session API over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dkoren/tagsmith/internal/tools"
	"github.com/dkoren/tagsmith/internal/workflow"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the session API server.
type Server struct {
	address string
	port    int
	engine  *workflow.Engine
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates an API server around a workflow engine.
func NewServer(address string, port int, engine *workflow.Engine, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		port:    port,
		engine:  engine,
		logger:  logger,
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/sessions/{id}/messages", s.handleSubmit)
	mux.HandleFunc("POST /v1/sessions/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/sessions/{id}/reject", s.handleReject)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleHistory)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleReset)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.address, s.port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("session API listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}

// writeStatus emits an error body with an explicit HTTP status.
func (s *Server) writeStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, errorBody{Error: msg}, s.logger)
}

// writeError maps workflow errors onto HTTP status codes. Session
// contention and pending-approval conflicts are 409; malformed
// invocations are 422; everything else is a 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *tools.ValidationError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrPendingApproval),
		errors.Is(err, workflow.ErrNoPendingApproval),
		errors.Is(err, workflow.ErrSessionBusy):
		status = http.StatusConflict
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
	}

	s.writeStatus(w, status, err.Error())
}

// submitRequest is the body of a user turn.
type submitRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeStatus(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		s.writeStatus(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := s.engine.Submit(r.Context(), id, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, result, s.logger)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, result, s.logger)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Reject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, result, s.logger)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.History(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sess == nil {
		s.writeStatus(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, sess, s.logger)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reset(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}
