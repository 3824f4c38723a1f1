// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/meshoverlay/node/internal/logger"
)

// Server exposes liveness, readiness and health-detail HTTP endpoints
// backed by a Checker.
type Server struct {
	checker *Checker
	logger  logger.Logger
	addr    string
	path    string
	server  *http.Server
}

// NewServer creates a new health HTTP server.
func NewServer(checker *Checker, log logger.Logger, addr, path string) *Server {
	if path == "" {
		path = "/healthz"
	}
	return &Server{checker: checker, logger: log, addr: addr, path: path}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleHealth)
	mux.HandleFunc(s.path+"/live", s.handleLiveness)
	mux.HandleFunc(s.path+"/ready", s.handleReadiness)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("starting health server", logger.String("addr", s.addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server error", logger.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.checker.Snapshot(r.Context())

	switch snapshot.Status {
	case StatusUnhealthy:
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status := s.checker.OverallStatus(r.Context())
	ready := status != StatusUnhealthy

	response := map[string]interface{}{
		"ready":     ready,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"status":    status,
	}

	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// StartServer is a convenience constructor that builds and starts a Server.
func StartServer(checker *Checker, log logger.Logger, addr, path string) (*Server, error) {
	s := NewServer(checker, log, addr, path)
	if err := s.Start(); err != nil {
		return nil, fmt.Errorf("start health server: %w", err)
	}
	return s, nil
}
