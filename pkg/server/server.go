// Copyright 2026 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server is the HTTP surface of the mirror: the ingestion
// endpoint consuming pre-verified deliveries and the operational reads.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/abcxyz/pkg/healthcheck"
	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/renderer"

	"github.com/abcxyz/github-mirror/pkg/events"
	"github.com/abcxyz/github-mirror/pkg/ingest"
	"github.com/abcxyz/github-mirror/pkg/query"
	"github.com/abcxyz/github-mirror/pkg/store"
	"github.com/abcxyz/github-mirror/pkg/version"
)

// maxIngestBytes bounds one delivery envelope.
const maxIngestBytes = 25 * 1_000_000

// Server provides the HTTP implementation.
type Server struct {
	db        store.Store
	reader    *query.Reader
	h         *renderer.Renderer
	projectID string
}

// NewServer creates the HTTP server over the given store.
func NewServer(ctx context.Context, h *renderer.Renderer, db store.Store, projectID string) *Server {
	return &Server{
		db:        db,
		reader:    query.New(db),
		h:         h,
		projectID: projectID,
	}
}

// Routes creates a ServeMux of all of the routes this server supports.
func (s *Server) Routes(ctx context.Context) http.Handler {
	logger := logging.FromContext(ctx)
	mux := http.NewServeMux()
	mux.Handle("/healthz", healthcheck.HandleHTTPHealthCheck())
	mux.Handle("/version", s.handleVersion())
	mux.Handle("/ingest", s.handleIngest())
	mux.Handle("/status", s.handleStatus())
	mux.Handle("/queue", s.handleQueue())

	// Middleware
	root := logging.HTTPInterceptor(logger, s.projectID)(mux)
	return root
}

// handleIngest accepts one verified delivery envelope and records it in
// the queue. Duplicates return 200; new deliveries return 201.
func (s *Server) handleIngest() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logging.FromContext(ctx)

		if r.Method != http.MethodPost {
			s.h.RenderJSON(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBytes))
		if err != nil {
			logger.ErrorContext(ctx, "failed to read ingest body", "error", err)
			s.h.RenderJSON(w, http.StatusInternalServerError, fmt.Errorf("failed to read request body"))
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			s.h.RenderJSON(w, http.StatusBadRequest, fmt.Errorf("malformed delivery envelope: %w", err))
			return
		}
		if err := env.Validate(); err != nil {
			s.h.RenderJSON(w, http.StatusBadRequest, fmt.Errorf("invalid delivery: %w", err))
			return
		}

		result, err := ingest.StoreRawDelivery(ctx, s.db, &env)
		if err != nil {
			logger.ErrorContext(ctx, "failed to store delivery",
				"delivery_id", env.DeliveryID, "error", err)
			s.h.RenderJSON(w, http.StatusInternalServerError, fmt.Errorf("failed to store delivery"))
			return
		}

		code := http.StatusOK
		if result.Stored {
			code = http.StatusCreated
		}
		s.h.RenderJSON(w, code, result)
	})
}

func (s *Server) handleStatus() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status, err := s.reader.GetSystemStatus(ctx)
		if err != nil {
			logging.FromContext(ctx).ErrorContext(ctx, "failed to read system status", "error", err)
			s.h.RenderJSON(w, http.StatusInternalServerError, fmt.Errorf("failed to read system status"))
			return
		}
		s.h.RenderJSON(w, http.StatusOK, status)
	})
}

func (s *Server) handleQueue() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		stats, err := s.reader.GetQueueHealth(ctx)
		if err != nil {
			logging.FromContext(ctx).ErrorContext(ctx, "failed to read queue health", "error", err)
			s.h.RenderJSON(w, http.StatusInternalServerError, fmt.Errorf("failed to read queue health"))
			return
		}
		s.h.RenderJSON(w, http.StatusOK, stats)
	})
}

// handleVersion is a simple http.HandlerFunc that responds with version
// information for the server.
func (s *Server) handleVersion() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.h.RenderJSON(w, http.StatusOK, map[string]string{
			"version": version.HumanVersion,
		})
	})
}
