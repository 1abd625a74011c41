// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the certificate lifecycle over a JSON HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/wrever/certix/database"
	"github.com/wrever/certix/lifecycle"
	"github.com/wrever/certix/verifier"
)

const (
	defaultListenAddr = ":3000"
	serviceName       = "CertiX API"
	maxRequestBody    = 1 << 20 // 1 MB
	// multipartOverhead is allowed on top of the maximum file size for the
	// other form fields and multipart framing
	multipartOverhead = 1 << 20
)

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Logger        *slog.Logger
	PromRegistry  prometheus.Registerer
	Orchestrator  *lifecycle.Orchestrator
	Verifier      *verifier.Verifier
	Database      *database.Database
	ListenAddress string
	Version       string
}

// Server is the CertiX HTTP API server
type Server struct {
	config     ServerConfig
	logger     *slog.Logger
	metrics    *apiMetrics
	handler    http.Handler
	httpServer *http.Server
	mu         sync.Mutex
}

// NewServer creates a new API server instance. Returns an error if required
// configuration fields are missing.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("api: Orchestrator is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("api: Verifier is required")
	}
	if cfg.Database == nil {
		return nil, errors.New("api: Database is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddr
	}
	if cfg.Version == "" {
		cfg.Version = "devel"
	}
	s := &Server{
		config:  cfg,
		logger:  cfg.Logger.With("component", "api"),
		metrics: newAPIMetrics(cfg.PromRegistry),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the HTTP handler serving every API route
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/certificate/upload", s.handleUpload)
	mux.HandleFunc("POST /api/certificate/upload/sign", s.handleSign)
	mux.HandleFunc("GET /api/certificate/pending", s.handlePending)
	mux.HandleFunc("GET /api/certificate/verify/{id}", s.handleVerify)
	mux.HandleFunc("GET /api/certificate/user/{wallet}", s.handleUserCertificates)
	mux.HandleFunc("GET /api/certificate/{id}", s.handleGetCertificate)
	// {id}/contract would overlap verify/{id} and user/{wallet}, so the
	// contract view is routed through the more general pattern
	mux.HandleFunc("GET /api/certificate/{id}/{view}", s.handleCertificateView)
	mux.HandleFunc("POST /api/certificate/{id}/status/prepare", s.handlePrepareDecision)
	mux.HandleFunc("POST /api/certificate/{id}/status/submit", s.handleSubmitDecision)
	mux.HandleFunc("GET /api/admin/check", s.handleAdminCheck)
	mux.HandleFunc("GET /api/validators/check/{wallet}", s.handleValidatorCheck)
	mux.HandleFunc("GET /api/validators/list", s.handleValidatorList)
	mux.HandleFunc("GET /files/{key}", s.handleFile)
	return s.instrument(s.recoverPanics(mux))
}

// Start starts the HTTP server in a background goroutine. The server is
// shut down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	server := &http.Server{
		Addr: s.config.ListenAddress,
		// Use h2c so we can serve HTTP/2 without TLS
		Handler:           h2c.NewHandler(s.handler, &http2.Server{}),
		ReadHeaderTimeout: 60 * time.Second,
	}
	s.httpServer = server
	s.mu.Unlock()

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		s.mu.Lock()
		s.httpServer = nil
		s.mu.Unlock()
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(
				"API server error",
				"error", err,
			)
		}
	}()
	s.logger.Info(
		"API listener started on " + ln.Addr().String(),
	)

	go func() {
		<-ctx.Done()
		//nolint:contextcheck
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			30*time.Second,
		)
		defer cancel()
		//nolint:contextcheck
		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error(
				"failed to shutdown API server on context cancellation",
				"error", err,
			)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if srv != nil {
		s.logger.Debug("shutting down API server")
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown API server: %w", err)
		}
	}
	return nil
}
