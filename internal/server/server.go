/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package server is the HTTP caller of the store and the transfer engine.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	applog "resourcehub/internal/log"
	"resourcehub/internal/store"
	"resourcehub/internal/transfer"
)

// Options configure the HTTP server.
type Options struct {
	Addr        string
	AdminSecret string
	// MaxUploadBytes bounds import uploads.
	MaxUploadBytes int64
	Now            func() time.Time
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	http    *http.Server
	store   *store.Store
	engine  *transfer.Engine
	metrics *metrics
	opts    Options
	log     *slog.Logger
	started time.Time
}

// New builds the HTTP server (router, middlewares, route registration).
func New(opts Options, s *store.Store, e *transfer.Engine, l *slog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 64 << 20
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	srv := &Server{
		store:   s,
		engine:  e,
		metrics: newMetrics(),
		opts:    opts,
		log:     l.With(slog.String("component", "server")),
		started: time.Now(),
	}
	srv.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	if opts.AdminSecret == "" {
		srv.log.Warn("admin secret not set; admin routes are locked")
	}
	return srv
}

// Router returns the route tree. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.observe)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/version", s.handleVersion)
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/token", s.handleToken)
		r.Get("/form", s.handleForm)
		r.Get("/resources", s.handleListing)
		r.Get("/resources/{id}", s.handleGetResource)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/resources", s.handleInsertResource)
			r.Put("/resources/{id}", s.handleUpdateResource)
			r.Delete("/resources/{id}", s.handleDeleteResource)
			r.Post("/resources/order", s.handleReorder)
			r.Get("/notice", s.handleGetNotice)
			r.Put("/notice", s.handleUpdateNotice)
			r.Post("/notice/toggle", s.handleToggleNotice)
			r.Route("/admin", func(r chi.Router) {
				r.Get("/counts", s.handleCounts)
				r.Get("/export", s.handleExport)
				r.Post("/import", s.handleImport)
				r.Post("/reset", s.handleReset)
				r.Get("/backups", s.handleBackups)
			})
		})
	})
	return r
}

// accessLog writes one structured line per request and threads the request id into the
// context so store and transfer logs carry it too.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := applog.ContextWithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		lvl := slog.LevelInfo
		if ww.Status() >= 500 {
			lvl = slog.LevelError
		}
		s.log.LogAttrs(ctx, lvl, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("took", time.Since(start)),
		)
	})
}

// Start runs the HTTP server (blocks until error or shutdown).
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", slog.String("addr", s.http.Addr), slog.String("backend", s.store.Backend().Name()))
	err := s.http.ListenAndServe()
	// http.ErrServerClosed is expected on graceful shutdown.
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server with the provided context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("HTTP server shutting down")
	return s.http.Shutdown(ctx)
}
