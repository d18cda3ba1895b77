/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"resourcehub/internal/domain"
	"resourcehub/internal/version"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz runs the table check. A healed schema is still ready but says so once.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	h, err := s.store.Verify(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"backend": h.Backend, "error": "database not ready"})
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version": version.String(),
		"backend": s.store.Backend().Name(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleForm(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, domain.FieldSpecs)
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	l, err := s.store.Listing(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if l.Resources == nil {
		l.Resources = []domain.Resource{}
	}
	writeJSON(w, http.StatusOK, l)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid resource id")
	}
	return id, nil
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.store.GetResource(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleInsertResource(w http.ResponseWriter, r *http.Request) {
	var f domain.ResourceFields
	if err := decodeJSON(r, &f); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.store.InsertResource(r.Context(), f)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleUpdateResource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var f domain.ResourceFields
	if err := decodeJSON(r, &f); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.store.UpdateResource(r.Context(), id, f)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n})
}

func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.store.DeleteResource(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

// handleReorder takes the full id list in display order: { "ids": [3, 1, 2] }.
func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.store.ReorderResources(r.Context(), req.IDs)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n})
}

func (s *Server) handleGetNotice(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.LatestNotice(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notice": n})
}

func (s *Server) handleUpdateNotice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.store.UpdateNoticeContent(r.Context(), req.Content)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notice": n})
}

func (s *Server) handleToggleNotice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.store.ToggleNotice(r.Context(), req.Enabled)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notice": n})
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.Counts(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleExport streams a fresh export and deletes it afterwards.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.Export(r.Context())
	s.metrics.transfer("export", err)
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer func() {
		if err := a.Remove(); err != nil {
			s.log.WarnContext(r.Context(), "export file not removed", slog.String("file", a.Name), slog.Any("err", err))
		}
	}()
	w.Header().Set("Content-Type", a.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Name))
	w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := a.WriteTo(w); err != nil {
		s.log.WarnContext(r.Context(), "export stream interrupted", slog.Any("err", err))
	}
}

// handleImport accepts a multipart upload in the "file" field.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no file uploaded"))
		return
	}
	defer func() { _ = f.Close() }()
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}
	s.log.InfoContext(r.Context(), "import requested", slog.String("file", hdr.Filename), slog.Int64("bytes", hdr.Size), slog.String("by", Subject(r.Context())))
	rep, err := s.engine.Import(r.Context(), f)
	s.metrics.transfer("import", err)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleReset requires { "confirm": "RESET_DATABASE" }.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm string `json:"confirm"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := s.engine.Reset(r.Context(), req.Confirm)
	s.metrics.transfer("reset", err)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleBackups(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.Backups()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
