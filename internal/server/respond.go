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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"resourcehub/internal/store"
	"resourcehub/internal/transfer"
)

type subjectKey struct{}

func withSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey{}, sub)
}

// Subject returns the authenticated admin subject, if any.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// failure maps an operation error onto a status code and the message shown to the caller.
func failure(err error) (int, string) {
	var (
		opErr  *store.OpError
		verr   *transfer.ValidationError
		failed *transfer.FailedError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "resource not found"
	case store.IsUserError(err):
		if errors.As(err, &opErr) {
			return http.StatusBadRequest, opErr.Message()
		}
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, transfer.ErrResetRefused):
		return http.StatusForbidden, err.Error()
	case errors.As(err, &failed):
		return http.StatusInternalServerError, fmt.Sprintf("%s failed; previous data saved as %s", failed.Op, failed.Backup)
	case errors.As(err, &opErr):
		return http.StatusInternalServerError, opErr.Message()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	status, msg := failure(err)
	writeJSON(w, status, map[string]any{"error": msg})
}
