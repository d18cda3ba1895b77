/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"resourcehub/internal/domain"
)

// ErrNotFound is wrapped by GetResource when no row has the id.
var ErrNotFound = errors.New("not found")

// OpError is the structured failure returned by every Store operation.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *OpError) Unwrap() error { return e.Err }

// Message is the text shown to whoever triggered the operation.
func (e *OpError) Message() string {
	switch {
	case errors.Is(e.Err, ErrNotFound):
		return "resource not found"
	case errors.Is(e.Err, domain.ErrNameRequired), errors.Is(e.Err, domain.ErrNoticeEmpty):
		return e.Err.Error()
	case errors.Is(e.Err, context.DeadlineExceeded), errors.Is(e.Err, context.Canceled):
		return "database operation timed out"
	default:
		return fmt.Sprintf("database error during %s", strings.ReplaceAll(e.Op, "_", " "))
	}
}

// IsUserError reports whether err is caused by the caller's input rather than the database.
func IsUserError(err error) bool {
	return errors.Is(err, domain.ErrNameRequired) || errors.Is(err, domain.ErrNoticeEmpty)
}

// Store is the query facade. It never branches on the backend; statements go through the
// connection's dialect.
type Store struct {
	b   Backend
	log *slog.Logger
}

// New wraps b. The logger gets the component attribute here.
func New(b Backend, l *slog.Logger) *Store {
	return &Store{b: b, log: l.With(slog.String("component", "store"), slog.String("backend", b.Name()))}
}

// Backend returns the live backend.
func (s *Store) Backend() Backend { return s.b }

// withConn runs fn on a connection that is released on every exit path.
func (s *Store) withConn(ctx context.Context, fn func(*Conn) error) (err error) {
	c, err := s.b.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := c.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(c)
}

// do runs one logical operation. Schema drift is repaired and the operation retried once;
// transient connection failures are retried once on a fresh connection. Whatever is left is
// logged and returned as *OpError.
func (s *Store) do(ctx context.Context, op string, fn func(*Conn) error) error {
	start := time.Now()
	err := s.withConn(ctx, fn)
	switch {
	case err == nil:
	case isSchemaDrift(err):
		s.log.WarnContext(ctx, "schema drift detected, migrating", slog.String("op", op), slog.Any("err", err))
		err = s.withConn(ctx, func(c *Conn) error {
			Migrate(ctx, c, s.log)
			return fn(c)
		})
	case isTransient(err):
		s.log.WarnContext(ctx, "transient database error, retrying", slog.String("op", op), slog.Any("err", err))
		err = s.withConn(ctx, fn)
	}
	if err == nil {
		s.log.DebugContext(ctx, "op done", slog.String("op", op), slog.Duration("took", time.Since(start)))
		return nil
	}
	if IsUserError(err) || errors.Is(err, ErrNotFound) {
		s.log.InfoContext(ctx, "op rejected", slog.String("op", op), slog.Any("err", err))
	} else {
		s.log.ErrorContext(ctx, "op failed", slog.String("op", op), slog.Any("err", err))
	}
	return &OpError{Op: op, Err: err}
}

func isSchemaDrift(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01" || pgErr.Code == "42703"
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		msg := se.Error()
		return strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column") ||
			strings.Contains(msg, "has no column named")
	}
	return false
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// Health is the result of Verify.
type Health struct {
	Backend string   `json:"backend"`
	Healed  bool     `json:"healed"`
	Missing []string `json:"missing,omitempty"`
}

// Verify checks that both tables exist. When some are missing it migrates synchronously and
// reports Healed so the caller can surface a one-time notice.
func (s *Store) Verify(ctx context.Context) (Health, error) {
	h := Health{Backend: s.b.Name()}
	err := s.withConn(ctx, func(c *Conn) error {
		missing, err := MissingTables(ctx, c)
		if err != nil {
			return err
		}
		if len(missing) == 0 {
			return nil
		}
		s.log.WarnContext(ctx, "required tables missing, initializing", slog.Any("tables", missing))
		Migrate(ctx, c, s.log)
		h.Healed, h.Missing = true, missing
		still, err := MissingTables(ctx, c)
		if err != nil {
			return err
		}
		if len(still) > 0 {
			return fmt.Errorf("tables still missing after migration: %v", still)
		}
		return nil
	})
	if err != nil {
		s.log.ErrorContext(ctx, "health check failed", slog.Any("err", err))
		return h, &OpError{Op: "verify", Err: err}
	}
	return h, nil
}
