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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"

	"resourcehub/internal/fsutil"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

// SQLite is the embedded backend: a single database file, one connection per unit of work.
type SQLite struct {
	path string
	busy time.Duration
	log  *slog.Logger

	// gate lets units of work share the file while Replace and Wipe swap it exclusively.
	gate     sync.RWMutex
	migrated atomic.Bool
}

// NewSQLite prepares the embedded backend. The file itself is created lazily on first Acquire.
func NewSQLite(opts Options, l *slog.Logger) (*SQLite, error) {
	opts = opts.withDefaults()
	abs, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	return &SQLite{
		path: abs,
		busy: opts.BusyTimeout,
		log:  l.With(slog.String("backend", "sqlite"), slog.String("path", abs)),
	}, nil
}

func (s *SQLite) Name() string     { return "sqlite" }
func (s *SQLite) Dialect() Dialect { return SQLiteDialect }

// Path returns the live database file.
func (s *SQLite) Path() string { return s.path }

// openEmbedded opens a sqlite file. Journal mode stays DELETE so the file alone holds the
// committed state, which is what the export fast path copies.
func openEmbedded(path string, busy time.Duration, readOnly bool) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(DELETE)", filepath.ToSlash(path), busy.Milliseconds())
	if readOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", filepath.ToSlash(path))
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// Acquire opens the file for one unit of work. A missing file, or the first use in this
// process, runs the schema manager before the connection is handed out.
func (s *SQLite) Acquire(ctx context.Context) (*Conn, error) {
	s.gate.RLock()
	c, err := s.open(ctx, s.gate.RUnlock)
	if err != nil {
		s.gate.RUnlock()
		return nil, err
	}
	return c, nil
}

// open connects without touching the gate; done runs after the connection is released.
func (s *SQLite) open(ctx context.Context, done func()) (*Conn, error) {
	fresh := !fsutil.Exists(s.path)
	db, err := openEmbedded(s.path, s.busy, false)
	if err != nil {
		return nil, err
	}
	conn, err := db.Connx(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	c := newConn(conn, SQLiteDialect, func() error {
		var merr *multierror.Error
		if err := conn.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
		if err := db.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
		if done != nil {
			done()
		}
		return merr.ErrorOrNil()
	})
	if fresh || !s.migrated.Load() {
		if fresh {
			s.log.Info("initializing new database file")
		}
		Migrate(ctx, c, s.log)
		s.migrated.Store(true)
	}
	return c, nil
}

// Snapshot copies the live file. Writers that commit during the copy are not excluded.
func (s *SQLite) Snapshot(ctx context.Context, dst string) error {
	if !fsutil.Exists(s.path) {
		c, err := s.Acquire(ctx)
		if err != nil {
			return err
		}
		if err := c.Release(); err != nil {
			return err
		}
	}
	s.gate.RLock()
	defer s.gate.RUnlock()
	if err := fsutil.CopyFile(s.path, dst); err != nil {
		return fmt.Errorf("copy database file: %w", err)
	}
	return nil
}

// Replace moves candidate over the live file, then reopens and re-verifies it. Any failure
// after the live file was removed restores backup.
func (s *SQLite) Replace(ctx context.Context, candidate, backup string) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	s.migrated.Store(false)

	if err := s.removeLive(); err != nil {
		return fmt.Errorf("remove live database: %w", err)
	}
	if err := fsutil.MoveFile(candidate, s.path); err != nil {
		return s.restore(backup, fmt.Errorf("move candidate into place: %w", err))
	}
	if err := s.reverify(ctx); err != nil {
		return s.restore(backup, err)
	}
	s.log.Info("database file replaced", slog.String("backup", filepath.Base(backup)))
	return nil
}

// reverify checks the swapped-in file has both tables before the schema manager gets a
// chance to create them, then forward-migrates older layouts.
func (s *SQLite) reverify(ctx context.Context) error {
	db, err := openEmbedded(s.path, s.busy, false)
	if err != nil {
		return fmt.Errorf("reopen database: %w", err)
	}
	missing, err := missingTables(ctx, db, SQLiteDialect)
	_ = db.Close()
	if err != nil {
		return fmt.Errorf("verify imported database: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("imported database is missing tables: %v", missing)
	}
	c, err := s.open(ctx, nil)
	if err != nil {
		return fmt.Errorf("reopen database: %w", err)
	}
	return c.Release()
}

func (s *SQLite) restore(backup string, cause error) error {
	var merr *multierror.Error
	merr = multierror.Append(merr, cause)
	if backup == "" {
		return merr.ErrorOrNil()
	}
	if err := s.removeLive(); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("restore: %w", err))
	} else if err := fsutil.CopyFile(backup, s.path); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("restore from %s: %w", filepath.Base(backup), err))
	} else {
		s.log.Warn("live database restored from backup", slog.String("backup", filepath.Base(backup)))
	}
	s.migrated.Store(false)
	return merr.ErrorOrNil()
}

// Wipe sets the live file aside and initializes a fresh one with the default notice. If the
// fresh file cannot be initialized the old one is put back.
func (s *SQLite) Wipe(ctx context.Context) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	s.migrated.Store(false)

	if !fsutil.Exists(s.path) {
		return s.initFresh(ctx)
	}
	aside := s.path + ".wipe"
	if err := fsutil.RemoveIfExists(aside); err != nil {
		return err
	}
	if err := fsutil.MoveFile(s.path, aside); err != nil {
		return fmt.Errorf("set live database aside: %w", err)
	}
	err := s.initFresh(ctx)
	if err == nil {
		if rerr := fsutil.RemoveIfExists(aside); rerr != nil {
			s.log.Warn("old database file not removed", slog.String("path", aside), slog.Any("err", rerr))
		}
		return nil
	}
	merr := multierror.Append(nil, err)
	if rerr := s.removeLive(); rerr != nil {
		merr = multierror.Append(merr, rerr)
	} else if rerr := fsutil.MoveFile(aside, s.path); rerr != nil {
		merr = multierror.Append(merr, fmt.Errorf("put live database back: %w", rerr))
	}
	s.migrated.Store(false)
	return merr.ErrorOrNil()
}

// initFresh creates the schema in a new file and checks the default notice landed.
func (s *SQLite) initFresh(ctx context.Context) error {
	c, err := s.open(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = c.Release() }()
	missing, err := MissingTables(ctx, c)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("fresh database is missing tables: %v", missing)
	}
	return EnsureDefaultNotice(ctx, c)
}

// removeLive deletes the database file and any journal left next to it.
func (s *SQLite) removeLive() error {
	for _, p := range []string{s.path, s.path + "-journal", s.path + "-wal", s.path + "-shm"} {
		if err := fsutil.RemoveIfExists(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error { return nil }
