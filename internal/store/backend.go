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
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// queryer is satisfied by *sqlx.Conn, *sqlx.Tx and *sqlx.DB.
type queryer interface {
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
}

// dbtx adds statement execution to queryer.
type dbtx interface {
	queryer
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Backend is one storage engine. The store and the transfer engine depend only on this
// interface; which implementation is live is decided once by Open.
type Backend interface {
	Name() string
	Dialect() Dialect
	// Acquire returns a connection scoped to one unit of work. The caller must Release it.
	Acquire(ctx context.Context) (*Conn, error)
	// Snapshot writes a point-in-time copy of both tables to dst in the embedded file format.
	Snapshot(ctx context.Context, dst string) error
	// Replace swaps the live contents for those of a validated embedded file. backup is the
	// snapshot taken just before and is used to restore the live data if the swap fails.
	Replace(ctx context.Context, candidate, backup string) error
	// Wipe destroys all rows and resets id sequences, leaving an initialized empty schema with
	// the default notice. It either completes or leaves the live data as it was.
	Wipe(ctx context.Context) error
	Close() error
}

// Conn is a connection checked out for one unit of work.
type Conn struct {
	*sqlx.Conn
	dialect Dialect
	release func() error
	once    sync.Once
	err     error
}

func newConn(c *sqlx.Conn, d Dialect, release func() error) *Conn {
	return &Conn{Conn: c, dialect: d, release: release}
}

// Dialect returns the dialect of the backend the connection belongs to.
func (c *Conn) Dialect() Dialect { return c.dialect }

// Builder is shorthand for c.Dialect().Builder().
func (c *Conn) Builder() sq.StatementBuilderType { return c.dialect.Builder() }

// Release returns the connection (pooled backend) or closes it (embedded backend).
// It is safe to call more than once.
func (c *Conn) Release() error {
	c.once.Do(func() {
		if c.release != nil {
			c.err = c.release()
		}
	})
	return c.err
}

// Options configure backend selection and connection behavior.
type Options struct {
	// URL selects the networked backend when non-empty (postgres://...).
	URL string
	// Path is the embedded database file.
	Path           string
	MinConns       int32
	MaxConns       int32
	BusyTimeout    time.Duration
	ConnectTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = "resources.db"
	}
	if o.MinConns <= 0 {
		o.MinConns = 1
	}
	if o.MaxConns <= 0 {
		o.MaxConns = 20
	}
	if o.MaxConns < o.MinConns {
		o.MaxConns = o.MinConns
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 5 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	return o
}

// Selection reports which backend Open settled on.
type Selection struct {
	Backend  string
	Fallback bool
	Reason   string
}

// Open resolves the backend for the life of the process. A non-empty URL selects PostgreSQL;
// if the pool cannot be built or reached the embedded backend is used instead, permanently.
// An error is returned only when the embedded backend cannot be prepared either.
func Open(ctx context.Context, opts Options, l *slog.Logger) (Backend, Selection, error) {
	opts = opts.withDefaults()
	if strings.TrimSpace(opts.URL) != "" {
		pg, err := NewPostgres(ctx, opts, l)
		if err == nil {
			return pg, Selection{Backend: pg.Name()}, nil
		}
		l.Warn("networked database unavailable, falling back to embedded file", slog.Any("err", err))
		lite, lerr := NewSQLite(opts, l)
		if lerr != nil {
			return nil, Selection{}, fmt.Errorf("open embedded fallback: %w", lerr)
		}
		return lite, Selection{Backend: lite.Name(), Fallback: true, Reason: err.Error()}, nil
	}
	lite, err := NewSQLite(opts, l)
	if err != nil {
		return nil, Selection{}, err
	}
	return lite, Selection{Backend: lite.Name()}, nil
}
