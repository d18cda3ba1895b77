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
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Postgres is the networked backend: a bounded pool shared by all units of work.
type Postgres struct {
	pool *pgxpool.Pool
	db   *sqlx.DB
	log  *slog.Logger
}

// NewPostgres builds the pool, checks it is reachable and runs the schema manager once.
func NewPostgres(ctx context.Context, opts Options, l *slog.Logger) (*Postgres, error) {
	opts = opts.withDefaults()
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MinConns = opts.MinConns
	cfg.MaxConns = opts.MaxConns
	cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout

	pctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(pctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	p := &Postgres{
		pool: pool,
		db:   sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx"),
		log:  l.With(slog.String("backend", "postgres"), slog.String("host", cfg.ConnConfig.Host)),
	}
	c, err := p.Acquire(ctx)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	Migrate(ctx, c, p.log)
	if err := c.Release(); err != nil {
		p.log.Warn("release after migrate", slog.Any("err", err))
	}
	p.log.Info("connection pool ready", slog.Int("min_conns", int(opts.MinConns)), slog.Int("max_conns", int(opts.MaxConns)))
	return p, nil
}

func (p *Postgres) Name() string     { return "postgres" }
func (p *Postgres) Dialect() Dialect { return PostgresDialect }

// Acquire checks a connection out of the pool; Release hands it back.
func (p *Postgres) Acquire(ctx context.Context) (*Conn, error) {
	conn, err := p.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return newConn(conn, PostgresDialect, conn.Close), nil
}

// Snapshot writes both tables into a fresh embedded file at dst.
func (p *Postgres) Snapshot(ctx context.Context, dst string) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	var merr *multierror.Error
	if err := WriteEmbedded(ctx, c, dst); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("snapshot: %w", err))
	}
	if err := c.Release(); err != nil {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}

// Replace loads the candidate's rows in one transaction. ids are renumbered from 1; the
// transaction rolls back on any error, so backup is not needed to restore the live data.
func (p *Postgres) Replace(ctx context.Context, candidate, _ string) error {
	ds, err := ReadEmbedded(ctx, candidate)
	if err != nil {
		return err
	}
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Release() }()
	start := time.Now()
	n, err := LoadDataset(ctx, c, ds)
	if err != nil {
		return err
	}
	p.log.Info("database contents replaced",
		slog.Int("resources", n.Resources), slog.Int("notices", n.Notices),
		slog.Duration("took", time.Since(start)))
	return nil
}

// Wipe deletes every row, restarts the sequences and seeds the default notice in one
// transaction. On error the live data is unchanged.
func (p *Postgres) Wipe(ctx context.Context) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Release() }()
	_, err = LoadDataset(ctx, c, &Dataset{})
	return err
}

func (p *Postgres) Close() error {
	err := p.db.Close()
	p.pool.Close()
	return err
}
