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

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"resourcehub/internal/domain"
)

// EnsureSchema creates both tables when absent. It is idempotent.
func EnsureSchema(ctx context.Context, c *Conn) error {
	for _, q := range c.Dialect().SchemaDDL() {
		if _, err := c.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// MissingTables returns the required tables that do not exist.
func MissingTables(ctx context.Context, c *Conn) ([]string, error) {
	return missingTables(ctx, c, c.Dialect())
}

func missingTables(ctx context.Context, q queryer, d Dialect) ([]string, error) {
	tables, err := d.ListTables(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return lo.Without(RequiredTables, tables...), nil
}

// EnsureColumns forward-migrates tables created by older versions: it adds sort_order
// (backfilled newest-first so the previous created_at DESC listing order is kept) and
// updated_at (backfilled from created_at).
func EnsureColumns(ctx context.Context, c *Conn) error {
	d := c.Dialect()
	cols, err := d.ListColumns(ctx, c, TableResources)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", TableResources, err)
	}
	if !lo.Contains(cols, "sort_order") {
		if err := addSortOrder(ctx, c); err != nil {
			return err
		}
	}
	if !lo.Contains(cols, "updated_at") {
		if err := addUpdatedAt(ctx, c, TableResources); err != nil {
			return err
		}
	}
	ncols, err := d.ListColumns(ctx, c, TableNotices)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", TableNotices, err)
	}
	if len(ncols) > 0 && !lo.Contains(ncols, "updated_at") {
		if err := addUpdatedAt(ctx, c, TableNotices); err != nil {
			return err
		}
	}
	return nil
}

func addSortOrder(ctx context.Context, c *Conn) error {
	if _, err := c.ExecContext(ctx, "ALTER TABLE resources ADD COLUMN sort_order INTEGER DEFAULT 0"); err != nil {
		return fmt.Errorf("add sort_order: %w", err)
	}
	b := c.Builder()
	qs, args, err := b.Select("id").From(TableResources).OrderBy("created_at DESC", "id DESC").ToSql()
	if err != nil {
		return err
	}
	var ids []int64
	if err := c.SelectContext(ctx, &ids, qs, args...); err != nil {
		return fmt.Errorf("read ids for sort_order backfill: %w", err)
	}
	tx, err := c.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sort_order backfill: %w", err)
	}
	for i, id := range ids {
		if _, err := execSQL(ctx, tx, b.Update(TableResources).Set("sort_order", i).Where(sq.Eq{"id": id})); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("backfill sort_order: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sort_order backfill: %w", err)
	}
	return nil
}

func addUpdatedAt(ctx context.Context, c *Conn, table string) error {
	if _, err := c.ExecContext(ctx, c.Dialect().AddTimestampColumn(table, "updated_at")); err != nil {
		return fmt.Errorf("add %s.updated_at: %w", table, err)
	}
	q := fmt.Sprintf("UPDATE %s SET updated_at = COALESCE(created_at, CURRENT_TIMESTAMP)", table)
	if _, err := c.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("backfill %s.updated_at: %w", table, err)
	}
	return nil
}

// EnsureDefaultNotice seeds one disabled placeholder notice when the table is empty.
func EnsureDefaultNotice(ctx context.Context, c *Conn) error {
	var n int64
	qs, args, err := c.Builder().Select("COUNT(*)").From(TableNotices).ToSql()
	if err != nil {
		return err
	}
	if err := c.QueryRowxContext(ctx, qs, args...).Scan(&n); err != nil {
		return fmt.Errorf("count notices: %w", err)
	}
	if n > 0 {
		return nil
	}
	_, err = insertDefaultNotice(ctx, c, c.Builder())
	return err
}

func insertDefaultNotice(ctx context.Context, x dbtx, b sq.StatementBuilderType) (int64, error) {
	q := b.Insert(TableNotices).Columns("content", "is_enabled").Values(domain.DefaultNoticeContent, 0).Suffix("RETURNING id")
	qs, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := x.QueryRowxContext(ctx, qs, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("seed default notice: %w", err)
	}
	return id, nil
}

// Migrate runs every schema step. Failures are logged and swallowed: a step can legitimately fail
// when another process raced us to it, and callers re-run Migrate on the next schema error anyway.
func Migrate(ctx context.Context, c *Conn, l *slog.Logger) {
	steps := []struct {
		name string
		fn   func(context.Context, *Conn) error
	}{
		{"ensure_schema", EnsureSchema},
		{"ensure_columns", EnsureColumns},
		{"ensure_default_notice", EnsureDefaultNotice},
	}
	for _, s := range steps {
		if err := s.fn(ctx, c); err != nil {
			l.Warn("schema step failed", slog.String("step", s.name), slog.String("backend", c.Dialect().Name()), slog.Any("err", err))
		}
	}
}

// execSQL builds and executes a statement.
func execSQL(ctx context.Context, x dbtx, b sq.Sqlizer) (sql.Result, error) {
	qs, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql: %w", err)
	}
	return x.ExecContext(ctx, qs, args...)
}

// queryRows builds and runs a query, returning normalized rows.
func queryRows(ctx context.Context, q queryer, b sq.Sqlizer) ([]Row, error) {
	qs, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql: %w", err)
	}
	rows, err := q.QueryxContext(ctx, qs, args...)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

// queryRow is queryRows for at most one row; nil when there is none.
func queryRow(ctx context.Context, q queryer, b sq.Sqlizer) (*Row, error) {
	rows, err := queryRows(ctx, q, b)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
