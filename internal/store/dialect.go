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
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"
)

const (
	TableResources = "resources"
	TableNotices   = "notices"
)

// RequiredTables lists the tables every live database and every import candidate must have.
var RequiredTables = []string{TableResources, TableNotices}

// Dialect captures everything that differs between the two SQL backends. Query code builds
// statements through Builder and never branches on the backend itself.
type Dialect interface {
	Name() string
	// Builder returns a squirrel builder using the backend's placeholder format.
	Builder() sq.StatementBuilderType
	// SchemaDDL returns idempotent CREATE TABLE statements for both tables.
	SchemaDDL() []string
	ListTables(ctx context.Context, q queryer) ([]string, error)
	ListColumns(ctx context.Context, q queryer, table string) ([]string, error)
	// AddTimestampColumn returns the ALTER TABLE statement adding a timestamp column to a live table.
	AddTimestampColumn(table, column string) string
	// ResetSequence restarts the id sequence of table at 1.
	ResetSequence(table string) string
	// TimeValue converts t to the value stored in timestamp columns.
	TimeValue(t time.Time) any
}

// language=SQL
// dialect=SQLite
const sqliteResourcesDDL = `CREATE TABLE IF NOT EXISTS resources (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	r_type      TEXT,
	description TEXT,
	tg_link     TEXT,
	pan_link    TEXT,
	pan_pass    TEXT,
	tags        TEXT,
	sort_order  INTEGER DEFAULT 0,
	created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// language=SQL
// dialect=SQLite
const sqliteNoticesDDL = `CREATE TABLE IF NOT EXISTS notices (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	content    TEXT NOT NULL,
	is_enabled INTEGER DEFAULT 0,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// language=SQL
// dialect=PostgreSQL
const pgResourcesDDL = `CREATE TABLE IF NOT EXISTS resources (
	id          SERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	r_type      TEXT,
	description TEXT,
	tg_link     TEXT,
	pan_link    TEXT,
	pan_pass    TEXT,
	tags        TEXT,
	sort_order  INTEGER DEFAULT 0,
	created_at  TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
	updated_at  TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
)`

// language=SQL
// dialect=PostgreSQL
const pgNoticesDDL = `CREATE TABLE IF NOT EXISTS notices (
	id         SERIAL PRIMARY KEY,
	content    TEXT NOT NULL,
	is_enabled INTEGER DEFAULT 0,
	created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
)`

// sqliteTimeLayout matches what CURRENT_TIMESTAMP writes, so copied and defaulted values sort together.
const sqliteTimeLayout = "2006-01-02 15:04:05"

type sqliteDialect struct{}

// SQLiteDialect is the embedded backend dialect (also the interchange file format).
var SQLiteDialect Dialect = sqliteDialect{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func (sqliteDialect) SchemaDDL() []string { return []string{sqliteResourcesDDL, sqliteNoticesDDL} }

func (sqliteDialect) ListTables(ctx context.Context, q queryer) ([]string, error) {
	return selectNames(ctx, q, `SELECT name FROM sqlite_master WHERE type = 'table'`, "name")
}

func (sqliteDialect) ListColumns(ctx context.Context, q queryer, table string) ([]string, error) {
	if !lo.Contains(RequiredTables, table) {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return selectNames(ctx, q, fmt.Sprintf("PRAGMA table_info(%s)", table), "name")
}

// SQLite refuses non-constant defaults in ADD COLUMN, so the column starts NULL and is backfilled.
func (sqliteDialect) AddTimestampColumn(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TIMESTAMP", table, column)
}

func (sqliteDialect) ResetSequence(table string) string {
	return fmt.Sprintf("DELETE FROM sqlite_sequence WHERE name = '%s'", table)
}

func (sqliteDialect) TimeValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(sqliteTimeLayout)
}

type postgresDialect struct{}

// PostgresDialect is the networked backend dialect.
var PostgresDialect Dialect = postgresDialect{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func (postgresDialect) SchemaDDL() []string { return []string{pgResourcesDDL, pgNoticesDDL} }

func (postgresDialect) ListTables(ctx context.Context, q queryer) ([]string, error) {
	return selectNames(ctx, q, `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema()`, "table_name")
}

func (postgresDialect) ListColumns(ctx context.Context, q queryer, table string) ([]string, error) {
	return selectNames(ctx, q, `SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1`, "column_name", table)
}

func (postgresDialect) AddTimestampColumn(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP", table, column)
}

func (postgresDialect) ResetSequence(table string) string {
	return fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%s', 'id'), 1, false)", table)
}

func (postgresDialect) TimeValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// selectNames runs a catalog query and returns one text column from every row.
func selectNames(ctx context.Context, q queryer, query, column string, args ...any) ([]string, error) {
	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	list, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	return lo.FilterMap(list, func(r Row, _ int) (string, bool) {
		s := r.String(column)
		return lo.FromPtr(s), s != nil
	}), nil
}
