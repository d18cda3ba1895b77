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
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"resourcehub/internal/fsutil"
)

// Columns copied between backends. id is handled separately because only the embedded export keeps it.
var (
	resourceDataColumns = []string{"name", "r_type", "description", "tg_link", "pan_link", "pan_pass", "tags", "sort_order", "created_at", "updated_at"}
	noticeDataColumns   = []string{"content", "is_enabled", "created_at", "updated_at"}
	timestampColumns    = []string{"created_at", "updated_at"}
	integerColumns      = []string{"sort_order", "is_enabled"}
)

// Dataset is the full content of an embedded interchange file.
type Dataset struct {
	Resources []Row
	Notices   []Row
}

// OpenEmbeddedReadOnly opens an interchange file without the ability to modify it.
func OpenEmbeddedReadOnly(path string) (*sqlx.DB, error) {
	return openEmbedded(path, 0, true)
}

// ReadEmbedded loads every row of both tables from an embedded file opened read-only.
// Rows keep whatever columns the file has, so files written by older versions load too.
func ReadEmbedded(ctx context.Context, path string) (*Dataset, error) {
	db, err := OpenEmbeddedReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	b := SQLiteDialect.Builder()
	ds := &Dataset{}
	if ds.Resources, err = queryRows(ctx, db, b.Select("*").From(TableResources).OrderBy("id")); err != nil {
		return nil, fmt.Errorf("read %s: %w", TableResources, err)
	}
	if ds.Notices, err = queryRows(ctx, db, b.Select("*").From(TableNotices).OrderBy("id")); err != nil {
		return nil, fmt.Errorf("read %s: %w", TableNotices, err)
	}
	return ds, nil
}

// CountEmbedded returns the row counts of an embedded file opened read-only.
func CountEmbedded(ctx context.Context, path string) (Counts, error) {
	db, err := OpenEmbeddedReadOnly(path)
	if err != nil {
		return Counts{}, err
	}
	defer func() { _ = db.Close() }()
	return countRows(ctx, db)
}

// WriteEmbedded builds a fresh embedded file at dst from src: every resource ordered by
// sort_order and the latest notice, original ids kept. It reads through src without a
// transaction, so concurrent writers on src may or may not be reflected.
func WriteEmbedded(ctx context.Context, src *Conn, dst string) (err error) {
	b := src.Builder()
	resources, err := queryRows(ctx, src, b.Select("*").From(TableResources).OrderBy("sort_order ASC", "id ASC"))
	if err != nil {
		return fmt.Errorf("read %s: %w", TableResources, err)
	}
	notice, err := queryRow(ctx, src, b.Select("*").From(TableNotices).OrderBy("updated_at DESC", "id DESC").Limit(1))
	if err != nil {
		return fmt.Errorf("read %s: %w", TableNotices, err)
	}

	if err := fsutil.RemoveIfExists(dst); err != nil {
		return err
	}
	db, err := openEmbedded(dst, 5*time.Second, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	for _, q := range SQLiteDialect.SchemaDDL() {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create export schema: %w", err)
		}
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin export: %w", err)
	}
	eb := SQLiteDialect.Builder()
	for _, r := range resources {
		if _, err := execSQL(ctx, tx, insertFromRow(eb, SQLiteDialect, TableResources, resourceDataColumns, r, true)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("export resource %d: %w", r.Int("id"), err)
		}
	}
	if notice != nil {
		if _, err := execSQL(ctx, tx, insertFromRow(eb, SQLiteDialect, TableNotices, noticeDataColumns, *notice, true)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("export notice: %w", err)
		}
	}
	return tx.Commit()
}

// LoadDataset replaces the contents of both tables with ds in one transaction on c.
// ids are not preserved: sequences restart at 1 and the destination assigns new ones.
// A dataset without notices gets the default notice, the same as a fresh embedded file.
// Counts of rows taken from ds are returned; on any error nothing is changed.
func LoadDataset(ctx context.Context, c *Conn, ds *Dataset) (Counts, error) {
	d := c.Dialect()
	b := c.Builder()
	tx, err := c.BeginTxx(ctx, nil)
	if err != nil {
		return Counts{}, fmt.Errorf("begin import: %w", err)
	}
	rollback := func(err error) (Counts, error) {
		_ = tx.Rollback()
		return Counts{}, err
	}
	if err := clearTables(ctx, tx, d); err != nil {
		return rollback(err)
	}
	var n Counts
	for _, r := range ds.Resources {
		if _, err := execSQL(ctx, tx, insertFromRow(b, d, TableResources, resourceDataColumns, r, false)); err != nil {
			return rollback(fmt.Errorf("import resource %d: %w", r.Int("id"), err))
		}
		n.Resources++
	}
	for _, r := range ds.Notices {
		if _, err := execSQL(ctx, tx, insertFromRow(b, d, TableNotices, noticeDataColumns, r, false)); err != nil {
			return rollback(fmt.Errorf("import notice %d: %w", r.Int("id"), err))
		}
		n.Notices++
	}
	if len(ds.Notices) == 0 {
		if _, err := insertDefaultNotice(ctx, tx, b); err != nil {
			return rollback(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Counts{}, fmt.Errorf("commit import: %w", err)
	}
	return n, nil
}

// clearTables deletes every row and restarts both id sequences.
func clearTables(ctx context.Context, tx *sqlx.Tx, d Dialect) error {
	for _, t := range []string{TableNotices, TableResources} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
		if _, err := tx.ExecContext(ctx, d.ResetSequence(t)); err != nil {
			return fmt.Errorf("reset %s sequence: %w", t, err)
		}
	}
	return nil
}

// insertFromRow builds an INSERT for the columns r actually has. NULL or absent values of
// columns with a default are left out so the column default applies.
func insertFromRow(b sq.StatementBuilderType, d Dialect, table string, columns []string, r Row, keepID bool) sq.InsertBuilder {
	values := map[string]any{}
	if keepID && r.Has("id") {
		values["id"] = r.Int("id")
	}
	for _, col := range columns {
		v, ok := r.Get(col)
		if !ok || v == nil {
			if col == "name" || col == "content" {
				values[col] = v
			}
			continue
		}
		switch {
		case lo.Contains(timestampColumns, col):
			if t := r.Time(col); !t.IsZero() {
				values[col] = d.TimeValue(t)
			}
		case lo.Contains(integerColumns, col):
			values[col] = r.Int(col)
		default:
			values[col] = lo.FromPtr(r.String(col))
		}
	}
	return b.Insert(table).SetMap(values)
}
