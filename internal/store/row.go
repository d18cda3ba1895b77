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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Row is one result row with its columns in select order. Both backends produce it through
// scanRows, so layers above the store never see driver specific values.
type Row struct {
	Columns []string
	Values  []any
}

// Len returns the number of columns.
func (r Row) Len() int { return len(r.Columns) }

// At returns the value at position i, or nil when out of range.
func (r Row) At(i int) any {
	if i < 0 || i >= len(r.Values) {
		return nil
	}
	return r.Values[i]
}

// Get returns the value of the named column. ok is false when the column is absent,
// which is different from a present NULL (nil, true).
func (r Row) Get(name string) (any, bool) {
	for i, c := range r.Columns {
		if strings.EqualFold(c, name) {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Has reports whether the row carries the named column.
func (r Row) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// String returns the column as text; nil for NULL or absent columns.
func (r Row) String(name string) *string {
	v, _ := r.Get(name)
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return &t
	case time.Time:
		s := t.UTC().Format(time.RFC3339)
		return &s
	default:
		s := fmt.Sprint(t)
		return &s
	}
}

// Int returns the column as int64; NULL, absent and unparsable values yield 0.
func (r Row) Int(name string) int64 {
	v, _ := r.Get(name)
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n
	default:
		return 0
	}
}

// Bool interprets 0/1 flags.
func (r Row) Bool(name string) bool { return r.Int(name) != 0 }

// Time returns the column as UTC time; zero for NULL or unparsable values.
func (r Row) Time(name string) time.Time {
	v, _ := r.Get(name)
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		ts, _ := parseTimestamp(t)
		return ts
	default:
		return time.Time{}
	}
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// normalize maps driver values onto the small set Row understands:
// nil, int64, float64, bool, string and UTC time.Time. Timestamps stored as sqlite text stay
// strings here and are parsed by Row.Time.
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case int8:
		return int64(t)
	case uint32:
		return int64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.UTC()
	default:
		return t
	}
}

// scanRows drains rows into Row values and closes them.
func scanRows(rows *sqlx.Rows) ([]Row, error) {
	defer func() { _ = rows.Close() }()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	var out []Row
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i := range vals {
			vals[i] = normalize(vals[i])
		}
		out = append(out, Row{Columns: cols, Values: vals})
	}
	return out, rows.Err()
}
