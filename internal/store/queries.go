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
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"resourcehub/internal/domain"
)

// Counts are the row counts of both tables.
type Counts struct {
	Resources int `json:"resources"`
	Notices   int `json:"notices"`
}

// Listing is what the public page renders.
type Listing struct {
	Filter    string            `json:"filter,omitempty"`
	Resources []domain.Resource `json:"resources"`
	// Notice is nil whenever Filter is set: searching hides the banner.
	Notice *domain.Notice `json:"notice,omitempty"`
}

var listOrder = []string{"sort_order ASC", "updated_at DESC", "created_at DESC", "id DESC"}

// latestNoticeOrder picks "the" notice; id breaks ties of equal second-resolution timestamps.
var latestNoticeOrder = []string{"updated_at DESC", "id DESC"}

func resourceFromRow(r Row) domain.Resource {
	return domain.Resource{
		ID:          r.Int("id"),
		Name:        lo.FromPtr(r.String("name")),
		RType:       r.String("r_type"),
		Description: r.String("description"),
		TGLink:      r.String("tg_link"),
		PanLink:     r.String("pan_link"),
		PanPass:     r.String("pan_pass"),
		Tags:        r.String("tags"),
		SortOrder:   r.Int("sort_order"),
		CreatedAt:   r.Time("created_at"),
		UpdatedAt:   r.Time("updated_at"),
	}
}

func noticeFromRow(r Row) domain.Notice {
	return domain.Notice{
		ID:        r.Int("id"),
		Content:   lo.FromPtr(r.String("content")),
		Enabled:   r.Bool("is_enabled"),
		CreatedAt: r.Time("created_at"),
		UpdatedAt: r.Time("updated_at"),
	}
}

func toResources(rows []Row) []domain.Resource {
	return lo.Map(rows, func(r Row, _ int) domain.Resource { return resourceFromRow(r) })
}

// ListResources returns every resource in display order. A non-blank filter keeps rows whose
// name, tags or description contain it; case sensitivity follows the backend's LIKE.
func (s *Store) ListResources(ctx context.Context, filter string) ([]domain.Resource, error) {
	var out []domain.Resource
	err := s.do(ctx, "list_resources", func(c *Conn) error {
		var err error
		out, err = listResources(ctx, c, filter)
		return err
	})
	return out, err
}

func listResources(ctx context.Context, c *Conn, filter string) ([]domain.Resource, error) {
	q := c.Builder().Select("*").From(TableResources).OrderBy(listOrder...)
	if f := strings.TrimSpace(filter); f != "" {
		pattern := "%" + f + "%"
		q = q.Where(sq.Or{
			sq.Like{"name": pattern},
			sq.Like{"tags": pattern},
			sq.Like{"description": pattern},
		})
	}
	rows, err := queryRows(ctx, c, q)
	if err != nil {
		return nil, err
	}
	return toResources(rows), nil
}

// Listing returns the resources and, for unfiltered listings only, the current notice.
func (s *Store) Listing(ctx context.Context, filter string) (*Listing, error) {
	l := &Listing{Filter: strings.TrimSpace(filter)}
	err := s.do(ctx, "listing", func(c *Conn) error {
		var err error
		if l.Resources, err = listResources(ctx, c, l.Filter); err != nil {
			return err
		}
		if l.Filter != "" {
			l.Notice = nil
			return nil
		}
		l.Notice, err = currentNotice(ctx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// GetResource returns the resource with id or an error wrapping ErrNotFound.
func (s *Store) GetResource(ctx context.Context, id int64) (*domain.Resource, error) {
	var out *domain.Resource
	err := s.do(ctx, "get_resource", func(c *Conn) error {
		row, err := queryRow(ctx, c, c.Builder().Select("*").From(TableResources).Where(sq.Eq{"id": id}))
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("resource %d: %w", id, ErrNotFound)
		}
		r := resourceFromRow(*row)
		out = &r
		return nil
	})
	return out, err
}

// InsertResource appends a resource after the current last one and returns its id.
func (s *Store) InsertResource(ctx context.Context, f domain.ResourceFields) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, &OpError{Op: "insert_resource", Err: err}
	}
	var id int64
	err := s.do(ctx, "insert_resource", func(c *Conn) error {
		values := fieldMap(f)
		values["sort_order"] = nextSortOrder(ctx, c)
		q := c.Builder().Insert(TableResources).SetMap(values).Suffix("RETURNING id")
		qs, args, err := q.ToSql()
		if err != nil {
			return err
		}
		return c.QueryRowxContext(ctx, qs, args...).Scan(&id)
	})
	return id, err
}

// nextSortOrder is max+1, or 0 for an empty table or when the max cannot be read.
func nextSortOrder(ctx context.Context, c *Conn) int64 {
	qs, args, err := c.Builder().Select("MAX(sort_order)").From(TableResources).ToSql()
	if err != nil {
		return 0
	}
	var top sql.NullInt64
	if err := c.QueryRowxContext(ctx, qs, args...).Scan(&top); err != nil || !top.Valid {
		return 0
	}
	return top.Int64 + 1
}

func fieldMap(f domain.ResourceFields) map[string]any {
	return map[string]any{
		"name":        strings.TrimSpace(f.Name),
		"r_type":      f.RType,
		"description": f.Description,
		"tg_link":     f.TGLink,
		"pan_link":    f.PanLink,
		"pan_pass":    f.PanPass,
		"tags":        f.Tags,
	}
}

// UpdateResource replaces every field of the resource and refreshes updated_at.
// A missing id is not an error: 0 rows are reported.
func (s *Store) UpdateResource(ctx context.Context, id int64, f domain.ResourceFields) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, &OpError{Op: "update_resource", Err: err}
	}
	var n int64
	err := s.do(ctx, "update_resource", func(c *Conn) error {
		q := c.Builder().Update(TableResources).
			SetMap(fieldMap(f)).
			Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
			Where(sq.Eq{"id": id})
		res, err := execSQL(ctx, c, q)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// DeleteResource removes the row for good. A missing id reports 0 rows.
func (s *Store) DeleteResource(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := s.do(ctx, "delete_resource", func(c *Conn) error {
		res, err := execSQL(ctx, c, c.Builder().Delete(TableResources).Where(sq.Eq{"id": id}))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// ReorderResources sets each id's sort_order to its position in ids, in one transaction.
// Unknown ids are skipped and resources left out keep their old sort_order, so callers
// should always send the full id list. Returns the number of rows updated.
func (s *Store) ReorderResources(ctx context.Context, ids []int64) (int64, error) {
	var total int64
	err := s.do(ctx, "reorder_resources", func(c *Conn) error {
		tx, err := c.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		n, err := applyOrder(ctx, tx, c.Builder(), ids)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		total = n
		return nil
	})
	return total, err
}

// applyOrder writes sort_order = position for each id and sums the rows updated.
func applyOrder(ctx context.Context, x dbtx, b sq.StatementBuilderType, ids []int64) (int64, error) {
	var total int64
	for pos, id := range ids {
		res, err := execSQL(ctx, x, b.Update(TableResources).Set("sort_order", pos).Where(sq.Eq{"id": id}))
		if err != nil {
			return 0, fmt.Errorf("set position %d for id %d: %w", pos, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected for id %d: %w", id, err)
		}
		total += n
	}
	return total, nil
}

// CurrentNotice is the most recently updated enabled notice, or nil.
func (s *Store) CurrentNotice(ctx context.Context) (*domain.Notice, error) {
	var out *domain.Notice
	err := s.do(ctx, "current_notice", func(c *Conn) error {
		var err error
		out, err = currentNotice(ctx, c)
		return err
	})
	return out, err
}

func currentNotice(ctx context.Context, c *Conn) (*domain.Notice, error) {
	q := c.Builder().Select("*").From(TableNotices).Where(sq.Eq{"is_enabled": 1}).OrderBy(latestNoticeOrder...).Limit(1)
	return noticeQuery(ctx, c, q)
}

// LatestNotice is the most recently updated notice whatever its flag, or nil.
func (s *Store) LatestNotice(ctx context.Context) (*domain.Notice, error) {
	var out *domain.Notice
	err := s.do(ctx, "latest_notice", func(c *Conn) error {
		var err error
		out, err = latestNotice(ctx, c)
		return err
	})
	return out, err
}

func latestNotice(ctx context.Context, c *Conn) (*domain.Notice, error) {
	return noticeQuery(ctx, c, c.Builder().Select("*").From(TableNotices).OrderBy(latestNoticeOrder...).Limit(1))
}

func noticeQuery(ctx context.Context, c *Conn, q sq.SelectBuilder) (*domain.Notice, error) {
	row, err := queryRow(ctx, c, q)
	if err != nil || row == nil {
		return nil, err
	}
	n := noticeFromRow(*row)
	return &n, nil
}

// ToggleNotice sets the flag on the latest notice and returns it.
func (s *Store) ToggleNotice(ctx context.Context, enabled bool) (*domain.Notice, error) {
	return s.touchNotice(ctx, "toggle_notice", map[string]any{"is_enabled": lo.Ternary(enabled, 1, 0)})
}

// UpdateNoticeContent replaces the text of the latest notice, keeping its flag.
func (s *Store) UpdateNoticeContent(ctx context.Context, text string) (*domain.Notice, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &OpError{Op: "update_notice_content", Err: domain.ErrNoticeEmpty}
	}
	return s.touchNotice(ctx, "update_notice_content", map[string]any{"content": text})
}

// touchNotice updates the latest notice row, seeding the default one first if the table is empty.
func (s *Store) touchNotice(ctx context.Context, op string, set map[string]any) (*domain.Notice, error) {
	var out *domain.Notice
	err := s.do(ctx, op, func(c *Conn) error {
		b := c.Builder()
		latest, err := latestNotice(ctx, c)
		if err != nil {
			return err
		}
		var id int64
		if latest != nil {
			id = latest.ID
		} else if id, err = insertDefaultNotice(ctx, c, b); err != nil {
			return err
		}
		q := b.Update(TableNotices).SetMap(set).Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).Where(sq.Eq{"id": id})
		if _, err := execSQL(ctx, c, q); err != nil {
			return err
		}
		out, err = noticeQuery(ctx, c, b.Select("*").From(TableNotices).Where(sq.Eq{"id": id}))
		return err
	})
	return out, err
}

// Counts returns the number of rows in both tables.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var out Counts
	err := s.do(ctx, "counts", func(c *Conn) error {
		var err error
		out, err = countRows(ctx, c)
		return err
	})
	return out, err
}

func countRows(ctx context.Context, q queryer) (Counts, error) {
	var out Counts
	for table, dst := range map[string]*int{TableResources: &out.Resources, TableNotices: &out.Notices} {
		if err := q.QueryRowxContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(dst); err != nil {
			return Counts{}, fmt.Errorf("count %s: %w", table, err)
		}
	}
	return out, nil
}
