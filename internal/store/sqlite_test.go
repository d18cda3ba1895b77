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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"resourcehub/internal/domain"
	applog "resourcehub/internal/log"
)

func TestSQLite_CreatesFileOnFirstAcquire(t *testing.T) {
	_, lite := newSQLiteStore(t)
	_, err := os.Stat(lite.Path())
	require.True(t, os.IsNotExist(err))

	c, err := lite.Acquire(testCtx(t))
	require.NoError(t, err)
	require.NoError(t, c.Release())
	_, err = os.Stat(lite.Path())
	require.NoError(t, err)
}

func TestSQLite_RecreatesDeletedFile(t *testing.T) {
	s, lite := newSQLiteStore(t)
	ctx := testCtx(t)
	mustInsert(t, s, "x", nil)
	require.NoError(t, os.Remove(lite.Path()))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, Counts{Resources: 0, Notices: 1}, counts)
}

func TestSnapshotAndReadEmbedded(t *testing.T) {
	s, lite := newSQLiteStore(t)
	ctx := testCtx(t)
	mustInsert(t, s, "a", domain.Str("t1"))
	mustInsert(t, s, "b", nil)

	dst := filepath.Join(t.TempDir(), "snap.db")
	require.NoError(t, lite.Snapshot(ctx, dst))

	ds, err := ReadEmbedded(ctx, dst)
	require.NoError(t, err)
	require.Len(t, ds.Resources, 2)
	require.Len(t, ds.Notices, 1)
	require.Equal(t, "a", *ds.Resources[0].String("name"))
	require.Nil(t, ds.Resources[1].String("tags"))
}

func TestWriteEmbedded_KeepsIDsAndLatestNotice(t *testing.T) {
	s, lite := newSQLiteStore(t)
	ctx := testCtx(t)
	first := mustInsert(t, s, "first", nil)
	second := mustInsert(t, s, "second", domain.Str("x,y"))
	execRaw(t, lite, "INSERT INTO notices (content, is_enabled, updated_at) VALUES ('newest', 1, '2999-01-01 00:00:00')")
	_, err := s.ReorderResources(ctx, []int64{second, first})
	require.NoError(t, err)

	c, err := lite.Acquire(ctx)
	require.NoError(t, err)
	dst := filepath.Join(t.TempDir(), "out.db")
	require.NoError(t, WriteEmbedded(ctx, c, dst))
	require.NoError(t, c.Release())

	ds, err := ReadEmbedded(ctx, dst)
	require.NoError(t, err)
	require.Len(t, ds.Resources, 2)
	require.Len(t, ds.Notices, 1)
	require.Equal(t, "newest", *ds.Notices[0].String("content"))
	require.True(t, ds.Notices[0].Bool("is_enabled"))
	byID := map[int64]Row{}
	order := map[int64]int64{}
	for _, r := range ds.Resources {
		byID[r.Int("id")] = r
		order[r.Int("id")] = r.Int("sort_order")
	}
	require.Equal(t, map[int64]int64{second: 0, first: 1}, order, "original ids keep their sort_order")
	require.Equal(t, "x,y", *byID[second].String("tags"))
	require.Nil(t, byID[first].String("tags"))
}

func TestLoadDataset_RenumbersAndDefaults(t *testing.T) {
	s, lite := newSQLiteStore(t)
	ctx := testCtx(t)
	mustInsert(t, s, "replaced", nil)

	ds := &Dataset{
		Resources: []Row{
			{Columns: []string{"id", "name", "tags"}, Values: []any{int64(42), "short row", nil}},
			{Columns: []string{"id", "name", "sort_order", "created_at"}, Values: []any{int64(43), "full", int64(5), "2023-04-05 06:07:08"}},
		},
		Notices: []Row{
			{Columns: []string{"id", "content"}, Values: []any{int64(7), "hello"}},
		},
	}
	c, err := lite.Acquire(ctx)
	require.NoError(t, err)
	n, err := LoadDataset(ctx, c, ds)
	require.NoError(t, err)
	require.NoError(t, c.Release())
	require.Equal(t, Counts{Resources: 2, Notices: 1}, n)

	all, err := s.ListResources(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "short row", all[0].Name)
	require.EqualValues(t, 1, all[0].ID)
	require.EqualValues(t, 0, all[0].SortOrder)
	require.Nil(t, all[0].Tags)
	require.EqualValues(t, 2, all[1].ID)
	require.Equal(t, 2023, all[1].CreatedAt.Year())

	notice, err := s.LatestNotice(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", notice.Content)
	require.False(t, notice.Enabled)
}

func TestLoadDataset_SeedsDefaultNoticeWhenNoneGiven(t *testing.T) {
	s, lite := newSQLiteStore(t)
	ctx := testCtx(t)
	_, err := s.UpdateNoticeContent(ctx, "old banner")
	require.NoError(t, err)

	ds := &Dataset{Resources: []Row{{Columns: []string{"name"}, Values: []any{"only"}}}}
	c, err := lite.Acquire(ctx)
	require.NoError(t, err)
	n, err := LoadDataset(ctx, c, ds)
	require.NoError(t, err)
	require.NoError(t, c.Release())
	require.Equal(t, Counts{Resources: 1, Notices: 0}, n, "seeded notice is not counted as loaded")

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, Counts{Resources: 1, Notices: 1}, counts)
	notice, err := s.LatestNotice(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.DefaultNoticeContent, notice.Content)
	require.False(t, notice.Enabled)
}

func TestLoadDataset_RollsBackOnBadRow(t *testing.T) {
	s, lite := newSQLiteStore(t)
	ctx := testCtx(t)
	mustInsert(t, s, "keep me", nil)

	ds := &Dataset{Resources: []Row{
		{Columns: []string{"name"}, Values: []any{"ok"}},
		{Columns: []string{"name"}, Values: []any{nil}},
	}}
	c, err := lite.Acquire(ctx)
	require.NoError(t, err)
	_, err = LoadDataset(ctx, c, ds)
	require.Error(t, err)
	require.NoError(t, c.Release())

	all, err := s.ListResources(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"keep me"}, names(all))
}

func TestSQLite_ReplaceKeepsIDs(t *testing.T) {
	src, srcLite := newSQLiteStore(t)
	ctx := testCtx(t)
	mustInsert(t, src, "skip", nil)
	keep := mustInsert(t, src, "imported", domain.Str("t"))
	_, err := src.DeleteResource(ctx, keep-1)
	require.NoError(t, err)
	candidate := filepath.Join(t.TempDir(), "candidate.db")
	require.NoError(t, srcLite.Snapshot(ctx, candidate))

	dst, dstLite := newSQLiteStore(t)
	mustInsert(t, dst, "overwritten", nil)
	backup := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, dstLite.Snapshot(ctx, backup))
	require.NoError(t, dstLite.Replace(ctx, candidate, backup))

	all, err := dst.ListResources(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, keep, all[0].ID)
	require.Equal(t, "imported", all[0].Name)
}

func TestSQLite_ReplaceRestoresBackupOnFailure(t *testing.T) {
	s, lite := newSQLiteStore(t)
	ctx := testCtx(t)
	mustInsert(t, s, "precious", nil)
	backup := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, lite.Snapshot(ctx, backup))

	candidate := filepath.Join(t.TempDir(), "broken.db")
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.ToSlash(candidate)))
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE resources (id INTEGER PRIMARY KEY, name TEXT NOT NULL)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	err = lite.Replace(ctx, candidate, backup)
	require.Error(t, err)
	require.Contains(t, err.Error(), "notices")

	all, err := s.ListResources(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"precious"}, names(all))
}

func TestSQLite_Wipe(t *testing.T) {
	s, lite := newSQLiteStore(t)
	ctx := testCtx(t)
	mustInsert(t, s, "a", nil)
	mustInsert(t, s, "b", nil)
	_, err := s.ToggleNotice(ctx, true)
	require.NoError(t, err)

	require.NoError(t, lite.Wipe(ctx))
	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, Counts{Resources: 0, Notices: 1}, counts)
	latest, err := s.LatestNotice(ctx)
	require.NoError(t, err)
	require.False(t, latest.Enabled)
	require.Equal(t, int64(1), mustInsert(t, s, "fresh", nil), "ids restart")
	require.NoFileExists(t, lite.Path()+".wipe")
}

func TestSQLite_WipeFailureKeepsLiveData(t *testing.T) {
	s, lite := newSQLiteStore(t)
	ctx := testCtx(t)
	a := mustInsert(t, s, "a", nil)
	b := mustInsert(t, s, "b", nil)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, lite.Wipe(cancelled))

	all, err := s.ListResources(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []int64{a, b}, []int64{all[0].ID, all[1].ID})
	require.NoFileExists(t, lite.Path()+".wipe")
}

func TestNewSQLite_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "db.sqlite")
	_, err := NewSQLite(Options{Path: path}, applog.Discard())
	require.NoError(t, err)
	_, err = os.Stat(filepath.Dir(path))
	require.NoError(t, err)
}
