/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package transfer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"resourcehub/internal/domain"
	applog "resourcehub/internal/log"
	"resourcehub/internal/store"
)

type fixture struct {
	store  *store.Store
	lite   *store.SQLite
	engine *Engine
	dir    string
	tmp    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	lite, err := store.NewSQLite(store.Options{Path: filepath.Join(dir, "resources.db")}, applog.Discard())
	require.NoError(t, err)
	s := store.New(lite, applog.Discard())
	tmp := filepath.Join(dir, "tmp")
	require.NoError(t, os.MkdirAll(tmp, 0o755))
	clock := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	e, err := New(s, Options{
		BackupDir: filepath.Join(dir, "backups"),
		ExportDir: filepath.Join(dir, "exports"),
		TempDir:   tmp,
		Now:       func() time.Time { return clock },
	}, applog.Discard())
	require.NoError(t, err)
	return &fixture{store: s, lite: lite, engine: e, dir: dir, tmp: tmp}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := testCtx(t)
	for _, r := range []domain.ResourceFields{
		{Name: "Go Course", RType: domain.Str("video"), Tags: domain.Str("go,backend"), PanPass: domain.Str("")},
		{Name: "SQL Notes", Description: domain.Str("joins explained"), TGLink: domain.Str("https://t.me/x")},
		{Name: "Empty"},
	} {
		_, err := f.store.InsertResource(ctx, r)
		require.NoError(t, err)
	}
	_, err := f.store.UpdateNoticeContent(ctx, "Hello visitors")
	require.NoError(t, err)
	_, err = f.store.ToggleNotice(ctx, true)
	require.NoError(t, err)
}

func (f *fixture) tmpEntries(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(f.tmp)
	require.NoError(t, err)
	return entries
}

func TestExport_Artifact(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := testCtx(t)

	a, err := f.engine.Export(ctx)
	require.NoError(t, err)
	require.Equal(t, "resources_export_20250304-050607.db", a.Name)
	require.Equal(t, MIMEType, a.MIMEType)
	require.Positive(t, a.Size)

	var buf bytes.Buffer
	n, err := a.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, a.Size, n)
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("SQLite format 3\x00")))

	b, err := f.engine.Export(ctx)
	require.NoError(t, err)
	require.Equal(t, "resources_export_20250304-050607-1.db", b.Name, "same-second exports get distinct names")

	require.NoError(t, a.Remove())
	_, err = os.Stat(a.Path)
	require.True(t, os.IsNotExist(err))
}

func TestExportImport_RoundTrip(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := testCtx(t)
	before, err := f.store.ListResources(ctx, "")
	require.NoError(t, err)
	noticeBefore, err := f.store.LatestNotice(ctx)
	require.NoError(t, err)

	a, err := f.engine.Export(ctx)
	require.NoError(t, err)

	// diverge, then bring the export back
	_, err = f.store.InsertResource(ctx, domain.ResourceFields{Name: "temporary"})
	require.NoError(t, err)
	_, err = f.store.DeleteResource(ctx, before[0].ID)
	require.NoError(t, err)

	rep, err := f.engine.ImportFile(ctx, a.Path)
	require.NoError(t, err)
	require.Equal(t, 3, rep.Resources)
	require.Equal(t, 1, rep.Notices)
	require.Equal(t, "backup_20250304-050607.db", rep.Backup)
	require.FileExists(t, a.Path, "ImportFile leaves the source file alone")
	require.Empty(t, f.tmpEntries(t), "temp upload removed")

	after, err := f.store.ListResources(ctx, "")
	require.NoError(t, err)
	require.Equal(t, before, after)
	noticeAfter, err := f.store.LatestNotice(ctx)
	require.NoError(t, err)
	require.Equal(t, noticeBefore, noticeAfter)

	backups, err := f.engine.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	require.Equal(t, rep.Backup, backups[0].Name)
	ds, err := store.ReadEmbedded(ctx, backups[0].Path)
	require.NoError(t, err)
	require.Len(t, ds.Resources, 3, "backup holds the diverged state")
}

func TestImport_RejectsMissingNotices(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := testCtx(t)
	before, err := f.store.ListResources(ctx, "")
	require.NoError(t, err)

	other := newFixture(t)
	other.seed(t)
	a, err := other.engine.Export(ctx)
	require.NoError(t, err)
	dropNotices(t, a.Path)

	_, err = f.engine.ImportFile(ctx, a.Path)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, ReasonMissingTables, verr.Reason)
	require.Equal(t, []string{store.TableNotices}, verr.Missing)
	require.Contains(t, err.Error(), "notices")

	after, err := f.store.ListResources(ctx, "")
	require.NoError(t, err)
	require.Equal(t, before, after)
	backups, err := f.engine.Backups()
	require.NoError(t, err)
	require.Empty(t, backups, "rejected before any backup was taken")
	require.Empty(t, f.tmpEntries(t))
}

func TestImport_RejectsGarbage(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := testCtx(t)

	_, err := f.engine.Import(ctx, bytes.NewReader(bytes.Repeat([]byte("not sqlite "), 200)))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, ReasonNotDatabase, verr.Reason)
	require.Empty(t, f.tmpEntries(t))

	counts, err := f.store.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, store.Counts{Resources: 3, Notices: 1}, counts)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := testCtx(t)

	rep, err := f.engine.Reset(ctx, ResetToken)
	require.NoError(t, err)
	require.Equal(t, store.Counts{Resources: 3, Notices: 1}, rep.Before)
	require.FileExists(t, filepath.Join(f.dir, "backups", rep.Backup))

	counts, err := f.store.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, store.Counts{Resources: 0, Notices: 1}, counts)
	n, err := f.store.LatestNotice(ctx)
	require.NoError(t, err)
	require.False(t, n.Enabled)
	require.Equal(t, domain.DefaultNoticeContent, n.Content)
}

// wipeFails is a backend whose Wipe fails before touching anything.
type wipeFails struct {
	store.Backend
	replaced int
}

func (b *wipeFails) Wipe(context.Context) error { return errors.New("wipe: disk full") }

func (b *wipeFails) Replace(ctx context.Context, candidate, backup string) error {
	b.replaced++
	return b.Backend.Replace(ctx, candidate, backup)
}

func TestReset_FailedWipeLeavesDataAlone(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	wrapped := &wipeFails{Backend: f.lite}
	f.store = store.New(wrapped, applog.Discard())
	e, err := New(f.store, Options{BackupDir: filepath.Join(f.dir, "backups"), TempDir: f.tmp, Now: f.engine.opts.Now}, applog.Discard())
	require.NoError(t, err)
	f.engine = e
	f.seed(t)
	_, err = f.store.DeleteResource(ctx, 1)
	require.NoError(t, err)
	_, err = f.store.UpdateNoticeContent(ctx, "second banner")
	require.NoError(t, err)
	before, err := f.store.ListResources(ctx, "")
	require.NoError(t, err)
	countsBefore, err := f.store.Counts(ctx)
	require.NoError(t, err)

	_, err = f.engine.Reset(ctx, ResetToken)
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, "backup_20250304-050607.db", failed.Backup)
	require.Zero(t, wrapped.replaced, "nothing is reloaded after a failed wipe")

	after, err := f.store.ListResources(ctx, "")
	require.NoError(t, err)
	require.Equal(t, before, after, "ids and rows unchanged")
	countsAfter, err := f.store.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, countsBefore, countsAfter)
}

func TestImport_EmptyNoticesReportsRowsTransferred(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := testCtx(t)

	a, err := f.engine.Export(ctx)
	require.NoError(t, err)
	db, err := sqlx.Open("sqlite", "file:"+filepath.ToSlash(a.Path))
	require.NoError(t, err)
	_, err = db.Exec("DELETE FROM notices")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	rep, err := f.engine.ImportFile(ctx, a.Path)
	require.NoError(t, err)
	require.Equal(t, 3, rep.Resources)
	require.Equal(t, 0, rep.Notices, "report counts the file, not the seeded default")

	counts, err := f.store.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, store.Counts{Resources: 3, Notices: 1}, counts)
	n, err := f.store.LatestNotice(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.DefaultNoticeContent, n.Content)
	require.False(t, n.Enabled)
}

func TestReset_WrongTokenChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := testCtx(t)
	before, err := os.ReadFile(f.lite.Path())
	require.NoError(t, err)

	rep, err := f.engine.Reset(ctx, "wrong-token")
	require.ErrorIs(t, err, ErrResetRefused)
	require.Nil(t, rep)

	after, err := os.ReadFile(f.lite.Path())
	require.NoError(t, err)
	require.Equal(t, before, after, "database file must be byte-for-byte unchanged")
	backups, err := f.engine.Backups()
	require.NoError(t, err)
	require.Empty(t, backups)
}

func TestBackups_NewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	for i := 0; i < 3; i++ {
		_, err := f.engine.Reset(ctx, ResetToken)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "backups", "notes.txt"), []byte("x"), 0o644))

	backups, err := f.engine.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 3)
	require.Equal(t, "backup_20250304-050607-2.db", backups[0].Name)
	require.Equal(t, "backup_20250304-050607.db", backups[2].Name)
}
