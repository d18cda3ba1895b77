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
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	applog "resourcehub/internal/log"
	"resourcehub/internal/store"
)

// dropNotices removes the notices table from an exported file.
func dropNotices(t *testing.T, path string) {
	t.Helper()
	db, err := sqlx.Open("sqlite", fmt.Sprintf("file:%s", filepath.ToSlash(path)))
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()
	_, err = db.Exec("DROP TABLE notices")
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := testCtx(t)
	a, err := f.engine.Export(ctx)
	require.NoError(t, err)
	require.NoError(t, f.engine.Validate(ctx, a.Path))

	missing := filepath.Join(t.TempDir(), "nope.db")
	var verr *ValidationError
	require.ErrorAs(t, f.engine.Validate(ctx, missing), &verr)
	require.Equal(t, ReasonNotDatabase, verr.Reason)

	text := filepath.Join(t.TempDir(), "text.db")
	require.NoError(t, os.WriteFile(text, []byte("definitely not a database file, just some text padding it out"), 0o644))
	require.ErrorAs(t, f.engine.Validate(ctx, text), &verr)
	require.Equal(t, ReasonNotDatabase, verr.Reason)

	empty := filepath.Join(t.TempDir(), "empty.db")
	db, err := sqlx.Open("sqlite", fmt.Sprintf("file:%s", filepath.ToSlash(empty)))
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE unrelated (x INTEGER)")
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.ErrorAs(t, f.engine.Validate(ctx, empty), &verr)
	require.Equal(t, ReasonMissingTables, verr.Reason)
	require.ElementsMatch(t, store.RequiredTables, verr.Missing)
}

func TestValidate_DoesNotModifyCandidate(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := testCtx(t)
	a, err := f.engine.Export(ctx)
	require.NoError(t, err)
	before, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	require.NoError(t, f.engine.Validate(ctx, a.Path))
	after, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestNew_CreatesDirs(t *testing.T) {
	dir := t.TempDir()
	lite, err := store.NewSQLite(store.Options{Path: filepath.Join(dir, "db.sqlite")}, applog.Discard())
	require.NoError(t, err)
	_, err = New(store.New(lite, applog.Discard()), Options{BackupDir: filepath.Join(dir, "b"), ExportDir: filepath.Join(dir, "e")}, applog.Discard())
	require.NoError(t, err)
	require.DirExists(t, filepath.Join(dir, "b"))
	require.DirExists(t, filepath.Join(dir, "e"))
}
