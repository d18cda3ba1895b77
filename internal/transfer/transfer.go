/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package transfer moves whole databases in and out of the live backend using the embedded
// file format: export, validated import with backup-before-replace, and confirmed reset.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"resourcehub/internal/fsutil"
	"resourcehub/internal/store"
)

const (
	// ResetToken must be passed to Reset verbatim.
	ResetToken = "RESET_DATABASE"
	// MIMEType is served with every export.
	MIMEType = "application/x-sqlite3"

	exportPrefix = "resources_export"
	backupPrefix = "backup"
	fileExt      = ".db"
)

// ErrResetRefused is returned by Reset when the confirmation token does not match.
var ErrResetRefused = errors.New("reset refused: confirmation token does not match")

// Options locate the engine's working files.
type Options struct {
	BackupDir string
	ExportDir string
	// TempDir receives spooled uploads; empty means the system temp dir.
	TempDir string
	// Now is the clock used for file names.
	Now func() time.Time
}

// Engine runs export, import and reset against one backend.
type Engine struct {
	backend store.Backend
	store   *store.Store
	opts    Options
	log     *slog.Logger
}

// New creates the backup and export directories.
func New(s *store.Store, opts Options, l *slog.Logger) (*Engine, error) {
	if opts.BackupDir == "" {
		opts.BackupDir = "backups"
	}
	if opts.ExportDir == "" {
		opts.ExportDir = opts.BackupDir
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	for _, dir := range lo.Uniq([]string{opts.BackupDir, opts.ExportDir}) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Engine{
		backend: s.Backend(),
		store:   s,
		opts:    opts,
		log:     l.With(slog.String("component", "transfer"), slog.String("backend", s.Backend().Name())),
	}, nil
}

// Artifact is an export ready to be streamed to the caller.
type Artifact struct {
	Path     string `json:"-"`
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// WriteTo streams the file to w.
func (a *Artifact) WriteTo(w io.Writer) (int64, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return io.Copy(w, f)
}

// Remove deletes the file once it has been delivered.
func (a *Artifact) Remove() error { return fsutil.RemoveIfExists(a.Path) }

// Export writes a point-in-time copy of the live data to a timestamped embedded file.
func (e *Engine) Export(ctx context.Context) (*Artifact, error) {
	l := e.log.With(slog.String("op", "export"))
	path := fsutil.StampedPath(e.opts.ExportDir, exportPrefix, fileExt, e.opts.Now())
	if err := e.backend.Snapshot(ctx, path); err != nil {
		_ = fsutil.RemoveIfExists(path)
		l.Error("export failed", slog.Any("err", err))
		return nil, fmt.Errorf("export: %w", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	a := &Artifact{Path: path, Name: filepath.Base(path), MIMEType: MIMEType, Size: fi.Size()}
	l.Info("export written", slog.String("file", a.Name), slog.Int64("bytes", a.Size))
	return a, nil
}

// ImportReport describes a finished import. The counts are rows taken from the imported file;
// a default notice seeded for a file without notices is not counted.
type ImportReport struct {
	Resources int    `json:"resources"`
	Notices   int    `json:"notices"`
	Backup    string `json:"backup"`
}

// ImportFile imports the embedded file at path. The file itself is left in place.
func (e *Engine) ImportFile(ctx context.Context, path string) (*ImportReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return e.Import(ctx, f)
}

// Import replaces the live data with the embedded database read from r. The upload is
// spooled to a temp file that is removed on every path. Nothing is changed unless the
// candidate validates, and a backup is taken before the live data is touched.
func (e *Engine) Import(ctx context.Context, r io.Reader) (rep *ImportReport, err error) {
	l := e.log.With(slog.String("op", "import"))
	start := time.Now()

	tmp, err := e.spool(r)
	if err != nil {
		l.Error("spooling upload failed", slog.Any("err", err))
		return nil, err
	}
	defer func() {
		if rerr := fsutil.RemoveIfExists(tmp); rerr != nil {
			l.Warn("temp upload not removed", slog.String("path", tmp), slog.Any("err", rerr))
		}
	}()

	if err := e.Validate(ctx, tmp); err != nil {
		l.Warn("import rejected", slog.Any("err", err))
		return nil, err
	}

	counts, err := store.CountEmbedded(ctx, tmp)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonBadStructure, Err: err}
	}

	backup, err := e.backup(ctx)
	if err != nil {
		l.Error("backup before import failed", slog.Any("err", err))
		return nil, err
	}
	if err := e.backend.Replace(ctx, tmp, backup); err != nil {
		l.Error("import failed", slog.String("backup", filepath.Base(backup)), slog.Any("err", err))
		return nil, &FailedError{Op: "import", Backup: filepath.Base(backup), Err: err}
	}

	rep = &ImportReport{Resources: counts.Resources, Notices: counts.Notices, Backup: filepath.Base(backup)}
	l.Info("import complete",
		slog.Int("resources", rep.Resources), slog.Int("notices", rep.Notices),
		slog.String("backup", rep.Backup), slog.Duration("took", time.Since(start)))
	return rep, nil
}

func (e *Engine) spool(r io.Reader) (path string, err error) {
	f, err := os.CreateTemp(e.opts.TempDir, "upload-*"+fileExt)
	if err != nil {
		return "", fmt.Errorf("create temp upload: %w", err)
	}
	path = f.Name()
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = fsutil.RemoveIfExists(path)
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

// backup snapshots the live data into a new timestamped file and returns its path.
func (e *Engine) backup(ctx context.Context) (string, error) {
	path := fsutil.StampedPath(e.opts.BackupDir, backupPrefix, fileExt, e.opts.Now())
	if err := e.backend.Snapshot(ctx, path); err != nil {
		_ = fsutil.RemoveIfExists(path)
		return "", fmt.Errorf("backup: %w", err)
	}
	e.log.Info("backup written", slog.String("file", filepath.Base(path)))
	return path, nil
}

// ResetReport describes a finished reset.
type ResetReport struct {
	Backup string       `json:"backup"`
	Before store.Counts `json:"before"`
}

// Reset destroys all data after taking a backup, leaving the default notice only.
// Any token other than ResetToken is refused without side effects.
func (e *Engine) Reset(ctx context.Context, token string) (*ResetReport, error) {
	l := e.log.With(slog.String("op", "reset"))
	if token != ResetToken {
		l.Warn("reset refused")
		return nil, ErrResetRefused
	}
	before, err := e.store.Counts(ctx)
	if err != nil {
		return nil, err
	}
	backup, err := e.backup(ctx)
	if err != nil {
		l.Error("backup before reset failed", slog.Any("err", err))
		return nil, err
	}
	// Wipe leaves the live data untouched when it fails, so there is nothing to restore.
	if err := e.backend.Wipe(ctx); err != nil {
		l.Error("reset failed", slog.String("backup", filepath.Base(backup)), slog.Any("err", err))
		return nil, &FailedError{Op: "reset", Backup: filepath.Base(backup), Err: err}
	}
	rep := &ResetReport{Backup: filepath.Base(backup), Before: before}
	l.Info("reset complete", slog.String("backup", rep.Backup),
		slog.Int("resources", before.Resources), slog.Int("notices", before.Notices))
	return rep, nil
}

// BackupInfo is one file in the backup directory.
type BackupInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"-"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Backups lists backup files, newest first.
func (e *Engine) Backups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(e.opts.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	out := lo.FilterMap(entries, func(de os.DirEntry, _ int) (BackupInfo, bool) {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, backupPrefix+"_") || filepath.Ext(name) != fileExt {
			return BackupInfo{}, false
		}
		fi, err := de.Info()
		if err != nil {
			return BackupInfo{}, false
		}
		return BackupInfo{Name: name, Path: filepath.Join(e.opts.BackupDir, name), Size: fi.Size(), ModTime: fi.ModTime()}, true
	})
	sort.SliceStable(out, func(i, j int) bool {
		return strings.TrimSuffix(out[i].Name, fileExt) > strings.TrimSuffix(out[j].Name, fileExt)
	})
	return out, nil
}

// FailedError is a failure after the backup point. Backup names the file holding the data
// as it was before the operation started.
type FailedError struct {
	Op     string
	Backup string
	Err    error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%s failed: %v (backup saved as %s)", e.Op, e.Err, e.Backup)
}

func (e *FailedError) Unwrap() error { return e.Err }
