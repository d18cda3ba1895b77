/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"resourcehub/internal/config"
	applog "resourcehub/internal/log"
	"resourcehub/internal/store"
	"resourcehub/internal/transfer"
)

// app holds what PersistentPreRunE resolved for the subcommands.
type app struct {
	cfgPath string
	cfg     config.AppConfig
	log     *slog.Logger
	backend store.Backend
	sel     store.Selection
	store   *store.Store
	engine  *transfer.Engine
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "resourcehub",
		Short:         "Resource catalog and notice board backed by SQLite or PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default is the per-user config.yaml)")

	root.AddCommand(
		a.serveCommand(),
		a.listCommand(),
		a.exportCommand(),
		a.importCommand(),
		a.resetCommand(),
		a.backupsCommand(),
		a.tokenCommand(),
		a.secretCommand(),
		versionCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads the config and initializes logging. Commands that talk to the database also
// call open.
func (a *app) setup(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	})
	a.log = applog.WithComponent("cli")
	return nil
}

func (a *app) open(ctx context.Context) error {
	db := a.cfg.Database
	b, sel, err := store.Open(ctx, store.Options{
		URL:         db.URL,
		Path:        db.Path,
		MinConns:    db.MinConns,
		MaxConns:    db.MaxConns,
		BusyTimeout: db.BusyTimeout(),
	}, applog.L())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.backend, a.sel = b, sel
	if sel.Fallback {
		a.log.Warn("using embedded database", slog.String("reason", sel.Reason))
	} else {
		a.log.Debug("database selected", slog.String("backend", sel.Backend))
	}
	a.store = store.New(b, applog.L())
	a.engine, err = transfer.New(a.store, transfer.Options{
		BackupDir: db.BackupDir,
		ExportDir: db.ExportDir,
	}, applog.L())
	return err
}

func (a *app) close() {
	if a.backend == nil {
		return
	}
	if err := a.backend.Close(); err != nil {
		a.log.Warn("close database", slog.Any("err", err))
	}
}

// withStore wraps a RunE so the backend is opened before and closed after it.
func (a *app) withStore(run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		err := a.open(ctx)
		cancel()
		if err != nil {
			return err
		}
		defer a.close()
		return run(cmd, args)
	}
}
