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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"resourcehub/internal/config"
	"resourcehub/internal/crash"
	"resourcehub/internal/domain"
	"resourcehub/internal/fsutil"
	"resourcehub/internal/server"
	"resourcehub/internal/store"
	"resourcehub/internal/transfer"
	"resourcehub/internal/version"
)

func (a *app) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API",
		PreRunE: a.setup,
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.RunE = a.withStore(func(cmd *cobra.Command, _ []string) error {
		cc := &crash.Context{
			Dir:      a.cfg.Database.BackupDir,
			Backend:  a.sel.Backend,
			Snapshot: a.emergencySnapshot,
		}
		defer crash.Recover(cc)

		if addr == "" {
			addr = a.cfg.Server.Addr
		}
		srv := server.New(server.Options{
			Addr:           addr,
			AdminSecret:    a.cfg.Server.AdminSecret,
			MaxUploadBytes: a.cfg.Server.MaxUploadMB << 20,
		}, a.store, a.engine, a.log)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	return cmd
}

// emergencySnapshot copies the live data next to the backups after a panic.
func (a *app) emergencySnapshot() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	dst := fsutil.StampedPath(a.cfg.Database.BackupDir, "emergency", ".db", time.Now())
	if err := a.backend.Snapshot(ctx, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func (a *app) listCommand() *cobra.Command {
	var remote string
	cmd := &cobra.Command{
		Use:     "list [query]",
		Short:   "Print the public listing",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: a.setup,
	}
	cmd.Flags().StringVar(&remote, "remote", "", "read from a running server at this base URL instead of the database")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		q := strings.Join(args, " ")
		if remote != "" {
			l, err := server.NewClient(remote, "").Listing(cmd.Context(), q)
			if err != nil {
				return err
			}
			printListing(cmd.OutOrStdout(), l)
			return nil
		}
		return a.withStore(func(cmd *cobra.Command, _ []string) error {
			l, err := a.store.Listing(cmd.Context(), q)
			if err != nil {
				return err
			}
			printListing(cmd.OutOrStdout(), l)
			return nil
		})(cmd, args)
	}
	return cmd
}

func printListing(w io.Writer, l *store.Listing) {
	if l.Notice != nil {
		fmt.Fprintf(w, "Notice: %s\n\n", l.Notice.Content)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tORDER\tNAME\tTYPE\tTAGS")
	for _, r := range l.Resources {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", r.ID, r.SortOrder, r.Name, domain.Deref(r.RType), strings.Join(r.TagList(), ", "))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d resource(s)\n", len(l.Resources))
}

func (a *app) exportCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:     "export",
		Short:   "Write a snapshot of all resources and the current notice",
		Args:    cobra.NoArgs,
		PreRunE: a.setup,
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "copy the export to this path")
	cmd.RunE = a.withStore(func(cmd *cobra.Command, _ []string) error {
		art, err := a.engine.Export(cmd.Context())
		if err != nil {
			return err
		}
		path := art.Path
		if out != "" {
			if err := fsutil.MoveFile(art.Path, out); err != nil {
				return err
			}
			path = out
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %s (%d bytes)\n", path, art.Size)
		return nil
	})
	return cmd
}

func (a *app) importCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "import <file>",
		Short:   "Replace all data with the contents of an export file",
		Args:    cobra.ExactArgs(1),
		PreRunE: a.setup,
	}
	cmd.RunE = a.withStore(func(cmd *cobra.Command, args []string) error {
		rep, err := a.engine.ImportFile(cmd.Context(), args[0])
		var failed *transfer.FailedError
		if errors.As(err, &failed) {
			a.log.Error("import failed", slog.String("backup", failed.Backup), slog.Any("err", failed.Err))
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d resource(s) and %d notice(s); previous data saved as %s\n",
			rep.Resources, rep.Notices, rep.Backup)
		return nil
	})
	return cmd
}

func (a *app) resetCommand() *cobra.Command {
	var confirm string
	cmd := &cobra.Command{
		Use:     "reset",
		Short:   "Delete all data after taking a backup",
		Args:    cobra.NoArgs,
		PreRunE: a.setup,
	}
	cmd.Flags().StringVar(&confirm, "confirm", "", "must be "+transfer.ResetToken)
	cmd.RunE = a.withStore(func(cmd *cobra.Command, _ []string) error {
		rep, err := a.engine.Reset(cmd.Context(), confirm)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d resource(s) and %d notice(s); backup at %s\n",
			rep.Before.Resources, rep.Before.Notices, rep.Backup)
		return nil
	})
	return cmd
}

func (a *app) backupsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "backups",
		Short:   "List backup files, newest first",
		Args:    cobra.NoArgs,
		PreRunE: a.setup,
	}
	cmd.RunE = a.withStore(func(cmd *cobra.Command, _ []string) error {
		list, err := a.engine.Backups()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
		for _, b := range list {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", b.Name, b.Size, b.ModTime.Format(time.RFC3339))
		}
		return tw.Flush()
	})
	return cmd
}

func (a *app) tokenCommand() *cobra.Command {
	var (
		ttl     time.Duration
		subject string
	)
	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Print an admin bearer token signed with the configured secret",
		Args:    cobra.NoArgs,
		PreRunE: a.setup,
	}
	cmd.Flags().DurationVar(&ttl, "ttl", server.DefaultTokenTTL, "token lifetime")
	cmd.Flags().StringVar(&subject, "subject", "admin", "name recorded in the access log")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if ttl <= 0 || ttl > server.MaxTokenTTL {
			return fmt.Errorf("ttl must be between 1s and %s", server.MaxTokenTTL)
		}
		tok, err := server.IssueToken(a.cfg.Server.AdminSecret, subject, time.Now().Add(ttl))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	}
	return cmd
}

// secretCommand stores a secret in the OS keychain. The value is read from stdin.
func (a *app) secretCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "secret admin|database",
		Short:     "Store the admin secret or the database password in the OS keychain",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"admin", "database"},
		PreRunE:   a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4096))
			if err != nil {
				return err
			}
			value := strings.TrimSpace(string(raw))
			if value == "" {
				return errors.New("empty secret on stdin")
			}
			if args[0] == "admin" {
				err = config.SetAdminSecret(value)
			} else {
				err = config.SetDatabasePassword(value)
			}
			if err != nil {
				return fmt.Errorf("store %s secret: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s secret in the keychain\n", args[0])
			return nil
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
