/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
)

func init() { keyring.MockInit() }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := Defaults()
	if cfg.Database.Path != want.Database.Path || cfg.Database.MaxConns != 20 || cfg.Server.Addr != ":8080" {
		t.Fatalf("defaults not applied: %#v", cfg)
	}
}

func TestLoadMergesFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	p := writeConfig(t, `
config_version: 1
database:
  path: /srv/data/res.db
  max_conns: 5
server:
  addr: "127.0.0.1:9000"
logging:
  level: DEBUG
  source: true
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Path != "/srv/data/res.db" || cfg.Database.MaxConns != 5 || cfg.Database.MinConns != 1 {
		t.Fatalf("database section not merged: %#v", cfg.Database)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Source {
		t.Fatalf("logging not merged/normalized: %#v", cfg.Logging)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	p := writeConfig(t, `
database:
  max_conns: "lots"
  colour: blue
`)
	_, err := Load(p)
	if err == nil {
		t.Fatalf("expected schema validation error")
	}
	if !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnvOverridesDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", " postgres://u@db.internal:5432/res ")
	t.Setenv("RESHUB_DB_MAX_CONNS", "7")
	p := writeConfig(t, "database:\n  url: postgres://file@elsewhere/res\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got, want := cfg.Database.URL, "postgres://u@db.internal:5432/res"; got != want {
		t.Fatalf("Database.URL = %q, want %q", got, want)
	}
	if cfg.Database.MaxConns != 7 {
		t.Fatalf("MaxConns = %d, want 7", cfg.Database.MaxConns)
	}
	if name, ok := EnvOverrideFor("database.url"); !ok || name != "DATABASE_URL" {
		t.Fatalf("EnvOverrideFor(database.url) = %q, %v", name, ok)
	}
	if _, ok := EnvOverrideFor("database.path"); ok {
		t.Fatalf("database.path should not be overridden")
	}
}

func TestEnvOverridesLogging(t *testing.T) {
	t.Setenv("RESHUB_LOG_LEVEL", "error")
	t.Setenv("RESHUB_LOG_FORMAT", "json")
	t.Setenv("RESHUB_LOG_SOURCE", "1")
	t.Setenv("RESHUB_LOG_FILE", "/tmp/reshub.log")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "error" || cfg.Logging.Format != "json" || !cfg.Logging.Source || cfg.Logging.File != "/tmp/reshub.log" {
		t.Fatalf("env overrides not applied to logging: %#v", cfg.Logging)
	}
}

func TestPasswordFromKeyring(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://app@db:5432/res?sslmode=disable")
	t.Setenv("RESHUB_DB_PASSWORD_FROM_KEYRING", "true")
	if err := SetDatabasePassword("s3cr3t"); err != nil {
		t.Fatalf("SetDatabasePassword: %v", err)
	}
	t.Cleanup(func() { _ = tokenStore.Delete(keyringService, keyringDBPassword) })
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !strings.Contains(cfg.Database.URL, "app:s3cr3t@db:5432") {
		t.Fatalf("password not injected: %q", cfg.Database.URL)
	}
	if strings.Contains(cfg.Database.Redacted(), "s3cr3t") {
		t.Fatalf("Redacted leaked the password: %q", cfg.Database.Redacted())
	}
}

func TestSaveMovesAdminSecretToKeyring(t *testing.T) {
	t.Setenv("RESHUB_ADMIN_SECRET", "")
	p := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Defaults()
	cfg.Server.AdminSecret = "hunter2"
	if err := Save(p, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	t.Cleanup(func() { _ = tokenStore.Delete(keyringService, keyringAdminSecret) })
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read saved: %v", err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Fatalf("secret written to disk:\n%s", data)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.Server.AdminSecret != "hunter2" {
		t.Fatalf("AdminSecret = %q, want value from keyring", got.Server.AdminSecret)
	}
}

func TestMergeIncludesLogging(t *testing.T) {
	dst := Defaults()
	src := Defaults()
	src.Logging.Level = "debug"
	src.Logging.Format = "json"
	src.Logging.Source = true
	src.Logging.File = "C:/tmp/reshub.log"
	mergeInto(&dst, &src)
	if dst.Logging.Level != "debug" || dst.Logging.Format != "json" || !dst.Logging.Source || dst.Logging.File != "C:/tmp/reshub.log" {
		t.Fatalf("logging fields not merged correctly: %#v", dst.Logging)
	}
}
