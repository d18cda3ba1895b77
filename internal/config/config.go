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
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/xeipuuv/gojsonschema"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// AppConfig is the service configuration persisted as YAML.
// Environment variables are read-only overrides applied after the file.
//
// config_version: bump when the structure changes in a backward-incompatible way.

type DatabaseConfig struct {
	// URL selects the networked backend. Empty means the embedded file.
	URL           string `yaml:"url" env:"DATABASE_URL"`
	Path          string `yaml:"path" env:"RESHUB_DB_PATH"`
	BackupDir     string `yaml:"backup_dir" env:"RESHUB_BACKUP_DIR"`
	ExportDir     string `yaml:"export_dir" env:"RESHUB_EXPORT_DIR"`
	MinConns      int32  `yaml:"min_conns" env:"RESHUB_DB_MIN_CONNS"`
	MaxConns      int32  `yaml:"max_conns" env:"RESHUB_DB_MAX_CONNS"`
	BusyTimeoutMs int    `yaml:"busy_timeout_ms" env:"RESHUB_DB_BUSY_TIMEOUT_MS"`
	// PasswordFromKeyring fills the URL password from the OS keychain.
	PasswordFromKeyring bool `yaml:"password_from_keyring" env:"RESHUB_DB_PASSWORD_FROM_KEYRING"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" env:"RESHUB_ADDR"`
	// AdminSecret signs admin tokens. Not stored on disk when it lives in the keychain.
	AdminSecret string `yaml:"admin_secret,omitempty" env:"RESHUB_ADMIN_SECRET"`
	MaxUploadMB int64  `yaml:"max_upload_mb" env:"RESHUB_MAX_UPLOAD_MB"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"RESHUB_LOG_LEVEL"`
	Format string `yaml:"format" env:"RESHUB_LOG_FORMAT"`
	Source bool   `yaml:"source" env:"RESHUB_LOG_SOURCE"`
	File   string `yaml:"file" env:"RESHUB_LOG_FILE"`
}

type AppConfig struct {
	ConfigVersion int            `yaml:"config_version"`
	Database      DatabaseConfig `yaml:"database"`
	Server        ServerConfig   `yaml:"server"`
	Logging       LoggingConfig  `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Database: DatabaseConfig{
			Path:          "resources.db",
			BackupDir:     "backups",
			ExportDir:     "exports",
			MinConns:      1,
			MaxConns:      20,
			BusyTimeoutMs: 5000,
		},
		Server:  ServerConfig{Addr: ":8080", MaxUploadMB: 64},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// BusyTimeout is the embedded backend lock wait.
func (d DatabaseConfig) BusyTimeout() time.Duration {
	return time.Duration(d.BusyTimeoutMs) * time.Millisecond
}

// Service/keys for OS keyring.
const (
	keyringService     = "resourcehub"
	keyringDBPassword  = "database_password"
	keyringAdminSecret = "admin_secret"
)

// tokenStore abstracts the keyring so tests can use the mock provider.
var tokenStore TokenStore = osKeyring{}

type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring implements TokenStore using the OS keyring via github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

// SetDatabasePassword stores the networked database password in the OS keychain.
func SetDatabasePassword(pw string) error {
	return tokenStore.Set(keyringService, keyringDBPassword, pw)
}

// SetAdminSecret stores the admin token secret in the OS keychain.
func SetAdminSecret(secret string) error {
	return tokenStore.Set(keyringService, keyringAdminSecret, secret)
}

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "ResourceHub")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "ResourceHub")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "resourcehub")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "resourcehub")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

//go:embed config.schema.json
var schemaJSON []byte

// Load reads the config file at path (the per-user file when empty), applies defaults,
// validates the file against the embedded schema, merges environment overrides and finally
// fills secrets from the keychain. A missing file is not an error; an invalid one is.
func Load(path string) (AppConfig, error) {
	cfg := Defaults()
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		fileCfg, err := decode(data)
		if err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	case !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	normalize(&cfg)
	if err := applySecrets(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decode validates data against the schema and unmarshals it.
func decode(data []byte) (AppConfig, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return AppConfig{}, fmt.Errorf("parse yaml: %w", err)
	}
	if raw != nil {
		res, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewGoLoader(raw))
		if err != nil {
			return AppConfig{}, fmt.Errorf("validate: %w", err)
		}
		if !res.Valid() {
			msgs := make([]string, 0, len(res.Errors()))
			for _, e := range res.Errors() {
				msgs = append(msgs, e.String())
			}
			return AppConfig{}, fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
	}
	var out AppConfig
	if err := yaml.Unmarshal(data, &out); err != nil {
		return AppConfig{}, fmt.Errorf("parse yaml: %w", err)
	}
	return out, nil
}

// Save writes the config YAML. The admin secret is moved to the keychain when one is set.
func Save(path string, cfg AppConfig) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if cfg.Server.AdminSecret != "" {
		if err := SetAdminSecret(cfg.Server.AdminSecret); err == nil {
			cfg.Server.AdminSecret = ""
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	d, s := &dst.Database, &src.Database
	if strings.TrimSpace(s.URL) != "" {
		d.URL = strings.TrimSpace(s.URL)
	}
	if strings.TrimSpace(s.Path) != "" {
		d.Path = strings.TrimSpace(s.Path)
	}
	if strings.TrimSpace(s.BackupDir) != "" {
		d.BackupDir = strings.TrimSpace(s.BackupDir)
	}
	if strings.TrimSpace(s.ExportDir) != "" {
		d.ExportDir = strings.TrimSpace(s.ExportDir)
	}
	if s.MinConns != 0 {
		d.MinConns = s.MinConns
	}
	if s.MaxConns != 0 {
		d.MaxConns = s.MaxConns
	}
	if s.BusyTimeoutMs != 0 {
		d.BusyTimeoutMs = s.BusyTimeoutMs
	}
	d.PasswordFromKeyring = s.PasswordFromKeyring
	if strings.TrimSpace(src.Server.Addr) != "" {
		dst.Server.Addr = strings.TrimSpace(src.Server.Addr)
	}
	if src.Server.AdminSecret != "" {
		dst.Server.AdminSecret = src.Server.AdminSecret
	}
	if src.Server.MaxUploadMB != 0 {
		dst.Server.MaxUploadMB = src.Server.MaxUploadMB
	}
	// logging
	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.TrimSpace(src.Logging.Level)
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.TrimSpace(src.Logging.Format)
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
}

func normalize(cfg *AppConfig) {
	cfg.Database.URL = strings.TrimSpace(cfg.Database.URL)
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	if cfg.Database.MinConns < 1 {
		cfg.Database.MinConns = 1
	}
	if cfg.Database.MaxConns < cfg.Database.MinConns {
		cfg.Database.MaxConns = cfg.Database.MinConns
	}
}

// applySecrets fills the database password and admin secret from the keychain. A missing
// keychain entry leaves the value as it is.
func applySecrets(cfg *AppConfig) error {
	if cfg.Server.AdminSecret == "" {
		if s, err := tokenStore.Get(keyringService, keyringAdminSecret); err == nil {
			cfg.Server.AdminSecret = s
		}
	}
	if !cfg.Database.PasswordFromKeyring || cfg.Database.URL == "" {
		return nil
	}
	pw, err := tokenStore.Get(keyringService, keyringDBPassword)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("read database password from keyring: %w", err)
	}
	u, err := url.Parse(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, pw)
	cfg.Database.URL = u.String()
	return nil
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	names := map[string]string{
		"database.url":             "DATABASE_URL",
		"database.path":            "RESHUB_DB_PATH",
		"database.backup_dir":      "RESHUB_BACKUP_DIR",
		"database.export_dir":      "RESHUB_EXPORT_DIR",
		"database.min_conns":       "RESHUB_DB_MIN_CONNS",
		"database.max_conns":       "RESHUB_DB_MAX_CONNS",
		"database.busy_timeout_ms": "RESHUB_DB_BUSY_TIMEOUT_MS",
		"server.addr":              "RESHUB_ADDR",
		"server.admin_secret":      "RESHUB_ADMIN_SECRET",
		"server.max_upload_mb":     "RESHUB_MAX_UPLOAD_MB",
		"logging.level":            "RESHUB_LOG_LEVEL",
		"logging.format":           "RESHUB_LOG_FORMAT",
		"logging.source":           "RESHUB_LOG_SOURCE",
		"logging.file":             "RESHUB_LOG_FILE",
	}
	name, ok := names[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}

// Redacted returns the database URL with any password masked, for logs.
func (d DatabaseConfig) Redacted() string {
	if d.URL == "" {
		return ""
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return "<unparsable>"
	}
	return u.Redacted()
}
