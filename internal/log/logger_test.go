/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package log

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resourcehub.log")
	var console bytes.Buffer
	Init(Options{Level: "debug", Format: "console", File: path, Console: &console})
	t.Cleanup(func() { Init(Options{Console: &bytes.Buffer{}}) })

	l := WithOperation(WithComponent("store"), "list_resources")
	l.InfoContext(ContextWithRequestID(context.Background(), "r-1"), "listed", slog.Int("rows", 3))

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer func() { _ = f.Close() }()
	var last string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if s := strings.TrimSpace(sc.Text()); s != "" {
			last = s
		}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(last), &m); err != nil {
		t.Fatalf("last line is not JSON: %q: %v", last, err)
	}
	want := map[string]any{
		"app":        "resourcehub",
		"component":  "store",
		"op":         "list_resources",
		"msg":        "listed",
		"request_id": "r-1",
		"rows":       float64(3),
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s = %v, want %v", k, m[k], v)
		}
	}
	if !strings.Contains(console.String(), "INF listed") {
		t.Fatalf("console sink missed the record: %q", console.String())
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("RESHUB_LOG_LEVEL", "warn")
	t.Setenv("RESHUB_LOG_FORMAT", "json")
	t.Setenv("RESHUB_LOG_SOURCE", "1")
	t.Setenv("RESHUB_LOG_FILE", "")
	opts := FromEnv()
	if opts.Level != "warn" || opts.Format != "json" || !opts.AddSource || opts.File != "" {
		t.Fatalf("FromEnv = %+v", opts)
	}

	t.Setenv("RESHUB_LOG_LEVEL", "  ")
	t.Setenv("RESHUB_LOG_SOURCE", "nope")
	opts = FromEnv()
	if opts.Level != "info" || opts.AddSource {
		t.Fatalf("defaults not applied: %+v", opts)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, " WARN ": slog.LevelWarn, "warning": slog.LevelWarn,
		"error": slog.LevelError, "": slog.LevelInfo, "verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
