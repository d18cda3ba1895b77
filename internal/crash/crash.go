/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"resourcehub/internal/fsutil"
	applog "resourcehub/internal/log"
	"resourcehub/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// Context tells Recover where to put the report and how to save the data.
type Context struct {
	// Dir receives crash-<stamp>.log. Empty means the system temp dir.
	Dir string
	// Backend is written into the report.
	Backend string
	// Snapshot, when set, is called to write an emergency copy of the live data.
	Snapshot func() (string, error)
}

// Recover captures a panic, logs an error with stacktrace, writes an error report file and
// attempts an emergency snapshot of the live data.
//
// Usage: defer crash.Recover(&crashCtx)
func Recover(c *Context) {
	if r := recover(); r != nil {
		if c == nil {
			c = &Context{}
		}
		l := applog.WithComponent("crash")
		stack := debug.Stack()
		l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

		reportPath, _ := writeReport(c, r, stack)
		if c.Snapshot != nil {
			if path, err := c.Snapshot(); err != nil {
				l.Error("emergency snapshot failed", slog.Any("err", err))
			} else {
				l.Info("emergency snapshot written", slog.String("path", path))
			}
		}

		if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
			l.Error("failed to write crash message to stderr", slog.Any("err", err))
		}
		if _, err := fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
			l.Error("failed to write version info to stderr", slog.Any("err", err))
		}
		// Exit with a non-zero code to indicate failure in CLI context.
		exitFn(2)
	}
}

func writeReport(c *Context, panicVal any, stack []byte) (string, error) {
	dir := c.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	now := time.Now()
	path := fsutil.StampedPath(dir, "crash", ".log", now)

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "resourcehub crash report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", now.Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if c.Backend != "" {
		_, _ = fmt.Fprintf(&buf, "Backend: %s\n", c.Backend)
	}
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	if err := fsutil.WriteFileSync(path, buf.Bytes()); err != nil {
		applog.WithComponent("crash").Error("failed to write crash report", slog.Any("err", err), slog.String("path", path))
		return path, err
	}
	return path, nil
}
