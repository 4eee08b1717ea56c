// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for writes from the view loop.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	cmd := newRootCommand(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommand_DemoOnce(t *testing.T) {
	for _, engine := range []string{"goja", "quickjs"} {
		t.Run(engine, func(t *testing.T) {
			out, _, err := execute(t, "--once", "--engine", engine, "--platform", "headless", "--log-level", "error")
			require.NoError(t, err)

			want := []string{
				"[console] LOG Page loaded!",
				"[go] add(5, 7) = 12",
				"[console] LOG add(5, 7) = 12",
				`[go] greet("CogBridge")`,
				"[console] LOG greet() returned: Hello, CogBridge!",
				"[go] Emitting event to the page",
				"[console] LOG EVENT: Event from Go!",
				"[console] LOG request_event() returned: Event emitted",
				"[go] Page finished",
			}
			last := -1
			for _, line := range want {
				i := strings.Index(out, line)
				require.Greater(t, i, last, "missing or out of order: %s\n%s", line, out)
				last = i
			}
		})
	}
}

func TestRootCommand_LoadsFile(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(page, []byte(`<script>
		cogbridge.add(1, 2).then(function (r) { console.warn("sum " + r); cogbridge.done(); });
	</script>`), 0o644))

	out, _, err := execute(t, "--once", page)
	require.NoError(t, err)
	require.Contains(t, out, "[console] WARN sum 3")
}

func TestRootCommand_Errors(t *testing.T) {
	_, stderr, err := execute(t, "--engine", "rhino")
	require.Error(t, err)
	require.Contains(t, stderr, `unknown engine "rhino"`)

	_, _, err = execute(t, "--platform", "amiga")
	require.Error(t, err)

	_, _, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, stderr, err = execute(t, "--ready-timeout", "100ms", filepath.Join(t.TempDir(), "missing.html"))
	require.Error(t, err)
	require.Contains(t, stderr, "page not ready")

	_, _, err = execute(t, "a", "b")
	require.Error(t, err)
}
