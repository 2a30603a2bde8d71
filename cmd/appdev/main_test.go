package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// scaffold writes an app with a single UI extension whose build command
// produces its bundle.
func scaffold(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write(t, filepath.Join(dir, "app.toml"), `
client_id = "client-123"

[access_scopes]
scopes = "read_products"
`)
	write(t, filepath.Join(dir, "extensions", "banner", "extension.toml"), `
name = "Banner"
type = "ui_extension"
handle = "banner"

[build]
command = "mkdir -p dist && printf 'bundle' > dist/banner.js"

[[extension_points]]
target = "purchase.checkout.block.render"
module = "./src/index.js"
`)
	write(t, filepath.Join(dir, "extensions", "banner", "src", "index.js"), "export default 1;\n")
	return dir
}

// isolate points every stateful setting at the test's temp directory.
func isolate(t *testing.T) string {
	t.Helper()
	state := t.TempDir()
	t.Setenv("APPDEV_CACHE_DSN", filepath.Join(state, "cache.db"))
	t.Setenv("APPDEV_TOOLCHAIN_DIR", filepath.Join(state, "toolchain"))
	t.Setenv("APPDEV_TELEMETRY", "false")
	t.Setenv("LOG_LEVEL", "ERROR")
	return state
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"appdev"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	code, _, stderr := run()
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "USAGE")

	code, stdout, _ := run("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "validate")

	code, _, stderr = run("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")

	code, stdout, _ = run("version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "appdev ")

	code, _, _ = run("cache")
	assert.Equal(t, 2, code)
}

func TestValidateCmd(t *testing.T) {
	isolate(t)
	dir := scaffold(t)

	code, stdout, _ := run("validate", "--path", dir)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "is valid")

	require.NoError(t, os.Remove(filepath.Join(dir, "extensions", "banner", "src", "index.js")))
	code, stdout, _ = run("validate", "--path", dir, "--json")
	assert.Equal(t, 1, code)

	var report validateReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[0], "src/index.js")
}

// Invariant: a directory that cannot be loaded is a configuration error.
func TestValidateCmdMissingConfig(t *testing.T) {
	isolate(t)
	code, stdout, _ := run("validate", "--path", t.TempDir(), "--json")
	assert.Equal(t, 2, code)
	assert.Contains(t, stdout, `"valid": false`)
}

func TestInfoCmd(t *testing.T) {
	isolate(t)
	dir := scaffold(t)

	code, stdout, _ := run("info", "--path", dir, "--json")
	require.Equal(t, 0, code)

	var info appInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, "client-123", info.ClientID)
	assert.Equal(t, []string{"read_products"}, info.Scopes)
	require.Len(t, info.Extensions, 1)
	assert.Equal(t, "banner", info.Extensions[0].Handle)
	assert.True(t, info.Extensions[0].Draftable)

	code, stdout, _ = run("info", "--path", dir)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "EXTENSIONS")
	assert.Contains(t, stdout, "banner")
}

func TestCacheCmd(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	code, stdout, _ := run("cache", "show", "--path", dir)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Nothing cached")

	code, _, _ = run("cache", "use-config", "--path", dir, "--config", "staging")
	require.Equal(t, 0, code)
	code, stdout, _ = run("cache", "show", "--path", dir)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, `"configFile": "app.staging.toml"`)

	code, _, _ = run("cache", "use-config", "--path", dir)
	require.Equal(t, 0, code)
	_, stdout, _ = run("cache", "show", "--path", dir)
	assert.NotContains(t, stdout, "app.staging.toml")

	code, _, _ = run("cache", "clear", "--path", dir)
	require.Equal(t, 0, code)
	_, stdout, _ = run("cache", "show", "--path", dir)
	assert.Contains(t, stdout, "Nothing cached")

	code, _, stderr := run("cache", "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Unknown cache subcommand")
}

func TestDevCmdRequiresProxyURL(t *testing.T) {
	isolate(t)
	code, _, stderr := run("dev", "--path", scaffold(t))
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "--proxy-url is required")
}

func TestDevCmdWithoutDraftableExtensions(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	write(t, filepath.Join(dir, "app.toml"), "client_id = \"client-123\"\n")

	code, stdout, stderr := run("dev", "--path", dir, "--proxy-url", "https://proxy.test", "--no-dev-server")
	assert.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "No draftable extensions")
}

// fakePlatform serves the GraphQL endpoint and toolchain downloads.
type fakePlatform struct {
	mu       sync.Mutex
	drafts   int
	sessions int
	pushed   chan struct{}
	once     sync.Once
}

func (f *fakePlatform) draftCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drafts
}

func (f *fakePlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/toolchain/") {
		_, _ = io.WriteString(w, "#!/bin/sh\n")
		return
	}
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.Contains(req.Query, "ExtensionRegistrations"):
		_, _ = io.WriteString(w, `{"data":{"app":{"id":"gid://app/1","title":"demo","extensionRegistrations":[]}}}`)
	case strings.Contains(req.Query, "ExtensionCreate"):
		_, _ = io.WriteString(w, `{"data":{"extensionCreate":{"extensionRegistration":{"id":"reg-1","uuid":"uuid-1","title":"banner","type":"UI_EXTENSION"},"userErrors":[]}}}`)
	case strings.Contains(req.Query, "DevSessionCreate"):
		f.mu.Lock()
		f.sessions++
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"data":{"devSessionCreate":{"app":{"apiKey":"client-123","title":"demo","id":"gid://app/1"},"userErrors":[]}}}`)
	case strings.Contains(req.Query, "ExtensionDraftUpdate"):
		f.mu.Lock()
		f.drafts++
		f.mu.Unlock()
		f.once.Do(func() { close(f.pushed) })
		_, _ = io.WriteString(w, `{"data":{"extensionDraftUpdate":{"userErrors":[]}}}`)
	default:
		http.Error(w, "unexpected query", http.StatusBadRequest)
	}
}

func TestDevCmdEndToEnd(t *testing.T) {
	isolate(t)
	dir := scaffold(t)

	platform := &fakePlatform{pushed: make(chan struct{})}
	srv := httptest.NewServer(platform)
	defer srv.Close()
	t.Setenv("APPDEV_API_URL", srv.URL+"/graphql")
	t.Setenv("APPDEV_TOOLCHAIN_URL", srv.URL+"/toolchain")
	t.Setenv("APPDEV_TOKEN", "token")
	t.Setenv("APPDEV_POLL_INTERVAL", "10ms")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orig := devContext
	devContext = func() (context.Context, context.CancelFunc) { return ctx, cancel }
	t.Cleanup(func() { devContext = orig })

	var stdout, stderr lockedBuffer
	go func() {
		select {
		case <-platform.pushed:
		case <-time.After(10 * time.Second):
			cancel()
			return
		}
		deadline := time.Now().Add(10 * time.Second)
		for !strings.Contains(stdout.String(), "watching") && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	code := Run([]string{"appdev", "dev", "--path", dir, "--proxy-url", "https://proxy.test", "--no-dev-server", "--pin-ids"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "banner draft pushed")
	assert.Contains(t, stdout.String(), "dev session stopped")
	assert.Equal(t, 1, platform.draftCount())
	platform.mu.Lock()
	assert.Equal(t, 1, platform.sessions)
	platform.mu.Unlock()

	built, err := os.ReadFile(filepath.Join(dir, "extensions", "banner", "dist", "banner.js"))
	require.NoError(t, err)
	assert.Equal(t, "bundle", string(built))

	dotenv, err := os.ReadFile(filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.Contains(t, string(dotenv), "APPDEV_BANNER_ID")

	_, cached, _ := run("cache", "show", "--path", dir)
	assert.Contains(t, cached, `"appId": "client-123"`)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
