package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/practicesync/internal/auth"
	"github.com/mesh-intelligence/practicesync/internal/changefeed"
	"github.com/mesh-intelligence/practicesync/internal/metrics"
	"github.com/mesh-intelligence/practicesync/internal/realtime"
	"github.com/mesh-intelligence/practicesync/pkg/practicesync"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// testEnv is an isolated config and data directory pair.
type testEnv struct {
	t         *testing.T
	configDir string
	dataDir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	return &testEnv{
		t:         t,
		configDir: filepath.Join(dir, "config"),
		dataDir:   filepath.Join(dir, "data"),
	}
}

// syncBuffer is a bytes.Buffer safe for a command writing from another
// goroutine.
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

func (e *testEnv) args(args ...string) []string {
	return append([]string{"--config-dir", e.configDir, "--data-dir", e.dataDir}, args...)
}

// run executes the root command and returns its standard output.
func (e *testEnv) run(args ...string) (string, error) {
	e.t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(e.args(args...))
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.Execute()
	return out.String(), err
}

func (e *testEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, "practicesync %s", strings.Join(args, " "))
	return out
}

func (e *testEnv) init() {
	e.t.Helper()
	e.mustRun("init")
}

func (e *testEnv) config() types.Config {
	e.t.Helper()
	cfg, _, err := loadConfig(e.configDir, e.dataDir)
	require.NoError(e.t, err)
	return cfg
}

func (e *testEnv) listJSON(args ...string) []map[string]any {
	e.t.Helper()
	out := e.mustRun(append([]string{"--json", "list"}, args...)...)
	var rows []map[string]any
	require.NoError(e.t, json.Unmarshal([]byte(out), &rows), out)
	return rows
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	out := env.mustRun("version")
	assert.Contains(t, out, "practicesync v"+practicesync.Version)
	assert.Contains(t, out, modulePath)
}

func TestInitWritesConfigAndTables(t *testing.T) {
	env := newTestEnv(t)
	out := env.mustRun("init")
	assert.Contains(t, out, "practicesync initialized")

	path := filepath.Join(env.configDir, "config.yaml")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	for _, table := range types.StandardTableNames {
		_, err := os.Stat(filepath.Join(env.dataDir, table+".jsonl"))
		assert.NoError(t, err, table)
	}

	cfg := env.config()
	assert.Len(t, cfg.Auth.Secret, 64)
	assert.Equal(t, "ws://localhost:7070/realtime", cfg.Realtime.URL)
	assert.Equal(t, defaultListen, cfg.Realtime.Listen)
}

func TestInitKeepsExistingConfig(t *testing.T) {
	env := newTestEnv(t)
	env.init()
	first := env.config().Auth.Secret
	env.init()
	assert.Equal(t, first, env.config().Auth.Secret)
}

func TestTokenRequiresSecret(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run("token", "u1")
	require.ErrorIs(t, err, errNoSecret)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestTokenVerifiesAgainstConfiguredSecret(t *testing.T) {
	env := newTestEnv(t)
	env.init()
	token := strings.TrimSpace(env.mustRun("token", "u1"))

	v, err := auth.NewVerifier(env.config().Auth.Secret, nil)
	require.NoError(t, err)
	user, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", user)
}

func TestCommandsRequireSession(t *testing.T) {
	env := newTestEnv(t)
	env.init()
	_, err := env.run("list", "clients")
	require.ErrorIs(t, err, types.ErrNotAuthenticated)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestRejectedTokenIsUserError(t *testing.T) {
	env := newTestEnv(t)
	env.init()
	_, err := env.run("--token", "not-a-token", "list", "clients")
	require.ErrorIs(t, err, types.ErrNotAuthenticated)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestUnknownCollection(t *testing.T) {
	env := newTestEnv(t)
	env.init()
	_, err := env.run("--user", "u1", "list", "invoices")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown collection "invoices"`)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestClientLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.init()

	out := env.mustRun("--user", "u1", "--json", "add", "clients", `{"name":"Acme","status":"active"}`)
	var added map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &added), out)
	id, _ := added["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "u1", added["user_id"])

	rows := env.listJSON("--user", "u1", "clients")
	require.Len(t, rows, 1)
	assert.Equal(t, "Acme", rows[0]["name"])

	assert.Empty(t, env.listJSON("--user", "u2", "clients"), "other users see nothing")

	out = env.mustRun("--user", "u1", "update", "clients", id, `{"name":"Acme Corp"}`)
	assert.Equal(t, "Updated clients "+id+"\n", out)
	rows = env.listJSON("--user", "u1", "clients")
	require.Len(t, rows, 1)
	assert.Equal(t, "Acme Corp", rows[0]["name"])

	_, err := env.run("--user", "u2", "delete", "clients", id)
	require.ErrorIs(t, err, types.ErrNotFound, "rows of other users cannot be deleted")
	assert.Equal(t, exitUserError, exitCode(err))

	out = env.mustRun("--user", "u1", "delete", "clients", id)
	assert.Equal(t, "Deleted clients "+id+"\n", out)
	assert.Empty(t, env.listJSON("--user", "u1", "clients"))
}

func TestListTextOutput(t *testing.T) {
	env := newTestEnv(t)
	env.init()

	assert.Equal(t, "No clients found.\n", env.mustRun("--user", "u1", "list", "clients"))

	env.mustRun("--user", "u1", "add", "clients", `{"name":"Acme","status":"active"}`)
	out := env.mustRun("--user", "u1", "list", "clients")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3, out)
	assert.True(t, strings.HasPrefix(lines[0], "ID"), lines[0])
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "Acme")
	assert.True(t, strings.HasSuffix(lines[1], "-"), "empty email renders as a dash")
	assert.Equal(t, "Total: 1", lines[2])
}

func TestTasksNarrowedByClientID(t *testing.T) {
	env := newTestEnv(t)
	env.init()

	env.mustRun("--user", "u1", "--client-id", "c1", "add", "tasks", `{"title":"File 1040","priority":2}`)
	env.mustRun("--user", "u1", "add", "tasks", `{"title":"Call back","client_id":"c2"}`)

	rows := env.listJSON("--user", "u1", "--client-id", "c1", "tasks")
	require.Len(t, rows, 1)
	assert.Equal(t, "File 1040", rows[0]["title"])
	assert.Equal(t, "c1", rows[0]["client_id"])

	assert.Len(t, env.listJSON("--user", "u1", "tasks"), 2)
}

func TestTokenFlagActsAsTokenSubject(t *testing.T) {
	env := newTestEnv(t)
	env.init()
	token := strings.TrimSpace(env.mustRun("token", "u1"))

	env.mustRun("--token", token, "add", "clients", `{"name":"Acme"}`)
	rows := env.listJSON("--user", "u1", "clients")
	require.Len(t, rows, 1)
	assert.Equal(t, "u1", rows[0]["user_id"])
}

func TestAddRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	env.init()

	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{name: "not json", data: "{", wantErr: types.ErrInvalidData},
		{name: "not an object", data: "[1]", wantErr: types.ErrInvalidData},
		{name: "missing name", data: `{"status":"active"}`, wantErr: types.ErrInvalidName},
		{name: "unknown status", data: `{"name":"Acme","status":"gone"}`, wantErr: types.ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run("--user", "u1", "add", "clients", tt.data)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, exitUserError, exitCode(err))
		})
	}
	assert.Empty(t, env.listJSON("--user", "u1", "clients"))
}

func TestUpdateMissingRow(t *testing.T) {
	env := newTestEnv(t)
	env.init()
	_, err := env.run("--user", "u1", "update", "tasks", "missing", `{"status":"done"}`)
	require.ErrorIs(t, err, types.ErrMutationFailed)
	require.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitSuccess, exitCode(nil))
	assert.Equal(t, exitUserError, exitCode(errors.New("plain")))
	assert.Equal(t, exitSysError, exitCode(sysError(errors.New("disk"))))
	assert.Equal(t, exitSysError, mutationExit(errors.New("disk")).(*exitError).code)
}

func TestWatchPrintsUntilCancelled(t *testing.T) {
	env := newTestEnv(t)
	env.init()
	env.mustRun("--user", "u1", "add", "clients", `{"name":"Acme"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	root := NewRootCmd()
	root.SetArgs(env.args("--user", "u1", "watch", "clients"))
	root.SetOut(out)
	root.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Total: 1")
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
	assert.Contains(t, out.String(), "Acme")
}

func TestServeMux(t *testing.T) {
	ch := changefeed.NewLocalChannel()
	defer ch.Close()
	m := metrics.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(m)
	rs := realtime.NewServer(ch, func(string) (string, error) { return "u1", nil }, realtime.WithServerMetrics(m))
	defer rs.Close()

	srv := httptest.NewServer(newServeMux(rs, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok 0\n", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "practicesync_realtime_sessions 0")
}
