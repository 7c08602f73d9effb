package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/edgeclaw/internal/api"
	"github.com/mattjoyce/edgeclaw/internal/chat"
	"github.com/mattjoyce/edgeclaw/internal/events"
	"github.com/mattjoyce/edgeclaw/internal/health"
	"github.com/mattjoyce/edgeclaw/internal/inference"
	"github.com/mattjoyce/edgeclaw/internal/log"
	"github.com/mattjoyce/edgeclaw/internal/metrics"
	"github.com/mattjoyce/edgeclaw/internal/plugin"
	"github.com/mattjoyce/edgeclaw/internal/sandbox"
	"github.com/mattjoyce/edgeclaw/internal/signing"
	"github.com/mattjoyce/edgeclaw/internal/state"
	"github.com/mattjoyce/edgeclaw/internal/storage"
)

const adminKey = "e2e-admin"

type stack struct {
	url      string
	store    *state.Store
	registry *plugin.Registry
	identity *signing.Identity
	dir      string
}

// writePlugin installs a shell plugin with its manifest. It is signed when id is non-nil.
func writePlugin(t *testing.T, dir, name, command, script string, id *signing.Identity) {
	t.Helper()
	exe := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"+script), 0o755))
	manifest := map[string]any{
		"name":              name,
		"version":           "1.0.0",
		"description":       name + " plugin",
		"commands":          []string{command},
		"default_action":    "run",
		"payload_from_args": true,
	}
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), data, 0o644))
	if id != nil {
		require.NoError(t, id.SignFile(exe, exe+".sig"))
	}
}

func newStack(t *testing.T, install func(dir string, id *signing.Identity)) *stack {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell plugins require a POSIX shell")
	}
	root := t.TempDir()
	dir := filepath.Join(root, "plugins")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	id, err := signing.LoadOrGenerateIdentity(filepath.Join(root, "device.key"))
	require.NoError(t, err)
	if install != nil {
		install(dir, id)
	}

	reg := plugin.NewRegistry(plugin.Options{Dir: dir, TrustedKey: id.PublicKey(), Logger: log.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	db, err := storage.OpenSQLite(ctx, filepath.Join(root, "memory.db"))
	require.NoError(t, err)
	store := state.NewStore(db)
	history := state.NewHistoryCache(store, time.Minute)

	worker, err := inference.NewWorker(inference.WorkerConfig{QueueCapacity: 4, Timeout: 5 * time.Second, Logger: log.Discard()},
		func() (inference.Engine, error) { return inference.NewMockEngine("mock.gguf"), nil })
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	m := metrics.New()
	m.RegisterQueue(worker.QueueDepth, worker.QueueCapacity)
	hub := events.NewHub(64)
	runner := sandbox.NewRunner(sandbox.Config{Timeout: 500 * time.Millisecond, KillGrace: 100 * time.Millisecond, Logger: log.Discard()})

	svc := chat.NewService(chat.Deps{
		Router:       reg,
		Invoker:      runner,
		Inferer:      worker,
		History:      history,
		Auditor:      store,
		Events:       hub,
		Metrics:      m,
		Logger:       log.Discard(),
		HistoryTurns: 4,
	})
	srv := api.New(api.Config{APIKey: adminKey, MaxBodyBytes: 1 << 20, Version: "test", DeviceID: id.PublicKeyHex()},
		api.Deps{
			Chat:      svc,
			Registry:  reg,
			Inference: worker,
			Store:     store,
			Host:      health.NewProbe(),
			Auditor:   store,
			Events:    hub,
			Metrics:   m,
		}, log.Discard())
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
		history.Close()
		_ = db.Close()
	})
	return &stack{url: ts.URL, store: store, registry: reg, identity: id, dir: dir}
}

func (s *stack) chat(t *testing.T, text, sessionID string) chat.Completion {
	t.Helper()
	body, err := json.Marshal(chat.Request{Messages: []chat.Message{{Role: "user", Content: text}}, SessionID: sessionID})
	require.NoError(t, err)
	resp, err := http.Post(s.url+"/v1/chat/completions", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out chat.Completion
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Choices, 1)
	return out
}

func (s *stack) auditTypes(t *testing.T) []string {
	t.Helper()
	entries, err := s.store.RecentAudit(context.Background(), 50)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.EventType)
	}
	return out
}

const echoScript = `cat >/dev/null
echo '{"success":true,"result":{"echo":"hello from the sandbox"},"error":null}'
`

func TestSignedPluginRoutesThroughSandbox(t *testing.T) {
	s := newStack(t, func(dir string, id *signing.Identity) {
		writePlugin(t, dir, "echo", "echo", echoScript, id)
	})

	out := s.chat(t, "/echo hi", "")
	assert.Contains(t, out.Choices[0].Message.Content, "hello from the sandbox")
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
	assert.Contains(t, s.auditTypes(t), "plugin.invoked")
}

func TestUnsignedPluginIsNeverRouted(t *testing.T) {
	s := newStack(t, func(dir string, id *signing.Identity) {
		writePlugin(t, dir, "echo", "echo", echoScript, nil)
	})

	out := s.chat(t, "/echo hi", "")
	assert.Equal(t, chat.UnknownCommandText("echo"), out.Choices[0].Message.Content)

	snap := s.registry.Snapshot()
	require.Len(t, snap.Exclusions, 1)
	assert.Equal(t, plugin.ReasonSignatureMissing, snap.Exclusions[0].Reason)
}

func TestTamperedPluginIsExcludedAfterReload(t *testing.T) {
	s := newStack(t, func(dir string, id *signing.Identity) {
		writePlugin(t, dir, "echo", "echo", echoScript, id)
	})
	assert.Contains(t, s.chat(t, "/echo hi", "").Choices[0].Message.Content, "hello from the sandbox")

	exe := filepath.Join(s.dir, "echo")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\necho pwned\n"), 0o755))

	req, err := http.NewRequest(http.MethodPost, s.url+"/v1/plugins/reload", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, chat.UnknownCommandText("echo"), s.chat(t, "/echo hi", "").Choices[0].Message.Content)
	assert.Equal(t, plugin.ReasonSignatureInvalid, s.registry.Snapshot().Exclusions[0].Reason)
}

func TestHungPluginTimesOut(t *testing.T) {
	s := newStack(t, func(dir string, id *signing.Identity) {
		writePlugin(t, dir, "sleepy", "sleep", "sleep 30\n", id)
	})

	start := time.Now()
	out := s.chat(t, "/sleep", "")
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, "⚠️ Plugin failed: timed out", out.Choices[0].Message.Content)
	assert.Contains(t, s.auditTypes(t), "plugin.failed")
}

func TestMalformedPluginOutput(t *testing.T) {
	s := newStack(t, func(dir string, id *signing.Identity) {
		writePlugin(t, dir, "chatty", "chatty", "echo 'not json'\n", id)
	})

	out := s.chat(t, "/chatty", "")
	assert.Equal(t, "⚠️ Plugin failed: returned malformed output", out.Choices[0].Message.Content)
}

func TestInferencePersistsSessionHistory(t *testing.T) {
	s := newStack(t, nil)

	first := s.chat(t, "hello there", "sess-1")
	assert.Equal(t, "sess-1", first.SessionID)
	assert.Equal(t, "mock.gguf", first.Model)
	assert.True(t, strings.HasPrefix(first.Choices[0].Message.Content, "[MOCK]"))

	s.chat(t, "and again", "sess-1")

	turns, err := s.store.History(context.Background(), "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "hello there", turns[0].UserMsg)
	assert.Equal(t, "and again", turns[1].UserMsg)
}

func TestHelpListsOnlyVerifiedCommands(t *testing.T) {
	s := newStack(t, func(dir string, id *signing.Identity) {
		writePlugin(t, dir, "echo", "echo", echoScript, id)
		writePlugin(t, dir, "rogue", "rogue", echoScript, nil)
	})

	help := s.chat(t, "/help", "").Choices[0].Message.Content
	assert.Contains(t, help, "/echo")
	assert.NotContains(t, help, "/rogue")
}

// TestBundledEchoPlugin builds plugins/echo and drives it through the signed sandbox path.
func TestBundledEchoPlugin(t *testing.T) {
	if testing.Short() {
		t.Skip("builds a plugin binary")
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not on PATH")
	}
	root := repoRoot(t)

	s := newStack(t, func(dir string, id *signing.Identity) {
		exe := filepath.Join(dir, "echo")
		cmd := exec.Command(goBin, "build", "-o", exe, "./plugins/echo")
		cmd.Dir = root
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))

		manifest, err := os.ReadFile(filepath.Join(root, "plugins", "echo", "echo.json"))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "echo.json"), manifest, 0o644))
		require.NoError(t, id.SignFile(exe, exe+".sig"))
	})

	out := s.chat(t, "/say edge of the world", "")
	assert.Contains(t, out.Choices[0].Message.Content, "edge of the world")
}

func repoRoot(t *testing.T) string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// internal/e2e -> internal -> repo root
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
