package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/edgeclaw/internal/config"
	"github.com/mattjoyce/edgeclaw/internal/health"
	"github.com/mattjoyce/edgeclaw/internal/plugin"
	"github.com/mattjoyce/edgeclaw/internal/signing"
)

// deployment lays out a working install under a temp dir and returns its config.
func deployment(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()

	pluginDir := filepath.Join(root, "plugins")
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		t.Fatal(err)
	}
	modelPath := filepath.Join(root, "tiny.gguf")
	if err := os.WriteFile(modelPath, []byte("GGUF"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	cfg.Service.PIDFile = filepath.Join(root, "edgeclaw.pid")
	cfg.API.APIKey = "a-long-enough-admin-key"
	cfg.API.CORSOrigins = []string{"http://localhost:3000"}
	cfg.Inference.Mode = config.ModeLlama
	cfg.Inference.ModelPath = modelPath
	cfg.Plugins.Dir = pluginDir
	cfg.State.Path = filepath.Join(root, "memory.db")
	cfg.State.KeyPath = filepath.Join(root, "device.key")
	return cfg
}

// scanWith installs the named plugins signed by the device key, then scans the plugin dir.
func scanWith(t *testing.T, cfg *config.Config, signed ...string) *plugin.Snapshot {
	t.Helper()
	id, err := signing.LoadOrGenerateIdentity(cfg.State.KeyPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range signed {
		exe := filepath.Join(cfg.Plugins.Dir, name)
		if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
		manifest := `{"name":"` + name + `","commands":["` + name + `"],"default_action":"run"}`
		if err := os.WriteFile(exe+".json", []byte(manifest), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := id.SignFile(exe, exe+".sig"); err != nil {
			t.Fatal(err)
		}
	}
	snap, err := plugin.Load(plugin.Options{Dir: cfg.Plugins.Dir, TrustedKey: id.PublicKey()})
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func newDoctor(cfg *config.Config, snap *plugin.Snapshot, host *health.Host, llamaFound bool) *Doctor {
	d := New(cfg, snap, host)
	d.lookPath = func(name string) (string, error) {
		if llamaFound {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	}
	return d
}

func TestValidate_HealthyDeployment(t *testing.T) {
	t.Parallel()
	cfg := deployment(t)
	snap := scanWith(t, cfg, "echo")

	r := newDoctor(cfg, snap, &health.Host{MemAvailableBytes: 1 << 30}, true).Validate()
	if !r.Valid || len(r.Warnings) != 0 {
		t.Fatalf("expected clean result, got errors=%v warnings=%v", r.Errors, r.Warnings)
	}
	if !strings.Contains(FormatHuman(r), "healthy") {
		t.Fatalf("unexpected report: %s", FormatHuman(r))
	}
}

func TestValidate_LlamaModeMissingModelIsError(t *testing.T) {
	t.Parallel()
	cfg := deployment(t)
	cfg.Inference.ModelPath = filepath.Join(t.TempDir(), "absent.gguf")

	r := newDoctor(cfg, scanWith(t, cfg, "echo"), nil, false).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "model", "model not found")
	assertHasError(t, r, "model", "llama binary")
}

func TestValidate_AutoModeMissingModelWarns(t *testing.T) {
	t.Parallel()
	cfg := deployment(t)
	cfg.Inference.Mode = config.ModeAuto
	cfg.Inference.ModelPath = filepath.Join(t.TempDir(), "absent.gguf")

	r := newDoctor(cfg, scanWith(t, cfg, "echo"), nil, true).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "model", "fall back to mock")
}

func TestValidate_MockModeWarns(t *testing.T) {
	t.Parallel()
	cfg := deployment(t)
	cfg.Inference.Mode = config.ModeMock

	r := newDoctor(cfg, scanWith(t, cfg, "echo"), nil, false).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "model", "mock mode")
}

func TestValidate_ExcludedPluginWarns(t *testing.T) {
	t.Parallel()
	cfg := deployment(t)
	scanWith(t, cfg, "echo")

	exe := filepath.Join(cfg.Plugins.Dir, "rogue")
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(exe+".json", []byte(`{"name":"rogue","commands":["rogue"],"default_action":"run"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	r := newDoctor(cfg, scanWith(t, cfg), nil, true).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "plugins", `"rogue" excluded: SignatureMissing`)
}

func TestValidate_NoRoutableCommandsWarns(t *testing.T) {
	t.Parallel()
	cfg := deployment(t)

	r := newDoctor(cfg, scanWith(t, cfg), nil, true).Validate()
	assertHasWarning(t, r, "plugins", "no routable commands")
}

func TestValidate_WorldWritablePluginDir(t *testing.T) {
	t.Parallel()
	cfg := deployment(t)
	if err := os.Chmod(cfg.Plugins.Dir, 0o777); err != nil {
		t.Fatal(err)
	}

	r := newDoctor(cfg, nil, nil, true).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "plugins", "world-writable")
}

func TestValidate_MissingPluginDir(t *testing.T) {
	t.Parallel()
	cfg := deployment(t)
	cfg.Plugins.Dir = filepath.Join(t.TempDir(), "nope")

	r := newDoctor(cfg, nil, nil, true).Validate()
	assertHasError(t, r, "plugins", "not accessible")
}

func TestValidate_UnreadableTrustedKey(t *testing.T) {
	t.Parallel()
	cfg := deployment(t)
	cfg.Plugins.TrustedKeyPath = filepath.Join(t.TempDir(), "missing.pub")

	r := newDoctor(cfg, scanWith(t, cfg, "echo"), nil, true).Validate()
	assertHasError(t, r, "signing", "every plugin would be excluded")
}

func TestValidate_StateDirMissing(t *testing.T) {
	t.Parallel()
	cfg := deployment(t)
	snap := scanWith(t, cfg, "echo")
	cfg.State.Path = filepath.Join(t.TempDir(), "missing", "memory.db")

	r := newDoctor(cfg, snap, nil, true).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "state", "does not exist")
}

func TestValidate_APIAuthWarnings(t *testing.T) {
	t.Parallel()
	cfg := deployment(t)
	snap := scanWith(t, cfg, "echo")

	cfg.API.APIKey = ""
	r := newDoctor(cfg, snap, nil, true).Validate()
	assertHasWarning(t, r, "api", "admin routes are disabled")

	cfg.API.APIKey = "short"
	cfg.API.CORSOrigins = []string{"*"}
	r = newDoctor(cfg, snap, nil, true).Validate()
	assertHasWarning(t, r, "api", "shorter than 16")
	assertHasWarning(t, r, "api", "any origin")
}

func TestValidate_UnresolvedEnvVar(t *testing.T) {
	t.Parallel()
	cfg := deployment(t)
	cfg.API.APIKey = "${EDGECLAW_DOCTOR_UNSET_KEY}"

	r := newDoctor(cfg, scanWith(t, cfg, "echo"), nil, true).Validate()
	assertHasWarning(t, r, "env_vars", "${EDGECLAW_DOCTOR_UNSET_KEY}")
}

func TestValidate_ModelLargerThanFreeMemory(t *testing.T) {
	t.Parallel()
	cfg := deployment(t)

	r := newDoctor(cfg, scanWith(t, cfg, "echo"), &health.Host{MemAvailableBytes: 1}, true).Validate()
	assertHasWarning(t, r, "host", "memory is available")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "test", Message: "iffy"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR [test] x.y: broken") || !strings.Contains(out, "WARN  [test] iffy") {
		t.Fatalf("expected error and warning in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
