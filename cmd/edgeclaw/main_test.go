package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func captureRun(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return run(args) })
}

// writeTestConfig writes a config whose state and plugin paths live under a temp dir.
func writeTestConfig(t *testing.T) (configPath, pluginDir string) {
	t.Helper()
	root := t.TempDir()
	pluginDir = filepath.Join(root, "plugins")
	configPath = filepath.Join(root, "config.yaml")
	body := fmt.Sprintf(`
service:
  log_level: error
  pid_file: %s
api:
  port: 18080
  api_key: super-secret
inference:
  mode: mock
plugins:
  dir: %s
state:
  path: %s
  key_path: %s
`, filepath.Join(root, "edgeclaw.pid"), pluginDir,
		filepath.Join(root, "memory.db"), filepath.Join(root, "device.key"))
	if err := os.WriteFile(configPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return configPath, pluginDir
}

// installPlugin writes an executable and its manifest into dir.
func installPlugin(t *testing.T, dir, name string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	exe := filepath.Join(dir, name)
	script := "#!/bin/sh\necho '{\"success\":true,\"data\":{}}'\n"
	if err := os.WriteFile(exe, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := fmt.Sprintf(`{"name":%q,"version":"1.0.0","description":"test plugin","commands":[%q],"default_action":"run"}`,
		name, strings.TrimPrefix(name, "plugin-"))
	if err := os.WriteFile(filepath.Join(dir, name+".json"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	return exe
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	code, _, stderr := captureRun(t)
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Usage:") {
		t.Fatalf("stderr missing usage: %s", stderr)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, stderr := captureRun(t, "frobnicate")
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestRunVersion(t *testing.T) {
	code, stdout, _ := captureRun(t, "version")
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if !strings.Contains(stdout, "edgeclaw version "+version) {
		t.Fatalf("stdout = %s", stdout)
	}
}

func TestNounHelp(t *testing.T) {
	code, stdout, _ := captureRun(t, "plugin", "help")
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	for _, want := range []string{"list", "sign", "verify"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("plugin help missing %q: %s", want, stdout)
		}
	}

	code, _, stderr := captureRun(t, "plugin", "explode")
	if code != 1 || !strings.Contains(stderr, "Unknown plugin action: explode") {
		t.Fatalf("code = %d, stderr = %s", code, stderr)
	}
}

func TestKeyShowIsStable(t *testing.T) {
	configPath, _ := writeTestConfig(t)

	code, first, stderr := captureRun(t, "key", "show", "--config", configPath)
	if code != 0 {
		t.Fatalf("key show failed: %s", stderr)
	}
	first = strings.TrimSpace(first)
	if len(first) != 64 {
		t.Fatalf("device id = %q, want 64 hex chars", first)
	}

	_, second, _ := captureRun(t, "key", "show", "--config", configPath)
	if strings.TrimSpace(second) != first {
		t.Fatalf("device id changed between runs: %s vs %s", first, second)
	}
}

func TestPluginSignThenVerify(t *testing.T) {
	configPath, pluginDir := writeTestConfig(t)
	exe := installPlugin(t, pluginDir, "plugin-echo")

	code, _, stderr := captureRun(t, "plugin", "verify", "--config", configPath)
	if code != 1 {
		t.Fatalf("verify of unsigned plugin: code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "1 plugin(s) failed verification") {
		t.Fatalf("stderr = %s", stderr)
	}

	// Flags after the positional argument are accepted.
	code, stdout, stderr := captureRun(t, "plugin", "sign", exe, "--config", configPath)
	if code != 0 {
		t.Fatalf("sign failed: %s", stderr)
	}
	if !strings.Contains(stdout, "Signed "+exe) {
		t.Fatalf("stdout = %s", stdout)
	}
	if _, err := os.Stat(exe + ".sig"); err != nil {
		t.Fatalf("signature not written: %v", err)
	}

	code, stdout, stderr = captureRun(t, "plugin", "verify", "--config", configPath)
	if code != 0 {
		t.Fatalf("verify after signing: code = %d, stderr = %s", code, stderr)
	}
	if !strings.Contains(stdout, "plugin-echo") || !strings.Contains(stdout, "verified") {
		t.Fatalf("stdout = %s", stdout)
	}
}

func TestPluginListJSON(t *testing.T) {
	configPath, pluginDir := writeTestConfig(t)
	exe := installPlugin(t, pluginDir, "plugin-echo")
	installPlugin(t, pluginDir, "plugin-unsigned")

	if code, _, stderr := captureRun(t, "plugin", "sign", "--config", configPath, exe); code != 0 {
		t.Fatalf("sign failed: %s", stderr)
	}

	code, stdout, stderr := captureRun(t, "plugin", "list", "--config", configPath, "--json")
	if code != 0 {
		t.Fatalf("list failed: %s", stderr)
	}

	var report pluginReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if len(report.Commands) != 1 || report.Commands[0].Command != "echo" {
		t.Fatalf("commands = %+v", report.Commands)
	}
	if len(report.Exclusions) != 1 || report.Exclusions[0].Plugin != "plugin-unsigned" {
		t.Fatalf("exclusions = %+v", report.Exclusions)
	}
	if report.Exclusions[0].Reason != "SignatureMissing" {
		t.Fatalf("reason = %s", report.Exclusions[0].Reason)
	}
}

func TestPluginSignRequiresExecutable(t *testing.T) {
	code, _, stderr := captureRun(t, "plugin", "sign")
	if code != 1 || !strings.Contains(stderr, "Usage: edgeclaw plugin sign") {
		t.Fatalf("code = %d, stderr = %s", code, stderr)
	}
}

func TestConfigCheckJSON(t *testing.T) {
	configPath, _ := writeTestConfig(t)

	code, stdout, stderr := captureRun(t, "config", "check", "--config", configPath, "--json")
	if code != 0 {
		t.Fatalf("check failed: %s", stderr)
	}
	var out struct {
		Valid  bool   `json:"valid"`
		Source string `json:"source"`
		Digest string `json:"digest"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !out.Valid || out.Source != configPath || len(out.Digest) != 64 {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestConfigCheckInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("api:\n  port: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	code, _, stderr := captureRun(t, "config", "check", "--config", configPath)
	if code != 1 || !strings.Contains(stderr, "api.port out of range") {
		t.Fatalf("code = %d, stderr = %s", code, stderr)
	}
}

func TestConfigGet(t *testing.T) {
	configPath, pluginDir := writeTestConfig(t)

	code, stdout, stderr := captureRun(t, "config", "get", "plugins.dir", "--config", configPath)
	if code != 0 {
		t.Fatalf("get failed: %s", stderr)
	}
	if strings.TrimSpace(stdout) != pluginDir {
		t.Fatalf("plugins.dir = %q, want %q", stdout, pluginDir)
	}

	code, stdout, _ = captureRun(t, "config", "get", "api.api_key", "--config", configPath)
	if code != 0 {
		t.Fatalf("code = %d", code)
	}
	if strings.Contains(stdout, "super-secret") {
		t.Fatalf("api key leaked: %s", stdout)
	}

	code, _, stderr = captureRun(t, "config", "get", "api.nope", "--config", configPath)
	if code != 1 || stderr == "" {
		t.Fatalf("missing path should fail, code = %d", code)
	}
}

func TestParseInterspersed(t *testing.T) {
	fs := flag.NewFlagSet("t", flag.ContinueOnError)
	cfg := fs.String("config", "", "")
	asJSON := fs.Bool("json", false, "")

	positional, err := parseInterspersed(fs, []string{"a", "--config", "x.yaml", "b", "--json"})
	if err != nil {
		t.Fatal(err)
	}
	if *cfg != "x.yaml" || !*asJSON {
		t.Fatalf("flags not parsed: config=%q json=%t", *cfg, *asJSON)
	}
	if strings.Join(positional, ",") != "a,b" {
		t.Fatalf("positional = %v", positional)
	}
}

func TestSystemDoctorMockMode(t *testing.T) {
	configPath, pluginDir := writeTestConfig(t)
	exe := installPlugin(t, pluginDir, "plugin-echo")
	if code, _, stderr := captureRun(t, "plugin", "sign", exe, "--config", configPath); code != 0 {
		t.Fatalf("sign failed: %s", stderr)
	}

	code, stdout, stderr := captureRun(t, "system", "doctor", "--config", configPath)
	if code != 0 {
		t.Fatalf("doctor code = %d, stdout = %s, stderr = %s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "mock mode") {
		t.Fatalf("expected mock mode warning, got: %s", stdout)
	}
}
