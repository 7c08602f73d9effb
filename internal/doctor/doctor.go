// Package doctor checks that an edgeclaw deployment can actually serve: the model is
// loadable, plugins verify, and state paths are usable.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattjoyce/edgeclaw/internal/config"
	"github.com/mattjoyce/edgeclaw/internal/health"
	"github.com/mattjoyce/edgeclaw/internal/plugin"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded config against the plugins and host it would run with.
type Doctor struct {
	cfg  *config.Config
	snap *plugin.Snapshot
	host *health.Host

	lookPath func(string) (string, error)
}

// New creates a Doctor. snap is nil when the plugin directory could not be scanned;
// host is nil when the host could not be sampled.
func New(cfg *config.Config, snap *plugin.Snapshot, host *health.Host) *Doctor {
	return &Doctor{cfg: cfg, snap: snap, host: host, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateModel(r)
	d.validatePluginDir(r)
	d.validatePlugins(r)
	d.validateTrustedKey(r)
	d.validateStatePaths(r)
	d.warnAPIAuth(r)
	d.warnMissingEnvVars(r)
	d.warnMemory(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateModel checks the engine the worker would open. Missing pieces are errors in
// llama mode and fall-back warnings in auto mode.
func (d *Doctor) validateModel(r *Result) {
	inf := d.cfg.Inference
	if inf.Mode == config.ModeMock {
		d.addWarning(r, "model", "inference.mode", "mock mode: replies are canned, no model is loaded")
		return
	}

	report := d.addWarning
	suffix := "; inference will fall back to mock"
	if inf.Mode == config.ModeLlama {
		report = d.addError
		suffix = ""
	}

	info, err := os.Stat(inf.ModelPath)
	switch {
	case err != nil:
		report(r, "model", "inference.model_path", fmt.Sprintf("model not found at %s%s", inf.ModelPath, suffix))
	case info.IsDir():
		report(r, "model", "inference.model_path", fmt.Sprintf("model path %s is a directory%s", inf.ModelPath, suffix))
	case !strings.HasSuffix(strings.ToLower(inf.ModelPath), ".gguf"):
		d.addWarning(r, "model", "inference.model_path", fmt.Sprintf("model %s does not have a .gguf extension", filepath.Base(inf.ModelPath)))
	}

	if _, err := d.lookPath(inf.LlamaCLI); err != nil {
		report(r, "model", "inference.llama_cli", fmt.Sprintf("llama binary %q not found%s", inf.LlamaCLI, suffix))
	}
}

// validatePluginDir checks the directory the registry scans.
func (d *Doctor) validatePluginDir(r *Result) {
	dir := d.cfg.Plugins.Dir
	info, err := os.Stat(dir)
	if err != nil {
		d.addError(r, "plugins", "plugins.dir", fmt.Sprintf("plugin directory %s is not accessible: %v", dir, err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "plugins", "plugins.dir", fmt.Sprintf("%s is not a directory", dir))
		return
	}
	if info.Mode().Perm()&0o002 != 0 {
		d.addError(r, "plugins", "plugins.dir", fmt.Sprintf("plugin directory %s is world-writable; no plugin in it will load", dir))
	}
}

// validatePlugins reports exclusions and collisions from the scan. An excluded plugin
// never blocks startup, so these are warnings.
func (d *Doctor) validatePlugins(r *Result) {
	if d.snap == nil {
		return
	}
	for _, e := range d.snap.Exclusions {
		name := e.Plugin
		if name == "" {
			name = filepath.Base(e.Path)
		}
		msg := fmt.Sprintf("plugin %q excluded: %s", name, e.Reason)
		if e.Detail != "" {
			msg += " (" + e.Detail + ")"
		}
		d.addWarning(r, "plugins", "", msg)
	}
	for _, c := range d.snap.Collisions {
		if c.Winner == "" {
			d.addWarning(r, "plugins", "plugins.collisions",
				fmt.Sprintf("command /%s claimed by %s; dropped under reject policy", c.Command, strings.Join(c.Claimants, ", ")))
			continue
		}
		d.addWarning(r, "plugins", "plugins.collisions",
			fmt.Sprintf("command /%s claimed by %s; routed to %s", c.Command, strings.Join(c.Claimants, ", "), c.Winner))
	}
	if d.snap.Table.Len() == 0 {
		d.addWarning(r, "plugins", "", "no routable commands; only /help and inference will work")
	}
}

func (d *Doctor) validateTrustedKey(r *Result) {
	path := d.cfg.Plugins.TrustedKeyPath
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		d.addError(r, "signing", "plugins.trusted_key_path",
			fmt.Sprintf("trusted key %s is not readable; every plugin would be excluded", path))
	}
}

// validateStatePaths checks that the database, key, and pid file can be created.
func (d *Doctor) validateStatePaths(r *Result) {
	paths := []struct{ field, path string }{
		{"state.path", d.cfg.State.Path},
		{"state.key_path", d.cfg.State.KeyPath},
		{"service.pid_file", d.cfg.Service.PIDFile},
	}
	for _, p := range paths {
		dir := filepath.Dir(p.path)
		info, err := os.Stat(dir)
		if err != nil {
			d.addError(r, "state", p.field, fmt.Sprintf("directory %s does not exist", dir))
			continue
		}
		if !info.IsDir() {
			d.addError(r, "state", p.field, fmt.Sprintf("%s is not a directory", dir))
			continue
		}
		probe, err := os.CreateTemp(dir, ".edgeclaw-doctor-*")
		if err != nil {
			d.addError(r, "state", p.field, fmt.Sprintf("directory %s is not writable: %v", dir, err))
			continue
		}
		_ = probe.Close()
		_ = os.Remove(probe.Name())
	}
}

func (d *Doctor) warnAPIAuth(r *Result) {
	if d.cfg.API.APIKey == "" {
		d.addWarning(r, "api", "api.api_key", "no api_key: admin routes are disabled and chat is unauthenticated")
		return
	}
	if len(d.cfg.API.APIKey) < 16 {
		d.addWarning(r, "api", "api.api_key", "api_key is shorter than 16 characters")
	}
	for _, origin := range d.cfg.API.CORSOrigins {
		if origin == "*" {
			d.addWarning(r, "api", "api.cors_origins", "CORS allows any origin while an api_key is set")
			break
		}
	}
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// warnMissingEnvVars flags ${VAR} references that survived interpolation.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	fields := map[string]string{
		"api.api_key":              d.cfg.API.APIKey,
		"inference.model_path":     d.cfg.Inference.ModelPath,
		"plugins.dir":              d.cfg.Plugins.Dir,
		"plugins.trusted_key_path": d.cfg.Plugins.TrustedKeyPath,
		"state.path":               d.cfg.State.Path,
	}
	for field, value := range fields {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

// warnMemory compares the model size against what the host has free.
func (d *Doctor) warnMemory(r *Result) {
	if d.host == nil || d.cfg.Inference.Mode == config.ModeMock {
		return
	}
	info, err := os.Stat(d.cfg.Inference.ModelPath)
	if err != nil || info.IsDir() {
		return
	}
	if uint64(info.Size()) > d.host.MemAvailableBytes {
		d.addWarning(r, "host", "inference.model_path",
			fmt.Sprintf("model is %d MiB but only %d MiB of memory is available",
				info.Size()>>20, d.host.MemAvailableBytes>>20))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Deployment healthy.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Deployment usable")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Deployment broken (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
