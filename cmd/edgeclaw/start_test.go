package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mattjoyce/edgeclaw/internal/config"
	"github.com/mattjoyce/edgeclaw/internal/log"
	"github.com/mattjoyce/edgeclaw/internal/plugin"
)

func TestBuildRuntimeSurvivesUnusablePluginDir(t *testing.T) {
	configPath, pluginDir := writeTestConfig(t)
	if err := os.WriteFile(pluginDir, []byte("not a directory"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	reg := openRegistry(cfg, nil, log.Discard())
	if n := reg.Snapshot().Table.Len(); n != 0 {
		t.Fatalf("routable commands = %d, want 0", n)
	}
	if _, err := reg.Resolve("echo"); !errors.Is(err, plugin.ErrRouteNotFound) {
		t.Fatalf("Resolve err = %v, want ErrRouteNotFound", err)
	}

	rt, err := buildRuntime(context.Background(), cfg, log.Discard())
	if err != nil {
		t.Fatalf("buildRuntime should start with no plugins, got: %v", err)
	}
	defer rt.close()
	if n := rt.registry.Snapshot().Table.Len(); n != 0 {
		t.Fatalf("runtime registry has %d commands, want 0", n)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(pluginDir), "memory.db")); err != nil {
		t.Fatalf("database not opened: %v", err)
	}
}
