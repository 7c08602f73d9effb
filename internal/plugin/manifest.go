package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Manifest is the JSON file shipped next to each plugin executable as <name>.json.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Commands    []string `json:"commands"`
	// DefaultAction is sent as the request action when a command is invoked.
	DefaultAction string `json:"default_action"`
	// PayloadFromArgs forwards the free text after the command as payload.args.
	PayloadFromArgs bool `json:"payload_from_args"`
}

// readManifest reads and validates a manifest file.
func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}

	if err := validateManifest(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// validateManifest checks required manifest fields.
func validateManifest(m *Manifest) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(m.Name, `/\`) || strings.Contains(m.Name, "..") {
		return fmt.Errorf("name contains path separator or traversal: %s", m.Name)
	}
	if strings.TrimSpace(m.DefaultAction) == "" {
		return fmt.Errorf("default_action is required")
	}
	if len(m.Commands) == 0 {
		return fmt.Errorf("at least one command must be declared")
	}

	seen := make(map[string]bool, len(m.Commands))
	for _, cmd := range m.Commands {
		if cmd == "" {
			return fmt.Errorf("command name is required")
		}
		if cmd != strings.ToLower(cmd) {
			return fmt.Errorf("command %q must be lowercase", cmd)
		}
		if strings.ContainsAny(cmd, " \t\n/") {
			return fmt.Errorf("command %q contains whitespace or '/'", cmd)
		}
		if seen[cmd] {
			return fmt.Errorf("command %q declared twice", cmd)
		}
		seen[cmd] = true
	}

	return nil
}
