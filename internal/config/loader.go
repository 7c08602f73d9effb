package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from path, layered as defaults < file < environment.
// An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		if info.IsDir() {
			absPath = filepath.Join(absPath, "config.yaml")
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := interpolateEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML %s: %w", absPath, err)
		}
		cfg.SourcePath = absPath
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds a config file by checking standard locations.
// Priority order: $EDGECLAW_CONFIG, ~/.config/edgeclaw/config.yaml, /etc/edgeclaw/config.yaml.
// Returns "" when none exist, meaning defaults plus environment.
func Discover() string {
	if p := os.Getenv("EDGECLAW_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(homeDir, ".config", "edgeclaw", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if _, err := os.Stat("/etc/edgeclaw/config.yaml"); err == nil {
		return "/etc/edgeclaw/config.yaml"
	}
	return ""
}

// interpolateEnv replaces ${VAR} with the environment value. Unset variables are left as-is.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
}

// applyEnvOverrides applies the flat environment variables an edge image is usually
// configured with. They win over the config file.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("HOST"); ok && v != "" {
		cfg.API.Host = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.API.Port = port
	}
	if v, ok := lookup("MODEL_PATH"); ok && v != "" {
		cfg.Inference.ModelPath = v
	}
	if v, ok := lookup("DB_PATH"); ok && v != "" {
		cfg.State.Path = v
	}
	if v, ok := lookup("KEY_PATH"); ok && v != "" {
		cfg.State.KeyPath = v
	}
	if v, ok := lookup("PLUGIN_DIR"); ok && v != "" {
		cfg.Plugins.Dir = v
	}
	if v, ok := lookup("INFERENCE_TIMEOUT_SECS"); ok && v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return fmt.Errorf("INFERENCE_TIMEOUT_SECS must be a positive integer, got %q", v)
		}
		cfg.Inference.Timeout = time.Duration(secs) * time.Second
	}
	if v, ok := lookup("LLM_THREADS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("LLM_THREADS must be a positive integer, got %q", v)
		}
		cfg.Inference.Threads = n
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		cfg.Service.LogLevel = v
	}
	return nil
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(strings.TrimSpace(host), strconv.Itoa(port))
}
