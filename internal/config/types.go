package config

import "time"

// Config represents the complete edgeclaw configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	API       APIConfig       `yaml:"api"`
	Inference InferenceConfig `yaml:"inference"`
	Plugins   PluginsConfig   `yaml:"plugins"`
	State     StateConfig     `yaml:"state"`

	// SourcePath is the file the config was loaded from; empty when built from defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	PIDFile   string `yaml:"pid_file"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey protects admin routes (reload, events). Empty disables them.
	APIKey       string   `yaml:"api_key"`
	CORSOrigins  []string `yaml:"cors_origins,omitempty"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
}

// Inference modes.
const (
	ModeAuto  = "auto"
	ModeMock  = "mock"
	ModeLlama = "llama"
)

// InferenceConfig defines the admission queue and worker settings.
type InferenceConfig struct {
	Mode          string        `yaml:"mode"`
	ModelPath     string        `yaml:"model_path"`
	LlamaCLI      string        `yaml:"llama_cli"`
	QueueCapacity int           `yaml:"queue_capacity"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxTokensCap  int           `yaml:"max_tokens_cap"`
	Threads       int           `yaml:"threads"`
	CtxSize       int           `yaml:"ctx_size"`
	HistoryTurns  int           `yaml:"history_turns"`
}

// Collision policies for two manifests claiming the same command.
const (
	CollisionLastWins = "last_wins"
	CollisionReject   = "reject"
)

// PluginsConfig defines plugin discovery and sandbox settings.
type PluginsConfig struct {
	Dir            string        `yaml:"dir"`
	Timeout        time.Duration `yaml:"timeout"`
	KillGrace      time.Duration `yaml:"kill_grace"`
	MaxOutputBytes int64         `yaml:"max_output_bytes"`
	// TrustedKeyPath points at the Ed25519 public key plugins are signed with.
	// Empty means the device identity's own public key is trusted.
	TrustedKeyPath string `yaml:"trusted_key_path"`
	Collisions     string `yaml:"collisions"`
}

// StateConfig defines persistence settings.
type StateConfig struct {
	Path            string        `yaml:"path"`
	KeyPath         string        `yaml:"key_path"`
	HistoryCacheTTL time.Duration `yaml:"history_cache_ttl"`
}

// Defaults returns a Config with the values an edge board ships with.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "edgeclaw",
			LogLevel:  "info",
			LogFormat: "json",
			PIDFile:   "/var/lib/edgeclaw/edgeclaw.pid",
		},
		API: APIConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			CORSOrigins:  []string{"*"},
			MaxBodyBytes: 1 << 20,
		},
		Inference: InferenceConfig{
			Mode:          ModeAuto,
			ModelPath:     "/opt/edgeclaw/models/model.gguf",
			LlamaCLI:      "llama-cli",
			QueueCapacity: 32,
			Timeout:       60 * time.Second,
			MaxTokensCap:  512,
			CtxSize:       2048,
		},
		Plugins: PluginsConfig{
			Dir:            "/opt/edgeclaw/plugins",
			Timeout:        10 * time.Second,
			KillGrace:      time.Second,
			MaxOutputBytes: 1 << 20,
			Collisions:     CollisionLastWins,
		},
		State: StateConfig{
			Path:            "/var/lib/edgeclaw/memory.db",
			KeyPath:         "/var/lib/edgeclaw/device.key",
			HistoryCacheTTL: 10 * time.Minute,
		},
	}
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return joinHostPort(c.API.Host, c.API.Port)
}
