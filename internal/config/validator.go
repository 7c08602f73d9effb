package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks cross-field constraints. It reports every problem it finds.
func Validate(cfg *Config) error {
	var errs []error

	switch strings.ToLower(cfg.Service.LogFormat) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("service.log_format must be json or text, got %q", cfg.Service.LogFormat))
	}

	if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port out of range: %d", cfg.API.Port))
	}
	if cfg.API.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("api.max_body_bytes must be positive"))
	}

	switch cfg.Inference.Mode {
	case ModeAuto, ModeMock, ModeLlama:
	default:
		errs = append(errs, fmt.Errorf("inference.mode must be one of auto, mock, llama, got %q", cfg.Inference.Mode))
	}
	if cfg.Inference.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("inference.queue_capacity must be positive"))
	}
	if cfg.Inference.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("inference.timeout must be positive"))
	}
	if cfg.Inference.MaxTokensCap <= 0 {
		errs = append(errs, fmt.Errorf("inference.max_tokens_cap must be positive"))
	}
	if cfg.Inference.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("inference.history_turns must not be negative"))
	}

	if strings.TrimSpace(cfg.Plugins.Dir) == "" {
		errs = append(errs, fmt.Errorf("plugins.dir is required"))
	}
	if cfg.Plugins.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("plugins.timeout must be positive"))
	}
	if cfg.Plugins.KillGrace < 0 {
		errs = append(errs, fmt.Errorf("plugins.kill_grace must not be negative"))
	}
	if cfg.Plugins.MaxOutputBytes <= 0 {
		errs = append(errs, fmt.Errorf("plugins.max_output_bytes must be positive"))
	}
	switch cfg.Plugins.Collisions {
	case CollisionLastWins, CollisionReject:
	default:
		errs = append(errs, fmt.Errorf("plugins.collisions must be last_wins or reject, got %q", cfg.Plugins.Collisions))
	}

	if strings.TrimSpace(cfg.State.Path) == "" {
		errs = append(errs, fmt.Errorf("state.path is required"))
	}
	if strings.TrimSpace(cfg.State.KeyPath) == "" {
		errs = append(errs, fmt.Errorf("state.key_path is required"))
	}

	return errors.Join(errs...)
}
