package inference

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mattjoyce/edgeclaw/internal/config"
)

// NewOpener returns the Opener selected by cfg.Mode:
//   - mock: always the mock engine
//   - llama: the llama CLI engine; a missing model or binary fails the open
//   - auto: llama when the model file exists, otherwise mock with a warning
func NewOpener(cfg config.InferenceConfig, logger *slog.Logger) Opener {
	return func() (Engine, error) {
		name := modelNameFromPath(cfg.ModelPath)

		switch cfg.Mode {
		case config.ModeMock:
			logger.Info("inference running in mock mode")
			return NewMockEngine(name), nil
		case config.ModeLlama, config.ModeAuto:
		default:
			return nil, fmt.Errorf("unknown inference mode %q", cfg.Mode)
		}

		if _, err := os.Stat(cfg.ModelPath); err != nil {
			if cfg.Mode == config.ModeLlama {
				return nil, fmt.Errorf("model not found at %s: %w", cfg.ModelPath, err)
			}
			logger.Warn("model not found, running in mock mode", "model_path", cfg.ModelPath)
			return NewMockEngine(name), nil
		}

		threads := cfg.Threads
		if threads <= 0 {
			threads = runtime.NumCPU()
		}
		engine, err := NewLlamaCLIEngine(LlamaOptions{
			Binary:    cfg.LlamaCLI,
			ModelPath: cfg.ModelPath,
			Threads:   threads,
			CtxSize:   cfg.CtxSize,
		})
		if err != nil {
			if cfg.Mode == config.ModeLlama {
				return nil, err
			}
			logger.Warn("llama binary unavailable, running in mock mode", "error", err)
			return NewMockEngine(name), nil
		}
		logger.Info("inference running llama engine", "model", name, "threads", threads)
		return engine, nil
	}
}

func modelNameFromPath(path string) string {
	base := filepath.Base(path)
	if path == "" || base == "." || base == string(filepath.Separator) {
		return "unknown-model"
	}
	return base
}
