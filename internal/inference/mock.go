package inference

import (
	"context"
	"fmt"
	"strings"
)

// MockEngine answers without a model. It is used when no model file is installed.
type MockEngine struct {
	name string
}

// NewMockEngine returns a mock engine reporting name as its model.
func NewMockEngine(name string) *MockEngine {
	return &MockEngine{name: name}
}

func (m *MockEngine) Infer(ctx context.Context, prompt string, _ Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	words := len(strings.Fields(prompt))
	return fmt.Sprintf("[MOCK] Prompt had %d words. Set MODEL_PATH to a valid .gguf file for real inference.", words), nil
}

func (m *MockEngine) Name() string { return m.name }
