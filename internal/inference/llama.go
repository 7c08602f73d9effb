package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// maxEngineStderr bounds the stderr carried in a failure reason.
const maxEngineStderr = 2048

// maxInlinePrompt is the largest prompt passed with -p. Linux caps a single argv string
// at 128 KiB (MAX_ARG_STRLEN); longer prompts go through a temp file and -f.
const maxInlinePrompt = 64 << 10

// LlamaCLIEngine runs a llama.cpp command-line binary once per request.
type LlamaCLIEngine struct {
	binary    string
	modelPath string
	name      string
	threads   int
	ctxSize   int
}

// LlamaOptions configures a LlamaCLIEngine.
type LlamaOptions struct {
	Binary    string
	ModelPath string
	Threads   int
	CtxSize   int
}

// NewLlamaCLIEngine checks that the binary resolves and returns the engine.
func NewLlamaCLIEngine(opts LlamaOptions) (*LlamaCLIEngine, error) {
	bin, err := exec.LookPath(opts.Binary)
	if err != nil {
		return nil, fmt.Errorf("llama binary %q: %w", opts.Binary, err)
	}
	return &LlamaCLIEngine{
		binary:    bin,
		modelPath: opts.ModelPath,
		name:      modelNameFromPath(opts.ModelPath),
		threads:   opts.Threads,
		ctxSize:   opts.CtxSize,
	}, nil
}

func (e *LlamaCLIEngine) Name() string { return e.name }

// Args returns the command line for one generation with the prompt inline.
func (e *LlamaCLIEngine) Args(prompt string, p Params) []string {
	return e.commandLine([]string{"-p", prompt}, p)
}

func (e *LlamaCLIEngine) commandLine(promptArgs []string, p Params) []string {
	args := append([]string{"-m", e.modelPath}, promptArgs...)
	args = append(args,
		"-n", strconv.Itoa(p.MaxTokens),
		"--temp", strconv.FormatFloat(p.Temperature, 'f', 2, 64),
	)
	if e.threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.threads))
	}
	if e.ctxSize > 0 {
		args = append(args, "-c", strconv.Itoa(e.ctxSize))
	}
	return append(args, "--no-display-prompt")
}

func (e *LlamaCLIEngine) Infer(ctx context.Context, prompt string, p Params) (string, error) {
	args := e.Args(prompt, p)
	if len(prompt) > maxInlinePrompt {
		path, err := writePromptFile(prompt)
		if err != nil {
			return "", err
		}
		defer os.Remove(path)
		args = e.commandLine([]string{"-f", path}, p)
	}

	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%s: %s", exitErr, tail(stderr.String(), maxEngineStderr))
		}
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

func writePromptFile(prompt string) (string, error) {
	f, err := os.CreateTemp("", "edgeclaw-prompt-*.txt")
	if err != nil {
		return "", fmt.Errorf("create prompt file: %w", err)
	}
	if _, err := f.WriteString(prompt); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write prompt file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close prompt file: %w", err)
	}
	return f.Name(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
