package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattjoyce/edgeclaw/internal/plugin"
	"github.com/mattjoyce/edgeclaw/internal/protocol"
)

const (
	// maxStderrBytes caps the amount of stderr captured from a plugin.
	maxStderrBytes = 64 * 1024

	defaultTimeout        = 10 * time.Second
	defaultKillGrace      = time.Second
	defaultMaxOutputBytes = 1 << 20
)

// Config controls invocation limits.
type Config struct {
	Timeout        time.Duration
	KillGrace      time.Duration
	MaxOutputBytes int64
	Logger         *slog.Logger
}

// Runner invokes plugin executables. It holds no per-invocation state and is safe for
// concurrent use.
type Runner struct {
	timeout   time.Duration
	killGrace time.Duration
	maxOutput int64
	logger    *slog.Logger
}

// NewRunner creates a Runner, filling zero values with defaults.
func NewRunner(cfg Config) *Runner {
	r := &Runner{
		timeout:   cfg.Timeout,
		killGrace: cfg.KillGrace,
		maxOutput: cfg.MaxOutputBytes,
		logger:    cfg.Logger,
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	if r.killGrace <= 0 {
		r.killGrace = defaultKillGrace
	}
	if r.maxOutput <= 0 {
		r.maxOutput = defaultMaxOutputBytes
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

// process owns a started child. release is safe to call on every path and guarantees the
// child's process group is gone and the child reaped. Descendants the plugin left behind
// are killed with it.
type process struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

func (p *process) release() {
	_ = signalGroup(p.cmd, syscall.SIGKILL)
	<-p.done
}

// Invoke runs rec's executable with req and returns its response. Every unsuccessful
// outcome is a *Failure. A plugin-reported error (success=false) is a valid response,
// not a Failure.
func (r *Runner) Invoke(ctx context.Context, rec *plugin.Record, req protocol.Request) (*protocol.Response, error) {
	name := rec.Name()
	logger := r.logger.With("plugin", name, "action", req.Action)
	fail := func(kind Kind, exitCode int, stderr string, err error) (*protocol.Response, error) {
		return nil, &Failure{Kind: kind, Plugin: name, ExitCode: exitCode, Stderr: stderr, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Not CommandContext: termination is managed here so the whole group gets SIGTERM first.
	cmd := exec.Command(rec.ExecutablePath)
	cmd.Dir = filepath.Dir(rec.ExecutablePath)
	cmd.Env = []string{
		"PATH=" + envOr("PATH", "/usr/local/bin:/usr/bin:/bin"),
		"LANG=" + envOr("LANG", "C.UTF-8"),
		"EDGECLAW_PLUGIN=" + name,
	}
	setProcessGroup(cmd)
	cmd.WaitDelay = r.killGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fail(KindSpawnError, -1, "", fmt.Errorf("create stdin pipe: %w", err))
	}
	stdout := newCappedBuffer(r.maxOutput)
	stderr := newCappedBuffer(maxStderrBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Debug("spawning plugin", "executable", rec.ExecutablePath, "timeout", r.timeout)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return fail(KindSpawnError, -1, "", fmt.Errorf("start process: %w", err))
	}

	proc := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		proc.waitErr = cmd.Wait()
		close(proc.done)
	}()
	defer proc.release()

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- protocol.EncodeRequest(stdin, &req)
	}()

	select {
	case <-ctx.Done():
		logger.Warn("plugin execution timed out, sending SIGTERM", "elapsed", time.Since(start))
		if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
			logger.Debug("failed to send SIGTERM", "error", err)
		}

		grace := time.NewTimer(r.killGrace)
		defer grace.Stop()
		select {
		case <-proc.done:
			logger.Info("plugin exited after SIGTERM")
		case <-grace.C:
			logger.Warn("plugin did not exit after SIGTERM, sending SIGKILL")
			proc.release()
		}
		return fail(KindTimeout, -1, stderr.String(), fmt.Errorf("no response within %s: %w", r.timeout, ctx.Err()))

	case <-proc.done:
	}

	stderrStr := stderr.String()
	if stderrStr != "" {
		logger.Debug("plugin stderr", "stderr", stderrStr, "truncated", stderr.Truncated())
	}

	if werr := <-writeErr; werr != nil && !isBrokenPipe(werr) {
		return fail(KindSpawnError, exitCode(cmd), stderrStr, fmt.Errorf("write request: %w", werr))
	}

	if proc.waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(proc.waitErr, &exitErr) {
			logger.Warn("plugin exited with non-zero status", "exit_code", exitErr.ExitCode())
			return fail(KindCrashed, exitErr.ExitCode(), stderrStr, fmt.Errorf("%s", exitErr.String()))
		}
		// WaitDelay expiry: the child exited but something kept its pipes open.
		return fail(KindCrashed, exitCode(cmd), stderrStr, fmt.Errorf("wait for process: %w", proc.waitErr))
	}

	if stdout.Truncated() {
		return fail(KindMalformedOutput, 0, stderrStr, fmt.Errorf("stdout exceeds %d bytes", r.maxOutput))
	}
	resp, err := protocol.DecodeResponse(stdout.Bytes())
	if err != nil {
		logger.Warn("failed to decode plugin response", "error", err)
		return fail(KindMalformedOutput, 0, stderrStr, err)
	}

	logger.Debug("plugin completed", "success", resp.Success, "duration", time.Since(start))
	return resp, nil
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// isBrokenPipe reports a plugin that exited without reading its stdin. Its exit status and
// output decide the outcome instead.
func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
