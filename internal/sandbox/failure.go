package sandbox

import (
	"errors"
	"fmt"
)

// Kind classifies a sandbox failure.
type Kind string

const (
	KindTimeout         Kind = "Timeout"
	KindCrashed         Kind = "Crashed"
	KindSpawnError      Kind = "SpawnError"
	KindMalformedOutput Kind = "MalformedOutput"
)

// Sentinels for errors.Is matching on a *Failure.
var (
	ErrTimeout         = errors.New("plugin timed out")
	ErrCrashed         = errors.New("plugin crashed")
	ErrSpawn           = errors.New("plugin spawn failed")
	ErrMalformedOutput = errors.New("plugin output malformed")
)

// Failure is returned by Runner.Invoke for every unsuccessful invocation.
type Failure struct {
	Kind   Kind
	Plugin string
	// ExitCode is -1 when the process did not exit normally or never started.
	ExitCode int
	Stderr   string
	Err      error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("plugin %s: %s: %v", f.Plugin, f.Kind, f.Err)
	}
	return fmt.Sprintf("plugin %s: %s", f.Plugin, f.Kind)
}

func (f *Failure) Unwrap() []error {
	return []error{f.sentinel(), f.Err}
}

func (f *Failure) sentinel() error {
	switch f.Kind {
	case KindTimeout:
		return ErrTimeout
	case KindCrashed:
		return ErrCrashed
	case KindSpawnError:
		return ErrSpawn
	default:
		return ErrMalformedOutput
	}
}

// KindOf returns the failure kind of err, or "" if err is not a *Failure.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
