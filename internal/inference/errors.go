package inference

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/edgeclaw/internal/queue"
)

var (
	// ErrBusy is returned by Submit when the admission queue is full. Callers should
	// retry later.
	ErrBusy = fmt.Errorf("inference busy: %w", queue.ErrFull)
	// ErrTimeout means the engine did not answer within the configured timeout.
	ErrTimeout = errors.New("inference timed out")
	// ErrShuttingDown answers requests that were admitted but never run.
	ErrShuttingDown = errors.New("inference worker shutting down")
)

// FailedError is an engine-reported failure.
type FailedError struct {
	Reason string
}

func (e *FailedError) Error() string {
	return "inference failed: " + e.Reason
}
