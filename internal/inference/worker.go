package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/edgeclaw/internal/queue"
)

// WorkerConfig controls the admission queue and per-call limits.
type WorkerConfig struct {
	QueueCapacity int
	Timeout       time.Duration
	MaxTokensCap  int
	Logger        *slog.Logger
}

// Request is one admitted inference request. Its reply channel is written exactly once.
type Request struct {
	Prompt     string
	Params     Params
	SessionID  string
	enqueuedAt time.Time
	reply      chan Result
}

// Result is the single answer to a Request.
type Result struct {
	Text string
	Err  error
	// QueueWait is the time spent admitted but not yet running.
	QueueWait time.Duration
	// Duration is the engine time. Zero when the request never ran.
	Duration time.Duration
}

// Future resolves to the Result of a submitted request.
type Future struct {
	reply <-chan Result
}

// Wait blocks until the worker answers or ctx is done. Abandoning the wait does not
// interrupt a call already claimed by the worker.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case res := <-f.reply:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Worker is the sole owner of the engine. Requests reach it only through its queue.
type Worker struct {
	cfg    WorkerConfig
	queue  *queue.Queue[*Request]
	logger *slog.Logger

	// engine is touched only by Run.
	engine    Engine
	modelName string
	ready     atomic.Bool
	running   atomic.Bool
}

// NewWorker binds the admission queue and opens the engine. Either failing is fatal to
// startup.
func NewWorker(cfg WorkerConfig, open Opener) (*Worker, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokensCap <= 0 {
		cfg.MaxTokensCap = DefaultMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	q, err := queue.New[*Request](cfg.QueueCapacity)
	if err != nil {
		return nil, fmt.Errorf("bind admission queue: %w", err)
	}

	engine, err := open()
	if err != nil {
		return nil, fmt.Errorf("open inference engine: %w", err)
	}

	w := &Worker{
		cfg:       cfg,
		queue:     q,
		logger:    logger,
		engine:    engine,
		modelName: engine.Name(),
	}
	w.ready.Store(true)
	return w, nil
}

// Submit admits a request without blocking. It returns ErrBusy when the queue is full and
// ErrShuttingDown once the worker has stopped.
func (w *Worker) Submit(prompt string, p Params, sessionID string) (*Future, error) {
	req := &Request{
		Prompt:     prompt,
		Params:     p.Normalize(w.cfg.MaxTokensCap),
		SessionID:  sessionID,
		enqueuedAt: time.Now(),
		reply:      make(chan Result, 1),
	}

	if err := w.queue.TryEnqueue(req); err != nil {
		if errors.Is(err, queue.ErrFull) {
			w.logger.Warn("inference queue full, rejecting request", "capacity", w.queue.Cap())
			return nil, ErrBusy
		}
		return nil, ErrShuttingDown
	}
	return &Future{reply: req.reply}, nil
}

// Run serves requests until ctx is done, then stops admission and answers anything
// still queued with ErrShuttingDown. Per-request failures never end the loop.
func (w *Worker) Run(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		w.logger.Error("inference worker already running")
		return
	}
	w.logger.Info("inference worker started", "model", w.modelName,
		"queue_capacity", w.queue.Cap(), "timeout", w.cfg.Timeout)

	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			break
		}
		if ctx.Err() != nil {
			req.reply <- Result{Err: ErrShuttingDown, QueueWait: time.Since(req.enqueuedAt)}
			continue
		}
		w.handle(ctx, req)
	}

	w.queue.Close()
	drained := 0
	for {
		req, ok := w.queue.TryDequeue()
		if !ok {
			break
		}
		req.reply <- Result{Err: ErrShuttingDown, QueueWait: time.Since(req.enqueuedAt)}
		drained++
	}
	w.logger.Info("inference worker stopped", "drained", drained)
}

// handle runs one request against the engine and answers it exactly once.
func (w *Worker) handle(ctx context.Context, req *Request) {
	wait := time.Since(req.enqueuedAt)
	logger := w.logger
	if req.SessionID != "" {
		logger = logger.With("session_id", req.SessionID)
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		text, err := w.engine.Infer(callCtx, req.Prompt, req.Params)
		done <- outcome{text: text, err: err}
	}()

	abandonReason := func() error {
		if ctx.Err() != nil {
			return ErrShuttingDown
		}
		return ErrTimeout
	}

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		select {
		case out = <-done:
		default:
			reason := abandonReason()
			req.reply <- Result{Err: reason, QueueWait: wait, Duration: time.Since(start)}
			logger.Warn("inference abandoned, waiting for engine to return",
				"timeout", w.cfg.Timeout, "reason", reason)
			// Keep the engine exclusive: the abandoned call must finish before the next one.
			<-done
			logger.Debug("abandoned inference call returned", "elapsed", time.Since(start))
			return
		}
	}

	// An engine that honours ctx returns its error as soon as the deadline passes.
	if out.err != nil && callCtx.Err() != nil {
		reason := abandonReason()
		logger.Warn("inference did not finish in time", "timeout", w.cfg.Timeout, "reason", reason)
		req.reply <- Result{Err: reason, QueueWait: wait, Duration: time.Since(start)}
		return
	}

	res := Result{Text: out.text, QueueWait: wait, Duration: time.Since(start)}
	if out.err != nil {
		res.Text = ""
		res.Err = &FailedError{Reason: out.err.Error()}
		logger.Error("inference failed", "error", out.err, "duration", res.Duration)
	} else {
		logger.Debug("inference completed", "duration", res.Duration, "queue_wait", wait,
			"max_tokens", req.Params.MaxTokens)
	}
	req.reply <- res
}

// Ready reports whether the engine has been opened.
func (w *Worker) Ready() bool { return w.ready.Load() }

// ModelName returns the engine's model identifier.
func (w *Worker) ModelName() string { return w.modelName }

// QueueDepth returns the number of admitted requests not yet running.
func (w *Worker) QueueDepth() int { return w.queue.Len() }

// QueueCapacity returns the admission queue's capacity.
func (w *Worker) QueueCapacity() int { return w.queue.Cap() }
