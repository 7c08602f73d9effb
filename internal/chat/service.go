// Package chat turns OpenAI-style chat requests into either a plugin invocation or an
// inference request, and records the outcome.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/edgeclaw/internal/events"
	"github.com/mattjoyce/edgeclaw/internal/inference"
	"github.com/mattjoyce/edgeclaw/internal/metrics"
	"github.com/mattjoyce/edgeclaw/internal/plugin"
	"github.com/mattjoyce/edgeclaw/internal/protocol"
	"github.com/mattjoyce/edgeclaw/internal/sandbox"
	"github.com/mattjoyce/edgeclaw/internal/state"
)

// ErrInvalidRequest marks a request the caller must fix.
var ErrInvalidRequest = errors.New("invalid request")

// Router resolves slash-commands to verified plugins.
type Router interface {
	Resolve(cmd string) (*plugin.Record, error)
	Commands() []plugin.CommandInfo
}

// Invoker runs a plugin in the sandbox.
type Invoker interface {
	Invoke(ctx context.Context, rec *plugin.Record, req protocol.Request) (*protocol.Response, error)
}

// Inferer admits prompts to the inference worker.
type Inferer interface {
	Submit(prompt string, p inference.Params, sessionID string) (*inference.Future, error)
	ModelName() string
}

// History persists and recalls conversation turns.
type History interface {
	History(ctx context.Context, sessionID string, limit int) ([]state.Turn, error)
	Save(ctx context.Context, t state.Turn) error
}

// Auditor appends to the audit log.
type Auditor interface {
	LogAudit(ctx context.Context, eventType string, payload any) error
}

// Publisher fans out runtime events.
type Publisher interface {
	Publish(eventType string, data any)
}

// Request is a chat completion request.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
}

// Completion is the OpenAI-shaped response.
type Completion struct {
	ID        string   `json:"id"`
	Object    string   `json:"object"`
	Created   int64    `json:"created"`
	Model     string   `json:"model"`
	Choices   []Choice `json:"choices"`
	Usage     Usage    `json:"usage"`
	SessionID string   `json:"session_id"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Deps wires the service. Router, Invoker, and Inferer are required; the rest may be nil.
type Deps struct {
	Router   Router
	Invoker  Invoker
	Inferer  Inferer
	History  History
	Auditor  Auditor
	Events   Publisher
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// HistoryTurns is how many prior turns to prepend when a session id is supplied.
	HistoryTurns int
}

// Service answers chat completions.
type Service struct {
	deps   Deps
	logger *slog.Logger
}

func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{deps: deps, logger: logger}
}

// Complete answers req. Slash-commands never touch the inference queue; plugin failures
// and unknown commands come back as assistant text. Inference errors are returned as-is
// (inference.ErrBusy, inference.ErrTimeout, *inference.FailedError).
func (s *Service) Complete(ctx context.Context, req Request) (*Completion, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages cannot be empty", ErrInvalidRequest)
	}
	if req.Stream {
		return nil, fmt.Errorf("%w: streaming not yet supported, set stream=false", ErrInvalidRequest)
	}

	sessionSupplied := req.SessionID != ""
	if !sessionSupplied {
		req.SessionID = uuid.NewString()
	}
	if req.Model == "" {
		req.Model = s.deps.Inferer.ModelName()
	}
	logger := s.logger.With("session_id", req.SessionID)
	logger.Info("processing chat request", "model", req.Model, "messages", len(req.Messages))

	if cmd, args, ok := ExtractCommand(req.Messages); ok {
		content := s.runCommand(ctx, logger, req.SessionID, cmd, args)
		s.persist(ctx, logger, req, content)
		t := EstimateTokens(content)
		return newCompletion(req, content, Usage{PromptTokens: t, CompletionTokens: t, TotalTokens: 2 * t}), nil
	}

	var history []state.Turn
	if sessionSupplied && s.deps.HistoryTurns > 0 && s.deps.History != nil {
		turns, err := s.deps.History.History(ctx, req.SessionID, s.deps.HistoryTurns)
		if err != nil {
			logger.Warn("failed to load session history", "error", err)
		}
		history = turns
	}

	prompt := BuildPrompt(history, req.Messages)
	text, err := s.infer(ctx, logger, req, prompt)
	if err != nil {
		return nil, err
	}

	s.persist(ctx, logger, req, text)
	pt, ct := EstimateTokens(prompt), EstimateTokens(text)
	return newCompletion(req, text, Usage{PromptTokens: pt, CompletionTokens: ct, TotalTokens: pt + ct}), nil
}

func (s *Service) runCommand(ctx context.Context, logger *slog.Logger, sessionID, cmd, args string) string {
	if cmd == "help" {
		return HelpText(s.deps.Router.Commands())
	}

	rec, err := s.deps.Router.Resolve(cmd)
	if err != nil {
		logger.Info("unknown command", "command", cmd)
		return UnknownCommandText(cmd)
	}

	logger = logger.With("plugin", rec.Name(), "command", cmd)
	logger.Info("dispatching to plugin")

	preq := protocol.NewRequest(rec.Manifest.DefaultAction, cmd, args, rec.Manifest.PayloadFromArgs)
	start := time.Now()
	resp, err := s.deps.Invoker.Invoke(ctx, rec, preq)
	elapsed := time.Since(start)

	audit := map[string]any{
		"plugin":      rec.Name(),
		"command":     cmd,
		"session_id":  sessionID,
		"duration_ms": elapsed.Milliseconds(),
	}

	switch {
	case err != nil:
		kind := sandbox.KindOf(err)
		if kind == "" {
			kind = sandbox.KindSpawnError
		}
		logger.Warn("plugin execution failed", "kind", kind, "error", err)
		audit["outcome"] = string(kind)
		audit["error"] = err.Error()
		s.record(ctx, logger, events.TypePluginFailed, audit)
		s.observePlugin(rec.Name(), string(kind), elapsed)
		return fmt.Sprintf("⚠️ Plugin failed: %s", describeFailure(kind))

	case !resp.Success:
		audit["outcome"] = "error"
		audit["error"] = resp.ErrorMessage()
		s.record(ctx, logger, events.TypePluginInvoked, audit)
		s.observePlugin(rec.Name(), "error", elapsed)
		return fmt.Sprintf("⚠️ Plugin error: %s", resp.ErrorMessage())

	default:
		audit["outcome"] = "ok"
		s.record(ctx, logger, events.TypePluginInvoked, audit)
		s.observePlugin(rec.Name(), "ok", elapsed)
		return FormatResult(rec.Name(), resp.Result)
	}
}

func describeFailure(kind sandbox.Kind) string {
	switch kind {
	case sandbox.KindTimeout:
		return "timed out"
	case sandbox.KindCrashed:
		return "crashed"
	case sandbox.KindMalformedOutput:
		return "returned malformed output"
	default:
		return "could not be started"
	}
}

func (s *Service) infer(ctx context.Context, logger *slog.Logger, req Request, prompt string) (string, error) {
	params := inference.Params{MaxTokens: inference.DefaultMaxTokens, Temperature: inference.DefaultTemperature}
	if req.MaxTokens != nil {
		params.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		params.Temperature = *req.Temperature
	}

	fut, err := s.deps.Inferer.Submit(prompt, params, req.SessionID)
	if err != nil {
		outcome := outcomeOf(err)
		logger.Warn("inference request rejected", "outcome", outcome, "error", err)
		s.publish(events.TypeInferenceRejected, map[string]any{"session_id": req.SessionID, "outcome": outcome})
		s.observeInference(outcome, 0, 0)
		return "", err
	}

	res, err := fut.Wait(ctx)
	outcome := outcomeOf(err)
	s.observeInference(outcome, res.QueueWait, res.Duration)
	if err != nil {
		logger.Warn("inference failed", "outcome", outcome, "error", err)
		s.record(ctx, logger, events.TypeInferenceFailed, map[string]any{
			"session_id": req.SessionID,
			"outcome":    outcome,
			"error":      err.Error(),
		})
		return "", err
	}

	logger.Info("inference completed", "queue_wait", res.QueueWait, "duration", res.Duration)
	return res.Text, nil
}

func outcomeOf(err error) string {
	var failed *inference.FailedError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, inference.ErrBusy):
		return "busy"
	case errors.Is(err, inference.ErrTimeout):
		return "timeout"
	case errors.Is(err, inference.ErrShuttingDown):
		return "shutdown"
	case errors.As(err, &failed):
		return "failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "abandoned"
	default:
		return "error"
	}
}

// persist saves a finished turn. The write outlives a caller that has gone away.
func (s *Service) persist(ctx context.Context, logger *slog.Logger, req Request, reply string) {
	if s.deps.History != nil {
		err := s.deps.History.Save(context.WithoutCancel(ctx), state.Turn{
			SessionID:    req.SessionID,
			UserMsg:      lastUserContent(req.Messages),
			AssistantMsg: reply,
			Model:        req.Model,
		})
		if err != nil {
			logger.Warn("failed to persist conversation", "error", err)
		}
	}
	s.publish(events.TypeChatCompleted, map[string]any{"session_id": req.SessionID, "model": req.Model})
}

// record audits and publishes one event.
func (s *Service) record(ctx context.Context, logger *slog.Logger, eventType string, payload map[string]any) {
	if s.deps.Auditor != nil {
		if err := s.deps.Auditor.LogAudit(context.WithoutCancel(ctx), eventType, payload); err != nil {
			logger.Warn("failed to write audit log", "event_type", eventType, "error", err)
		}
	}
	s.publish(eventType, payload)
}

func (s *Service) publish(eventType string, data any) {
	if s.deps.Events != nil {
		s.deps.Events.Publish(eventType, data)
	}
}

func (s *Service) observeInference(outcome string, wait, d time.Duration) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveInference(outcome, wait, d)
	}
}

func (s *Service) observePlugin(name, outcome string, d time.Duration) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObservePlugin(name, outcome, d)
	}
}

func newCompletion(req Request, content string, usage Usage) *Completion {
	return &Completion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{{
			Index:        0,
			Message:      Message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage:     usage,
		SessionID: req.SessionID,
	}
}
