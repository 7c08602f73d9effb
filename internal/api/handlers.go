package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mattjoyce/edgeclaw/internal/chat"
	"github.com/mattjoyce/edgeclaw/internal/events"
	"github.com/mattjoyce/edgeclaw/internal/inference"
	"github.com/mattjoyce/edgeclaw/internal/plugin"
)

const errorType = "edge_runtime_error"

// handleChatCompletions handles POST /v1/chat/completions.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := s.deps.Chat.Complete(r.Context(), req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.logger.Info("client abandoned chat completion")
			return
		}
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("chat completion failed", "status", status, "error", err)
		}
		s.writeError(w, status, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// statusFor maps a chat error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, inference.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, inference.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, inference.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleModels handles GET /v1/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ModelsResponse{
		Object: "list",
		Data: []ModelInfo{{
			ID:      s.deps.Inference.ModelName(),
			Object:  "model",
			Created: s.startedAt.Unix(),
			OwnedBy: "edgeclaw",
		}},
	})
}

// handleListPlugins handles GET /v1/plugins.
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, pluginList(s.deps.Registry.Snapshot()))
}

// handleReloadPlugins handles POST /v1/plugins/reload (admin).
func (s *Server) handleReloadPlugins(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Registry.Reload()
	if err != nil {
		s.logger.Error("plugin reload failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "plugin reload failed: "+err.Error())
		return
	}

	counts := snap.ExclusionCounts()
	payload := map[string]any{
		"commands":   snap.Table.Len(),
		"records":    len(snap.Records),
		"excluded":   counts,
		"collisions": len(snap.Collisions),
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetRegistry(snap.Table.Len(), counts)
	}
	if s.deps.Auditor != nil {
		if err := s.deps.Auditor.LogAudit(r.Context(), events.TypeRegistryReloaded, payload); err != nil {
			s.logger.Warn("failed to write audit log", "error", err)
		}
	}
	s.deps.Events.Publish(events.TypeRegistryReloaded, payload)

	respondJSON(w, http.StatusOK, pluginList(snap))
}

func pluginList(snap *plugin.Snapshot) PluginListResponse {
	resp := PluginListResponse{
		Commands:   snap.Table.Commands(),
		Plugins:    snap.Records,
		Exclusions: snap.Exclusions,
		Collisions: snap.Collisions,
		LoadedAt:   snap.LoadedAt,
	}
	if resp.Plugins == nil {
		resp.Plugins = []*plugin.Record{}
	}
	if resp.Exclusions == nil {
		resp.Exclusions = []plugin.Exclusion{}
	}
	if resp.Collisions == nil {
		resp.Collisions = []plugin.Collision{}
	}
	return resp
}

// handleHealth handles GET /health (no auth).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.config.Version,
		DeviceID:      s.config.DeviceID,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleReady handles GET /health/ready. It answers 503 until the engine is open and
// the store responds.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := ReadinessResponse{
		LLMLoaded:       s.deps.Inference.Ready(),
		MemoryOK:        true,
		Model:           s.deps.Inference.ModelName(),
		QueueDepth:      s.deps.Inference.QueueDepth(),
		QueueCapacity:   s.deps.Inference.QueueCapacity(),
		PluginsRoutable: s.deps.Registry.Snapshot().Table.Len(),
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(ctx); err != nil {
			s.logger.Warn("readiness: store ping failed", "error", err)
			resp.MemoryOK = false
		}
	}
	if s.deps.Host != nil {
		if host, err := s.deps.Host.Sample(ctx); err == nil {
			resp.Host = &host
		} else {
			s.logger.Debug("readiness: host sample failed", "error", err)
		}
	}
	resp.Ready = resp.LLMLoaded && resp.MemoryOK

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.Version, s.deps.Registry.Snapshot().Table.Commands()))
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: ErrorBody{Message: message, Type: errorType}})
}
