package api

import (
	"time"

	"github.com/mattjoyce/edgeclaw/internal/health"
	"github.com/mattjoyce/edgeclaw/internal/plugin"
)

// ErrorBody is the inner object of an error response.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	Version       string `json:"version"`
	DeviceID      string `json:"device_id"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ReadinessResponse is returned by GET /health/ready.
type ReadinessResponse struct {
	Ready           bool         `json:"ready"`
	LLMLoaded       bool         `json:"llm_loaded"`
	MemoryOK        bool         `json:"memory_ok"`
	Model           string       `json:"model"`
	QueueDepth      int          `json:"queue_depth"`
	QueueCapacity   int          `json:"queue_capacity"`
	PluginsRoutable int          `json:"plugins_routable"`
	Host            *health.Host `json:"host,omitempty"`
}

// ModelsResponse is returned by GET /v1/models.
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// PluginListResponse is returned by GET /v1/plugins and POST /v1/plugins/reload.
type PluginListResponse struct {
	Commands   []plugin.CommandInfo `json:"commands"`
	Plugins    []*plugin.Record     `json:"plugins"`
	Exclusions []plugin.Exclusion   `json:"exclusions"`
	Collisions []plugin.Collision   `json:"collisions"`
	LoadedAt   time.Time            `json:"loaded_at"`
}
