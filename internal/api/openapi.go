package api

import (
	"github.com/mattjoyce/edgeclaw/internal/plugin"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the HTTP surface. Routable
// slash-commands are listed under x-edgeclaw-commands since they travel inside chat
// messages rather than as paths.
func buildOpenAPIDoc(version string, commands []plugin.CommandInfo) map[string]any {
	cmds := make([]map[string]any, 0, len(commands))
	for _, c := range commands {
		cmds = append(cmds, map[string]any{
			"command":     "/" + c.Command,
			"plugin":      c.Plugin,
			"description": c.Description,
		})
	}
	if version == "" {
		version = "dev"
	}

	jsonResp := func(desc string) map[string]any {
		return map[string]any{"description": desc, "content": map[string]any{"application/json": map[string]any{}}}
	}
	admin := []any{map[string]any{"BearerAuth": []string{}}}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "EdgeClaw",
			"version": version,
		},
		"paths": map[string]any{
			"/v1/chat/completions": map[string]any{
				"post": map[string]any{
					"operationId": "createChatCompletion",
					"summary":     "Chat completion; messages starting with / run a plugin",
					"requestBody": map[string]any{
						"required": true,
						"content": map[string]any{
							"application/json": map[string]any{"schema": chatRequestSchema()},
						},
					},
					"responses": map[string]any{
						"200": jsonResp("Completion"),
						"400": jsonResp("Invalid request"),
						"429": jsonResp("Inference queue full"),
						"504": jsonResp("Inference timed out"),
					},
				},
			},
			"/v1/models": map[string]any{
				"get": map[string]any{"operationId": "listModels", "responses": map[string]any{"200": jsonResp("Loaded model")}},
			},
			"/v1/plugins": map[string]any{
				"get": map[string]any{"operationId": "listPlugins", "responses": map[string]any{"200": jsonResp("Plugin registry snapshot")}},
			},
			"/v1/plugins/reload": map[string]any{
				"post": map[string]any{
					"operationId": "reloadPlugins",
					"security":    admin,
					"responses":   map[string]any{"200": jsonResp("New registry snapshot"), "401": jsonResp("Unauthorized")},
				},
			},
			"/v1/events": map[string]any{
				"get": map[string]any{
					"operationId": "streamEvents",
					"security":    admin,
					"responses": map[string]any{
						"200": map[string]any{"description": "Server-sent events", "content": map[string]any{"text/event-stream": map[string]any{}}},
						"401": jsonResp("Unauthorized"),
					},
				},
			},
			"/health": map[string]any{
				"get": map[string]any{"operationId": "health", "responses": map[string]any{"200": jsonResp("Liveness")}},
			},
			"/health/ready": map[string]any{
				"get": map[string]any{"operationId": "ready", "responses": map[string]any{"200": jsonResp("Ready"), "503": jsonResp("Not ready")}},
			},
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
		"x-edgeclaw-commands": cmds,
	}
}

func chatRequestSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"messages"},
		"properties": map[string]any{
			"model": map[string]any{"type": "string"},
			"messages": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"role", "content"},
					"properties": map[string]any{
						"role":    map[string]any{"type": "string"},
						"content": map[string]any{"type": "string"},
					},
				},
			},
			"max_tokens":  map[string]any{"type": "integer", "default": 512},
			"temperature": map[string]any{"type": "number", "default": 0.7},
			"stream":      map[string]any{"type": "boolean", "default": false},
			"session_id":  map[string]any{"type": "string"},
		},
	}
}
