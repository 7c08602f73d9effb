package tui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/edgeclaw/internal/events"
)

// --- Message types ---

type eventMsg events.Event

// readyMsg mirrors the fields of GET /health/ready the header shows.
type readyMsg struct {
	Ready           bool       `json:"ready"`
	LLMLoaded       bool       `json:"llm_loaded"`
	MemoryOK        bool       `json:"memory_ok"`
	Model           string     `json:"model"`
	QueueDepth      int        `json:"queue_depth"`
	QueueCapacity   int        `json:"queue_capacity"`
	PluginsRoutable int        `json:"plugins_routable"`
	Host            *hostStats `json:"host,omitempty"`
}

type hostStats struct {
	MemUsedPercent float64 `json:"mem_used_percent"`
	Load1          float64 `json:"load1"`
}

type errMsg error

type sseDisconnectedMsg struct{}

// --- Commands ---

// subscribeToEvents streams GET /v1/events into ch until the connection drops.
func subscribeToEvents(ctx context.Context, apiURL, apiKey string, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/v1/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("events stream: %s", resp.Status))
		}

		_ = readSSE(resp.Body, func(ev events.Event) { ch <- ev })
		return sseDisconnectedMsg{}
	}
}

// readSSE parses a server-sent event stream, calling emit once per complete event.
func readSSE(r io.Reader, emit func(events.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var ev events.Event
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				ev.Data = []byte(strings.Join(data, "\n"))
				if ev.At.IsZero() {
					ev.At = time.Now()
				}
				emit(ev)
			}
			ev, data = events.Event{}, nil
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				ev.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			ev.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			data = append(data, line[6:])
		}
	}
	return scanner.Err()
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchReady(apiURL string) tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(apiURL + "/health/ready")
		if err != nil {
			return errMsg(err)
		}
		defer resp.Body.Close()

		// 503 still carries the body.
		var r readyMsg
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return errMsg(err)
		}
		return r
	}
}
