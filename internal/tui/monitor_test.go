package tui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/edgeclaw/internal/events"
)

func TestReadSSE(t *testing.T) {
	stream := ": keep-alive\n\n" +
		"id: 1\nevent: plugin.invoked\ndata: {\"plugin\":\"echo\"}\n\n" +
		"id: 2\nevent: chat.completed\ndata: {\"session_id\":\"s1\"}\n\n" +
		"id: 3\nevent: partial\n"

	var got []events.Event
	require.NoError(t, readSSE(strings.NewReader(stream), func(ev events.Event) { got = append(got, ev) }))

	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, "plugin.invoked", got[0].Type)
	assert.JSONEq(t, `{"plugin":"echo"}`, string(got[0].Data))
	assert.Equal(t, "chat.completed", got[1].Type)
}

func TestActivityFromEvent(t *testing.T) {
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	a, ok := activityFromEvent(events.Event{Type: events.TypePluginFailed, At: at,
		Data: json.RawMessage(`{"plugin":"weather","command":"weather","outcome":"Timeout","duration_ms":10000}`)})
	require.True(t, ok)
	assert.Equal(t, "plugin", a.Kind)
	assert.Equal(t, "weather /weather", a.Subject)
	assert.Equal(t, "Timeout", a.Outcome)
	assert.Equal(t, 10*time.Second, a.Duration)

	a, ok = activityFromEvent(events.Event{Type: events.TypeInferenceRejected,
		Data: json.RawMessage(`{"session_id":"0123456789abcdef","outcome":"busy"}`)})
	require.True(t, ok)
	assert.Equal(t, "01234567", a.Subject)

	a, ok = activityFromEvent(events.Event{Type: events.TypeRegistryReloaded, Data: json.RawMessage(`{"commands":3}`)})
	require.True(t, ok)
	assert.Equal(t, "3 commands", a.Subject)

	_, ok = activityFromEvent(events.Event{Type: "something.else", Data: json.RawMessage(`{}`)})
	assert.False(t, ok)
}

func TestUpdateAndView(t *testing.T) {
	m := NewMonitor(context.Background(), "http://127.0.0.1:1/", "")
	assert.Equal(t, "http://127.0.0.1:1", m.apiURL)
	assert.Equal(t, "Initializing...", m.View())

	next, _ := m.Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	next, _ = next.Update(readyMsg{Ready: true, Model: "tiny.gguf", QueueDepth: 2, QueueCapacity: 32, PluginsRoutable: 4})
	next, cmd := next.Update(eventMsg(events.Event{ID: 1, Type: events.TypeChatCompleted, At: time.Now(),
		Data: json.RawMessage(`{"session_id":"abc"}`)}))
	assert.NotNil(t, cmd)

	mon := next.(Model)
	require.Len(t, mon.activity, 1)
	assert.Len(t, mon.table.Rows(), 1)
	assert.True(t, mon.connected)

	view := mon.View()
	assert.Contains(t, view, "READY")
	assert.Contains(t, view, "Queue: 2/32")
	assert.Contains(t, view, "chat.completed")

	_, cmd = mon.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestFetchReadyDecodesNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/ready", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"ready":false,"llm_loaded":true,"memory_ok":false,"model":"m","queue_capacity":32}`))
	}))
	defer srv.Close()

	msg := fetchReady(srv.URL)()
	r, ok := msg.(readyMsg)
	require.True(t, ok, "got %T", msg)
	assert.False(t, r.Ready)
	assert.True(t, r.LLMLoaded)
	assert.Equal(t, 32, r.QueueCapacity)
}
