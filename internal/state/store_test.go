package state

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/edgeclaw/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "memory.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestStoreHistoryEmpty(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	turns, err := s.History(context.Background(), "nobody", 5)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestStoreHistoryOldestFirstAndLimited(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	for i, msg := range []string{"one", "two", "three"} {
		require.NoError(t, s.SaveConversation(ctx, Turn{
			SessionID:    "s1",
			UserMsg:      msg,
			AssistantMsg: "re:" + msg,
			Model:        "mock",
			CreatedAt:    time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
		}))
	}
	require.NoError(t, s.SaveConversation(ctx, Turn{SessionID: "s2", UserMsg: "other", Model: "mock"}))

	turns, err := s.History(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "two", turns[0].UserMsg)
	assert.Equal(t, "three", turns[1].UserMsg)
	assert.Equal(t, "re:three", turns[1].AssistantMsg)
	assert.Equal(t, 2, turns[1].CreatedAt.Second())
}

func TestStoreSaveRequiresSession(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	assert.Error(t, s.SaveConversation(context.Background(), Turn{UserMsg: "x"}))
}

func TestStoreAuditLog(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.LogAudit(ctx, "plugin_call", map[string]any{"plugin": "echo", "ok": true}))
	require.NoError(t, s.LogAudit(ctx, "startup", nil))

	entries, err := s.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "startup", entries[0].EventType)
	assert.JSONEq(t, `{}`, string(entries[0].Payload))
	assert.Equal(t, "plugin_call", entries[1].EventType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(entries[1].Payload, &payload))
	assert.Equal(t, "echo", payload["plugin"])
}

func TestStoreAuditSizeLimit(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	big := strings.Repeat("a", DefaultMaxAuditBytes+1)
	err := s.LogAudit(context.Background(), "huge", map[string]string{"blob": big})
	assert.Error(t, err)
}

func TestStorePing(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
