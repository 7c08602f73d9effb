package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultMaxAuditBytes caps one audit payload.
const DefaultMaxAuditBytes = 64 * 1024

// Turn is one persisted user/assistant exchange.
type Turn struct {
	SessionID    string    `json:"session_id"`
	UserMsg      string    `json:"user_msg"`
	AssistantMsg string    `json:"assistant_msg"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        int64           `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store persists conversations and the audit log.
type Store struct {
	db            *sql.DB
	maxAuditBytes int
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:            db,
		maxAuditBytes: DefaultMaxAuditBytes,
	}
}

// SaveConversation appends a turn. CreatedAt defaults to now.
func (s *Store) SaveConversation(ctx context.Context, t Turn) error {
	if t.SessionID == "" {
		return fmt.Errorf("session id is empty")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO conversations(session_id, user_msg, assistant_msg, model, created_at)
VALUES(?, ?, ?, ?, ?);
`, t.SessionID, t.UserMsg, t.AssistantMsg, t.Model, t.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// History returns up to limit most recent turns for a session, oldest first.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is empty")
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, user_msg, assistant_msg, model, created_at
FROM conversations
WHERE session_id = ?
ORDER BY id DESC
LIMIT ?;
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t       Turn
			created string
		)
		if err := rows.Scan(&t.SessionID, &t.UserMsg, &t.AssistantMsg, &t.Model, &created); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// LogAudit records an event. payload is marshalled to JSON; nil becomes {}.
func (s *Store) LogAudit(ctx context.Context, eventType string, payload any) error {
	if eventType == "" {
		return fmt.Errorf("event type is empty")
	}

	raw := []byte("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal audit payload: %w", err)
		}
		raw = b
	}
	if len(raw) > s.maxAuditBytes {
		return fmt.Errorf("audit payload exceeds max size (%d bytes)", s.maxAuditBytes)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO audit_log(event_type, payload, created_at)
VALUES(?, ?, ?);
`, eventType, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("log audit: %w", err)
	}
	return nil
}

// RecentAudit returns up to limit newest audit entries, newest first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, event_type, payload, created_at
FROM audit_log
ORDER BY id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e       AuditEntry
			payload string
			created string
		)
		if err := rows.Scan(&e.ID, &e.EventType, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if !json.Valid([]byte(payload)) {
			return nil, fmt.Errorf("stored audit payload is invalid JSON for id=%d", e.ID)
		}
		e.Payload = json.RawMessage(payload)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1;").Scan(&one); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}
