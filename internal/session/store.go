package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dkoren/tagsmith/internal/llm"
)

// Store handles session persistence in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a session store using the given database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			pending_calls TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			tool_call_id TEXT,
			tool_name TEXT,
			created_at TEXT NOT NULL,
			UNIQUE(session_id, seq),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_turns_session
			ON turns(session_id, seq);
	`)
	return err
}

// Get retrieves a session with its full turn log. Returns (nil, nil)
// when the session does not exist.
func (s *Store) Get(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, status, pending_calls, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)

	var sess Session
	var pending sql.NullString
	var createdStr, updatedStr string
	err := row.Scan(&sess.ID, (*string)(&sess.Status), &pending, &createdStr, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	if pending.Valid && pending.String != "" {
		if err := json.Unmarshal([]byte(pending.String), &sess.Pending); err != nil {
			return nil, fmt.Errorf("unmarshal pending calls: %w", err)
		}
	}

	rows, err := s.db.Query(`
		SELECT role, content, tool_calls, tool_call_id, tool_name, created_at
		FROM turns WHERE session_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t Turn
		var calls, callID, toolName sql.NullString
		var ts string
		if err := rows.Scan(&t.Role, &t.Content, &calls, &callID, &toolName, &ts); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &t.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		t.ToolCallID = callID.String
		t.ToolName = toolName.String
		t.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		sess.Turns = append(sess.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &sess, nil
}

// Append writes turns to a session's log and updates its durable
// status and pending invocation set, all in one transaction. The
// session row is created on first append.
func (s *Store) Append(id string, turns []Turn, status Status, pending []llm.ToolCall) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	var pendingJSON string
	if len(pending) > 0 {
		b, err := json.Marshal(pending)
		if err != nil {
			return fmt.Errorf("marshal pending calls: %w", err)
		}
		pendingJSON = string(b)
	}

	_, err = tx.Exec(`
		INSERT INTO sessions (id, status, pending_calls, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			pending_calls = excluded.pending_calls,
			updated_at = excluded.updated_at
	`, id, status, pendingJSON, now, now)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	var seq int
	if err := tx.QueryRow(`
		SELECT COALESCE(MAX(seq), -1) + 1 FROM turns WHERE session_id = ?
	`, id).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	for i, t := range turns {
		turnID, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate turn id: %w", err)
		}

		var callsJSON string
		if len(t.ToolCalls) > 0 {
			b, err := json.Marshal(t.ToolCalls)
			if err != nil {
				return fmt.Errorf("marshal tool calls: %w", err)
			}
			callsJSON = string(b)
		}

		ts := t.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}

		_, err = tx.Exec(`
			INSERT INTO turns (id, session_id, seq, role, content, tool_calls, tool_call_id, tool_name, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, turnID.String(), id, seq+i, t.Role, t.Content, callsJSON, t.ToolCallID, t.ToolName, ts.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	return tx.Commit()
}

// Delete removes a session and its turns. Deleting a session that does
// not exist is not an error; reset is idempotent.
func (s *Store) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM turns WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}
