// Package session persists workflow sessions so a suspended approval
// survives process restarts.
package session

import (
	"time"

	"github.com/dkoren/tagsmith/internal/llm"
)

// Status is the durable state of a workflow session.
type Status string

const (
	// StatusRunning means the session has no pending approval and can
	// accept a new user turn.
	StatusRunning Status = "running"
	// StatusSuspended means a proposed tool invocation set is awaiting
	// explicit approval or rejection. This state is durable and
	// unbounded in wall-clock time.
	StatusSuspended Status = "suspended_for_approval"
	// StatusTerminated means the last turn delivered a final answer.
	StatusTerminated Status = "terminated"
)

// Turn is one append-only entry in a session's conversation log.
type Turn struct {
	Role       string         `json:"role"` // user, assistant, tool
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"` // For tool turns
	ToolName   string         `json:"tool_name,omitempty"`    // For tool turns
	Timestamp  time.Time      `json:"timestamp"`
}

// Session is the full restorable state of one workflow: the ordered
// turn log, the durable status, and, while suspended, the exact
// pending invocation set.
type Session struct {
	ID        string         `json:"id"`
	Status    Status         `json:"status"`
	Pending   []llm.ToolCall `json:"pending,omitempty"`
	Turns     []Turn         `json:"turns"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Messages converts the turn log into oracle wire messages.
func (s *Session) Messages() []llm.Message {
	msgs := make([]llm.Message, 0, len(s.Turns))
	for _, t := range s.Turns {
		msgs = append(msgs, llm.Message{
			Role:       t.Role,
			Content:    t.Content,
			ToolCalls:  t.ToolCalls,
			ToolCallID: t.ToolCallID,
		})
	}
	return msgs
}
