package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dkoren/tagsmith/internal/llm"
	"github.com/dkoren/tagsmith/internal/session"
	"github.com/dkoren/tagsmith/internal/tools"
)

// Retriever resolves a natural-language query to an ordered file set.
type Retriever interface {
	Resolve(ctx context.Context, query string) ([]string, error)
}

// Config for the workflow engine.
type Config struct {
	// Model is the reasoning model passed to the oracle.
	Model string
	// LibraryPath appears in the system instruction so the oracle knows
	// where the files live.
	LibraryPath string
}

// Engine is the approval-gated workflow engine. Every user turn runs
// Retrieve → Propose; a proposal that names tools suspends the session
// for approval, anything else terminates the turn with an answer. All
// collaborators are injected; there is no ambient state, so tests and
// multiple engines can run with independent backends.
type Engine struct {
	sessions  *session.Store
	retriever Retriever
	oracle    llm.Client
	executor  *Executor
	cfg       Config
	log       *slog.Logger

	mu     sync.Mutex
	active map[string]bool // session ids with a request in flight
}

// New creates a workflow engine.
func New(sessions *session.Store, retriever Retriever, oracle llm.Client, executor *Executor, cfg Config, log *slog.Logger) *Engine {
	return &Engine{
		sessions:  sessions,
		retriever: retriever,
		oracle:    oracle,
		executor:  executor,
		cfg:       cfg,
		log:       log,
		active:    make(map[string]bool),
	}
}

// Result is what a workflow step hands back to the presentation layer.
type Result struct {
	Status  session.Status `json:"status"`
	Content string         `json:"content"`
	Pending []llm.ToolCall `json:"pending,omitempty"`
}

// acquire marks a session as having a request in flight. Returns false
// if one already is, in which case the caller must fail with ErrSessionBusy.
func (e *Engine) acquire(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[id] {
		return false
	}
	e.active[id] = true
	return true
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, id)
}

// systemInstruction enumerates the legal tools for the oracle. The
// catalog itself travels separately as structured tool definitions;
// this prose sets the policy around them.
func (e *Engine) systemInstruction() string {
	var b strings.Builder
	b.WriteString("You are a metadata editing agent for music files.\n")
	b.WriteString("Your job is to update metadata of audio files based on user requests.\n")
	if e.cfg.LibraryPath != "" {
		fmt.Fprintf(&b, "Files are located in: %s\n", e.cfg.LibraryPath)
	}
	b.WriteString("\nAvailable metadata update tools:\n")
	for _, spec := range tools.Catalog() {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
	}
	b.WriteString("\nUse these tools only when the user explicitly asks to update metadata.\n")
	b.WriteString("If no files were found, inform the user that no files matched.\n")
	return b.String()
}

// retrievalTurn formats the retrieve step's result as a conversation
// turn. A failed retrieval is surfaced in-band and the workflow
// proceeds with an empty result set.
func retrievalTurn(paths []string, err error) session.Turn {
	var content string
	switch {
	case err != nil:
		content = fmt.Sprintf("File search failed: %v. Proceeding without search results.", err)
	case len(paths) == 0:
		content = "No files matched the request."
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "Found %d file(s) matching the request:\n", len(paths))
		for _, p := range paths {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\nWhat metadata update should be applied to these files?")
		content = b.String()
	}
	return session.Turn{Role: "assistant", Content: content}
}

// Submit runs one user turn: retrieve, then ask the oracle for a
// proposal. If the proposal names tools the session suspends and the
// pending set is returned without executing anything; otherwise the
// oracle's text is the final answer.
func (e *Engine) Submit(ctx context.Context, sessionID, userText string) (*Result, error) {
	if !e.acquire(sessionID) {
		return nil, ErrSessionBusy
	}
	defer e.release(sessionID)

	sess, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess != nil && sess.Status == session.StatusSuspended {
		return nil, ErrPendingApproval
	}

	e.log.Info("turn started", "session", sessionID)

	// Retrieve.
	paths, retrieveErr := e.retriever.Resolve(ctx, userText)
	if retrieveErr != nil {
		e.log.Warn("retrieval failed", "session", sessionID, "error", retrieveErr)
	}

	userTurn := session.Turn{Role: "user", Content: userText}
	searchTurn := retrievalTurn(paths, retrieveErr)

	// Propose.
	messages := []llm.Message{{Role: "system", Content: e.systemInstruction()}}
	if sess != nil {
		messages = append(messages, sess.Messages()...)
	}
	messages = append(messages,
		llm.Message{Role: userTurn.Role, Content: userTurn.Content},
		llm.Message{Role: searchTurn.Role, Content: searchTurn.Content},
	)

	resp, err := e.oracle.Chat(ctx, e.cfg.Model, messages, tools.Definitions())
	if err != nil {
		// Oracle failures are surfaced as a turn; the session stays
		// ready for a fresh utterance.
		e.log.Error("oracle call failed", "session", sessionID, "error", err)
		errTurn := session.Turn{Role: "assistant", Content: fmt.Sprintf("The request could not be processed: %v", err)}
		if err := e.sessions.Append(sessionID, []session.Turn{userTurn, searchTurn, errTurn}, session.StatusRunning, nil); err != nil {
			return nil, fmt.Errorf("persist turns: %w", err)
		}
		return &Result{Status: session.StatusRunning, Content: errTurn.Content}, nil
	}

	proposal := resp.Message

	if len(proposal.ToolCalls) > 0 {
		// The oracle proposed mutations: checkpoint and suspend. Every
		// call needs an id so reject can synthesize matching results.
		pending := make([]llm.ToolCall, len(proposal.ToolCalls))
		copy(pending, proposal.ToolCalls)
		for i := range pending {
			if pending[i].ID == "" {
				id, err := uuid.NewV7()
				if err != nil {
					return nil, fmt.Errorf("generate call id: %w", err)
				}
				pending[i].ID = id.String()
			}
		}

		proposalTurn := session.Turn{
			Role:      "assistant",
			Content:   proposal.Content,
			ToolCalls: pending,
		}
		if err := e.sessions.Append(sessionID, []session.Turn{userTurn, searchTurn, proposalTurn}, session.StatusSuspended, pending); err != nil {
			return nil, fmt.Errorf("persist suspension: %w", err)
		}

		e.log.Info("suspended for approval", "session", sessionID, "pending", len(pending))
		return &Result{
			Status:  session.StatusSuspended,
			Content: fmt.Sprintf("%d proposed action(s) awaiting approval.", len(pending)),
			Pending: pending,
		}, nil
	}

	// Text-only proposal: final answer.
	answerTurn := session.Turn{Role: "assistant", Content: proposal.Content}
	if err := e.sessions.Append(sessionID, []session.Turn{userTurn, searchTurn, answerTurn}, session.StatusTerminated, nil); err != nil {
		return nil, fmt.Errorf("persist turns: %w", err)
	}

	e.log.Info("turn completed", "session", sessionID)
	return &Result{Status: session.StatusTerminated, Content: proposal.Content}, nil
}

// Approve executes the pending invocation set in proposal order. All
// invocations are validated before the first write; a validation error
// leaves the session suspended and untouched so the caller can reject
// and rephrase.
func (e *Engine) Approve(ctx context.Context, sessionID string) (*Result, error) {
	if !e.acquire(sessionID) {
		return nil, ErrSessionBusy
	}
	defer e.release(sessionID)

	sess, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.Status != session.StatusSuspended {
		return nil, ErrNoPendingApproval
	}

	// Validate everything up front: a malformed invocation must cause
	// zero writes, not a partial batch.
	invocations := make([]*tools.Invocation, len(sess.Pending))
	for i, call := range sess.Pending {
		inv, err := tools.Parse(call)
		if err != nil {
			e.log.Warn("pending invocation failed validation", "session", sessionID, "tool", call.Function.Name, "error", err)
			return nil, err
		}
		invocations[i] = inv
	}

	e.log.Info("approval received", "session", sessionID, "invocations", len(invocations))

	var turns []session.Turn
	var summaries []string
	for i, inv := range invocations {
		outcome := e.executor.Execute(ctx, inv)
		summary := outcome.Summary()
		summaries = append(summaries, summary)
		turns = append(turns, session.Turn{
			Role:       "tool",
			Content:    summary,
			ToolCallID: sess.Pending[i].ID,
			ToolName:   inv.Spec.Name,
		})
	}

	if err := e.sessions.Append(sessionID, turns, session.StatusTerminated, nil); err != nil {
		return nil, fmt.Errorf("persist outcomes: %w", err)
	}

	return &Result{
		Status:  session.StatusTerminated,
		Content: strings.Join(summaries, "\n\n"),
	}, nil
}

// Reject cancels the pending invocation set without touching storage.
// One cancellation turn is recorded per pending call because the oracle's
// protocol requires a result for every call it proposed, otherwise the
// next oracle call in this session would be malformed.
func (e *Engine) Reject(ctx context.Context, sessionID string) (*Result, error) {
	if !e.acquire(sessionID) {
		return nil, ErrSessionBusy
	}
	defer e.release(sessionID)

	sess, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.Status != session.StatusSuspended {
		return nil, ErrNoPendingApproval
	}

	turns := make([]session.Turn, len(sess.Pending))
	for i, call := range sess.Pending {
		turns[i] = session.Turn{
			Role:       "tool",
			Content:    "Tool execution cancelled by user.",
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
		}
	}

	if err := e.sessions.Append(sessionID, turns, session.StatusTerminated, nil); err != nil {
		return nil, fmt.Errorf("persist cancellation: %w", err)
	}

	e.log.Info("proposal rejected", "session", sessionID, "cancelled", len(sess.Pending))
	return &Result{
		Status:  session.StatusTerminated,
		Content: fmt.Sprintf("Cancelled %d proposed action(s). No files were changed.", len(sess.Pending)),
	}, nil
}

// Reset destroys a session's conversation log and pending state.
func (e *Engine) Reset(sessionID string) error {
	if !e.acquire(sessionID) {
		return ErrSessionBusy
	}
	defer e.release(sessionID)

	return e.sessions.Delete(sessionID)
}

// History returns the persisted session, or nil if it does not exist.
func (e *Engine) History(sessionID string) (*session.Session, error) {
	return e.sessions.Get(sessionID)
}
