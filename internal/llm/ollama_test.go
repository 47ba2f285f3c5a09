package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseTextToolCalls_TaggedFormat(t *testing.T) {
	content := `<tool_call>{"name": "update_title_tool", "arguments": {"filepath": "/m/a.mp3", "title": "X"}}</tool_call>`

	calls := parseTextToolCalls(content)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Function.Name != "update_title_tool" {
		t.Errorf("unexpected name: %s", calls[0].Function.Name)
	}
	if calls[0].Function.Arguments["title"] != "X" {
		t.Errorf("unexpected arguments: %v", calls[0].Function.Arguments)
	}
}

func TestParseTextToolCalls_JSONArray(t *testing.T) {
	content := `[{"name": "a_tool", "arguments": {}}, {"name": "b_tool", "arguments": {}}]`

	calls := parseTextToolCalls(content)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[1].Function.Name != "b_tool" {
		t.Errorf("unexpected name: %s", calls[1].Function.Name)
	}
}

func TestParseTextToolCalls_SingleObject(t *testing.T) {
	calls := parseTextToolCalls(`{"name": "a_tool", "arguments": {"k": "v"}}`)
	if len(calls) != 1 || calls[0].Function.Name != "a_tool" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
}

func TestParseTextToolCalls_PlainProse(t *testing.T) {
	if calls := parseTextToolCalls("The files are already tagged correctly."); calls != nil {
		t.Fatalf("prose must not parse as tool calls: %+v", calls)
	}
	if calls := parseTextToolCalls(""); calls != nil {
		t.Fatalf("empty content must not parse: %+v", calls)
	}
}

func TestChat_NativeToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		if req["model"] != "test-model" {
			t.Errorf("unexpected model: %v", req["model"])
		}
		if req["stream"] != false {
			t.Errorf("streaming must be off, got %v", req["stream"])
		}

		resp := map[string]any{
			"model":      "test-model",
			"created_at": "2026-08-28T10:00:00Z",
			"done":       true,
			"message": map[string]any{
				"role": "assistant",
				"tool_calls": []map[string]any{
					{"function": map[string]any{"name": "update_title_tool", "arguments": map[string]any{"title": "X"}}},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL)
	resp, err := client.Chat(context.Background(), "test-model", []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.Message.ToolCalls))
	}
	if resp.Message.ToolCalls[0].Function.Name != "update_title_tool" {
		t.Errorf("unexpected tool: %s", resp.Message.ToolCalls[0].Function.Name)
	}
}

func TestChat_TextToolCallFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"model": "test-model",
			"done":  true,
			"message": map[string]any{
				"role":    "assistant",
				"content": `{"name": "update_title_tool", "arguments": {"title": "X"}}`,
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL)
	resp, err := client.Chat(context.Background(), "test-model", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("content-embedded call not promoted: %+v", resp.Message)
	}
	if resp.Message.Content != "" {
		t.Errorf("content should be cleared after promotion, got %q", resp.Message.Content)
	}
}

func TestChat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL)
	if _, err := client.Chat(context.Background(), "missing", nil, nil); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}

	srv.Close()
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error after server shutdown")
	}
}
