package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jkaninda/grcpilot/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sse(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		var probe struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal([]byte(e), &probe)
		fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", probe.Type, e)
	}
	return b.String()
}

func TestStreamMessageAssemblesTextAndToolUse(t *testing.T) {
	body := sse(
		`{"type":"message_start","message":{"content":[],"usage":{"input_tokens":42,"output_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Creating "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"the risk."}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_01","name":"create_risk","input":{}}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"title\": \"Phish"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"ing\", \"likelihood\": 4}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":37}}`,
		`{"type":"message_stop"}`,
	)

	var gotReq apiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != messagesPath {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "sk-test" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("Anthropic-Version") != apiVersion {
			t.Errorf("Anthropic-Version = %q", r.Header.Get("Anthropic-Version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	c := NewClient("sk-test", "claude-test", discardLogger(), WithBaseURL(srv.URL))

	var chunks []string
	resp, err := c.StreamMessage(context.Background(), &llm.Request{
		SystemPrompt: "sys",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "add a phishing risk"}},
		Tools:        []llm.ToolDefinition{{Name: "create_risk", InputSchema: map[string]any{"type": "object"}}},
	}, func(delta string) error {
		chunks = append(chunks, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}

	if !gotReq.Stream || gotReq.Model != "claude-test" || len(gotReq.Tools) != 1 {
		t.Errorf("unexpected request: %+v", gotReq)
	}
	if strings.Join(chunks, "|") != "Creating |the risk." {
		t.Errorf("chunks = %q", chunks)
	}
	if resp.Content != "Creating the risk." {
		t.Errorf("content = %q", resp.Content)
	}
	if !resp.HasToolUse() {
		t.Fatal("expected tool use")
	}
	calls := resp.ToolUseBlocks()
	if len(calls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(calls))
	}
	if calls[0].ID != "toolu_01" || calls[0].Name != "create_risk" {
		t.Errorf("call = %+v", calls[0])
	}
	if calls[0].Input["title"] != "Phishing" || calls[0].Input["likelihood"] != float64(4) {
		t.Errorf("input = %v", calls[0].Input)
	}
	if resp.Usage.InputTokens != 42 || resp.Usage.OutputTokens != 37 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestStreamMessageHandlerErrorAborts(t *testing.T) {
	body := sse(
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"a"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"b"}}`,
		`{"type":"message_stop"}`,
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	c := NewClient("k", "m", discardLogger(), WithBaseURL(srv.URL))
	stop := errors.New("client gone")
	calls := 0
	_, err := c.StreamMessage(context.Background(), &llm.Request{}, func(string) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("err = %v, want %v", err, stop)
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestStreamMessageErrorEvent(t *testing.T) {
	body := sse(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	c := NewClient("k", "m", discardLogger(), WithBaseURL(srv.URL))
	_, err := c.StreamMessage(context.Background(), &llm.Request{}, nil)
	if err == nil || !strings.Contains(err.Error(), "overloaded_error") {
		t.Fatalf("err = %v", err)
	}
}

func TestSendMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"bad key"}`)
	}))
	defer srv.Close()

	c := NewClient("k", "m", discardLogger(), WithBaseURL(srv.URL))
	_, err := c.SendMessage(context.Background(), &llm.Request{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v, want APIError 401", err)
	}
}

func TestSendMessageParsesBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{
			"content":[
				{"type":"text","text":"Looking up."},
				{"type":"tool_use","id":"t1","name":"search_risks","input":{"query":"vendor"}}
			],
			"stop_reason":"tool_use",
			"usage":{"input_tokens":10,"output_tokens":5}
		}`)
	}))
	defer srv.Close()

	c := NewClient("k", "m", discardLogger(), WithBaseURL(srv.URL))
	resp, err := c.SendMessage(context.Background(), &llm.Request{})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.Content != "Looking up." || len(resp.ToolUseBlocks()) != 1 {
		t.Errorf("resp = %+v", resp)
	}
	msg := resp.AssistantMessage()
	if msg.Role != llm.RoleAssistant || len(msg.ContentBlocks) != 2 {
		t.Errorf("assistant message = %+v", msg)
	}
}
