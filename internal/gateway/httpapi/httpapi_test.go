package httpapi

import (
	"bufio"
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
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/jkaninda/grcpilot/internal/agent"
	"github.com/jkaninda/grcpilot/internal/approval"
	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/identity"
	"github.com/jkaninda/grcpilot/internal/ratelimit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAuth struct{}

func (fakeAuth) Authenticate(_ context.Context, bearer string) (identity.Identity, error) {
	if bearer != "good-token" {
		return identity.Identity{}, identity.ErrUnauthenticated
	}
	return identity.Identity{UserID: "alice", Method: "api_key"}, nil
}

type fakeConversation struct {
	chunks []string
	err    error
	got    chan *agent.Input
}

func (f *fakeConversation) Converse(ctx context.Context, in *agent.Input, emit agent.Emitter) (*agent.Turn, error) {
	if f.got != nil {
		f.got <- in
	}
	for _, c := range f.chunks {
		if err := emit.Text(ctx, c); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &agent.Turn{
		Text: strings.Join(f.chunks, ""),
		PendingActions: []agent.PendingAction{
			{ID: "toolu_1", Name: "create_risk", Input: map[string]any{"title": "Phishing"}},
		},
		Iterations: 2,
	}, nil
}

type fakeTenants struct {
	m *domain.Membership
}

func (f fakeTenants) Lookup(context.Context, string) (*domain.Membership, error) {
	return f.m, nil
}

func newTestGateway(conv Conversation, tenants Tenants, rl *ratelimit.Limiter) *Gateway {
	return NewGateway(Config{EnableWebSocket: true, FreeTierLimit: 25}, fakeAuth{}, conv, nil, tenants, nil, rl, discardLogger())
}

func TestStatusFor(t *testing.T) {
	tests := map[approval.Kind]int{
		approval.KindUnauthenticated:     http.StatusUnauthorized,
		approval.KindForbidden:           http.StatusForbidden,
		approval.KindNotFound:            http.StatusNotFound,
		approval.KindConflict:            http.StatusConflict,
		approval.KindQuotaExceeded:       http.StatusPaymentRequired,
		approval.KindPrerequisiteMissing: http.StatusPreconditionFailed,
		approval.KindUnsupportedAction:   http.StatusBadRequest,
		approval.KindInvalidInput:        http.StatusBadRequest,
		approval.KindInternal:            http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := statusFor(kind); got != want {
			t.Errorf("statusFor(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestErrorResponse(t *testing.T) {
	status, body := errorResponse(&approval.Error{Kind: approval.KindQuotaExceeded, Message: "write quota exceeded", Count: 25, Limit: 25}, "c1")
	if status != http.StatusPaymentRequired {
		t.Errorf("status = %d", status)
	}
	if body.Error.Count == nil || *body.Error.Count != 25 || body.Error.Limit == nil || *body.Error.Limit != 25 {
		t.Errorf("count/limit = %v/%v", body.Error.Count, body.Error.Limit)
	}

	status, body = errorResponse(fmt.Errorf("wrapped: %w", &approval.Error{Kind: approval.KindNotFound, Message: "no such action"}), "")
	if status != http.StatusNotFound || body.Error.Message != "no such action" || body.Error.Count != nil {
		t.Errorf("not found = %d %+v", status, body.Error)
	}

	status, body = errorResponse(errors.New("pq: connection reset"), "c2")
	if status != http.StatusInternalServerError || body.Error.Kind != "Internal" || body.Error.Message != "internal error" {
		t.Errorf("internal = %d %+v", status, body.Error)
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"abc":          "abc",
		"":             "",
	}
	for in, want := range tests {
		if got := bearerToken(in); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	if got := retryAfterSeconds(0); got != 1 {
		t.Errorf("0 → %d, want 1", got)
	}
	if got := retryAfterSeconds(1500 * time.Millisecond); got != 2 {
		t.Errorf("1.5s → %d, want 2", got)
	}
}

// readSSE collects the JSON payloads of every "message" event in body.
func readSSE(t *testing.T, body io.Reader) []map[string]any {
	t.Helper()
	var (
		events []map[string]any
		event  string
	)
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "message":
			var ev map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("decoding %q: %v", line, err)
			}
			events = append(events, ev)
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	return events
}

func postConverse(t *testing.T, srv *httptest.Server, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/converse", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestConverseSSE_StreamsTurn(t *testing.T) {
	tid := uuid.New()
	conv := &fakeConversation{chunks: []string{"Queued ", "a risk."}, got: make(chan *agent.Input, 1)}
	g := newTestGateway(conv, fakeTenants{m: &domain.Membership{TenantID: tid, UserID: "alice"}}, nil)
	srv := httptest.NewServer(g.okapi)
	defer srv.Close()

	resp := postConverse(t, srv, "good-token", `{"message":"log phishing","conversation_id":"conv-1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}

	events := readSSE(t, resp.Body)
	if len(events) != 3 {
		t.Fatalf("events = %v, want two text chunks and done", events)
	}
	for i, want := range []string{"Queued ", "a risk."} {
		if events[i]["type"] != EventText || events[i]["text"] != want {
			t.Errorf("event %d = %v, want text %q", i, events[i], want)
		}
	}
	done := events[2]
	if done["type"] != EventDone || done["conversation_id"] != "conv-1" {
		t.Errorf("done = %v", done)
	}
	pending, ok := done["pending_actions"].([]any)
	if !ok || len(pending) != 1 {
		t.Fatalf("pending_actions = %v", done["pending_actions"])
	}
	action := pending[0].(map[string]any)
	if action["id"] != "toolu_1" || action["name"] != "create_risk" {
		t.Errorf("pending action = %v", action)
	}

	in := <-conv.got
	if in.UserID != "alice" || in.TenantID == nil || *in.TenantID != tid {
		t.Errorf("input = %+v", in)
	}
}

func TestConverseSSE_RejectsBadRequests(t *testing.T) {
	g := newTestGateway(&fakeConversation{}, fakeTenants{}, nil)
	srv := httptest.NewServer(g.okapi)
	defer srv.Close()

	if resp := postConverse(t, srv, "bad-token", `{"message":"hi"}`); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", resp.StatusCode)
	}
	if resp := postConverse(t, srv, "good-token", `{"message":"   "}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", resp.StatusCode)
	}
}

func dial(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if token != "" {
		url += "?token=" + token
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return websocket.Dial(ctx, url, nil)
}

func TestConverseWS_StreamsTurn(t *testing.T) {
	tid := uuid.New()
	conv := &fakeConversation{chunks: []string{"Queued ", "a risk."}, got: make(chan *agent.Input, 1)}
	g := newTestGateway(conv, fakeTenants{m: &domain.Membership{TenantID: tid, UserID: "alice"}}, nil)
	srv := httptest.NewServer(http.HandlerFunc(g.handleConverseWS))
	defer srv.Close()

	conn, _, err := dial(t, srv, "good-token")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, ConverseRequest{Message: "log phishing", Context: map[string]any{"page": "risks"}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var texts []string
	for {
		var ev map[string]any
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev["type"] == EventText {
			texts = append(texts, ev["text"].(string))
			continue
		}
		if ev["type"] != EventDone {
			t.Fatalf("unexpected event %v", ev)
		}
		pending, ok := ev["pending_actions"].([]any)
		if !ok || len(pending) != 1 {
			t.Fatalf("pending_actions = %v", ev["pending_actions"])
		}
		if id := pending[0].(map[string]any)["id"]; id != "toolu_1" {
			t.Errorf("pending id = %v", id)
		}
		if ev["conversation_id"] == "" {
			t.Error("conversation_id should be assigned")
		}
		break
	}
	if strings.Join(texts, "") != "Queued a risk." {
		t.Errorf("texts = %q", texts)
	}

	in := <-conv.got
	if in.UserID != "alice" || in.TenantID == nil || *in.TenantID != tid || in.PageContext["page"] != "risks" {
		t.Errorf("input = %+v", in)
	}
}

func TestConverseWS_Unauthenticated(t *testing.T) {
	g := newTestGateway(&fakeConversation{}, fakeTenants{}, nil)
	srv := httptest.NewServer(http.HandlerFunc(g.handleConverseWS))
	defer srv.Close()

	_, resp, err := dial(t, srv, "bad-token")
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestConverseWS_FailureAndValidation(t *testing.T) {
	conv := &fakeConversation{err: agent.ErrInference}
	g := newTestGateway(conv, fakeTenants{}, ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 1, BurstSize: 2}))
	srv := httptest.NewServer(http.HandlerFunc(g.handleConverseWS))
	defer srv.Close()

	conn, _, err := dial(t, srv, "good-token")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	read := func() Event {
		t.Helper()
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		return ev
	}

	// Empty message is rejected without running a turn.
	_ = wsjson.Write(ctx, conn, ConverseRequest{Message: "  "})
	if ev := read(); ev.Type != EventError || ev.Message != "message is required" {
		t.Errorf("validation event = %+v", ev)
	}

	// Inference failure surfaces a generic message.
	_ = wsjson.Write(ctx, conn, ConverseRequest{Message: "hi"})
	if ev := read(); ev.Type != EventError || ev.Message != turnFailedMessage || ev.CorrelationID == "" {
		t.Errorf("failure event = %+v", ev)
	}

	// Burst of two is spent; the third turn is rate limited.
	_ = wsjson.Write(ctx, conn, ConverseRequest{Message: "again"})
	_ = read()
	_ = wsjson.Write(ctx, conn, ConverseRequest{Message: "and again"})
	if ev := read(); ev.Type != EventError || ev.Message != "rate limit exceeded" {
		t.Errorf("rate limit event = %+v", ev)
	}
}
