package integrations

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/jkaninda/grcpilot/internal/retry"
)

type stubConnector struct{ provider string }

func (s stubConnector) Provider() string { return s.provider }

func (s stubConnector) Test(context.Context, Config) error { return nil }

func (s stubConnector) Notify(context.Context, Config, Message) (string, error) {
	return "1.0", nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubConnector{provider: "slack"}, stubConnector{provider: "github"})

	if _, err := r.Connector("SLACK"); err != nil {
		t.Errorf("Connector(SLACK): %v", err)
	}
	if _, err := r.Connector("pagerduty"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
	if got := strings.Join(r.Providers(), ","); got != "github,slack" {
		t.Errorf("Providers = %q", got)
	}
	if r.Notifier() == nil {
		t.Error("notifier should be the slack connector")
	}
	if r.Issues() != nil {
		t.Error("no issue tracker was registered")
	}
}

func TestRegistry_ClientsFollowProvider(t *testing.T) {
	// github also implements Notifier; only slack may serve notifications.
	gh := stubConnector{provider: "github"}
	r := NewRegistry(gh)
	if r.Notifier() != nil {
		t.Error("a github connector must not be used as the notifier")
	}

	slack := stubConnector{provider: "slack"}
	r = NewRegistry(slack, gh)
	if got, ok := r.Notifier().(stubConnector); !ok || got.provider != "slack" {
		t.Errorf("Notifier() = %v, want the slack connector", r.Notifier())
	}
	if r.Alerts() != nil {
		t.Error("github stub is not an alert source")
	}
}

func TestConfigRequire(t *testing.T) {
	cfg := Config{"token": "x", "owner": " "}
	err := cfg.Require("token", "owner", "repo")
	if !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("err = %v, want ErrMissingConfig", err)
	}
	if !strings.Contains(err.Error(), "owner, repo") {
		t.Errorf("err = %v, should name missing keys", err)
	}
	if got := cfg.Get("base_url", "https://api"); got != "https://api" {
		t.Errorf("Get default = %q", got)
	}
}

func TestCheckResponse(t *testing.T) {
	mk := func(code int) *http.Response {
		return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader("boom"))}
	}
	if err := CheckResponse("github", mk(200)); err != nil {
		t.Errorf("200: %v", err)
	}
	if err := CheckResponse("github", mk(401)); !retry.IsPermanent(err) {
		t.Errorf("401 should be permanent, got %v", err)
	}
	err := CheckResponse("github", mk(503))
	if retry.IsPermanent(err) {
		t.Error("503 should be retryable")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 503 {
		t.Errorf("err = %v, want StatusError 503", err)
	}
	if retry.IsPermanent(CheckResponse("jira", mk(429))) {
		t.Error("429 should be retryable")
	}
}
