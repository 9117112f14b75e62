package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jkaninda/grcpilot/internal/integrations"
)

func TestCreateIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/api/2/issue" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ops@acme.io" || pass != "tok" {
			t.Errorf("basic auth = %q/%q", user, pass)
		}
		var body createIssueRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body.Fields.Project.Key != "SEC" || body.Fields.IssueType.Name != "Task" || body.Fields.Summary != "Rotate keys" {
			t.Errorf("fields = %+v", body.Fields)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"10001","key":"SEC-42","self":"x"}`))
	}))
	defer srv.Close()

	cfg := integrations.Config{KeyBaseURL: srv.URL, KeyEmail: "ops@acme.io", KeyAPIToken: "tok", KeyProjectKey: "SEC"}
	ref, err := New().CreateIssue(context.Background(), cfg, integrations.Issue{Summary: "Rotate keys"})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if ref.Key != "SEC-42" || ref.URL != srv.URL+"/browse/SEC-42" {
		t.Errorf("ref = %+v", ref)
	}
}

func TestCreateIssue_NotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := integrations.Config{KeyBaseURL: srv.URL, KeyEmail: "a", KeyAPIToken: "b", KeyProjectKey: "SEC"}
	if _, err := New().CreateIssue(context.Background(), cfg, integrations.Issue{Summary: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestCreateIssue_RequiresProject(t *testing.T) {
	cfg := integrations.Config{KeyBaseURL: "http://unused", KeyEmail: "a", KeyAPIToken: "b"}
	if _, err := New().CreateIssue(context.Background(), cfg, integrations.Issue{Summary: "x"}); err == nil {
		t.Fatal("expected missing project error")
	}
}

func TestTest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/2/myself" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"accountId":"abc"}`))
	}))
	defer srv.Close()

	cfg := integrations.Config{KeyBaseURL: srv.URL, KeyEmail: "a", KeyAPIToken: "b"}
	if err := New().Test(context.Background(), cfg); err != nil {
		t.Fatalf("Test: %v", err)
	}
}
