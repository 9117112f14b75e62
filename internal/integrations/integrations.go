// Package integrations connects tenants to external systems (GitHub, Jira, Slack).
// Each provider ships a Connector used for connectivity tests plus a typed
// client for the side effects approved actions trigger.
//
// Connector configs come from the integration row and hold credentials; they
// are passed per call and never cached.
package integrations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jkaninda/grcpilot/internal/retry"
)

// Provider names.
const (
	ProviderGitHub = "github"
	ProviderJira   = "jira"
	ProviderSlack  = "slack"
)

// DefaultTimeout bounds every external call.
const DefaultTimeout = 15 * time.Second

var (
	// ErrUnknownProvider is returned for providers with no registered connector.
	ErrUnknownProvider = errors.New("unknown integration provider")
	// ErrMissingConfig is returned when a required config key is empty.
	ErrMissingConfig = errors.New("missing integration config")
)

// Config is the provider-specific key/value configuration of an integration.
type Config map[string]string

// Require returns an error naming every missing key.
func (c Config) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if strings.TrimSpace(c[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}

// Get returns the value for key or def when it is empty.
func (c Config) Get(key, def string) string {
	if v := strings.TrimSpace(c[key]); v != "" {
		return v
	}
	return def
}

// Connector tests connectivity to one provider.
type Connector interface {
	Provider() string
	Test(ctx context.Context, cfg Config) error
}

// Alert is an open security alert reported by a code host.
type Alert struct {
	Number      int
	Severity    string
	Summary     string
	Description string
	Package     string
	URL         string
}

// AlertSource lists open security alerts.
type AlertSource interface {
	ListOpenAlerts(ctx context.Context, cfg Config) ([]Alert, error)
}

// Issue is a ticket to open in an issue tracker.
type Issue struct {
	ProjectKey  string
	Summary     string
	Description string
	IssueType   string
}

// IssueRef identifies a created issue.
type IssueRef struct {
	Key string
	URL string
}

// IssueTracker opens issues.
type IssueTracker interface {
	CreateIssue(ctx context.Context, cfg Config, issue Issue) (IssueRef, error)
}

// Message is a chat notification.
type Message struct {
	Channel string
	Text    string
}

// Notifier posts chat messages and returns the message timestamp.
type Notifier interface {
	Notify(ctx context.Context, cfg Config, msg Message) (string, error)
}

// Registry holds the connector for each provider. Side-effect clients are
// looked up by provider: alerts come from GitHub, issues from Jira and
// notifications from Slack. Register at startup; lookups are safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates a registry with the given connectors.
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[string]Connector)}
	for _, c := range connectors {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the connector for c.Provider().
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[strings.ToLower(c.Provider())] = c
}

func (r *Registry) lookup(provider string) Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connectors[provider]
}

// Alerts returns the GitHub connector as an alert source, or nil.
func (r *Registry) Alerts() AlertSource {
	a, _ := r.lookup(ProviderGitHub).(AlertSource)
	return a
}

// Issues returns the Jira connector as an issue tracker, or nil.
func (r *Registry) Issues() IssueTracker {
	i, _ := r.lookup(ProviderJira).(IssueTracker)
	return i
}

// Notifier returns the Slack connector as a chat notifier, or nil.
func (r *Registry) Notifier() Notifier {
	n, _ := r.lookup(ProviderSlack).(Notifier)
	return n
}

// Connector returns the connector for provider.
func (r *Registry) Connector(provider string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[strings.ToLower(provider)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return c, nil
}

// Providers lists registered provider names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.connectors))
	for p := range r.connectors {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// StatusError is a non-2xx response from an external API.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API returned %d: %s", e.Provider, e.Code, e.Body)
}

// CheckResponse turns a non-2xx response into a *StatusError. Client errors
// other than 429 are marked permanent so retries stop early.
func CheckResponse(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err := &StatusError{Provider: provider, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}

// NewHTTPClient returns an http.Client bounded by timeout (DefaultTimeout when zero).
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
