// Package config handles loading and validating grcpilot configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for grcpilot.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Default: ~/.grcpilot/data. Override: GRCPILOT_DATA_DIR env var.
	Log           LogConfig            `json:"log" yaml:"log"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite under DataDir
	Security      SecurityConfig       `json:"security" yaml:"security"`
	HTTP          HTTPConfig           `json:"http" yaml:"http"`
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Agent         *AgentConfig         `json:"agent,omitempty" yaml:"agent,omitempty"`
	Metering      *MeteringConfig      `json:"metering,omitempty" yaml:"metering,omitempty"`
	Integrations  *IntegrationsConfig  `json:"integrations,omitempty" yaml:"integrations,omitempty"`
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = health sweep enabled with defaults
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error. Default: info.
	Format string `json:"format" yaml:"format"` // json (default) or text.
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data directory.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: <data_dir>/grcpilot.db.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: GRCPILOT_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// SecurityConfig configures caller authentication and role permissions.
type SecurityConfig struct {
	JWTSecret   string                `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty"` // Override: GRCPILOT_JWT_SECRET env var.
	APIKeys     map[string]string     `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`     // API key → user ID.
	Roles       map[string]RoleConfig `json:"roles,omitempty" yaml:"roles,omitempty"`           // Empty = built-in roles.
	DefaultRole string                `json:"default_role" yaml:"default_role"`                 // Role given to a tenant's creator. Default: owner.
	LeewaySec   int                   `json:"leeway_seconds" yaml:"leeway_seconds"`             // Clock skew tolerated on JWT exp/nbf.
}

// RoleConfig lists the permissions granted by a role.
type RoleConfig struct {
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// CreatorRole returns the role given to a tenant's first member.
func (s SecurityConfig) CreatorRole() string {
	if s.DefaultRole != "" {
		return s.DefaultRole
	}
	return "owner"
}

// Leeway returns the JWT clock skew tolerance.
func (s SecurityConfig) Leeway() time.Duration {
	return time.Duration(s.LeewaySec) * time.Second
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080". Override: GRCPILOT_LISTEN_ADDR env var.
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 1 MiB.
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	WebSocket           bool            `json:"websocket" yaml:"websocket"` // Enable the WebSocket Converse transport.
}

// Addr returns the listen address.
func (h HTTPConfig) Addr() string {
	if h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// MaxBodyBytes returns the request body limit.
func (h HTTPConfig) MaxBodyBytes() int64 {
	if h.MaxRequestSizeBytes > 0 {
		return h.MaxRequestSizeBytes
	}
	return 1 << 20
}

// RateLimitConfig configures per-user rate limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = disabled.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// ProvidersConfig configures the model provider.
type ProvidersConfig struct {
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
}

// AnthropicConfig configures the Anthropic Messages API client.
type AnthropicConfig struct {
	APIKey    string `json:"api_key" yaml:"api_key"` // Override: ANTHROPIC_API_KEY env var.
	Model     string `json:"model" yaml:"model"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"` // Default: 4096.
}

// DefaultModel is used when providers.anthropic.model is empty.
const DefaultModel = "claude-sonnet-4-20250514"

// ModelName returns the configured model.
func (a AnthropicConfig) ModelName() string {
	if a.Model != "" {
		return a.Model
	}
	return DefaultModel
}

// AgentConfig bounds the conversation loop.
type AgentConfig struct {
	MaxLoopIterations  int `json:"max_iterations" yaml:"max_iterations"`             // Default: 4.
	MaxHistory         int `json:"max_history_messages" yaml:"max_history_messages"` // Default: 20.
	LLMTimeoutSeconds  int `json:"llm_timeout_seconds" yaml:"llm_timeout_seconds"`   // Default: 120.
	ReadTimeoutSeconds int `json:"read_timeout_seconds" yaml:"read_timeout_seconds"` // Default: 10.
}

// MaxIterations returns the model round-trip bound per turn.
func (a *AgentConfig) MaxIterations() int {
	if a != nil && a.MaxLoopIterations > 0 {
		return a.MaxLoopIterations
	}
	return 4
}

// MaxHistoryMessages returns how many client-supplied history messages are kept.
func (a *AgentConfig) MaxHistoryMessages() int {
	if a != nil && a.MaxHistory > 0 {
		return a.MaxHistory
	}
	return 20
}

// LLMTimeout bounds each model call.
func (a *AgentConfig) LLMTimeout() time.Duration {
	if a != nil && a.LLMTimeoutSeconds > 0 {
		return time.Duration(a.LLMTimeoutSeconds) * time.Second
	}
	return 120 * time.Second
}

// ReadTimeout bounds each read tool call.
func (a *AgentConfig) ReadTimeout() time.Duration {
	if a != nil && a.ReadTimeoutSeconds > 0 {
		return time.Duration(a.ReadTimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

// MeteringConfig configures the free-tier write allowance.
type MeteringConfig struct {
	FreeTier *int `json:"free_tier_limit,omitempty" yaml:"free_tier_limit,omitempty"` // Default: 25. Zero is allowed.
}

// DefaultFreeTierLimit is the write allowance of a new tenant.
const DefaultFreeTierLimit = 25

// FreeTierLimit returns the write limit given to new tenants.
func (m *MeteringConfig) FreeTierLimit() int {
	if m != nil && m.FreeTier != nil {
		return *m.FreeTier
	}
	return DefaultFreeTierLimit
}

// IntegrationsConfig configures calls to external systems.
type IntegrationsConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 15.
}

// Timeout bounds each external call.
func (i *IntegrationsConfig) Timeout() time.Duration {
	if i != nil && i.TimeoutSeconds > 0 {
		return time.Duration(i.TimeoutSeconds) * time.Second
	}
	return 15 * time.Second
}

// SchedulerConfig configures the integration health sweep.
type SchedulerConfig struct {
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"` // Default: true.
	Spec    string `json:"spec" yaml:"spec"`                           // Cron spec. Default: "@every 30m".
}

// SweepEnabled reports whether the health sweep runs.
func (s *SchedulerConfig) SweepEnabled() bool {
	return s == nil || s.Enabled == nil || *s.Enabled
}

// SweepSpec returns the cron spec of the health sweep.
func (s *SchedulerConfig) SweepSpec() string {
	if s != nil && s.Spec != "" {
		return s.Spec
	}
	return "@every 30m"
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path.
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "grcpilot"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB bool `json:"include_db" yaml:"include_db"`
}

// DefaultConfigPath returns the default config file path (~/.grcpilot/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/grcpilot.yaml"
	}
	return filepath.Join(home, ".grcpilot", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// An empty path yields the defaults. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		resolved, err := resolvePath(path)
		if err != nil {
			return nil, fmt.Errorf("resolving config path %s: %w", path, err)
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", resolved, err)
		}
		switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
			}
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
			}
		}
	}

	cfg.applyEnv()

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".grcpilot", "data")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("GRCPILOT_JWT_SECRET"); v != "" {
		c.Security.JWTSecret = v
	}
	if v := os.Getenv("GRCPILOT_LISTEN_ADDR"); v != "" {
		c.HTTP.ListenAddr = v
	}
	if v := os.Getenv("GRCPILOT_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("GRCPILOT_DB_DSN"); v != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Driver = "postgres"
		c.Storage.Postgres.DSN = v
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".grcpilot", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		if p, err := resolvePath(c.Storage.SQLite.Path); err == nil {
			return p
		}
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "grcpilot.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not supported (use debug, info, warn or error)", c.Log.Level)
	}
	switch c.StorageDriverName() {
	case "sqlite":
	case "postgres":
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required (set GRCPILOT_DB_DSN env var)")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
	}
	if c.Metering.FreeTierLimit() < 0 {
		return fmt.Errorf("metering.free_tier_limit must not be negative")
	}
	if c.HTTP.RateLimit.RequestsPerMinute < 0 || c.HTTP.RateLimit.BurstSize < 0 {
		return fmt.Errorf("http.rate_limit values must not be negative")
	}
	if c.Security.DefaultRole != "" && len(c.Security.Roles) > 0 {
		if _, ok := c.Security.Roles[c.Security.DefaultRole]; !ok {
			return fmt.Errorf("security.default_role %q not found in roles", c.Security.DefaultRole)
		}
	}
	if t := c.Observability; t != nil && t.Tracing != nil && t.Tracing.Enabled {
		switch t.Tracing.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", t.Tracing.Protocol)
		}
		if t.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
	}
	return nil
}
