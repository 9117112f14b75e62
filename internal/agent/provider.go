package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/llm"
	"github.com/jkaninda/grcpilot/internal/storage"
)

// ErrNoProvider is returned when no model provider is configured for a tenant.
var ErrNoProvider = errors.New("agent: no model provider configured")

// ProviderFactory selects the model provider for a tenant.
type ProviderFactory interface {
	Provider(ctx context.Context, tenantID *uuid.UUID) (llm.StreamingProvider, error)
}

// StaticProvider serves the same provider to every tenant.
type StaticProvider struct {
	P llm.Provider
}

func (s StaticProvider) Provider(context.Context, *uuid.UUID) (llm.StreamingProvider, error) {
	if s.P == nil {
		return nil, ErrNoProvider
	}
	return llm.AsStreaming(s.P), nil
}

// CredentialSource reads tenant-supplied model credentials.
type CredentialSource interface {
	Credential(ctx context.Context, tenantID uuid.UUID) (*domain.Credential, error)
}

// BuildFunc creates a provider for a tenant's own API key.
type BuildFunc func(apiKey string) llm.Provider

// CredentialProviders prefers a tenant's own API key and falls back to the
// shared provider.
type CredentialProviders struct {
	creds    CredentialSource
	fallback llm.Provider
	build    BuildFunc
	logger   *slog.Logger
}

// NewCredentialProviders creates a factory. fallback may be nil when every
// tenant must bring its own key.
func NewCredentialProviders(creds CredentialSource, fallback llm.Provider, build BuildFunc, logger *slog.Logger) *CredentialProviders {
	return &CredentialProviders{creds: creds, fallback: fallback, build: build, logger: logger}
}

func (f *CredentialProviders) Provider(ctx context.Context, tenantID *uuid.UUID) (llm.StreamingProvider, error) {
	if tenantID != nil && f.creds != nil && f.build != nil {
		cred, err := f.creds.Credential(ctx, *tenantID)
		switch {
		case err == nil && cred.APIKey != "":
			return llm.AsStreaming(f.build(cred.APIKey)), nil
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			f.logger.WarnContext(ctx, "credential lookup failed, using shared provider",
				slog.String("tenant_id", tenantID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if f.fallback == nil {
		return nil, fmt.Errorf("%w: tenant has no credential", ErrNoProvider)
	}
	return llm.AsStreaming(f.fallback), nil
}
