// Package storetest opens throwaway SQLite stores for tests.
package storetest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/storage"
	"github.com/jkaninda/grcpilot/internal/storage/sqlite"
)

// New returns a migrated SQLite store living in t.TempDir().
func New(t *testing.T) storage.Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "grcpilot.db")}, logger)
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating sqlite store: %v", err)
	}
	return s
}

// Tenant provisions a tenant owned by userID with the given write limit.
func Tenant(t *testing.T, s storage.Store, userID string, writeLimit int) *domain.Membership {
	t.Helper()
	m, _, err := s.Tenants().Provision(context.Background(), storage.ProvisionRequest{
		UserID:     userID,
		TenantName: userID + "'s workspace",
		Role:       domain.RoleOwner,
		WriteLimit: writeLimit,
	})
	if err != nil {
		t.Fatalf("provisioning tenant for %s: %v", userID, err)
	}
	return m
}
