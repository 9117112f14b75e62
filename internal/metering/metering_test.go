package metering

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/storage"
	"github.com/jkaninda/grcpilot/internal/storage/storetest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReserve_IncrementsByOne(t *testing.T) {
	s := storetest.New(t)
	m := storetest.Tenant(t, s, "alice", 3)
	meter := New(s, discardLogger())
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx storage.Store) error {
		u, err := meter.Reserve(ctx, tx, m.TenantID)
		if err != nil {
			return err
		}
		if u.Count != 1 || u.Limit != 3 {
			t.Errorf("usage after reserve = %+v", u)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	u, err := meter.Usage(ctx, m.TenantID)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.Count != 1 {
		t.Errorf("count = %d, want 1", u.Count)
	}
	if u.Remaining() != 2 {
		t.Errorf("remaining = %d, want 2", u.Remaining())
	}
}

func TestReserve_RollbackReturnsUnit(t *testing.T) {
	s := storetest.New(t)
	m := storetest.Tenant(t, s, "alice", 3)
	meter := New(s, discardLogger())
	ctx := context.Background()

	boom := errors.New("handler failed")
	err := s.WithTx(ctx, func(tx storage.Store) error {
		if _, err := meter.Reserve(ctx, tx, m.TenantID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	u, _ := meter.Usage(ctx, m.TenantID)
	if u.Count != 0 {
		t.Errorf("count = %d after rollback, want 0", u.Count)
	}
}

func TestReserve_LimitReached(t *testing.T) {
	s := storetest.New(t)
	m := storetest.Tenant(t, s, "alice", 1)
	meter := New(s, discardLogger())
	ctx := context.Background()

	reserve := func() (Usage, error) {
		var u Usage
		err := s.WithTx(ctx, func(tx storage.Store) error {
			var err error
			u, err = meter.Reserve(ctx, tx, m.TenantID)
			return err
		})
		return u, err
	}

	if _, err := reserve(); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	u, err := reserve()
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if u.Count != 1 || u.Limit != 1 {
		t.Errorf("usage = %+v, want count 1 limit 1", u)
	}
	if _, err := meter.Check(ctx, m.TenantID); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Check err = %v, want ErrQuotaExceeded", err)
	}
}

func TestReserve_BypassedWithCredential(t *testing.T) {
	s := storetest.New(t)
	m := storetest.Tenant(t, s, "alice", 1)
	meter := New(s, discardLogger())
	ctx := context.Background()

	if err := s.Tenants().SetCredential(ctx, &domain.Credential{TenantID: m.TenantID, Provider: "anthropic", APIKey: "sk-own"}); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	for range 3 {
		err := s.WithTx(ctx, func(tx storage.Store) error {
			u, err := meter.Reserve(ctx, tx, m.TenantID)
			if err != nil {
				return err
			}
			return meter.Release(ctx, tx, m.TenantID, u)
		})
		if err != nil {
			t.Fatalf("reserve with credential: %v", err)
		}
	}
	u, _ := meter.Usage(ctx, m.TenantID)
	if u.Count != 0 || !u.Bypassed || u.Remaining() != -1 {
		t.Errorf("usage = %+v, want untouched and bypassed", u)
	}
}

func TestRelease_FloorsAtZero(t *testing.T) {
	s := storetest.New(t)
	m := storetest.Tenant(t, s, "alice", 2)
	meter := New(s, discardLogger())
	ctx := context.Background()

	if err := meter.Release(ctx, s, m.TenantID, Usage{}); err != nil {
		t.Fatalf("Release: %v", err)
	}
	u, _ := meter.Usage(ctx, m.TenantID)
	if u.Count != 0 {
		t.Errorf("count = %d, want 0", u.Count)
	}
}

func TestSetLimit(t *testing.T) {
	s := storetest.New(t)
	m := storetest.Tenant(t, s, "alice", 1)
	meter := New(s, discardLogger())
	ctx := context.Background()

	if err := meter.SetLimit(ctx, m.TenantID, -1); err == nil {
		t.Error("negative limit accepted")
	}
	if err := meter.SetLimit(ctx, m.TenantID, 50); err != nil {
		t.Fatalf("SetLimit: %v", err)
	}
	u, _ := meter.Check(ctx, m.TenantID)
	if u.Limit != 50 {
		t.Errorf("limit = %d, want 50", u.Limit)
	}
}
