// Package metering enforces the free-tier allowance of approved write actions.
// Tenants holding their own model credential bypass it entirely.
package metering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jkaninda/grcpilot/internal/storage"
)

// ErrQuotaExceeded is returned when the tenant has used its whole allowance.
var ErrQuotaExceeded = errors.New("write quota exceeded")

// Usage is a tenant's metering state.
type Usage struct {
	Count    int  `json:"count"`
	Limit    int  `json:"limit"`
	Bypassed bool `json:"bypassed"`
}

// Remaining returns how many writes are left, or -1 when bypassed.
func (u Usage) Remaining() int {
	if u.Bypassed {
		return -1
	}
	return max(0, u.Limit-u.Count)
}

// Meter reads and updates tenant usage counters.
type Meter struct {
	store  storage.Store
	logger *slog.Logger
}

// New creates a Meter over store.
func New(store storage.Store, logger *slog.Logger) *Meter {
	return &Meter{store: store, logger: logger}
}

func load(ctx context.Context, s storage.Store, tenantID uuid.UUID) (Usage, error) {
	u, err := s.Usage().Get(ctx, tenantID)
	if err != nil {
		return Usage{}, fmt.Errorf("loading usage: %w", err)
	}
	return Usage{Count: u.WriteCount, Limit: u.WriteLimit, Bypassed: u.Bypassed}, nil
}

// Usage returns the current counter without checking it.
func (m *Meter) Usage(ctx context.Context, tenantID uuid.UUID) (Usage, error) {
	return load(ctx, m.store, tenantID)
}

// Check rejects with ErrQuotaExceeded when count ≥ limit and no credential is
// present. It is advisory: Reserve is the authoritative, atomic check.
func (m *Meter) Check(ctx context.Context, tenantID uuid.UUID) (Usage, error) {
	u, err := load(ctx, m.store, tenantID)
	if err != nil {
		return Usage{}, err
	}
	if !u.Bypassed && u.Count >= u.Limit {
		return u, ErrQuotaExceeded
	}
	return u, nil
}

// Reserve takes one unit of allowance inside tx with a single conditional
// update. The returned Usage reflects the counter after the reservation.
// Rolling back tx returns the unit.
func (m *Meter) Reserve(ctx context.Context, tx storage.Store, tenantID uuid.UUID) (Usage, error) {
	u, err := load(ctx, tx, tenantID)
	if err != nil {
		return Usage{}, err
	}
	if u.Bypassed {
		return u, nil
	}
	ok, err := tx.Usage().Increment(ctx, tenantID)
	if err != nil {
		return u, fmt.Errorf("reserving usage: %w", err)
	}
	if !ok {
		// Re-read so the caller sees the counter that beat us.
		if cur, err := load(ctx, tx, tenantID); err == nil {
			u = cur
		}
		m.logger.InfoContext(ctx, "write quota exceeded",
			slog.String("tenant_id", tenantID.String()),
			slog.Int("count", u.Count),
			slog.Int("limit", u.Limit),
		)
		return u, ErrQuotaExceeded
	}
	u.Count++
	return u, nil
}

// Release returns a reserved unit when the action did not fully succeed.
func (m *Meter) Release(ctx context.Context, tx storage.Store, tenantID uuid.UUID, reserved Usage) error {
	if reserved.Bypassed {
		return nil
	}
	if err := tx.Usage().Decrement(ctx, tenantID); err != nil {
		return fmt.Errorf("releasing usage: %w", err)
	}
	return nil
}

// SetLimit changes a tenant's allowance.
func (m *Meter) SetLimit(ctx context.Context, tenantID uuid.UUID, limit int) error {
	if limit < 0 {
		return fmt.Errorf("limit must be non-negative, got %d", limit)
	}
	return m.store.Usage().SetLimit(ctx, tenantID, limit)
}
