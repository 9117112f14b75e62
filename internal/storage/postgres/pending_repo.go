package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/storage"
)

// PendingActionRepository implements storage.PendingActionStore.
// Status changes go through conditional UPDATEs; only one caller can
// move an action out of a given state.
type PendingActionRepository struct {
	db *gorm.DB
}

// NewPendingActionRepository creates a PendingActionRepository.
func NewPendingActionRepository(db *gorm.DB) *PendingActionRepository {
	return &PendingActionRepository{db: db}
}

func (r *PendingActionRepository) Create(ctx context.Context, a *domain.PendingAction) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = domain.ActionPending
	}
	m := PendingActionModel{
		ID:             a.ID,
		ToolCallID:     a.ToolCallID,
		UserID:         a.UserID,
		TenantID:       a.TenantID,
		ConversationID: a.ConversationID,
		Name:           a.Name,
		Input:          JSONB(a.Input),
		Status:         string(a.Status),
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return translate(err, fmt.Sprintf("creating pending action %s", a.ToolCallID))
	}
	a.CreatedAt = m.CreatedAt
	return nil
}

func (r *PendingActionRepository) Get(ctx context.Context, userID, toolCallID string) (*domain.PendingAction, error) {
	var m PendingActionModel
	if err := r.db.WithContext(ctx).
		First(&m, "user_id = ? AND tool_call_id = ?", userID, toolCallID).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("getting pending action %s", toolCallID))
	}
	d := toPendingActionDomain(&m)
	return &d, nil
}

func (r *PendingActionRepository) Transition(ctx context.Context, userID, toolCallID string, from, to domain.ActionStatus) (bool, error) {
	updates := map[string]any{"status": string(to)}
	if to == domain.ActionRejected || to == domain.ActionExecuted {
		updates["resolved_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).Model(&PendingActionModel{}).
		Where("user_id = ? AND tool_call_id = ? AND status = ?", userID, toolCallID, string(from)).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("transitioning pending action %s: %w", toolCallID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *PendingActionRepository) Finish(ctx context.Context, id uuid.UUID, status domain.ActionStatus, result json.RawMessage, errMsg string) error {
	updates := map[string]any{
		"status":      string(status),
		"error":       errMsg,
		"resolved_at": time.Now().UTC(),
	}
	if len(result) > 0 {
		updates["result"] = JSONB(result)
	}
	res := r.db.WithContext(ctx).Model(&PendingActionModel{}).
		Where("id = ? AND status = ?", id, string(domain.ActionExecuting)).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("finishing pending action: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("finishing pending action %s: %w", id, storage.ErrConflict)
	}
	return nil
}

func (r *PendingActionRepository) BindTenant(ctx context.Context, id, tenantID uuid.UUID) error {
	err := r.db.WithContext(ctx).Model(&PendingActionModel{}).
		Where("id = ? AND tenant_id IS NULL", id).
		Update("tenant_id", tenantID).Error
	if err != nil {
		return fmt.Errorf("binding pending action tenant: %w", err)
	}
	return nil
}

func (r *PendingActionRepository) ListByUser(ctx context.Context, userID string, status domain.ActionStatus) ([]domain.PendingAction, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Limit(maxSearchLimit)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var models []PendingActionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing pending actions: %w", err)
	}
	out := make([]domain.PendingAction, len(models))
	for i := range models {
		out[i] = toPendingActionDomain(&models[i])
	}
	return out, nil
}
