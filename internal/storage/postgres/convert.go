package postgres

import (
	"encoding/json"

	"github.com/jkaninda/grcpilot/internal/domain"
)

func marshalJSONB(v any) JSONB {
	if v == nil {
		return JSONB("{}")
	}
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return JSONB("{}")
	}
	return JSONB(b)
}

func toTenantDomain(m *TenantModel) *domain.Tenant {
	return &domain.Tenant{ID: m.ID, Name: m.Name, CreatedAt: m.CreatedAt}
}

func toMembershipDomain(m *MembershipModel) *domain.Membership {
	return &domain.Membership{
		ID:        m.ID,
		TenantID:  m.TenantID,
		UserID:    m.UserID,
		Role:      domain.Role(m.Role),
		CreatedAt: m.CreatedAt,
	}
}

func toRiskModel(r *domain.Risk) RiskModel {
	source, _ := r.Metadata["source"].(string)
	return RiskModel{
		ID:                 r.ID,
		TenantID:           r.TenantID,
		Ref:                r.Ref,
		Title:              r.Title,
		Description:        r.Description,
		Category:           r.Category,
		Likelihood:         r.Likelihood,
		Impact:             r.Impact,
		InherentScore:      r.InherentScore,
		ResidualLikelihood: r.ResidualLikelihood,
		ResidualImpact:     r.ResidualImpact,
		ResidualScore:      r.ResidualScore,
		Status:             string(r.Status),
		Owner:              r.Owner,
		ExternalRef:        r.ExternalRef,
		Source:             source,
		Metadata:           marshalJSONB(r.Metadata),
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func toRiskDomain(m *RiskModel) domain.Risk {
	var meta map[string]any
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.Risk{
		ID:                 m.ID,
		TenantID:           m.TenantID,
		Ref:                m.Ref,
		Title:              m.Title,
		Description:        m.Description,
		Category:           m.Category,
		Likelihood:         m.Likelihood,
		Impact:             m.Impact,
		InherentScore:      m.InherentScore,
		ResidualLikelihood: m.ResidualLikelihood,
		ResidualImpact:     m.ResidualImpact,
		ResidualScore:      m.ResidualScore,
		Status:             domain.RiskStatus(m.Status),
		Owner:              m.Owner,
		ExternalRef:        m.ExternalRef,
		Metadata:           meta,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func toControlModel(c *domain.Control) ControlModel {
	return ControlModel{
		ID:            c.ID,
		TenantID:      c.TenantID,
		Code:          c.Code,
		Name:          c.Name,
		Description:   c.Description,
		Type:          c.Type,
		Automation:    c.Automation,
		Effectiveness: c.Effectiveness,
		Status:        string(c.Status),
		Owner:         c.Owner,
		CreatedAt:     c.CreatedAt,
	}
}

func toControlDomain(m *ControlModel) domain.Control {
	return domain.Control{
		ID:            m.ID,
		TenantID:      m.TenantID,
		Code:          m.Code,
		Name:          m.Name,
		Description:   m.Description,
		Type:          m.Type,
		Automation:    m.Automation,
		Effectiveness: m.Effectiveness,
		Status:        domain.ControlStatus(m.Status),
		Owner:         m.Owner,
		CreatedAt:     m.CreatedAt,
	}
}

func toFrameworkDomain(m *FrameworkModel) domain.Framework {
	return domain.Framework{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Code:        m.Code,
		Name:        m.Name,
		Description: m.Description,
		Active:      m.Active,
		CreatedAt:   m.CreatedAt,
	}
}

func toRequirementDomain(m *RequirementModel) domain.Requirement {
	return domain.Requirement{
		ID:            m.ID,
		TenantID:      m.TenantID,
		FrameworkCode: m.FrameworkCode,
		Domain:        m.Domain,
		Code:          m.Code,
		Title:         m.Title,
		Description:   m.Description,
		CreatedAt:     m.CreatedAt,
	}
}

func toEvidenceDomain(m *EvidenceModel) domain.Evidence {
	return domain.Evidence{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Title:       m.Title,
		Description: m.Description,
		SourceType:  m.SourceType,
		URL:         m.URL,
		ControlCode: m.ControlCode,
		CollectedBy: m.CollectedBy,
		CreatedAt:   m.CreatedAt,
	}
}

func toIntegrationDomain(m *IntegrationModel) domain.Integration {
	var cfg map[string]string
	if len(m.Config) > 0 {
		_ = json.Unmarshal(m.Config, &cfg)
	}
	return domain.Integration{
		ID:             m.ID,
		TenantID:       m.TenantID,
		Provider:       m.Provider,
		Config:         cfg,
		Status:         domain.IntegrationStatus(m.Status),
		LastError:      m.LastError,
		LastSyncAt:     m.LastSyncAt,
		LastSyncStatus: m.LastSyncStatus,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toPendingActionDomain(m *PendingActionModel) domain.PendingAction {
	a := domain.PendingAction{
		ID:             m.ID,
		ToolCallID:     m.ToolCallID,
		UserID:         m.UserID,
		TenantID:       m.TenantID,
		ConversationID: m.ConversationID,
		Name:           m.Name,
		Input:          json.RawMessage(m.Input),
		Status:         domain.ActionStatus(m.Status),
		Error:          m.Error,
		CreatedAt:      m.CreatedAt,
		ResolvedAt:     m.ResolvedAt,
	}
	if len(m.Result) > 0 {
		a.Result = json.RawMessage(m.Result)
	}
	return a
}

func toAuditDomain(m *AuditEventModel) domain.AuditEvent {
	return domain.AuditEvent{
		ID:            m.ID,
		TenantID:      m.TenantID,
		UserID:        m.UserID,
		ActionID:      m.ActionID,
		Tool:          m.Tool,
		Outcome:       m.Outcome,
		Error:         m.Error,
		CorrelationID: m.CorrelationID,
		CreatedAt:     m.CreatedAt,
	}
}
