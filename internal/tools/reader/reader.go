// Package reader executes the read tools. It is tenant scoped, never writes,
// and degrades to empty results when the store fails so a conversation turn
// can keep going.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/storage"
	"github.com/jkaninda/grcpilot/internal/tools"
)

// DefaultTimeout bounds each read tool call.
const DefaultTimeout = 10 * time.Second

var (
	// ErrNotReadTool is returned when a write tool input reaches the executor.
	ErrNotReadTool = errors.New("not a read tool")
	// ErrRiskNotFound is returned by get_risk for an unknown ref or id.
	ErrRiskNotFound = errors.New("risk not found")
)

// RiskReader is the read half of storage.RiskStore.
type RiskReader interface {
	Resolve(ctx context.Context, tenantID uuid.UUID, key string) (*domain.Risk, error)
	Search(ctx context.Context, tenantID uuid.UUID, f storage.RiskFilter) ([]domain.Risk, error)
}

// ControlReader is the read half of storage.ControlStore.
type ControlReader interface {
	Search(ctx context.Context, tenantID uuid.UUID, query string, limit int) ([]domain.Control, error)
	CountLinks(ctx context.Context, tenantID, riskID uuid.UUID) (int64, error)
}

// FrameworkReader is the read half of storage.FrameworkStore.
type FrameworkReader interface {
	List(ctx context.Context, tenantID uuid.UUID) ([]domain.Framework, error)
	ListRequirements(ctx context.Context, tenantID uuid.UUID, frameworkCode string) ([]domain.Requirement, error)
	ListStatuses(ctx context.Context, tenantID uuid.UUID, frameworkCode string) ([]domain.RequirementStatus, error)
}

// IntegrationReader is the read half of storage.IntegrationStore.
type IntegrationReader interface {
	List(ctx context.Context, tenantID uuid.UUID) ([]domain.Integration, error)
}

// Sources groups the read-only views the executor needs.
type Sources struct {
	Risks        RiskReader
	Controls     ControlReader
	Frameworks   FrameworkReader
	Integrations IntegrationReader
}

// FromStore narrows a full store to its read-only views.
func FromStore(s storage.Store) Sources {
	return Sources{
		Risks:        s.Risks(),
		Controls:     s.Controls(),
		Frameworks:   s.Frameworks(),
		Integrations: s.Integrations(),
	}
}

// Executor runs read tools.
type Executor struct {
	src     Sources
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(src Sources, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{src: src, logger: logger, timeout: DefaultTimeout}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute runs one read tool. tenantID may be nil before provisioning, in
// which case sample data is returned. The result is JSON-serializable.
func (e *Executor) Execute(ctx context.Context, tenantID *uuid.UUID, in tools.Input) (any, error) {
	if tools.IsWrite(in.ToolName()) {
		return nil, fmt.Errorf("%w: %s", ErrNotReadTool, in.ToolName())
	}
	if tenantID == nil {
		return sample(in)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	tid := *tenantID

	switch v := in.(type) {
	case tools.SearchRisksInput:
		return e.searchRisks(ctx, tid, v), nil
	case tools.SearchControlsInput:
		return e.searchControls(ctx, tid, v), nil
	case tools.GetRiskInput:
		return e.getRisk(ctx, tid, v)
	case tools.GetComplianceSummaryInput:
		return e.complianceSummary(ctx, tid, v), nil
	case tools.ListFrameworksInput:
		return e.listFrameworks(ctx, tid), nil
	case tools.ListIntegrationsInput:
		return e.listIntegrations(ctx, tid), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotReadTool, in.ToolName())
}

func (e *Executor) degrade(ctx context.Context, tool string, tenantID uuid.UUID, err error) {
	e.logger.WarnContext(ctx, "read tool degraded to empty result",
		slog.String("tool", tool),
		slog.String("tenant_id", tenantID.String()),
		slog.String("error", err.Error()),
	)
}

func (e *Executor) searchRisks(ctx context.Context, tid uuid.UUID, in tools.SearchRisksInput) RiskList {
	risks, err := e.src.Risks.Search(ctx, tid, storage.RiskFilter{Query: in.Query, Status: in.Status, Limit: in.Limit})
	if err != nil {
		e.degrade(ctx, tools.SearchRisks, tid, err)
		return RiskList{Risks: []RiskSummary{}}
	}
	out := RiskList{Risks: make([]RiskSummary, len(risks))}
	for i := range risks {
		out.Risks[i] = summarizeRisk(&risks[i])
	}
	out.Count = len(out.Risks)
	return out
}

func (e *Executor) searchControls(ctx context.Context, tid uuid.UUID, in tools.SearchControlsInput) ControlList {
	controls, err := e.src.Controls.Search(ctx, tid, in.Query, in.Limit)
	if err != nil {
		e.degrade(ctx, tools.SearchControls, tid, err)
		return ControlList{Controls: []ControlSummary{}}
	}
	out := ControlList{Controls: make([]ControlSummary, len(controls))}
	for i, c := range controls {
		out.Controls[i] = ControlSummary{
			Code:          c.Code,
			Name:          c.Name,
			Type:          c.Type,
			Automation:    c.Automation,
			Effectiveness: c.Effectiveness,
			Status:        string(c.Status),
		}
	}
	out.Count = len(out.Controls)
	return out
}

func (e *Executor) getRisk(ctx context.Context, tid uuid.UUID, in tools.GetRiskInput) (*RiskDetail, error) {
	r, err := e.src.Risks.Resolve(ctx, tid, in.RiskID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRiskNotFound, in.RiskID)
	}
	if err != nil {
		e.degrade(ctx, tools.GetRisk, tid, err)
		return &RiskDetail{}, nil
	}
	links, err := e.src.Controls.CountLinks(ctx, tid, r.ID)
	if err != nil {
		e.degrade(ctx, tools.GetRisk, tid, err)
	}
	return &RiskDetail{
		RiskSummary:        summarizeRisk(r),
		Description:        r.Description,
		ResidualLikelihood: r.ResidualLikelihood,
		ResidualImpact:     r.ResidualImpact,
		LinkedControls:     int(links),
		Metadata:           r.Metadata,
	}, nil
}

func (e *Executor) complianceSummary(ctx context.Context, tid uuid.UUID, in tools.GetComplianceSummaryInput) ComplianceSummary {
	frameworks, err := e.src.Frameworks.List(ctx, tid)
	if err != nil {
		e.degrade(ctx, tools.GetComplianceSummary, tid, err)
		return ComplianceSummary{Frameworks: []FrameworkCompletion{}}
	}
	want := domain.NormalizeFrameworkCode(in.FrameworkCode)

	out := ComplianceSummary{Frameworks: []FrameworkCompletion{}}
	for _, f := range frameworks {
		if want != "" && f.Code != want {
			continue
		}
		reqs, err := e.src.Frameworks.ListRequirements(ctx, tid, f.Code)
		if err != nil {
			e.degrade(ctx, tools.GetComplianceSummary, tid, err)
			continue
		}
		statuses, err := e.src.Frameworks.ListStatuses(ctx, tid, f.Code)
		if err != nil {
			e.degrade(ctx, tools.GetComplianceSummary, tid, err)
			continue
		}
		out.Frameworks = append(out.Frameworks, completion(f, reqs, statuses))
	}
	return out
}

// completion counts statuses of known requirements only; a status recorded
// for a requirement code that no longer exists is ignored.
func completion(f domain.Framework, reqs []domain.Requirement, statuses []domain.RequirementStatus) FrameworkCompletion {
	byCode := make(map[string]domain.RequirementState, len(statuses))
	for _, s := range statuses {
		byCode[s.RequirementCode] = s.Status
	}
	fc := FrameworkCompletion{Code: f.Code, Name: f.Name, Total: len(reqs)}
	for _, r := range reqs {
		switch byCode[r.Code] {
		case domain.RequirementImplemented:
			fc.Implemented++
		case domain.RequirementNotApplicable:
			fc.NotApplicable++
		case domain.RequirementInProgress:
			fc.InProgress++
		default:
			fc.NotStarted++
		}
	}
	fc.CompletionPct = percent(fc.Implemented+fc.NotApplicable, fc.Total)
	return fc
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}

func (e *Executor) listFrameworks(ctx context.Context, tid uuid.UUID) FrameworkList {
	frameworks, err := e.src.Frameworks.List(ctx, tid)
	if err != nil {
		e.degrade(ctx, tools.ListFrameworks, tid, err)
		return FrameworkList{Frameworks: []FrameworkSummary{}}
	}
	out := FrameworkList{Frameworks: make([]FrameworkSummary, len(frameworks))}
	for i, f := range frameworks {
		out.Frameworks[i] = FrameworkSummary{Code: f.Code, Name: f.Name, Description: f.Description, Active: f.Active}
	}
	return out
}

func (e *Executor) listIntegrations(ctx context.Context, tid uuid.UUID) IntegrationList {
	integrations, err := e.src.Integrations.List(ctx, tid)
	if err != nil {
		e.degrade(ctx, tools.ListIntegrations, tid, err)
		return IntegrationList{Integrations: []IntegrationSummary{}}
	}
	out := IntegrationList{Integrations: make([]IntegrationSummary, len(integrations))}
	for i, in := range integrations {
		out.Integrations[i] = IntegrationSummary{
			Provider:       in.Provider,
			Status:         string(in.Status),
			LastError:      in.LastError,
			LastSyncAt:     in.LastSyncAt,
			LastSyncStatus: in.LastSyncStatus,
		}
	}
	return out
}

func summarizeRisk(r *domain.Risk) RiskSummary {
	return RiskSummary{
		Ref:           r.Ref,
		Title:         r.Title,
		Category:      r.Category,
		Status:        string(r.Status),
		Likelihood:    r.Likelihood,
		Impact:        r.Impact,
		InherentScore: r.InherentScore,
		ResidualScore: r.ResidualScore,
		Owner:         r.Owner,
		ExternalRef:   r.ExternalRef,
	}
}
