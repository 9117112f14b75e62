package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/storage"
	"github.com/jkaninda/grcpilot/internal/tools"
)

// Control defaults.
const (
	defaultControlType       = "preventive"
	defaultControlAutomation = "manual"
)

type ControlResult struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Automation    string `json:"automation"`
	Effectiveness int    `json:"effectiveness"`
	Status        string `json:"status"`
}

func createControl(ctx context.Context, env Env, in tools.CreateControlInput) (Outcome, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Outcome{}, wrapInvalid("name is required")
	}
	c := &domain.Control{
		TenantID:      env.TenantID,
		Code:          strings.ToUpper(strings.TrimSpace(in.Code)),
		Name:          name,
		Description:   in.Description,
		Type:          orDefault(in.Type, defaultControlType),
		Automation:    orDefault(in.Automation, defaultControlAutomation),
		Effectiveness: domain.ClampRating(in.Effectiveness, domain.DefaultRating),
		Status:        domain.ControlDraft,
		Owner:         env.UserID,
	}
	if err := env.Store.Controls().Create(ctx, c); err != nil {
		return Outcome{}, storeErr(err, "creating control "+c.Code)
	}
	return ok(ControlResult{
		Code:          c.Code,
		Name:          c.Name,
		Type:          c.Type,
		Automation:    c.Automation,
		Effectiveness: c.Effectiveness,
		Status:        string(c.Status),
	}), nil
}

type FrameworkResult struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

func createFramework(ctx context.Context, env Env, in tools.CreateFrameworkInput) (Outcome, error) {
	code := domain.NormalizeFrameworkCode(in.Code)
	if code == "" {
		return Outcome{}, wrapInvalid(fmt.Sprintf("framework code %q has no usable characters", in.Code))
	}
	if _, err := env.Store.Frameworks().Get(ctx, env.TenantID, code); err == nil {
		return Outcome{}, fmt.Errorf("%w: framework %s already exists", ErrConflict, code)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Outcome{}, storeErr(err, "checking framework "+code)
	}

	f := &domain.Framework{
		TenantID:    env.TenantID,
		Code:        code,
		Name:        orDefault(in.Name, code),
		Description: in.Description,
		Active:      true,
	}
	if err := env.Store.Frameworks().Create(ctx, f); err != nil {
		return Outcome{}, storeErr(err, "creating framework "+code)
	}
	return ok(FrameworkResult{Code: f.Code, Name: f.Name, Active: f.Active}), nil
}

type RequirementResult struct {
	FrameworkCode string `json:"framework_code"`
	Domain        string `json:"domain"`
	Code          string `json:"code"`
	Title         string `json:"title"`
}

func createRequirement(ctx context.Context, env Env, in tools.CreateRequirementInput) (Outcome, error) {
	fw, err := env.Store.Frameworks().Get(ctx, env.TenantID, domain.NormalizeFrameworkCode(in.FrameworkCode))
	if err != nil {
		return Outcome{}, storeErr(err, "framework "+in.FrameworkCode)
	}

	code := strings.TrimSpace(in.Code)
	if code == "" {
		code, err = nextRequirementCode(ctx, env, fw.Code)
		if err != nil {
			return Outcome{}, err
		}
	}

	req := &domain.Requirement{
		TenantID:      env.TenantID,
		FrameworkCode: fw.Code,
		Domain:        strings.TrimSpace(in.Domain),
		Code:          code,
		Title:         in.Title,
		Description:   in.Description,
	}
	if err := env.Store.Frameworks().CreateRequirement(ctx, req); err != nil {
		return Outcome{}, storeErr(err, "creating requirement "+code)
	}
	return ok(RequirementResult{FrameworkCode: req.FrameworkCode, Domain: req.Domain, Code: req.Code, Title: req.Title}), nil
}

// nextRequirementCode returns <FW>-<n> for the first n past the current count
// that is not already taken.
func nextRequirementCode(ctx context.Context, env Env, fwCode string) (string, error) {
	reqs, err := env.Store.Frameworks().ListRequirements(ctx, env.TenantID, fwCode)
	if err != nil {
		return "", storeErr(err, "listing requirements")
	}
	taken := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		taken[r.Code] = true
	}
	for n := len(reqs) + 1; ; n++ {
		code := fmt.Sprintf("%s-%d", fwCode, n)
		if !taken[code] {
			return code, nil
		}
	}
}

type RequirementStatusResult struct {
	FrameworkCode   string `json:"framework_code"`
	RequirementCode string `json:"requirement_code"`
	Status          string `json:"status"`
}

func updateRequirementStatus(ctx context.Context, env Env, in tools.UpdateRequirementStatusInput) (Outcome, error) {
	state := domain.RequirementState(strings.ToLower(strings.TrimSpace(in.Status)))
	if !state.Valid() {
		return Outcome{}, wrapInvalid(fmt.Sprintf("unknown requirement status %q", in.Status))
	}
	fw, err := env.Store.Frameworks().Get(ctx, env.TenantID, domain.NormalizeFrameworkCode(in.FrameworkCode))
	if err != nil {
		return Outcome{}, storeErr(err, "framework "+in.FrameworkCode)
	}

	s := &domain.RequirementStatus{
		TenantID:        env.TenantID,
		FrameworkCode:   fw.Code,
		RequirementCode: strings.TrimSpace(in.RequirementCode),
		Status:          state,
	}
	if err := env.Store.Frameworks().UpsertStatus(ctx, s); err != nil {
		return Outcome{}, storeErr(err, "updating requirement status")
	}
	return ok(RequirementStatusResult{FrameworkCode: s.FrameworkCode, RequirementCode: s.RequirementCode, Status: string(s.Status)}), nil
}

type EvidenceResult struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	SourceType  string `json:"source_type"`
	ControlCode string `json:"control_code,omitempty"`
}

func createEvidence(ctx context.Context, env Env, in tools.CreateEvidenceInput) (Outcome, error) {
	controlCode := strings.TrimSpace(in.ControlCode)
	if controlCode != "" {
		c, err := env.Store.Controls().Resolve(ctx, env.TenantID, controlCode)
		if err != nil {
			return Outcome{}, storeErr(err, "control "+controlCode)
		}
		controlCode = c.Code
	}

	e := &domain.Evidence{
		TenantID:    env.TenantID,
		Title:       in.Title,
		Description: in.Description,
		SourceType:  orDefault(in.SourceType, "manual"),
		URL:         in.URL,
		ControlCode: controlCode,
		CollectedBy: env.UserID,
	}
	if err := env.Store.Evidence().Create(ctx, e); err != nil {
		return Outcome{}, storeErr(err, "creating evidence")
	}
	return ok(EvidenceResult{ID: e.ID.String(), Title: e.Title, SourceType: e.SourceType, ControlCode: e.ControlCode}), nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
