package actions

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jkaninda/grcpilot/internal/domain"
	"github.com/jkaninda/grcpilot/internal/tools"
)

// RiskResult is returned by risk-producing handlers.
type RiskResult struct {
	Ref                string `json:"ref"`
	Title              string `json:"title"`
	Status             string `json:"status"`
	Likelihood         int    `json:"likelihood"`
	Impact             int    `json:"impact"`
	InherentScore      int    `json:"inherent_score"`
	ResidualLikelihood int    `json:"residual_likelihood"`
	ResidualImpact     int    `json:"residual_impact"`
	ResidualScore      int    `json:"residual_score"`
}

func riskResult(r *domain.Risk) RiskResult {
	return RiskResult{
		Ref:                r.Ref,
		Title:              r.Title,
		Status:             string(r.Status),
		Likelihood:         r.Likelihood,
		Impact:             r.Impact,
		InherentScore:      r.InherentScore,
		ResidualLikelihood: r.ResidualLikelihood,
		ResidualImpact:     r.ResidualImpact,
		ResidualScore:      r.ResidualScore,
	}
}

// newRisk builds an unscored-by-controls risk: residual starts equal to inherent.
func newRisk(env Env, title, description, category string, likelihood, impact int, metadata map[string]any) *domain.Risk {
	l := domain.ClampRating(likelihood, domain.DefaultRating)
	i := domain.ClampRating(impact, domain.DefaultRating)
	return &domain.Risk{
		TenantID:           env.TenantID,
		Title:              strings.TrimSpace(title),
		Description:        description,
		Category:           category,
		Likelihood:         l,
		Impact:             i,
		InherentScore:      l * i,
		ResidualLikelihood: l,
		ResidualImpact:     i,
		ResidualScore:      l * i,
		Status:             domain.RiskIdentified,
		Owner:              env.UserID,
		Metadata:           metadata,
	}
}

func createRisk(ctx context.Context, env Env, in tools.CreateRiskInput) (Outcome, error) {
	r := newRisk(env, in.Title, in.Description, in.Category, in.Likelihood, in.Impact, nil)
	if r.Title == "" {
		return Outcome{}, wrapInvalid("title is required")
	}
	if err := env.Store.Risks().Create(ctx, r); err != nil {
		return Outcome{}, storeErr(err, "creating risk")
	}
	env.Logger.InfoContext(ctx, "risk created",
		slog.String("tenant_id", env.TenantID.String()),
		slog.String("ref", r.Ref),
	)
	return ok(riskResult(r)), nil
}

// LinkResult reports a risk-control mapping and the recalculated residual score.
type LinkResult struct {
	Risk           RiskResult `json:"risk"`
	ControlCode    string     `json:"control_code"`
	Created        bool       `json:"created"`
	LinkedControls int        `json:"linked_controls"`
}

func linkRiskToControl(ctx context.Context, env Env, in tools.LinkRiskToControlInput) (Outcome, error) {
	risk, err := env.Store.Risks().Resolve(ctx, env.TenantID, in.RiskID)
	if err != nil {
		return Outcome{}, storeErr(err, "risk "+in.RiskID)
	}
	control, err := env.Store.Controls().Resolve(ctx, env.TenantID, in.ControlID)
	if err != nil {
		return Outcome{}, storeErr(err, "control "+in.ControlID)
	}

	created, err := env.Store.Controls().Link(ctx, &domain.RiskControlLink{
		TenantID:  env.TenantID,
		RiskID:    risk.ID,
		ControlID: control.ID,
	})
	if err != nil {
		return Outcome{}, storeErr(err, "linking risk to control")
	}

	eff, err := env.Store.Controls().LinkedEffectiveness(ctx, env.TenantID, risk.ID)
	if err != nil {
		return Outcome{}, storeErr(err, "loading linked controls")
	}
	risk.ResidualLikelihood, risk.ResidualImpact = domain.Residual(risk.Likelihood, risk.Impact, eff)
	risk.ResidualScore = risk.ResidualLikelihood * risk.ResidualImpact
	risk.Status = domain.RiskAssessed
	if err := env.Store.Risks().Update(ctx, risk); err != nil {
		return Outcome{}, storeErr(err, "updating residual score")
	}

	return ok(LinkResult{
		Risk:           riskResult(risk),
		ControlCode:    control.Code,
		Created:        created,
		LinkedControls: len(eff),
	}), nil
}
