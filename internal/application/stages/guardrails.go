package stages

import (
	"context"
	"fmt"

	"github.com/aescanero/triage/internal/application/policy"
	"github.com/aescanero/triage/pkg/domain"
	"go.uber.org/zap"
)

// guardrailsStage is the decision stage: it runs the content policy over
// the request and the synthesized response.
type guardrailsStage struct {
	policy *policy.Engine
	logger *zap.Logger
}

func (g *guardrailsStage) run(ctx context.Context, state domain.StateView) (domain.Payload, []domain.SideEffect, error) {
	input := normalized(state).String("content")

	var candidate policy.Candidate
	if out, ok := successful(state, ResponseSynthesis); ok {
		candidate.Text = out.String("response")
		candidate.Confidence, _ = out.Float("confidence")
	}

	verdict := g.policy.Decide(candidate, input)

	if len(verdict.Violations) > 0 {
		categories := make([]string, len(verdict.Violations))
		for i, v := range verdict.Violations {
			categories[i] = v.Category
		}
		g.logger.Warn("guardrails violations detected",
			zap.String("run_id", state.ID()),
			zap.Strings("violations", categories))
	} else {
		g.logger.Info("guardrails check passed",
			zap.String("run_id", state.ID()),
			zap.Float64("confidence", verdict.ConfidenceUsed))
	}

	out := domain.Payload{
		"route":            verdict.Route.String(),
		"violations":       verdict.Violations,
		"confidence":       verdict.ConfidenceUsed,
		"escalationReason": verdict.Reason,
		"safeResponse":     verdict.Payload,
	}
	effects := []domain.SideEffect{{
		Tool:   "content_filter",
		Input:  map[string]interface{}{"contentLength": len(input) + len(candidate.Text) + 1},
		Output: map[string]interface{}{"violationsCount": len(verdict.Violations)},
	}}
	return out, effects, nil
}

// VerdictFromResult reads the verdict back from the guardrails output.
func VerdictFromResult(r domain.StageResult) (domain.Verdict, error) {
	route, err := domain.ParseRoute(r.Output.String("route"))
	if err != nil {
		return domain.Verdict{}, err
	}

	v := domain.Verdict{
		Route:   route,
		Reason:  r.Output.String("escalationReason"),
		Payload: r.Output.String("safeResponse"),
	}
	v.ConfidenceUsed, _ = r.Output.Float("confidence")

	switch vs := r.Output["violations"].(type) {
	case []domain.Violation:
		v.Violations = vs
	case nil:
		v.Violations = []domain.Violation{}
	default:
		var decoded struct {
			Violations []domain.Violation `json:"violations"`
		}
		if err := r.Output.Decode(&decoded); err != nil {
			return domain.Verdict{}, fmt.Errorf("failed to decode violations: %w", err)
		}
		v.Violations = decoded.Violations
	}

	if route == domain.RouteAuto {
		v.Reason = ""
	} else {
		v.Payload = ""
	}
	return v, nil
}
