package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/stretchr/testify/require"
)

const decideStage = "decide"

func okStage(out domain.Payload) StageFunc {
	return func(ctx context.Context, state domain.StateView) (domain.Payload, []domain.SideEffect, error) {
		return out, nil, nil
	}
}

func failStage(msg string) StageFunc {
	return func(ctx context.Context, state domain.StateView) (domain.Payload, []domain.SideEffect, error) {
		return nil, nil, fmt.Errorf("%s", msg)
	}
}

func routeStage(route domain.Route) StageFunc {
	return okStage(domain.Payload{"route": route.String(), "confidence": 0.9})
}

func verdictFromOutput(r domain.StageResult) (domain.Verdict, error) {
	route, err := domain.ParseRoute(r.Output.String("route"))
	if err != nil {
		return domain.Verdict{}, err
	}
	confidence, _ := r.Output.Float("confidence")
	return domain.Verdict{Route: route, ConfidenceUsed: confidence, Violations: []domain.Violation{}}, nil
}

// buildGraph wires stages plus a decision stage named "decide" that routes
// both verdicts to END.
func buildGraph(t *testing.T, stages ...Stage) *Graph {
	t.Helper()
	b := NewBuilder()
	for _, s := range stages {
		b.AddStage(s)
	}
	g, err := b.Decision(decideStage, verdictFromOutput).
		Route(domain.RouteAuto, END).
		Route(domain.RouteEscalate, END).
		Build()
	require.NoError(t, err)
	return g
}
