package stages

import (
	"context"

	"github.com/aescanero/triage/pkg/domain"
)

// plan records the execution strategy. The graph is static, so the plan
// describes it rather than choosing it.
func plan(ctx context.Context, state domain.StateView) (domain.Payload, []domain.SideEffect, error) {
	in := normalized(state)
	return domain.Payload{
		"stagesToRun":   []string{IntentClassification, KnowledgeRetrieval, Memory},
		"executionMode": "parallel",
		"dependencies": map[string][]string{
			Reasoning:         {IntentClassification, KnowledgeRetrieval, Memory},
			ResponseSynthesis: {Reasoning},
			Guardrails:        {ResponseSynthesis},
		},
		"inputType": in.String("type"),
		"reasoning": "Classification, retrieval and memory lookups are independent and run in parallel",
	}, nil, nil
}
