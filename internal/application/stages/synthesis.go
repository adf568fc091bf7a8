package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/aescanero/triage/pkg/domain"
)

const maxRecommendations = 3

// synthesize composes the caller-facing answer. Its confidence is the
// reasoning stage's; without a successful analysis it is zero, which the
// policy stage escalates.
func synthesize(ctx context.Context, state domain.StateView) (domain.Payload, []domain.SideEffect, error) {
	intent, hasIntent := successful(state, IntentClassification)
	reasoning, hasReasoning := successful(state, Reasoning)

	var recommendations, references []string
	if out, ok := successful(state, KnowledgeRetrieval); ok {
		for _, d := range documents(out) {
			if key, _ := d["key"].(string); key != "" {
				references = append(references, key)
			}
		}
	}

	confidence := 0.0
	if hasReasoning {
		confidence, _ = reasoning.Float("confidence")
		for _, s := range reasoning.Strings("mitigationSuggestions") {
			if s != "" && len(recommendations) < maxRecommendations {
				recommendations = append(recommendations, s)
			}
		}
	}

	var b strings.Builder
	subject := "your request"
	if hasIntent {
		if c := intent.String("category"); c != "" && c != "general" {
			subject = "your " + c + " request"
		}
	}
	fmt.Fprintf(&b, "Thanks for reaching out about %s.", subject)
	if hasIntent && intent.String("intent") == "incident_report" {
		b.WriteString(" We understand this is affecting you and are treating it as an incident.")
	}
	if len(recommendations) > 0 {
		b.WriteString("\n\nHere is what we recommend:")
		for _, r := range recommendations {
			b.WriteString("\n- " + r)
		}
	} else {
		b.WriteString(" A support specialist will follow up shortly.")
	}

	if recommendations == nil {
		recommendations = []string{}
	}
	if references == nil {
		references = []string{}
	}
	return domain.Payload{
		"response":        b.String(),
		"recommendations": recommendations,
		"references":      references,
		"confidence":      confidence,
	}, nil, nil
}
