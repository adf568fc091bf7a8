package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/aescanero/triage/pkg/ports"
	"go.uber.org/zap"
)

const defaultMaxTokens = 1024

const reasoningSystemPrompt = `You are a reasoning agent that correlates current support issues with historical data.
Analyze the provided context and:
1. Identify patterns and root causes
2. Correlate with past incidents
3. Suggest mitigation strategies
4. Assess confidence in your analysis

Reply with JSON only:
{"patterns": ["..."], "rootCauses": ["..."], "correlations": [{"pastIncident": "...", "similarity": 0.0}],
 "mitigationSuggestions": ["..."], "confidence": 0.0, "reasoning": "..."}`

// Analysis is the reasoning stage's output.
type Analysis struct {
	Patterns              []string      `json:"patterns"`
	RootCauses            []string      `json:"rootCauses"`
	Correlations          []Correlation `json:"correlations"`
	MitigationSuggestions []string      `json:"mitigationSuggestions"`
	Confidence            float64       `json:"confidence"`
	Reasoning             string        `json:"reasoning"`
}

// Correlation links the request to a past episode.
type Correlation struct {
	PastIncident string  `json:"pastIncident"`
	Similarity   float64 `json:"similarity"`
}

// reasoningStage correlates the request with what the parallel stages
// found, through the Reasoner when one is configured.
type reasoningStage struct {
	reasoner  ports.Reasoner
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	maxTokens int
}

type reasoningContext struct {
	content   string
	intent    domain.Payload
	documents []map[string]interface{}
	episodes  []domain.EpisodicRecord
}

func gatherContext(state domain.StateView) reasoningContext {
	rc := reasoningContext{content: normalized(state).String("content")}
	if out, ok := successful(state, IntentClassification); ok {
		rc.intent = out
	}
	if out, ok := successful(state, KnowledgeRetrieval); ok {
		rc.documents = documents(out)
	}
	if out, ok := successful(state, Memory); ok {
		rc.episodes = episodes(out)
	}
	return rc
}

func (r *reasoningStage) run(ctx context.Context, state domain.StateView) (domain.Payload, []domain.SideEffect, error) {
	rc := gatherContext(state)

	if r.reasoner == nil {
		a := correlate(rc)
		return analysisPayload(a, "heuristic"), nil, nil
	}

	a, effect, err := r.complete(ctx, rc)
	if err != nil {
		return nil, nil, err
	}
	return analysisPayload(a, r.reasoner.Model()), []domain.SideEffect{effect}, nil
}

func (r *reasoningStage) complete(ctx context.Context, rc reasoningContext) (Analysis, domain.SideEffect, error) {
	maxTokens := r.maxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	req := &domain.CompletionRequest{
		System:      reasoningSystemPrompt,
		Prompt:      fmt.Sprintf("Current Issue: %s\n\nContext:\n%s\n\nAnalyze and provide reasoning.", rc.content, rc.describe()),
		MaxTokens:   maxTokens,
		Temperature: 0.4,
	}

	start := time.Now()
	completion, err := r.reasoner.Complete(ctx, req)
	latency := time.Since(start)
	if r.metrics != nil {
		r.metrics.ObserveLLMLatency(r.reasoner.Model(), latency)
	}
	if err != nil {
		return Analysis{}, domain.SideEffect{}, fmt.Errorf("reasoning engine failed: %w", err)
	}
	if r.metrics != nil {
		r.metrics.IncLLMTokens(completion.Model, "input", int(completion.InputTokens))
		r.metrics.IncLLMTokens(completion.Model, "output", int(completion.OutputTokens))
	}

	a, err := parseAnalysis(completion.Text)
	if err != nil {
		return Analysis{}, domain.SideEffect{}, err
	}

	r.logger.Debug("reasoning completed",
		zap.String("model", completion.Model),
		zap.Float64("confidence", a.Confidence),
		zap.Duration("latency", latency))

	return a, domain.SideEffect{
		Tool:  "llm",
		Input: map[string]interface{}{"model": r.reasoner.Model(), "currentIssue": truncate(rc.content, 200)},
		Output: map[string]interface{}{
			"inputTokens":  completion.InputTokens,
			"outputTokens": completion.OutputTokens,
			"confidence":   a.Confidence,
		},
	}, nil
}

// describe renders the context block handed to the reasoning engine.
func (rc reasoningContext) describe() string {
	var parts []string
	if rc.intent != nil {
		parts = append(parts,
			"Intent: "+rc.intent.String("intent"),
			"Urgency: "+rc.intent.String("urgency"))
	}
	if rc.documents != nil {
		parts = append(parts, fmt.Sprintf("Retrieved Knowledge (%d documents):", len(rc.documents)))
		for i, d := range rc.documents {
			if i == 3 {
				break
			}
			content, _ := d["content"].(string)
			parts = append(parts, "- "+truncate(content, 200))
		}
	}
	if len(rc.episodes) > 0 {
		parts = append(parts, fmt.Sprintf("Past Incidents (%d found):", len(rc.episodes)))
		for i, e := range rc.episodes {
			if i == 2 {
				break
			}
			parts = append(parts, "- "+truncate(e.Content, 200))
		}
	}
	return strings.Join(parts, "\n")
}

// parseAnalysis decodes the engine's JSON reply, tolerating a fenced block.
func parseAnalysis(text string) (Analysis, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	var a Analysis
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return Analysis{}, fmt.Errorf("failed to parse reasoning reply: %w", err)
	}
	a.Confidence = clamp(a.Confidence)
	return a, nil
}

// correlate is the deterministic fallback used when no reasoning engine
// is configured. Confidence grows with the evidence the parallel stages
// produced.
func correlate(rc reasoningContext) Analysis {
	a := Analysis{
		Patterns:              []string{},
		RootCauses:            []string{},
		Correlations:          []Correlation{},
		MitigationSuggestions: []string{},
		Confidence:            0.4,
	}

	var why []string
	if rc.intent != nil {
		a.Confidence += 0.15
		a.Patterns = append(a.Patterns, fmt.Sprintf("%s %s (%s urgency)",
			rc.intent.String("category"), rc.intent.String("intent"), rc.intent.String("urgency")))
		why = append(why, "classified as "+rc.intent.String("intent"))
	}

	if len(rc.documents) > 0 {
		a.Confidence += 0.2
		for i, d := range rc.documents {
			if i == 3 {
				break
			}
			key, _ := d["key"].(string)
			content, _ := d["content"].(string)
			a.RootCauses = append(a.RootCauses, "Known issue: "+key)
			a.MitigationSuggestions = append(a.MitigationSuggestions, firstSentence(content))
		}
		why = append(why, fmt.Sprintf("%d knowledge entries matched", len(rc.documents)))
	}

	if len(rc.episodes) > 0 {
		a.Confidence += 0.1
		for i, e := range rc.episodes {
			if i == 2 {
				break
			}
			a.Correlations = append(a.Correlations, Correlation{
				PastIncident: truncate(e.Content, 200),
				Similarity:   math.Round(overlap(rc.content, e.Content)*100) / 100,
			})
		}
		why = append(why, fmt.Sprintf("%d past episodes in this conversation", len(rc.episodes)))
	}

	a.Confidence = clamp(math.Round(a.Confidence*100) / 100)
	if len(why) == 0 {
		a.Reasoning = "No supporting evidence was found for this request"
	} else {
		a.Reasoning = "Request " + strings.Join(why, "; ")
	}
	return a
}

func analysisPayload(a Analysis, engine string) domain.Payload {
	return domain.Payload{
		"patterns":              a.Patterns,
		"rootCauses":            a.RootCauses,
		"correlations":          a.Correlations,
		"mitigationSuggestions": a.MitigationSuggestions,
		"confidence":            a.Confidence,
		"reasoning":             a.Reasoning,
		"engine":                engine,
	}
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".\n"); i >= 0 {
		s = s[:i+1]
	}
	return strings.TrimSuffix(truncate(s, 200), "\n")
}

func clamp(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
