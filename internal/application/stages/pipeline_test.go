package stages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aescanero/triage/internal/application/orchestrator"
	"github.com/aescanero/triage/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func seedPasswordReset(t *testing.T, store interface {
	WriteSemantic(context.Context, domain.SemanticWrite) error
}) {
	t.Helper()
	require.NoError(t, store.WriteSemantic(context.Background(), domain.SemanticWrite{
		Key:      "password-reset",
		Content:  "Use the self-service portal to reset your password. Links expire after 24 hours.",
		Category: "account",
	}))
}

func TestPipeline_Shape(t *testing.T) {
	g, err := Pipeline(Deps{})
	require.NoError(t, err)

	assert.Equal(t, Ingestion, g.Entry())
	assert.Equal(t, Guardrails, g.Decision())
	assert.ElementsMatch(t, []string{IntentClassification, KnowledgeRetrieval, Memory}, g.Successors(Planner))
	for _, s := range []string{IntentClassification, KnowledgeRetrieval, Memory} {
		assert.Equal(t, []string{Reasoning}, g.Successors(s))
	}
	target, ok := g.RouteTarget(domain.RouteEscalate)
	require.True(t, ok)
	assert.Equal(t, orchestrator.END, target)
}

func TestPipeline_ReleasesWhenKnowledgeSupportsAnswer(t *testing.T) {
	store := newStore(t)
	seedPasswordReset(t, store)

	state := runPipeline(t, Deps{Memory: store}, domain.Payload{
		"content": "How do I reset my password for the portal?",
	})

	assert.Len(t, state.ExecutionLog(), 8)
	assert.Empty(t, state.Errors())

	intent := slotOutput(t, state, IntentClassification)
	assert.Equal(t, "request", intent.String("intent"))
	assert.Equal(t, "account", intent.String("category"))

	knowledge := slotOutput(t, state, KnowledgeRetrieval)
	assert.Equal(t, 1, knowledge["count"])

	final := state.FinalResponse()
	require.NotNil(t, final)
	assert.Equal(t, domain.RouteAuto, final.Route)
	assert.Contains(t, final.Payload, "Use the self-service portal to reset your password.")
	assert.InDelta(t, 0.75, final.Confidence, 1e-9)

	synthesis := slotOutput(t, state, ResponseSynthesis)
	assert.Equal(t, synthesis.String("response"), final.Payload)
}

func TestPipeline_EscalatesViolentRequest(t *testing.T) {
	store := newStore(t)
	seedPasswordReset(t, store)

	state := runPipeline(t, Deps{Memory: store}, domain.Payload{
		"content": "destroy everything in the datacenter",
	})

	verdict, ok := state.Verdict()
	require.True(t, ok)
	assert.Equal(t, domain.RouteEscalate, verdict.Route)
	require.NotEmpty(t, verdict.Violations)
	assert.Equal(t, "violence", verdict.Violations[0].Category)

	final := state.FinalResponse()
	assert.Equal(t, domain.EscalationNotice, final.Message)
	assert.Equal(t, "Content contains violent language", final.EscalationReason)
	assert.Empty(t, final.Payload)
}

func TestPipeline_EscalatesWithoutEvidence(t *testing.T) {
	state := runPipeline(t, Deps{Memory: newStore(t)}, domain.Payload{
		"content": "How do I reset my password?",
	})

	verdict, _ := state.Verdict()
	assert.Equal(t, domain.RouteEscalate, verdict.Route)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, "low_confidence", verdict.Violations[0].Category)
}

func TestPipeline_StorageErrorsDegrade(t *testing.T) {
	state := runPipeline(t, Deps{Memory: brokenStore{}}, domain.Payload{
		"content": "My invoice shows a double charge",
	})

	assert.Empty(t, state.Errors())

	knowledge := slotOutput(t, state, KnowledgeRetrieval)
	assert.Equal(t, true, knowledge["degraded"])
	assert.Equal(t, 0, knowledge["count"])

	memory := slotOutput(t, state, Memory)
	assert.Equal(t, []string{"working", "episodic", "semantic"}, memory["degraded"])

	assert.Equal(t, domain.RunStatusCompleted, state.Status())
	require.NotNil(t, state.FinalResponse())
}

func TestPipeline_UsesReasoner(t *testing.T) {
	reasoner := &fakeReasoner{text: "```json\n" + `{
		"patterns": ["errors after deploy"],
		"rootCauses": ["bad release"],
		"correlations": [],
		"mitigationSuggestions": ["Roll back the latest deploy."],
		"confidence": 0.92,
		"reasoning": "The failures started with the release."
	}` + "\n```"}

	state := runPipeline(t, Deps{Memory: newStore(t), Reasoner: reasoner}, domain.Payload{
		"content": "The API server returns errors since the deploy",
	})

	require.Len(t, reasoner.reqs, 1)
	assert.Contains(t, reasoner.reqs[0].Prompt, "Intent: incident_report")
	assert.Contains(t, reasoner.reqs[0].Prompt, "The API server returns errors since the deploy")
	assert.Equal(t, defaultMaxTokens, reasoner.reqs[0].MaxTokens)

	reasoning, _ := state.Slot(Reasoning)
	assert.Equal(t, "fake-model", reasoning.Output.String("engine"))
	require.Len(t, reasoning.SideEffects, 1)
	assert.Equal(t, "llm", reasoning.SideEffects[0].Tool)

	final := state.FinalResponse()
	require.NotNil(t, final)
	assert.Equal(t, domain.RouteAuto, final.Route)
	assert.Contains(t, final.Payload, "Roll back the latest deploy.")
	assert.Equal(t, 0.92, final.Confidence)
}

func TestPipeline_ReasonerFailureEscalates(t *testing.T) {
	reasoner := &fakeReasoner{err: errors.New("rate limited")}

	state := runPipeline(t, Deps{Memory: newStore(t), Reasoner: reasoner}, domain.Payload{
		"content": "The API server returns errors since the deploy",
	})

	reasoning, _ := state.Slot(Reasoning)
	assert.Equal(t, domain.StageStatusError, reasoning.Status)
	assert.Contains(t, reasoning.Error, "rate limited")

	synthesis, _ := state.Slot(ResponseSynthesis)
	assert.True(t, synthesis.Degraded)

	verdict, _ := state.Verdict()
	assert.Equal(t, domain.RouteEscalate, verdict.Route)
	assert.Equal(t, "low_confidence", verdict.Violations[0].Category)

	errs := state.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, Reasoning, errs[0].Stage)
}

func TestWriteBack_RemembersDecidedRuns(t *testing.T) {
	store := newStore(t)
	seedPasswordReset(t, store)
	logger := zaptest.NewLogger(t)

	g, err := Pipeline(Deps{Memory: store, Logger: logger})
	require.NoError(t, err)
	manager := orchestrator.NewManager(
		orchestrator.NewExecutor(nil, nil, logger), g, nil, logger,
		orchestrator.WithCompletionHook(WriteBack(store, time.Hour, logger)),
	)

	input := domain.Payload{"content": "How do I reset my password for the portal?", "sessionId": "sess-wb"}
	first, err := manager.Submit(context.Background(), input)
	require.NoError(t, err)

	records, err := store.ReadEpisodic(context.Background(), domain.EpisodicFilter{ConversationID: "sess-wb"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, EpisodeResolution, records[0].EventType)
	assert.Equal(t, "auto", records[0].Outcome)
	assert.Equal(t, first.ID(), records[0].Metadata["runId"])

	working, err := store.ReadWorking(context.Background(), "sess-wb", "")
	require.NoError(t, err)
	assert.Equal(t, "auto", working["last_route"])
	assert.Equal(t, "request", working["last_intent"])

	second, err := manager.Submit(context.Background(), input)
	require.NoError(t, err)
	memory := slotOutput(t, second, Memory)
	assert.Len(t, episodes(memory), 1)

	reasoning := slotOutput(t, second, Reasoning)
	assert.InDelta(t, 0.85, reasoning["confidence"], 1e-9)
}

func TestWriteBack_SkipsUndecidedRuns(t *testing.T) {
	store := newStore(t)
	hook := WriteBack(store, time.Hour, zaptest.NewLogger(t))

	hook(context.Background(), domain.NewState("run-x", "sess-x", domain.Payload{"content": "hi"}))

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts[domain.MemoryEpisodic])
	assert.Zero(t, counts[domain.MemoryWorking])
}
