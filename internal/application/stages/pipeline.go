package stages

import (
	"time"

	"github.com/aescanero/triage/internal/application/orchestrator"
	"github.com/aescanero/triage/internal/application/policy"
	"github.com/aescanero/triage/pkg/domain"
	"github.com/aescanero/triage/pkg/ports"
	"go.uber.org/zap"
)

// Stage names.
const (
	Ingestion            = "ingestion"
	Planner              = "planner"
	IntentClassification = "intent_classification"
	KnowledgeRetrieval   = "knowledge_retrieval"
	Memory               = "memory"
	Reasoning            = "reasoning"
	ResponseSynthesis    = "response_synthesis"
	Guardrails           = "guardrails"
)

// Deps are the process-wide services the stages use.
type Deps struct {
	// Memory backs knowledge retrieval and the memory stage. Nil yields
	// empty results.
	Memory ports.MemoryStore
	// Reasoner is used by the reasoning stage when set; otherwise the
	// heuristic correlator runs.
	Reasoner ports.Reasoner
	Policy   *policy.Engine
	Metrics  ports.MetricsCollector
	Logger   *zap.Logger

	// ReasoningTimeout overrides the executor's stage timeout for the
	// reasoning stage.
	ReasoningTimeout time.Duration
	MaxTokens        int
}

// Pipeline builds the triage graph.
func Pipeline(deps Deps) (*orchestrator.Graph, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Policy == nil {
		engine, err := policy.NewDefault(policy.DefaultThreshold)
		if err != nil {
			return nil, err
		}
		deps.Policy = engine
	}

	knowledge := &knowledgeStage{store: deps.Memory, logger: deps.Logger}
	memory := &memoryStage{store: deps.Memory, logger: deps.Logger}
	reasoning := &reasoningStage{
		reasoner:  deps.Reasoner,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		maxTokens: deps.MaxTokens,
	}
	guardrails := &guardrailsStage{policy: deps.Policy, logger: deps.Logger}

	parallel := []string{IntentClassification, KnowledgeRetrieval, Memory}

	return orchestrator.NewBuilder().
		AddStage(orchestrator.Stage{Name: Ingestion, Run: ingest}).
		AddStage(orchestrator.Stage{Name: Planner, Predecessors: []string{Ingestion}, Run: plan}).
		AddStage(orchestrator.Stage{Name: IntentClassification, Predecessors: []string{Planner}, Run: classify}).
		AddStage(orchestrator.Stage{Name: KnowledgeRetrieval, Predecessors: []string{Planner}, Run: knowledge.run}).
		AddStage(orchestrator.Stage{Name: Memory, Predecessors: []string{Planner}, Run: memory.run}).
		AddStage(orchestrator.Stage{
			Name:         Reasoning,
			Predecessors: parallel,
			Timeout:      deps.ReasoningTimeout,
			Run:          reasoning.run,
		}).
		AddStage(orchestrator.Stage{Name: ResponseSynthesis, Predecessors: []string{Reasoning}, Run: synthesize}).
		AddStage(orchestrator.Stage{Name: Guardrails, Predecessors: []string{ResponseSynthesis}, Run: guardrails.run}).
		Decision(Guardrails, VerdictFromResult).
		Route(domain.RouteAuto, orchestrator.END).
		Route(domain.RouteEscalate, orchestrator.END).
		Build()
}

// successful returns the output of a predecessor that succeeded.
func successful(state domain.StateView, stage string) (domain.Payload, bool) {
	r, ok := state.Slot(stage)
	if !ok || !r.Succeeded() {
		return nil, false
	}
	return r.Output, true
}

// normalized returns the ingestion output, re-deriving it from the raw
// input when ingestion did not succeed.
func normalized(state domain.StateView) domain.Payload {
	if out, ok := successful(state, Ingestion); ok {
		return out
	}
	return normalize(state)
}
