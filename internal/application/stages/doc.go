// Package stages contains the triage pipeline: the concrete stage
// functions and the graph that wires them.
//
//	ingestion -> planner -> intent_classification ┐
//	                     -> knowledge_retrieval   ├-> reasoning -> response_synthesis -> guardrails
//	                     -> memory                ┘
//
// guardrails is the decision stage. Both of its routes end the run.
//
// Stages read their predecessors through the StateView and never mutate
// shared state; anything they touch outside the process is declared as a
// SideEffect. Memory store failures degrade the reading stage to an empty
// result instead of failing it.
package stages
