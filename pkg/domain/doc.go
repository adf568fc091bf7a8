// Package domain holds the types shared by every layer of the pipeline.
//
// The central type is State, the single record threaded through the
// stage graph. Stages never mutate it directly; the executor merges each
// StageResult into it:
//   - Slots: one StageResult per stage, written once by its owner
//   - ExecutionLog and Errors: append-only accumulators
//   - Verdict: written once, by the decision stage
//
// Events, routes, verdicts and the error taxonomy live here as well.
package domain
