// Package orchestrator implements the pipeline core.
//
//   - Graph and Builder declare the static stage topology: one entry stage,
//     one terminal decision stage, and both routes leading to END
//   - Validator rejects cyclic or malformed topologies with a ConfigurationError
//   - Executor runs the graph in waves on the worker pool, records every
//     stage result into the State and resolves the terminal route
//   - Manager seeds a State per request, enforces the run deadline, tracks
//     in-flight runs for cancellation, publishes run events and archives
//     finished runs
package orchestrator
