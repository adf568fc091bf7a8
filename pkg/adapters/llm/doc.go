// Package llm provides reasoning engine implementations.
//
// The factory creates a Reasoner based on provider configuration.
// Currently supports:
//   - heuristic (no external engine; the reasoning stage correlates locally)
//   - Anthropic Claude
package llm
