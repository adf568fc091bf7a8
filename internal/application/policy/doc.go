// Package policy implements the content policy that gates the release of
// a synthesized response.
//
// An Engine holds an ordered list of content categories, each a set of
// case-insensitive regular expressions, plus a confidence threshold. Decide
// is a pure function of its inputs and that static configuration: it
// evaluates every category, adds a low_confidence violation when needed,
// and routes to escalate iff any violation was found.
//
// The built-in categories are embedded from rules.yaml; a deployment can
// replace them with its own file via FromFile.
package policy
