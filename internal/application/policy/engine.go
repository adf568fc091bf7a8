package policy

import (
	"fmt"
	"strings"

	"github.com/aescanero/triage/pkg/domain"
)

// DefaultThreshold is the minimum confidence released without review.
const DefaultThreshold = 0.7

// LowConfidenceCategory is appended after the content categories when the
// candidate's confidence is below the threshold.
const LowConfidenceCategory = "low_confidence"

// Candidate is the response proposed for release.
type Candidate struct {
	Text       string
	Confidence float64
}

// Engine decides whether a candidate response is released or escalated.
// It is immutable after construction and safe for concurrent use.
type Engine struct {
	threshold float64
	rules     []compiledRule
}

// New compiles rules into an Engine. Rules are evaluated in the order given.
func New(threshold float64, rules []Rule) (*Engine, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("confidence threshold %v out of range [0,1]", threshold)
	}
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	return &Engine{threshold: threshold, rules: compiled}, nil
}

// NewDefault builds an Engine with the built-in rules.
func NewDefault(threshold float64) (*Engine, error) {
	return New(threshold, DefaultRules())
}

// FromFile builds an Engine from a rule file. The file's threshold, when
// set, overrides threshold.
func FromFile(path string, threshold float64) (*Engine, error) {
	file, err := LoadRulesFile(path)
	if err != nil {
		return nil, err
	}
	if file.Threshold > 0 {
		threshold = file.Threshold
	}
	return New(threshold, file.Rules)
}

// Threshold returns the confidence threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Categories returns the content categories in evaluation order.
func (e *Engine) Categories() []string {
	out := make([]string, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Category
	}
	return out
}

// Decide evaluates every category against the request and the candidate.
// Any violation escalates; the first violation's message is the reason.
func (e *Engine) Decide(candidate Candidate, input string) domain.Verdict {
	haystack := strings.ToLower(input) + " " + strings.ToLower(candidate.Text)

	violations := make([]domain.Violation, 0)
	for _, r := range e.rules {
		if r.matches(haystack) {
			violations = append(violations, domain.Violation{
				Category: r.Category,
				Severity: r.Severity,
				Message:  r.Message,
			})
		}
	}
	if candidate.Confidence < e.threshold {
		violations = append(violations, domain.Violation{
			Category: LowConfidenceCategory,
			Severity: domain.SeverityMedium,
			Message:  fmt.Sprintf("Confidence %.2f below threshold %v", candidate.Confidence, e.threshold),
		})
	}

	if len(violations) > 0 {
		return domain.Verdict{
			Route:          domain.RouteEscalate,
			Violations:     violations,
			ConfidenceUsed: candidate.Confidence,
			Reason:         violations[0].Message,
		}
	}
	return domain.Verdict{
		Route:          domain.RouteAuto,
		Violations:     violations,
		ConfidenceUsed: candidate.Confidence,
		Payload:        candidate.Text,
	}
}
