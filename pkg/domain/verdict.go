package domain

import (
	"fmt"
)

// Route is a terminal outcome of the decision stage. It is a closed set:
// only RouteAuto and RouteEscalate are valid.
type Route uint8

const (
	routeUnknown Route = iota
	// RouteAuto releases the synthesized payload to the caller.
	RouteAuto
	// RouteEscalate withholds the payload and hands the request to a human.
	RouteEscalate
)

// Routes lists every valid route.
var Routes = []Route{RouteAuto, RouteEscalate}

// String returns the wire label of the route.
func (r Route) String() string {
	switch r {
	case RouteAuto:
		return "auto"
	case RouteEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// Valid reports whether r is one of the declared routes.
func (r Route) Valid() bool {
	return r == RouteAuto || r == RouteEscalate
}

// ParseRoute parses a wire label.
func ParseRoute(s string) (Route, error) {
	switch s {
	case "auto":
		return RouteAuto, nil
	case "escalate":
		return RouteEscalate, nil
	default:
		return routeUnknown, fmt.Errorf("unknown route: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Route) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid route %d", r)
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Route) UnmarshalText(text []byte) error {
	parsed, err := ParseRoute(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Severity grades a policy violation.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation is one category matched by the policy stage. It is a
// classification outcome, not an error.
type Violation struct {
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Verdict is the decision stage's output and the State's terminal verdict.
type Verdict struct {
	Route          Route       `json:"route"`
	Violations     []Violation `json:"violations"`
	ConfidenceUsed float64     `json:"confidenceUsed"`
	// Reason is the first violation's message; empty when routed auto.
	Reason string `json:"escalationReason,omitempty"`
	// Payload is the released text; empty when escalated.
	Payload string `json:"payload,omitempty"`
}

// EscalationNotice replaces the payload of escalated requests.
const EscalationNotice = "This request requires human review. It has been escalated."

// FinalResponse is what the caller sees once the route reaches its terminal marker.
type FinalResponse struct {
	Route            Route       `json:"route"`
	Payload          string      `json:"payload,omitempty"`
	Message          string      `json:"message,omitempty"`
	EscalationReason string      `json:"escalationReason,omitempty"`
	Violations       []Violation `json:"violations,omitempty"`
	Confidence       float64     `json:"confidence"`
}

// NewFinalResponse builds the caller-facing response from a verdict.
func NewFinalResponse(v Verdict) *FinalResponse {
	if v.Route == RouteAuto {
		return &FinalResponse{
			Route:      RouteAuto,
			Payload:    v.Payload,
			Confidence: v.ConfidenceUsed,
		}
	}
	violations := make([]Violation, len(v.Violations))
	copy(violations, v.Violations)
	return &FinalResponse{
		Route:            RouteEscalate,
		Message:          EscalationNotice,
		EscalationReason: v.Reason,
		Violations:       violations,
		Confidence:       v.ConfidenceUsed,
	}
}
