package orchestrator

import (
	"fmt"
	"strings"

	"github.com/aescanero/triage/pkg/domain"
)

// Validator validates graph structures
type Validator struct{}

// NewValidator creates a new graph validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the topology and returns a ConfigurationError describing
// the first problem found.
func (v *Validator) Validate(g *Graph) error {
	if err := v.validate(g); err != nil {
		return &domain.ConfigurationError{Reason: "invalid graph", Err: err}
	}
	return nil
}

func (v *Validator) validate(g *Graph) error {
	if g == nil {
		return fmt.Errorf("graph is nil")
	}

	if len(g.stages) == 0 {
		return fmt.Errorf("graph must have at least one stage")
	}

	for _, name := range g.order {
		if err := v.validateStage(g, g.stages[name]); err != nil {
			return fmt.Errorf("invalid stage %s: %w", name, err)
		}
	}

	var entries []string
	for _, name := range g.order {
		if len(g.stages[name].Predecessors) == 0 {
			entries = append(entries, name)
		}
	}
	if len(entries) != 1 {
		return fmt.Errorf("graph must have exactly one entry stage, found %d %v", len(entries), entries)
	}

	if cycle := findCycle(g); cycle != nil {
		return fmt.Errorf("graph has a cycle: %s", strings.Join(cycle, " -> "))
	}

	if g.decision == "" {
		return fmt.Errorf("decision stage is required")
	}
	if _, exists := g.stages[g.decision]; !exists {
		return fmt.Errorf("decision stage %s not found in graph", g.decision)
	}
	if g.verdictOf == nil {
		return fmt.Errorf("decision stage %s has no verdict function", g.decision)
	}
	if succ := g.successors[g.decision]; len(succ) > 0 {
		return fmt.Errorf("decision stage %s must be terminal, has successors %v", g.decision, succ)
	}

	// Every other stage must feed something, so every path ends at the decision.
	for _, name := range g.order {
		if name != g.decision && len(g.successors[name]) == 0 {
			return fmt.Errorf("stage %s has no path to the decision stage", name)
		}
	}

	for _, route := range domain.Routes {
		target, ok := g.routes[route]
		if !ok {
			return fmt.Errorf("route %s is not mapped", route)
		}
		if target != END {
			return fmt.Errorf("route %s must lead to %s, got %q", route, END, target)
		}
	}

	return nil
}

// validateStage validates a single stage
func (v *Validator) validateStage(g *Graph, s *Stage) error {
	if s.Name == "" {
		return fmt.Errorf("stage name is required")
	}
	if s.Name == END {
		return fmt.Errorf("stage name %s is reserved", END)
	}
	if s.Run == nil {
		return fmt.Errorf("stage function is nil")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("negative timeout")
	}

	seen := make(map[string]bool, len(s.Predecessors))
	for _, pred := range s.Predecessors {
		if pred == s.Name {
			return fmt.Errorf("stage depends on itself")
		}
		if seen[pred] {
			return fmt.Errorf("duplicate predecessor %s", pred)
		}
		seen[pred] = true
		if _, exists := g.stages[pred]; !exists {
			return fmt.Errorf("predecessor %s not found in graph", pred)
		}
	}
	return nil
}

// findCycle returns one cycle as a stage path, or nil if the graph is acyclic.
func findCycle(g *Graph) []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.stages))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = grey
		stack = append(stack, name)
		for _, next := range g.successors[name] {
			switch color[next] {
			case grey:
				for i, n := range stack {
					if n == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						break
					}
				}
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return false
	}

	for _, name := range g.order {
		if color[name] == white && visit(name) {
			return cycle
		}
	}
	return nil
}
