package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/aescanero/triage/pkg/domain"
)

// END is the terminal marker every route leads to.
const END = "END"

// StageFunc is a stage's opaque business logic. It reads the State through
// a read-only view and returns its output and the external calls it made.
type StageFunc func(ctx context.Context, state domain.StateView) (domain.Payload, []domain.SideEffect, error)

// VerdictFunc extracts the terminal verdict from the decision stage's
// successful result.
type VerdictFunc func(result domain.StageResult) (domain.Verdict, error)

// Stage is one node of the graph.
type Stage struct {
	Name         string
	Predecessors []string
	// Timeout overrides the executor's default stage timeout when positive.
	Timeout time.Duration
	Run     StageFunc
}

// Graph is the static pipeline topology. It is built once with a Builder
// and is safe for concurrent use by any number of runs.
type Graph struct {
	stages     map[string]*Stage
	order      []string
	successors map[string][]string
	entry      string
	decision   string
	verdictOf  VerdictFunc
	routes     map[domain.Route]string
}

// Stage returns the named stage.
func (g *Graph) Stage(name string) (*Stage, bool) {
	s, ok := g.stages[name]
	return s, ok
}

// StageNames returns the stage names in declaration order.
func (g *Graph) StageNames() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Successors returns the stages that declare name as a predecessor.
func (g *Graph) Successors(name string) []string {
	return g.successors[name]
}

// Entry returns the single stage without predecessors.
func (g *Graph) Entry() string { return g.entry }

// Decision returns the decision stage's name.
func (g *Graph) Decision() string { return g.decision }

// RouteTarget returns where route leads.
func (g *Graph) RouteTarget(route domain.Route) (string, bool) {
	t, ok := g.routes[route]
	return t, ok
}

// Builder assembles a Graph. Errors are collected and reported by Build.
type Builder struct {
	stages    map[string]*Stage
	order     []string
	decision  string
	verdictOf VerdictFunc
	routes    map[domain.Route]string
	errs      []string
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		stages: make(map[string]*Stage),
		routes: make(map[domain.Route]string),
	}
}

// AddStage registers a stage. Names must be unique.
func (b *Builder) AddStage(s Stage) *Builder {
	if _, exists := b.stages[s.Name]; exists {
		b.errs = append(b.errs, fmt.Sprintf("duplicate stage %q", s.Name))
		return b
	}
	preds := make([]string, len(s.Predecessors))
	copy(preds, s.Predecessors)
	s.Predecessors = preds

	b.stages[s.Name] = &s
	b.order = append(b.order, s.Name)
	return b
}

// Decision designates the decision stage and how its verdict is read.
func (b *Builder) Decision(name string, fn VerdictFunc) *Builder {
	b.decision = name
	b.verdictOf = fn
	return b
}

// Route maps a verdict route to a target. The only valid target is END.
func (b *Builder) Route(route domain.Route, target string) *Builder {
	if !route.Valid() {
		b.errs = append(b.errs, fmt.Sprintf("invalid route %d", route))
		return b
	}
	b.routes[route] = target
	return b
}

// Build validates the topology and returns the immutable Graph.
func (b *Builder) Build() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, &domain.ConfigurationError{Reason: b.errs[0]}
	}

	g := &Graph{
		stages:     make(map[string]*Stage, len(b.stages)),
		order:      make([]string, len(b.order)),
		successors: make(map[string][]string),
		decision:   b.decision,
		verdictOf:  b.verdictOf,
		routes:     make(map[domain.Route]string, len(b.routes)),
	}
	copy(g.order, b.order)
	for name, s := range b.stages {
		g.stages[name] = s
	}
	for r, t := range b.routes {
		g.routes[r] = t
	}
	for _, name := range g.order {
		for _, pred := range g.stages[name].Predecessors {
			g.successors[pred] = append(g.successors[pred], name)
		}
	}

	if err := NewValidator().Validate(g); err != nil {
		return nil, err
	}

	for _, name := range g.order {
		if len(g.stages[name].Predecessors) == 0 {
			g.entry = name
			break
		}
	}
	return g, nil
}
