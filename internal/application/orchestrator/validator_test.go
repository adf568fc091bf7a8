package orchestrator

import (
	"testing"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_ValidDiamond(t *testing.T) {
	g := buildGraph(t,
		Stage{Name: "a", Run: okStage(nil)},
		Stage{Name: "b", Predecessors: []string{"a"}, Run: okStage(nil)},
		Stage{Name: "c", Predecessors: []string{"a"}, Run: okStage(nil)},
		Stage{Name: decideStage, Predecessors: []string{"b", "c"}, Run: routeStage(domain.RouteAuto)},
	)

	assert.Equal(t, "a", g.Entry())
	assert.Equal(t, decideStage, g.Decision())
	assert.Equal(t, []string{"a", "b", "c", decideStage}, g.StageNames())
	assert.ElementsMatch(t, []string{"b", "c"}, g.Successors("a"))

	target, ok := g.RouteTarget(domain.RouteEscalate)
	require.True(t, ok)
	assert.Equal(t, END, target)
}

func TestBuilder_Rejects(t *testing.T) {
	run := okStage(nil)
	decide := routeStage(domain.RouteAuto)

	tests := []struct {
		name  string
		build func() *Builder
	}{
		{
			name: "empty graph",
			build: func() *Builder {
				return NewBuilder().Decision(decideStage, verdictFromOutput)
			},
		},
		{
			name: "duplicate stage",
			build: func() *Builder {
				return NewBuilder().
					AddStage(Stage{Name: "a", Run: run}).
					AddStage(Stage{Name: "a", Run: run})
			},
		},
		{
			name: "missing predecessor",
			build: func() *Builder {
				return NewBuilder().
					AddStage(Stage{Name: "a", Run: run}).
					AddStage(Stage{Name: decideStage, Predecessors: []string{"ghost"}, Run: decide})
			},
		},
		{
			name: "cycle",
			build: func() *Builder {
				return NewBuilder().
					AddStage(Stage{Name: "a", Run: run}).
					AddStage(Stage{Name: "b", Predecessors: []string{"a", "c"}, Run: run}).
					AddStage(Stage{Name: "c", Predecessors: []string{"b"}, Run: run}).
					AddStage(Stage{Name: decideStage, Predecessors: []string{"c"}, Run: decide})
			},
		},
		{
			name: "self dependency",
			build: func() *Builder {
				return NewBuilder().
					AddStage(Stage{Name: "a", Run: run}).
					AddStage(Stage{Name: decideStage, Predecessors: []string{"a", decideStage}, Run: decide})
			},
		},
		{
			name: "two entries",
			build: func() *Builder {
				return NewBuilder().
					AddStage(Stage{Name: "a", Run: run}).
					AddStage(Stage{Name: "b", Run: run}).
					AddStage(Stage{Name: decideStage, Predecessors: []string{"a", "b"}, Run: decide})
			},
		},
		{
			name: "decision has successors",
			build: func() *Builder {
				return NewBuilder().
					AddStage(Stage{Name: "a", Run: run}).
					AddStage(Stage{Name: decideStage, Predecessors: []string{"a"}, Run: decide}).
					AddStage(Stage{Name: "after", Predecessors: []string{decideStage}, Run: run})
			},
		},
		{
			name: "dangling stage",
			build: func() *Builder {
				return NewBuilder().
					AddStage(Stage{Name: "a", Run: run}).
					AddStage(Stage{Name: "side", Predecessors: []string{"a"}, Run: run}).
					AddStage(Stage{Name: decideStage, Predecessors: []string{"a"}, Run: decide})
			},
		},
		{
			name: "nil stage function",
			build: func() *Builder {
				return NewBuilder().
					AddStage(Stage{Name: "a"}).
					AddStage(Stage{Name: decideStage, Predecessors: []string{"a"}, Run: decide})
			},
		},
		{
			name: "reserved name",
			build: func() *Builder {
				return NewBuilder().
					AddStage(Stage{Name: END, Run: run}).
					AddStage(Stage{Name: decideStage, Predecessors: []string{END}, Run: decide})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.build()
			if b.decision == "" {
				b.Decision(decideStage, verdictFromOutput)
			}
			_, err := b.Route(domain.RouteAuto, END).Route(domain.RouteEscalate, END).Build()
			require.Error(t, err)
			assert.True(t, domain.IsConfigurationError(err), "got %v", err)
		})
	}
}

func TestBuilder_RouteChecks(t *testing.T) {
	base := func() *Builder {
		return NewBuilder().
			AddStage(Stage{Name: "a", Run: okStage(nil)}).
			AddStage(Stage{Name: decideStage, Predecessors: []string{"a"}, Run: routeStage(domain.RouteAuto)}).
			Decision(decideStage, verdictFromOutput)
	}

	_, err := base().Route(domain.RouteAuto, END).Build()
	assert.ErrorContains(t, err, "route escalate is not mapped")

	_, err = base().Route(domain.RouteAuto, END).Route(domain.RouteEscalate, "a").Build()
	assert.ErrorContains(t, err, "must lead to END")

	_, err = base().Route(domain.Route(42), END).Build()
	assert.Error(t, err)

	_, err = NewBuilder().
		AddStage(Stage{Name: "a", Run: okStage(nil)}).
		AddStage(Stage{Name: decideStage, Predecessors: []string{"a"}, Run: routeStage(domain.RouteAuto)}).
		Route(domain.RouteAuto, END).Route(domain.RouteEscalate, END).
		Build()
	assert.ErrorContains(t, err, "decision stage is required")
}

func TestFindCycle_ReportsPath(t *testing.T) {
	g := &Graph{
		stages: map[string]*Stage{
			"a": {Name: "a"}, "b": {Name: "b"}, "c": {Name: "c"},
		},
		order: []string{"a", "b", "c"},
		successors: map[string][]string{
			"a": {"b"},
			"b": {"c"},
			"c": {"b"},
		},
	}
	assert.Equal(t, []string{"b", "c", "b"}, findCycle(g))
}
