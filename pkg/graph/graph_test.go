package graph

import (
	"errors"
	"reflect"
	"testing"
)

// buildGraph is a test helper that adds specs and fails on error.
func buildGraph(t *testing.T, specs ...ArtifactSpec) *Graph {
	t.Helper()

	g := New()
	if err := g.AddAll(specs); err != nil {
		t.Fatalf("failed to build graph: %v", err)
	}
	return g
}

func TestAddRejectsDuplicatesAndEmptyIDs(t *testing.T) {
	g := New()

	if err := g.Add(ArtifactSpec{ID: ""}); err == nil {
		t.Error("expected error for empty ID")
	}

	if err := g.Add(ArtifactSpec{ID: "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.Add(ArtifactSpec{ID: "a"}); err == nil {
		t.Error("expected error for duplicate ID")
	}
}

func TestTopologicalSortOrdersDependenciesFirst(t *testing.T) {
	g := buildGraph(t,
		ArtifactSpec{ID: "api", Requires: []string{"models", "db"}},
		ArtifactSpec{ID: "models", Requires: []string{"config"}},
		ArtifactSpec{ID: "db", Requires: []string{"config"}},
		ArtifactSpec{ID: "config"},
	)

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}

	for _, id := range g.IDs() {
		spec := g.Get(id)
		for _, req := range spec.Requires {
			if pos[req] >= pos[id] {
				t.Errorf("%s should come before %s, got order %v", req, id, order)
			}
		}
	}
}

func TestTopologicalSortIsDeterministic(t *testing.T) {
	specs := []ArtifactSpec{
		{ID: "z"},
		{ID: "m"},
		{ID: "a"},
		{ID: "x", Requires: []string{"z", "m", "a"}},
	}

	first, err := buildGraph(t, specs...).TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 10; i++ {
		order, err := buildGraph(t, specs...).TopologicalSort()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(order, first) {
			t.Fatalf("ordering not deterministic: %v vs %v", order, first)
		}
	}

	want := []string{"a", "m", "z", "x"}
	if !reflect.DeepEqual(first, want) {
		t.Errorf("expected order %v, got %v", want, first)
	}
}

func TestTopologicalSortReportsCycle(t *testing.T) {
	g := buildGraph(t,
		ArtifactSpec{ID: "a", Requires: []string{"b"}},
		ArtifactSpec{ID: "b", Requires: []string{"c"}},
		ArtifactSpec{ID: "c", Requires: []string{"a"}},
	)

	_, err := g.TopologicalSort()
	if err == nil {
		t.Fatal("expected cycle error")
	}

	var cycleErr *CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CyclicDependencyError, got %T", err)
	}
	if len(cycleErr.Cycle) == 0 {
		t.Error("expected cycle path in error")
	}
}

func TestExecutionWaves(t *testing.T) {
	g := buildGraph(t,
		ArtifactSpec{ID: "config"},
		ArtifactSpec{ID: "schema"},
		ArtifactSpec{ID: "models", Requires: []string{"config", "schema"}},
		ArtifactSpec{ID: "db", Requires: []string{"config"}},
		ArtifactSpec{ID: "api", Requires: []string{"models", "db"}},
	)

	waves, err := g.ExecutionWaves()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][]string{
		{"config", "schema"},
		{"db", "models"},
		{"api"},
	}
	if !reflect.DeepEqual(waves, want) {
		t.Errorf("expected waves %v, got %v", want, waves)
	}
}

func TestExecutionWavesIgnoresMissingDependencies(t *testing.T) {
	g := buildGraph(t,
		ArtifactSpec{ID: "a", Requires: []string{"ghost"}},
		ArtifactSpec{ID: "b", Requires: []string{"a"}},
	)

	waves, err := g.ExecutionWaves()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][]string{{"a"}, {"b"}}
	if !reflect.DeepEqual(waves, want) {
		t.Errorf("expected waves %v, got %v", want, waves)
	}
}

func TestDetectCycle(t *testing.T) {
	acyclic := buildGraph(t,
		ArtifactSpec{ID: "a"},
		ArtifactSpec{ID: "b", Requires: []string{"a"}},
	)
	if cycle := acyclic.DetectCycle(); cycle != nil {
		t.Errorf("expected no cycle, got %v", cycle)
	}

	cyclic := buildGraph(t,
		ArtifactSpec{ID: "a", Requires: []string{"b"}},
		ArtifactSpec{ID: "b", Requires: []string{"a"}},
	)
	cycle := cyclic.DetectCycle()
	if cycle == nil {
		t.Fatal("expected cycle")
	}
	for _, id := range cycle {
		if id != "a" && id != "b" {
			t.Errorf("unexpected node %s in cycle %v", id, cycle)
		}
	}
}

func TestLeavesAndRoots(t *testing.T) {
	g := buildGraph(t,
		ArtifactSpec{ID: "config"},
		ArtifactSpec{ID: "models", Requires: []string{"config"}},
		ArtifactSpec{ID: "api", Requires: []string{"models"}},
	)

	if leaves := g.Leaves(); !reflect.DeepEqual(leaves, []string{"config"}) {
		t.Errorf("expected leaves [config], got %v", leaves)
	}
	if roots := g.Roots(); !reflect.DeepEqual(roots, []string{"api"}) {
		t.Errorf("expected roots [api], got %v", roots)
	}
}

func TestDependents(t *testing.T) {
	g := buildGraph(t,
		ArtifactSpec{ID: "config"},
		ArtifactSpec{ID: "models", Requires: []string{"config"}},
		ArtifactSpec{ID: "db", Requires: []string{"config"}},
	)

	deps := g.Dependents("config")
	want := []string{"db", "models"}
	if !reflect.DeepEqual(deps, want) {
		t.Errorf("expected dependents %v, got %v", want, deps)
	}

	if deps := g.Dependents("models"); len(deps) != 0 {
		t.Errorf("expected no dependents, got %v", deps)
	}
}

func TestValidateReportsProblems(t *testing.T) {
	tests := []struct {
		name  string
		specs []ArtifactSpec
		count int
	}{
		{
			name: "clean graph",
			specs: []ArtifactSpec{
				{ID: "a"},
				{ID: "b", Requires: []string{"a"}},
			},
			count: 0,
		},
		{
			name: "missing dependency",
			specs: []ArtifactSpec{
				{ID: "a", Requires: []string{"ghost"}},
			},
			count: 1,
		},
		{
			name: "cycle",
			specs: []ArtifactSpec{
				{ID: "a", Requires: []string{"b"}},
				{ID: "b", Requires: []string{"a"}},
			},
			count: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := buildGraph(t, tt.specs...)
			problems := g.Validate()
			if len(problems) != tt.count {
				t.Errorf("expected %d problem(s), got %v", tt.count, problems)
			}
		})
	}
}
