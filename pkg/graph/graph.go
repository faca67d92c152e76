// Package graph provides the artifact dependency graph used by the kiln
// execution engine. Artifacts are declared units of generated output with
// explicit dependencies; the graph resolves their execution order and
// groups independent artifacts into parallel waves.
package graph

import (
	"fmt"
	"sort"
	"strings"
)

// ArtifactSpec describes one declared unit of generated output.
type ArtifactSpec struct {
	// ID is the unique identifier of the artifact within a graph.
	ID string `json:"id" yaml:"id"`

	// Description is a human-readable summary of the artifact.
	Description string `json:"description" yaml:"description"`

	// Contract is what the artifact must satisfy (type signature,
	// outline, spec text). Treated as opaque content by the engine.
	Contract string `json:"contract" yaml:"contract"`

	// ProducesFile is the optional file path this artifact creates.
	ProducesFile string `json:"produces_file,omitempty" yaml:"produces_file,omitempty"`

	// Requires lists artifact IDs that must exist before this one.
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty"`

	// DomainType classifies the artifact (e.g. "protocol", "module").
	DomainType string `json:"domain_type,omitempty" yaml:"domain_type,omitempty"`

	// Metadata carries additional domain-specific data.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IsLeaf reports whether the artifact has no dependencies.
func (s *ArtifactSpec) IsLeaf() bool {
	return len(s.Requires) == 0
}

// CyclicDependencyError is returned when artifact dependencies form a cycle.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Cycle) == 0 {
		return "cyclic dependency detected"
	}
	return fmt.Sprintf("cyclic dependency detected: %s -> %s",
		strings.Join(e.Cycle, " -> "), e.Cycle[0])
}

// Graph is a directed acyclic graph of artifacts with dependency
// resolution. Execution proceeds from leaves (no dependencies) to roots
// (nothing depends on them).
type Graph struct {
	artifacts  map[string]*ArtifactSpec
	dependents map[string]map[string]struct{}
}

// New creates an empty artifact graph.
func New() *Graph {
	return &Graph{
		artifacts:  make(map[string]*ArtifactSpec),
		dependents: make(map[string]map[string]struct{}),
	}
}

// Add inserts an artifact into the graph. Duplicate IDs are rejected.
func (g *Graph) Add(spec ArtifactSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("artifact has empty ID")
	}
	if _, exists := g.artifacts[spec.ID]; exists {
		return fmt.Errorf("artifact %q already exists in graph", spec.ID)
	}

	s := spec
	g.artifacts[s.ID] = &s
	if g.dependents[s.ID] == nil {
		g.dependents[s.ID] = make(map[string]struct{})
	}
	for _, req := range s.Requires {
		if g.dependents[req] == nil {
			g.dependents[req] = make(map[string]struct{})
		}
		g.dependents[req][s.ID] = struct{}{}
	}
	return nil
}

// AddAll inserts multiple artifacts, stopping at the first error.
func (g *Graph) AddAll(specs []ArtifactSpec) error {
	for _, spec := range specs {
		if err := g.Add(spec); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the artifact with the given ID, or nil if absent.
func (g *Graph) Get(id string) *ArtifactSpec {
	return g.artifacts[id]
}

// Contains reports whether an artifact exists in the graph.
func (g *Graph) Contains(id string) bool {
	_, ok := g.artifacts[id]
	return ok
}

// Len returns the number of artifacts in the graph.
func (g *Graph) Len() int {
	return len(g.artifacts)
}

// IDs returns all artifact IDs in sorted order.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.artifacts))
	for id := range g.artifacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Leaves returns artifacts with no dependencies, sorted by ID.
func (g *Graph) Leaves() []string {
	var leaves []string
	for id, spec := range g.artifacts {
		if spec.IsLeaf() {
			leaves = append(leaves, id)
		}
	}
	sort.Strings(leaves)
	return leaves
}

// Roots returns artifacts nothing depends on, sorted by ID.
func (g *Graph) Roots() []string {
	var roots []string
	for id := range g.artifacts {
		if len(g.dependents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// Dependents returns the artifacts that directly require the given one,
// sorted by ID.
func (g *Graph) Dependents(id string) []string {
	deps := make([]string, 0, len(g.dependents[id]))
	for dep := range g.dependents[id] {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

// TopologicalSort returns artifact IDs in dependency order using Kahn's
// algorithm. The result is deterministic: ties are broken by ID. Returns
// a CyclicDependencyError if the graph contains a cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.artifacts))
	for id, spec := range g.artifacts {
		count := 0
		for _, req := range spec.Requires {
			if _, ok := g.artifacts[req]; ok {
				count++
			}
		}
		inDegree[id] = count
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	result := make([]string, 0, len(g.artifacts))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		result = append(result, id)

		var unlocked []string
		for dep := range g.dependents[id] {
			if _, ok := g.artifacts[dep]; !ok {
				continue
			}
			inDegree[dep]--
			if inDegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		sort.Strings(unlocked)
		ready = mergeSorted(ready, unlocked)
	}

	if len(result) != len(g.artifacts) {
		if cycle := g.DetectCycle(); cycle != nil {
			return nil, &CyclicDependencyError{Cycle: cycle}
		}
		remaining := make([]string, 0)
		for id := range g.artifacts {
			if inDegree[id] > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return nil, &CyclicDependencyError{Cycle: remaining}
	}

	return result, nil
}

// ExecutionWaves groups artifacts into parallel execution batches. Each
// wave contains every artifact whose dependencies are satisfied by
// previous waves; artifacts within a wave are independent of each other.
// Wave contents are sorted by ID for deterministic scheduling.
func (g *Graph) ExecutionWaves() ([][]string, error) {
	completed := make(map[string]struct{}, len(g.artifacts))
	pending := make(map[string]struct{}, len(g.artifacts))
	for id := range g.artifacts {
		pending[id] = struct{}{}
	}

	var waves [][]string
	for len(pending) > 0 {
		var ready []string
		for id := range pending {
			satisfied := true
			for _, req := range g.artifacts[id].Requires {
				if _, ok := g.artifacts[req]; !ok {
					// Missing dependency cannot block forever;
					// validation reports it separately.
					continue
				}
				if _, done := completed[req]; !done {
					satisfied = false
					break
				}
			}
			if satisfied {
				ready = append(ready, id)
			}
		}

		if len(ready) == 0 {
			if cycle := g.DetectCycle(); cycle != nil {
				return nil, &CyclicDependencyError{Cycle: cycle}
			}
			stuck := make([]string, 0, len(pending))
			for id := range pending {
				stuck = append(stuck, id)
			}
			sort.Strings(stuck)
			return nil, fmt.Errorf("execution deadlock with pending artifacts: %v", stuck)
		}

		sort.Strings(ready)
		waves = append(waves, ready)
		for _, id := range ready {
			completed[id] = struct{}{}
			delete(pending, id)
		}
	}

	return waves, nil
}

// DetectCycle returns the IDs forming a dependency cycle, or nil if the
// graph is acyclic. Uses three-color DFS with path reconstruction.
func (g *Graph) DetectCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int, len(g.artifacts))
	parent := make(map[string]string, len(g.artifacts))

	var dfs func(node string) []string
	dfs = func(node string) []string {
		color[node] = gray
		spec := g.artifacts[node]

		reqs := append([]string(nil), spec.Requires...)
		sort.Strings(reqs)
		for _, req := range reqs {
			if _, ok := g.artifacts[req]; !ok {
				continue
			}
			switch color[req] {
			case gray:
				cycle := []string{req, node}
				for cur := parent[node]; cur != "" && cur != req; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				reverse(cycle)
				return cycle
			case white:
				parent[req] = node
				if cycle := dfs(req); cycle != nil {
					return cycle
				}
			}
		}

		color[node] = black
		return nil
	}

	for _, id := range g.IDs() {
		if color[id] == white {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Orphans returns artifacts not reachable from any root by following
// dependency edges backward. Orphans usually indicate an incomplete graph.
func (g *Graph) Orphans() []string {
	roots := g.Roots()
	if len(roots) == 0 {
		return nil
	}

	connected := make(map[string]struct{}, len(g.artifacts))
	queue := append([]string(nil), roots...)
	for _, r := range roots {
		connected[r] = struct{}{}
	}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		spec := g.artifacts[node]
		if spec == nil {
			continue
		}
		for _, req := range spec.Requires {
			if _, ok := g.artifacts[req]; !ok {
				continue
			}
			if _, seen := connected[req]; !seen {
				connected[req] = struct{}{}
				queue = append(queue, req)
			}
		}
	}

	var orphans []string
	for id := range g.artifacts {
		if _, ok := connected[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	return orphans
}

// Validate checks the graph for missing dependencies, cycles, and orphan
// artifacts. Returns a list of problems, empty if the graph is sound.
func (g *Graph) Validate() []string {
	var problems []string

	for _, id := range g.IDs() {
		spec := g.artifacts[id]
		var missing []string
		for _, req := range spec.Requires {
			if !g.Contains(req) {
				missing = append(missing, req)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			problems = append(problems, fmt.Sprintf(
				"artifact %q requires non-existent artifacts: %v", id, missing))
		}
	}

	if cycle := g.DetectCycle(); cycle != nil {
		problems = append(problems, (&CyclicDependencyError{Cycle: cycle}).Error())
	}

	if orphans := g.Orphans(); len(orphans) > 0 {
		problems = append(problems, fmt.Sprintf(
			"orphan artifacts not connected to any root: %v", orphans))
	}

	return problems
}

// mergeSorted merges two sorted string slices into one sorted slice.
func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	if len(a) == 0 {
		return b
	}
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
