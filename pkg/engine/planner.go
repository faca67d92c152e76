package engine

import (
	"context"
	"fmt"

	"github.com/openkiln/kiln/pkg/cache"
	"github.com/openkiln/kiln/pkg/graph"
)

// ExecutionPlan classifies every artifact in the graph as to-execute or
// to-skip, with the full skip decisions and computed hashes.
type ExecutionPlan struct {
	// ToExecute lists artifacts that need execution, in dependency order.
	ToExecute []string `json:"to_execute"`

	// ToSkip lists artifacts whose cached results will be reused.
	ToSkip []string `json:"to_skip"`

	// Decisions holds the skip decision for every artifact.
	Decisions map[string]SkipDecision `json:"decisions"`

	// Hashes holds the input hash computed for every artifact.
	Hashes map[string]string `json:"hashes"`

	// SpecHashes holds the dependency-independent spec hashes.
	SpecHashes map[string]string `json:"spec_hashes"`
}

// Total returns the number of artifacts in the plan.
func (p *ExecutionPlan) Total() int {
	return len(p.ToExecute) + len(p.ToSkip)
}

// SkipRatio returns the percentage of artifacts that will be skipped.
func (p *ExecutionPlan) SkipRatio() float64 {
	if p.Total() == 0 {
		return 0
	}
	return float64(len(p.ToSkip)) / float64(p.Total()) * 100
}

// Planner computes execution plans by walking the artifact graph in
// dependency order and evaluating skip decisions against the cache.
type Planner struct {
	graph *graph.Graph
	cache cache.ExecutionCache
}

// NewPlanner creates a planner over the given graph and cache.
func NewPlanner(g *graph.Graph, c cache.ExecutionCache) *Planner {
	return &Planner{graph: g, cache: c}
}

// Plan walks the graph in topological order, computes chained input
// hashes, and classifies every artifact. It is read-only with respect to
// the cache, so it is safe to call repeatedly as a dry-run preview.
//
// Artifacts in the forced set are always classified to-execute. On a
// cyclic graph planning still completes: artifacts on the cycle see the
// UnknownHash sentinel for their unhashed dependencies.
func (p *Planner) Plan(ctx context.Context, forced map[string]struct{}) (*ExecutionPlan, error) {
	order, err := p.graph.TopologicalSort()
	if err != nil {
		// Degrade to a stable ordering; cycle members hash against the
		// sentinel instead of aborting the plan.
		order = p.graph.IDs()
	}

	plan := &ExecutionPlan{
		ToExecute:  []string{},
		ToSkip:     []string{},
		Decisions:  make(map[string]SkipDecision, len(order)),
		Hashes:     make(map[string]string, len(order)),
		SpecHashes: make(map[string]string, len(order)),
	}

	for _, id := range order {
		spec := p.graph.Get(id)
		if spec == nil {
			continue
		}

		depHashes := make(map[string]string, len(spec.Requires))
		for _, dep := range spec.Requires {
			if h, ok := plan.Hashes[dep]; ok {
				depHashes[dep] = h
			} else {
				depHashes[dep] = UnknownHash
			}
		}

		specHash := SpecHash(spec)
		currentHash := InputHash(specHash, depHashes)

		rec, err := p.cache.Get(ctx, id)
		if err != nil {
			return nil, NewPermanentError(
				fmt.Sprintf("failed to read cache while planning %s", id), err).
				WithCode(ErrCodeCache).WithArtifact(id)
		}

		_, isForced := forced[id]
		decision := EvaluateSkip(id, rec, currentHash, isForced)

		plan.SpecHashes[id] = specHash
		plan.Hashes[id] = currentHash
		plan.Decisions[id] = decision

		if decision.CanSkip {
			plan.ToSkip = append(plan.ToSkip, id)
		} else {
			plan.ToExecute = append(plan.ToExecute, id)
		}
	}

	return plan, nil
}

// ForceSet converts a list of artifact IDs into the forced-set form
// accepted by Plan and Execute.
func ForceSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
