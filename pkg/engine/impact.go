package engine

import (
	"context"
	"sort"

	"github.com/openkiln/kiln/pkg/cache"
)

// ImpactReport describes the blast radius of changing one artifact.
type ImpactReport struct {
	// ArtifactID is the artifact under analysis.
	ArtifactID string `json:"artifact_id"`

	// DirectDependents are artifacts that require it directly.
	DirectDependents []string `json:"direct_dependents"`

	// TransitiveDependents is the full downstream closure, sorted.
	TransitiveDependents []string `json:"transitive_dependents"`

	// WillInvalidate is how many artifacts a change would force to
	// re-execute, not counting the artifact itself.
	WillInvalidate int `json:"will_invalidate"`
}

// ImpactAnalyzer answers "what breaks if this changes" from the cache's
// provenance edges. Purely read-only; it never touches execution records
// and never triggers execution.
type ImpactAnalyzer struct {
	cache cache.ExecutionCache
}

// NewImpactAnalyzer creates an analyzer over the given cache.
func NewImpactAnalyzer(c cache.ExecutionCache) *ImpactAnalyzer {
	return &ImpactAnalyzer{cache: c}
}

// Analyze reports the downstream impact of changing an artifact. An
// artifact with no recorded edges yields an empty report, not an error;
// provenance only covers graphs that have been planned or executed.
func (a *ImpactAnalyzer) Analyze(ctx context.Context, artifactID string) (*ImpactReport, error) {
	direct, err := a.cache.DirectDependents(ctx, artifactID)
	if err != nil {
		return nil, NewTransientError("failed to query direct dependents", err).
			WithCode(ErrCodeCache).WithArtifact(artifactID)
	}

	transitive, err := a.cache.Downstream(ctx, artifactID)
	if err != nil {
		return nil, NewTransientError("failed to query downstream closure", err).
			WithCode(ErrCodeCache).WithArtifact(artifactID)
	}

	sort.Strings(direct)
	sort.Strings(transitive)

	return &ImpactReport{
		ArtifactID:           artifactID,
		DirectDependents:     direct,
		TransitiveDependents: transitive,
		WillInvalidate:       len(transitive),
	}, nil
}

// Dependencies returns the direct upstream requirements of an artifact
// as recorded in provenance.
func (a *ImpactAnalyzer) Dependencies(ctx context.Context, artifactID string) ([]string, error) {
	deps, err := a.cache.DirectDependencies(ctx, artifactID)
	if err != nil {
		return nil, NewTransientError("failed to query dependencies", err).
			WithCode(ErrCodeCache).WithArtifact(artifactID)
	}
	sort.Strings(deps)
	return deps, nil
}

// Upstream returns the transitive closure of an artifact's dependencies.
func (a *ImpactAnalyzer) Upstream(ctx context.Context, artifactID string) ([]string, error) {
	up, err := a.cache.Upstream(ctx, artifactID)
	if err != nil {
		return nil, NewTransientError("failed to query upstream closure", err).
			WithCode(ErrCodeCache).WithArtifact(artifactID)
	}
	sort.Strings(up)
	return up, nil
}
