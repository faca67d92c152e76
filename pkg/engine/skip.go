package engine

import (
	"encoding/json"

	"github.com/openkiln/kiln/pkg/cache"
)

// SkipReason explains why an artifact was or wasn't skipped.
type SkipReason string

const (
	// ReasonUnchangedSuccess means the hash matches a previous
	// successful execution; the artifact can be skipped.
	ReasonUnchangedSuccess SkipReason = "unchanged_success"

	// ReasonNoCache means no previous execution exists.
	ReasonNoCache SkipReason = "no_cache"

	// ReasonHashChanged means the input hash differs from the cached one.
	ReasonHashChanged SkipReason = "hash_changed"

	// ReasonPreviousFailed means the previous execution failed and must
	// be retried.
	ReasonPreviousFailed SkipReason = "previous_failed"

	// ReasonPreviousIncomplete means a prior run was interrupted while
	// the artifact was pending or running.
	ReasonPreviousIncomplete SkipReason = "previous_incomplete"

	// ReasonForceRerun means the caller explicitly forced re-execution.
	ReasonForceRerun SkipReason = "force_rerun"
)

// SkipDecision is the classification of whether a cached result may be
// reused for one artifact.
type SkipDecision struct {
	// ArtifactID is the artifact this decision is for.
	ArtifactID string `json:"artifact_id"`

	// CanSkip reports whether the cached result may be reused.
	CanSkip bool `json:"can_skip"`

	// Reason is why the decision was made.
	Reason SkipReason `json:"reason"`

	// CurrentHash is the freshly computed input hash.
	CurrentHash string `json:"current_hash"`

	// PreviousHash is the cached input hash, empty if no record exists.
	PreviousHash string `json:"previous_hash,omitempty"`

	// CachedResult carries the cached payload forward when skipping.
	CachedResult json.RawMessage `json:"cached_result,omitempty"`
}

// EvaluateSkip decides whether an artifact can be skipped. Pure function;
// the first matching rule wins:
//
//  1. forced                          -> force_rerun, execute
//  2. no cached record                -> no_cache, execute
//  3. record failed                   -> previous_failed, execute
//  4. record pending/running          -> previous_incomplete, execute
//  5. hash mismatch                   -> hash_changed, execute
//  6. otherwise                       -> unchanged_success, skip
//
// Failed and interrupted records are never skip-eligible, which gives
// automatic retry and crash recovery without any manual reset.
func EvaluateSkip(artifactID string, cached *cache.Record, currentHash string, forced bool) SkipDecision {
	if forced {
		return SkipDecision{
			ArtifactID:  artifactID,
			CanSkip:     false,
			Reason:      ReasonForceRerun,
			CurrentHash: currentHash,
		}
	}

	if cached == nil {
		return SkipDecision{
			ArtifactID:  artifactID,
			CanSkip:     false,
			Reason:      ReasonNoCache,
			CurrentHash: currentHash,
		}
	}

	if cached.Status == cache.StatusFailed {
		return SkipDecision{
			ArtifactID:   artifactID,
			CanSkip:      false,
			Reason:       ReasonPreviousFailed,
			CurrentHash:  currentHash,
			PreviousHash: cached.InputHash,
		}
	}

	if cached.Status != cache.StatusCompleted {
		// Pending and running records come from interrupted runs; any
		// other non-terminal state is equally untrustworthy.
		return SkipDecision{
			ArtifactID:   artifactID,
			CanSkip:      false,
			Reason:       ReasonPreviousIncomplete,
			CurrentHash:  currentHash,
			PreviousHash: cached.InputHash,
		}
	}

	if currentHash != cached.InputHash {
		return SkipDecision{
			ArtifactID:   artifactID,
			CanSkip:      false,
			Reason:       ReasonHashChanged,
			CurrentHash:  currentHash,
			PreviousHash: cached.InputHash,
		}
	}

	return SkipDecision{
		ArtifactID:   artifactID,
		CanSkip:      true,
		Reason:       ReasonUnchangedSuccess,
		CurrentHash:  currentHash,
		PreviousHash: cached.InputHash,
		CachedResult: cached.Result,
	}
}
