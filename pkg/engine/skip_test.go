package engine

import (
	"encoding/json"
	"testing"

	"github.com/openkiln/kiln/pkg/cache"
)

func TestEvaluateSkip(t *testing.T) {
	payload := json.RawMessage(`{"artifact_id":"a","content":"ok"}`)

	tests := []struct {
		name    string
		cached  *cache.Record
		hash    string
		forced  bool
		canSkip bool
		reason  SkipReason
	}{
		{
			name:    "no cached record",
			cached:  nil,
			hash:    "h1",
			canSkip: false,
			reason:  ReasonNoCache,
		},
		{
			name: "force overrides completed match",
			cached: &cache.Record{
				ArtifactID: "a", InputHash: "h1",
				Status: cache.StatusCompleted, Result: payload,
			},
			hash:    "h1",
			forced:  true,
			canSkip: false,
			reason:  ReasonForceRerun,
		},
		{
			name: "previous failure always retries",
			cached: &cache.Record{
				ArtifactID: "a", InputHash: "h1",
				Status: cache.StatusFailed, Error: "boom",
			},
			hash:    "h1",
			canSkip: false,
			reason:  ReasonPreviousFailed,
		},
		{
			name: "pending record re-executes",
			cached: &cache.Record{
				ArtifactID: "a", InputHash: "h1",
				Status: cache.StatusPending,
			},
			hash:    "h1",
			canSkip: false,
			reason:  ReasonPreviousIncomplete,
		},
		{
			name: "running record re-executes after crash",
			cached: &cache.Record{
				ArtifactID: "a", InputHash: "h1",
				Status: cache.StatusRunning,
			},
			hash:    "h1",
			canSkip: false,
			reason:  ReasonPreviousIncomplete,
		},
		{
			name: "hash mismatch re-executes",
			cached: &cache.Record{
				ArtifactID: "a", InputHash: "h1",
				Status: cache.StatusCompleted, Result: payload,
			},
			hash:    "h2",
			canSkip: false,
			reason:  ReasonHashChanged,
		},
		{
			name: "completed with matching hash skips",
			cached: &cache.Record{
				ArtifactID: "a", InputHash: "h1",
				Status: cache.StatusCompleted, Result: payload,
			},
			hash:    "h1",
			canSkip: true,
			reason:  ReasonUnchangedSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := EvaluateSkip("a", tt.cached, tt.hash, tt.forced)

			if d.CanSkip != tt.canSkip {
				t.Errorf("expected CanSkip=%v, got %v", tt.canSkip, d.CanSkip)
			}
			if d.Reason != tt.reason {
				t.Errorf("expected reason %s, got %s", tt.reason, d.Reason)
			}
			if d.ArtifactID != "a" {
				t.Errorf("expected artifact id a, got %s", d.ArtifactID)
			}
		})
	}
}

func TestEvaluateSkipCarriesCachedResult(t *testing.T) {
	payload := json.RawMessage(`{"artifact_id":"a","content":"ok"}`)
	cached := &cache.Record{
		ArtifactID: "a", InputHash: "h1",
		Status: cache.StatusCompleted, Result: payload,
	}

	d := EvaluateSkip("a", cached, "h1", false)
	if !d.CanSkip {
		t.Fatal("expected skip")
	}
	if string(d.CachedResult) != string(payload) {
		t.Errorf("expected cached result carried forward, got %s", d.CachedResult)
	}
	if d.PreviousHash != "h1" || d.CurrentHash != "h1" {
		t.Errorf("expected both hashes recorded, got prev=%s cur=%s", d.PreviousHash, d.CurrentHash)
	}
}

func TestSkippedStatusIsNotSkipEligibleAlone(t *testing.T) {
	// A record can only be marked skipped through RecordSkip bookkeeping
	// on top of a completed execution; a bare skipped status without a
	// completed execution must not satisfy the skip rules.
	cached := &cache.Record{
		ArtifactID: "a", InputHash: "h1",
		Status: cache.StatusSkipped,
	}

	d := EvaluateSkip("a", cached, "h1", false)
	if d.CanSkip {
		t.Error("skipped status without completed execution should not be skip-eligible")
	}
}
