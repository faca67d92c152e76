package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a cached artifact execution.
type Status string

const (
	// StatusPending indicates the artifact is queued for execution.
	StatusPending Status = "pending"

	// StatusRunning indicates the artifact is currently executing.
	StatusRunning Status = "running"

	// StatusCompleted indicates the execution succeeded.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the execution failed.
	StatusFailed Status = "failed"

	// StatusSkipped indicates the artifact was reused from cache.
	StatusSkipped Status = "skipped"
)

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Record is the latest cached execution for one artifact. The cache keeps
// exactly one record per artifact ID; every Put overwrites the prior one.
type Record struct {
	// ArtifactID is the artifact this record is for.
	ArtifactID string `json:"artifact_id"`

	// InputHash is the chained input hash at execution time.
	InputHash string `json:"input_hash"`

	// SpecHash is the hash of the artifact's own declaration.
	SpecHash string `json:"spec_hash,omitempty"`

	// Status is the execution status.
	Status Status `json:"status"`

	// Result is the opaque result payload, if the execution completed.
	Result json.RawMessage `json:"result,omitempty"`

	// Error is the failure message, if the execution failed.
	Error string `json:"error,omitempty"`

	// ExecutedAt is when the execution was recorded.
	ExecutedAt time.Time `json:"executed_at"`

	// Duration is how long the execution took.
	Duration time.Duration `json:"duration"`

	// SkipCount is how many times this record was reused as a cache hit.
	SkipCount int `json:"skip_count"`
}

// Edge is a provenance relationship: From requires To.
type Edge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
}

// RelationRequires is the default provenance relation.
const RelationRequires = "requires"

// Run is the audit record of one execution pass.
type Run struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the run ended, nil while still running.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Total is the number of artifacts planned for this run.
	Total int `json:"total"`

	// Executed, Skipped, and Failed are the final counters.
	Executed int `json:"executed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`

	// Status is "running", "completed", "failed", or "cancelled".
	Status string `json:"status"`
}

// Run status values.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Stats summarizes cache contents and effectiveness.
type Stats struct {
	// TotalArtifacts is the number of cached records.
	TotalArtifacts int `json:"total_artifacts"`

	// ByStatus counts records per status.
	ByStatus map[Status]int `json:"by_status"`

	// TotalSkips is the sum of skip counters across all records.
	TotalSkips int `json:"total_skips"`

	// AvgExecutionTime is the mean duration of completed executions.
	AvgExecutionTime time.Duration `json:"avg_execution_time"`

	// EstimatedTimeSaved approximates time saved by cache hits.
	EstimatedTimeSaved time.Duration `json:"estimated_time_saved"`

	// HitRate is the percentage of records currently marked skipped.
	HitRate float64 `json:"hit_rate"`
}

// ExecutionCache is the durable store consulted by the planner for skip
// decisions and written by the executor. Within one execution pass each
// artifact ID is written by exactly one task; concurrent read-only queries
// (impact analysis) may run alongside execution.
type ExecutionCache interface {
	// Get returns the record for an artifact, or nil if absent.
	Get(ctx context.Context, artifactID string) (*Record, error)

	// Put inserts or overwrites the record for an artifact. Last write
	// wins; the skip counter of an existing record is preserved.
	Put(ctx context.Context, rec *Record) error

	// RecordSkip increments the skip counter for an artifact.
	RecordSkip(ctx context.Context, artifactID string) error

	// Delete removes an artifact's record and its provenance edges.
	Delete(ctx context.Context, artifactID string) (bool, error)

	// Clear removes all records, provenance edges, and run history.
	Clear(ctx context.Context) error

	// AddProvenance records that from requires to. Idempotent.
	AddProvenance(ctx context.Context, from, to, relation string) error

	// ReplaceProvenance atomically replaces the whole edge set so
	// provenance reflects only the current graph.
	ReplaceProvenance(ctx context.Context, edges []Edge) error

	// DirectDependencies returns artifacts the given one requires.
	DirectDependencies(ctx context.Context, artifactID string) ([]string, error)

	// DirectDependents returns artifacts that require the given one.
	DirectDependents(ctx context.Context, artifactID string) ([]string, error)

	// Upstream returns the transitive closure of dependencies.
	Upstream(ctx context.Context, artifactID string) ([]string, error)

	// Downstream returns the transitive closure of dependents.
	Downstream(ctx context.Context, artifactID string) ([]string, error)

	// StartRun opens a run record with the planned total.
	StartRun(ctx context.Context, runID string, total int) error

	// FinishRun closes a run record with final counters and status.
	FinishRun(ctx context.Context, runID string, executed, skipped, failed int, status string) error

	// GetRun returns a run record, or nil if absent.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns returns recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// Stats returns cache statistics.
	Stats(ctx context.Context) (*Stats, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying store.
	Close() error
}
