package engine

import (
	"context"
	"time"

	"github.com/openkiln/kiln/pkg/graph"
)

// CreateFunc produces the content of one artifact. It is supplied by the
// caller and performs the actual generation side effect (model call, file
// write). The engine imposes no time limit; pass a deadline context to
// bound it.
type CreateFunc func(ctx context.Context, spec *graph.ArtifactSpec) (string, error)

// ArtifactResult is the payload stored for a completed execution.
type ArtifactResult struct {
	// ArtifactID is the artifact this result belongs to.
	ArtifactID string `json:"artifact_id"`

	// Content is the generated content returned by the create function.
	Content string `json:"content"`

	// DurationMs is how long the creation took.
	DurationMs int64 `json:"duration_ms"`
}

// Result is the aggregate outcome of one execution pass.
type Result struct {
	// Completed maps artifact IDs to their freshly produced results.
	Completed map[string]*ArtifactResult `json:"completed"`

	// Failed maps artifact IDs to error text.
	Failed map[string]string `json:"failed"`

	// Skipped maps artifact IDs to their carried-forward cached results.
	// A nil value means the cached record had no payload.
	Skipped map[string]*ArtifactResult `json:"skipped"`

	// RunID identifies the run record in the cache.
	RunID string `json:"run_id"`

	// Duration is the total wall-clock time of the pass.
	Duration time.Duration `json:"duration"`
}

// Success reports whether the pass completed without failures.
func (r *Result) Success() bool {
	return len(r.Failed) == 0
}

// Total returns the number of artifacts processed.
func (r *Result) Total() int {
	return len(r.Completed) + len(r.Failed) + len(r.Skipped)
}

// EventType identifies an engine notification.
type EventType string

// Event types emitted on the notification stream.
const (
	EventTypeRunStarted        EventType = "run.started"
	EventTypeRunFinished       EventType = "run.finished"
	EventTypeArtifactStarted   EventType = "artifact.started"
	EventTypeArtifactCompleted EventType = "artifact.completed"
	EventTypeArtifactFailed    EventType = "artifact.failed"
	EventTypeArtifactSkipped   EventType = "artifact.skipped"
	EventTypeWarning           EventType = "warning"
)

// Event is one notification on the engine's observability stream.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the event type.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the associated run, if applicable.
	RunID string `json:"run_id,omitempty"`

	// ArtifactID is the associated artifact, if applicable.
	ArtifactID string `json:"artifact_id,omitempty"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Level is the event severity (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific fields.
	Data map[string]any `json:"data,omitempty"`
}

// EventPublisher receives engine notifications. Implementations must not
// block for long; publishing happens on the execution path.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event)
}

// ProgressFunc receives coarse human-readable progress messages.
type ProgressFunc func(msg string)

// Issue is one finding from an advisory verification check.
type Issue struct {
	// Symbol names the offending element (function, class, section).
	Symbol string `json:"symbol"`

	// Detail describes the problem.
	Detail string `json:"detail"`
}

// Verifier runs advisory checks on produced artifacts, e.g. stub or
// placeholder detection. Verifier failures never fail the artifact; they
// only surface as warning events.
type Verifier interface {
	Verify(ctx context.Context, spec *graph.ArtifactSpec, content string) ([]Issue, error)
}
