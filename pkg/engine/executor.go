package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openkiln/kiln/pkg/cache"
	"github.com/openkiln/kiln/pkg/graph"
	"github.com/openkiln/kiln/pkg/telemetry"
)

// ExecutorConfig configures a wave executor. All capability fields are
// optional; a nil logger, metrics, tracer, publisher, or verifier is a
// no-op, never a special case at call sites.
type ExecutorConfig struct {
	// MaxParallel caps concurrent artifact executions within one wave.
	// Defaults to 10.
	MaxParallel int

	// Logger receives structured execution logs.
	Logger *telemetry.Logger

	// Metrics records execution counters and durations.
	Metrics *telemetry.Metrics

	// Tracer opens a span per run and per artifact execution.
	Tracer *telemetry.Tracer

	// Publisher receives the notification stream.
	Publisher EventPublisher

	// Verifier runs advisory checks on produced content.
	Verifier Verifier
}

// ExecuteOptions are per-call options for Execute.
type ExecuteOptions struct {
	// Force lists artifact IDs that must re-execute even when their
	// cached record would otherwise be skip-eligible.
	Force []string

	// OnProgress receives coarse progress messages.
	OnProgress ProgressFunc
}

// Executor runs execution plans: it skips skip-eligible artifacts,
// executes the rest in dependency-ordered parallel waves, updates the
// cache, and emits notifications.
//
// The cache handle is explicit and owned by the caller: open it before
// constructing the executor, close it at shutdown. Constructing an
// executor rebuilds the provenance edge set from the current graph's
// declared dependencies, replacing any edges from prior graph versions.
type Executor struct {
	graph   *graph.Graph
	cache   cache.ExecutionCache
	planner *Planner
	cfg     ExecutorConfig
	logger  *telemetry.Logger
}

// NewExecutor creates an executor over the given graph and cache and
// synchronizes the provenance edge set.
func NewExecutor(ctx context.Context, g *graph.Graph, c cache.ExecutionCache, cfg ExecutorConfig) (*Executor, error) {
	if g == nil {
		return nil, NewPermanentError("graph is nil", nil).WithCode(ErrCodeValidation)
	}
	if c == nil {
		return nil, NewPermanentError("cache is nil", nil).WithCode(ErrCodeValidation)
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	e := &Executor{
		graph:   g,
		cache:   c,
		planner: NewPlanner(g, c),
		cfg:     cfg,
		logger:  logger.NewComponentLogger("executor"),
	}

	if err := e.syncProvenance(ctx); err != nil {
		return nil, err
	}

	return e, nil
}

// Plan returns a dry-run preview of what Execute would do. Read-only.
func (e *Executor) Plan(ctx context.Context, force []string) (*ExecutionPlan, error) {
	return e.planner.Plan(ctx, ForceSet(force))
}

// syncProvenance replaces the cache's edge set with the current graph's
// declared dependencies.
func (e *Executor) syncProvenance(ctx context.Context) error {
	var edges []cache.Edge
	for _, id := range e.graph.IDs() {
		spec := e.graph.Get(id)
		for _, req := range spec.Requires {
			edges = append(edges, cache.Edge{
				From:     id,
				To:       req,
				Relation: cache.RelationRequires,
			})
		}
	}

	if err := e.cache.ReplaceProvenance(ctx, edges); err != nil {
		return NewPermanentError("failed to sync provenance", err).WithCode(ErrCodeCache)
	}
	return nil
}

// Execute runs the graph incrementally: cached artifacts whose inputs
// have not changed are skipped and their results carried forward; the
// rest execute in dependency-ordered waves with bounded parallelism.
//
// A failing artifact never aborts its wave siblings, but artifacts whose
// declared dependency failed in an earlier wave are not executed: they
// receive a Failed record (so the next run retries them) and createFn is
// never invoked for them. Only failures outside the per-artifact
// boundary, such as an unavailable cache store, escape as an error.
func (e *Executor) Execute(ctx context.Context, createFn CreateFunc, opts ExecuteOptions) (*Result, error) {
	if createFn == nil {
		return nil, NewPermanentError("create function is nil", nil).WithCode(ErrCodeValidation)
	}

	start := time.Now()
	runID := uuid.New().String()

	plan, err := e.planner.Plan(ctx, ForceSet(opts.Force))
	if err != nil {
		return nil, err
	}

	waves, err := e.graph.ExecutionWaves()
	if err != nil {
		return nil, NewPermanentError("cannot schedule execution", err).WithCode(ErrCodeValidation)
	}

	if err := e.cache.StartRun(ctx, runID, plan.Total()); err != nil {
		return nil, NewPermanentError("failed to start run", err).WithCode(ErrCodeCache)
	}

	ctx, runSpan := e.startSpan(ctx, "run.execute")
	defer runSpan()

	e.logger.WithRunID(runID).Infof("run started: %d to execute, %d to skip",
		len(plan.ToExecute), len(plan.ToSkip))
	e.publishRunEvent(ctx, runID, EventTypeRunStarted, "info",
		fmt.Sprintf("run started: %d artifacts planned", plan.Total()),
		map[string]any{"total": plan.Total()})
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.RunStarted()
	}
	e.progress(opts.OnProgress, fmt.Sprintf("incremental: %d cached, %d to execute",
		len(plan.ToSkip), len(plan.ToExecute)))

	result := &Result{
		Completed: make(map[string]*ArtifactResult),
		Failed:    make(map[string]string),
		Skipped:   make(map[string]*ArtifactResult),
		RunID:     runID,
	}

	e.recordSkips(ctx, runID, plan, result)

	execErr := e.executeWaves(ctx, runID, waves, plan, createFn, opts.OnProgress, result)

	result.Duration = time.Since(start)

	runStatus := cache.RunStatusCompleted
	if execErr != nil || !result.Success() {
		runStatus = cache.RunStatusFailed
	}
	if err := e.cache.FinishRun(ctx, runID,
		len(result.Completed), len(result.Skipped), len(result.Failed), runStatus); err != nil {
		e.logger.WithRunID(runID).WithError(err).Warn("failed to finish run record")
	}

	e.publishRunEvent(ctx, runID, EventTypeRunFinished,
		levelForStatus(runStatus),
		fmt.Sprintf("run finished: %d executed, %d skipped, %d failed",
			len(result.Completed), len(result.Skipped), len(result.Failed)),
		map[string]any{
			"executed": len(result.Completed),
			"skipped":  len(result.Skipped),
			"failed":   len(result.Failed),
			"status":   runStatus,
		})
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.RunFinished(runStatus, result.Duration)
	}
	e.logger.WithRunID(runID).Infof("run finished in %s: %d executed, %d skipped, %d failed",
		result.Duration.Round(time.Millisecond),
		len(result.Completed), len(result.Skipped), len(result.Failed))

	if execErr != nil {
		return result, execErr
	}
	return result, nil
}

// Impact reports what would need to re-run if the given artifact changed,
// computed purely from the provenance edges. Read-only; never touches
// execution records and never triggers execution.
func (e *Executor) Impact(ctx context.Context, artifactID string) (*ImpactReport, error) {
	return NewImpactAnalyzer(e.cache).Analyze(ctx, artifactID)
}

// recordSkips records every skip-eligible artifact: bump its skip
// counter, carry its cached result forward, and emit a skipped event.
// The create function is never invoked for skipped artifacts.
func (e *Executor) recordSkips(ctx context.Context, runID string, plan *ExecutionPlan, result *Result) {
	for _, id := range plan.ToSkip {
		decision := plan.Decisions[id]

		var cached *ArtifactResult
		if len(decision.CachedResult) > 0 {
			var res ArtifactResult
			if err := json.Unmarshal(decision.CachedResult, &res); err == nil {
				cached = &res
			}
		}
		result.Skipped[id] = cached

		if err := e.cache.RecordSkip(ctx, id); err != nil {
			// Skip counters are bookkeeping; losing one never affects
			// correctness.
			e.logger.WithArtifactID(id).WithError(err).Warn("failed to record skip")
		}

		e.publishArtifactEvent(ctx, runID, id, EventTypeArtifactSkipped, "info",
			fmt.Sprintf("skipped (%s)", decision.Reason),
			map[string]any{"reason": string(decision.Reason)})
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.ArtifactSkipped(string(decision.Reason))
		}
	}
}

// executeWaves processes waves strictly in order with a hard barrier
// between them. Within a wave, artifact executions run on a bounded
// worker pool; ordering correctness comes from graph topology alone.
func (e *Executor) executeWaves(
	ctx context.Context,
	runID string,
	waves [][]string,
	plan *ExecutionPlan,
	createFn CreateFunc,
	onProgress ProgressFunc,
	result *Result,
) error {
	executeSet := make(map[string]struct{}, len(plan.ToExecute))
	for _, id := range plan.ToExecute {
		executeSet[id] = struct{}{}
	}

	// failed covers both failed and blocked artifacts; read between
	// waves only, so the barrier is the synchronization point.
	failed := make(map[string]struct{})

	var mu sync.Mutex
	var fatalErr error

	for waveNum, wave := range waves {
		var runnable []string
		for _, id := range wave {
			if _, ok := executeSet[id]; !ok {
				continue
			}

			if blockedBy := e.failedDependency(id, failed); blockedBy != "" {
				e.blockArtifact(ctx, runID, id, blockedBy, plan, result)
				failed[id] = struct{}{}
				continue
			}
			runnable = append(runnable, id)
		}

		if len(runnable) == 0 {
			continue
		}

		e.progress(onProgress, fmt.Sprintf("wave %d: %s",
			waveNum+1, strings.Join(runnable, ", ")))

		workerCount := e.cfg.MaxParallel
		if len(runnable) < workerCount {
			workerCount = len(runnable)
		}

		workQueue := make(chan string, len(runnable))
		for _, id := range runnable {
			workQueue <- id
		}
		close(workQueue)

		var wg sync.WaitGroup
		for i := 0; i < workerCount; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for id := range workQueue {
					res, err := e.executeArtifact(ctx, runID, id, plan, createFn)

					mu.Lock()
					switch {
					case err != nil && isCacheError(err):
						failed[id] = struct{}{}
						result.Failed[id] = err.Error()
						if fatalErr == nil {
							fatalErr = err
						}
					case err != nil:
						failed[id] = struct{}{}
						result.Failed[id] = err.Error()
					default:
						result.Completed[id] = res
					}
					mu.Unlock()
				}
			}()
		}

		// Hard barrier: every unit finishes before the next wave starts.
		wg.Wait()

		if fatalErr != nil {
			return fatalErr
		}
	}

	return nil
}

// failedDependency returns the first declared dependency of id found in
// the failed set, or empty if none.
func (e *Executor) failedDependency(id string, failed map[string]struct{}) string {
	spec := e.graph.Get(id)
	if spec == nil {
		return ""
	}
	for _, req := range spec.Requires {
		if _, ok := failed[req]; ok {
			return req
		}
	}
	return ""
}

// blockArtifact marks an artifact Failed without invoking the create
// function because one of its dependencies failed in an earlier wave.
// The Failed record guarantees a retry on the next run.
func (e *Executor) blockArtifact(
	ctx context.Context,
	runID, id, blockedBy string,
	plan *ExecutionPlan,
	result *Result,
) {
	msg := fmt.Sprintf("dependency %s failed", blockedBy)
	result.Failed[id] = msg

	rec := &cache.Record{
		ArtifactID: id,
		InputHash:  plan.Hashes[id],
		SpecHash:   plan.SpecHashes[id],
		Status:     cache.StatusFailed,
		Error:      msg,
		ExecutedAt: time.Now().UTC(),
	}
	if err := e.cache.Put(ctx, rec); err != nil {
		e.logger.WithArtifactID(id).WithError(err).Warn("failed to record blocked artifact")
	}

	e.logger.WithRunID(runID).WithArtifactID(id).Warnf("blocked: %s", msg)
	e.publishArtifactEvent(ctx, runID, id, EventTypeArtifactFailed, "error",
		msg, map[string]any{"blocked_by": blockedBy})
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ArtifactExecuted(string(cache.StatusFailed), 0)
	}
}

// executeArtifact runs one unit of work: mark Running, invoke the create
// function, store the outcome, and emit notifications. Execution errors
// are contained to the unit; cache write failures are surfaced so the
// run can abort.
func (e *Executor) executeArtifact(
	ctx context.Context,
	runID, id string,
	plan *ExecutionPlan,
	createFn CreateFunc,
) (*ArtifactResult, error) {
	spec := e.graph.Get(id)
	if spec == nil {
		return nil, NewPermanentError("artifact not in graph", nil).
			WithCode(ErrCodeInternal).WithArtifact(id)
	}

	inputHash := plan.Hashes[id]
	specHash := plan.SpecHashes[id]

	running := &cache.Record{
		ArtifactID: id,
		InputHash:  inputHash,
		SpecHash:   specHash,
		Status:     cache.StatusRunning,
		ExecutedAt: time.Now().UTC(),
	}
	if err := e.cache.Put(ctx, running); err != nil {
		return nil, NewPermanentError("failed to mark artifact running", err).
			WithCode(ErrCodeCache).WithArtifact(id)
	}

	e.logger.WithRunID(runID).WithArtifactID(id).Debug("artifact started")
	e.publishArtifactEvent(ctx, runID, id, EventTypeArtifactStarted, "info",
		spec.Description, nil)

	ctx, endSpan := e.startSpan(ctx, "artifact.execute")
	defer endSpan()

	start := time.Now()
	content, err := createFn(ctx, spec)
	duration := time.Since(start)

	if err != nil {
		rec := &cache.Record{
			ArtifactID: id,
			InputHash:  inputHash,
			SpecHash:   specHash,
			Status:     cache.StatusFailed,
			Error:      err.Error(),
			ExecutedAt: time.Now().UTC(),
			Duration:   duration,
		}
		if putErr := e.cache.Put(ctx, rec); putErr != nil {
			return nil, NewPermanentError("failed to record artifact failure", putErr).
				WithCode(ErrCodeCache).WithArtifact(id)
		}

		e.logger.WithRunID(runID).WithArtifactID(id).WithError(err).Error("artifact failed")
		e.publishArtifactEvent(ctx, runID, id, EventTypeArtifactFailed, "error",
			err.Error(), nil)
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.ArtifactExecuted(string(cache.StatusFailed), duration)
		}

		return nil, NewPermanentError("artifact execution failed", err).
			WithCode(ErrCodeExecution).WithArtifact(id)
	}

	e.runAdvisoryChecks(ctx, runID, spec, content)

	res := &ArtifactResult{
		ArtifactID: id,
		Content:    content,
		DurationMs: duration.Milliseconds(),
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return nil, NewPermanentError("failed to encode artifact result", err).
			WithCode(ErrCodeInternal).WithArtifact(id)
	}

	rec := &cache.Record{
		ArtifactID: id,
		InputHash:  inputHash,
		SpecHash:   specHash,
		Status:     cache.StatusCompleted,
		Result:     payload,
		ExecutedAt: time.Now().UTC(),
		Duration:   duration,
	}
	if err := e.cache.Put(ctx, rec); err != nil {
		return nil, NewPermanentError("failed to record artifact completion", err).
			WithCode(ErrCodeCache).WithArtifact(id)
	}

	e.logger.WithRunID(runID).WithArtifactID(id).
		Debugf("artifact completed in %s", duration.Round(time.Millisecond))
	e.publishArtifactEvent(ctx, runID, id, EventTypeArtifactCompleted, "info",
		fmt.Sprintf("completed in %s", duration.Round(time.Millisecond)),
		map[string]any{"duration_ms": duration.Milliseconds()})
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ArtifactExecuted(string(cache.StatusCompleted), duration)
	}

	return res, nil
}

// runAdvisoryChecks runs the optional verifier on produced content.
// Verifier errors and findings are advisory: they emit warnings and
// never fail the artifact.
func (e *Executor) runAdvisoryChecks(ctx context.Context, runID string, spec *graph.ArtifactSpec, content string) {
	if e.cfg.Verifier == nil || spec.ProducesFile == "" {
		return
	}

	issues, err := e.cfg.Verifier.Verify(ctx, spec, content)
	if err != nil {
		e.logger.WithArtifactID(spec.ID).WithError(err).Warn("advisory check errored")
		return
	}
	if len(issues) == 0 {
		return
	}

	symbols := make([]string, 0, 3)
	for i, issue := range issues {
		if i == 3 {
			break
		}
		symbols = append(symbols, issue.Symbol)
	}

	msg := fmt.Sprintf("advisory check found %d issue(s): %s",
		len(issues), strings.Join(symbols, ", "))
	e.logger.WithArtifactID(spec.ID).Warn(msg)
	e.publishArtifactEvent(ctx, runID, spec.ID, EventTypeWarning, "warning",
		msg, map[string]any{"issues": len(issues)})
}

func (e *Executor) publishRunEvent(ctx context.Context, runID string, typ EventType, level, msg string, data map[string]any) {
	if e.cfg.Publisher == nil {
		return
	}
	e.cfg.Publisher.Publish(ctx, &Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: time.Now(),
		RunID:     runID,
		Message:   msg,
		Level:     level,
		Data:      data,
	})
}

func (e *Executor) publishArtifactEvent(ctx context.Context, runID, artifactID string, typ EventType, level, msg string, data map[string]any) {
	if e.cfg.Publisher == nil {
		return
	}
	e.cfg.Publisher.Publish(ctx, &Event{
		ID:         uuid.New().String(),
		Type:       typ,
		Timestamp:  time.Now(),
		RunID:      runID,
		ArtifactID: artifactID,
		Message:    msg,
		Level:      level,
		Data:       data,
	})
}

func (e *Executor) startSpan(ctx context.Context, name string) (context.Context, func()) {
	if e.cfg.Tracer == nil {
		return ctx, func() {}
	}
	ctx, span := e.cfg.Tracer.StartSpan(ctx, name)
	return ctx, func() { span.End() }
}

func (e *Executor) progress(fn ProgressFunc, msg string) {
	if fn != nil {
		fn(msg)
	}
}

func isCacheError(err error) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code == ErrCodeCache
	}
	return false
}

func levelForStatus(status string) string {
	if status == cache.RunStatusCompleted {
		return "info"
	}
	return "error"
}
