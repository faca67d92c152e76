package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// setupTestCache creates a migrated SQLite cache in a temp directory.
func setupTestCache(t *testing.T) *SQLiteCache {
	t.Helper()

	c, err := Open(context.Background(), Config{
		Path: filepath.Join(t.TempDir(), "cache.db"),
	})
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCacheLifecycle(t *testing.T) {
	c, err := NewSQLiteCache(Config{
		Path: filepath.Join(t.TempDir(), "cache.db"),
	})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	ctx := context.Background()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("failed to initialize cache: %v", err)
	}
	if err := c.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate cache: %v", err)
	}
	if err := c.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("failed to close cache: %v", err)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	if rec, err := c.Get(ctx, "absent"); err != nil || rec != nil {
		t.Fatalf("expected nil for absent record, got %v, %v", rec, err)
	}

	rec := &Record{
		ArtifactID: "models",
		InputHash:  "hash-1",
		SpecHash:   "spec-1",
		Status:     StatusCompleted,
		Result:     []byte(`{"content":"ok"}`),
		ExecutedAt: time.Now().UTC(),
		Duration:   1500 * time.Millisecond,
	}
	if err := c.Put(ctx, rec); err != nil {
		t.Fatalf("failed to put record: %v", err)
	}

	got, err := c.Get(ctx, "models")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if got == nil {
		t.Fatal("expected record")
	}
	if got.InputHash != "hash-1" || got.SpecHash != "spec-1" {
		t.Errorf("hash mismatch: %+v", got)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if string(got.Result) != `{"content":"ok"}` {
		t.Errorf("unexpected result payload: %s", got.Result)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Errorf("expected 1.5s duration, got %s", got.Duration)
	}
}

func TestPutOverwritesButPreservesSkipCount(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	first := &Record{
		ArtifactID: "models",
		InputHash:  "hash-1",
		Status:     StatusCompleted,
		ExecutedAt: time.Now().UTC(),
	}
	if err := c.Put(ctx, first); err != nil {
		t.Fatalf("failed to put: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := c.RecordSkip(ctx, "models"); err != nil {
			t.Fatalf("failed to record skip: %v", err)
		}
	}

	// A re-execution overwrites the record but keeps the lifetime skip
	// counter.
	second := &Record{
		ArtifactID: "models",
		InputHash:  "hash-2",
		Status:     StatusCompleted,
		ExecutedAt: time.Now().UTC(),
	}
	if err := c.Put(ctx, second); err != nil {
		t.Fatalf("failed to overwrite: %v", err)
	}

	got, err := c.Get(ctx, "models")
	if err != nil || got == nil {
		t.Fatalf("failed to get: %v", err)
	}
	if got.InputHash != "hash-2" {
		t.Errorf("expected overwritten hash, got %s", got.InputHash)
	}
	if got.SkipCount != 3 {
		t.Errorf("expected skip count preserved at 3, got %d", got.SkipCount)
	}
}

func TestRecordSkipOnAbsentArtifactIsNoop(t *testing.T) {
	c := setupTestCache(t)

	if err := c.RecordSkip(context.Background(), "ghost"); err != nil {
		t.Errorf("skip on absent artifact should not error: %v", err)
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	put := func(id string) {
		t.Helper()
		err := c.Put(ctx, &Record{
			ArtifactID: id, InputHash: "h", Status: StatusCompleted,
			ExecutedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("failed to put %s: %v", id, err)
		}
	}
	put("a")
	put("b")
	if err := c.AddProvenance(ctx, "b", "a", RelationRequires); err != nil {
		t.Fatalf("failed to add edge: %v", err)
	}

	deleted, err := c.Delete(ctx, "a")
	if err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if !deleted {
		t.Error("expected delete to report true")
	}
	if rec, _ := c.Get(ctx, "a"); rec != nil {
		t.Error("expected record gone")
	}

	deleted, err = c.Delete(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted {
		t.Error("expected second delete to report false")
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("failed to clear: %v", err)
	}
	if rec, _ := c.Get(ctx, "b"); rec != nil {
		t.Error("expected cache emptied")
	}
}

func TestProvenanceTraversal(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	// d -> c -> b -> a, plus d -> b.
	edges := []Edge{
		{From: "b", To: "a", Relation: RelationRequires},
		{From: "c", To: "b", Relation: RelationRequires},
		{From: "d", To: "c", Relation: RelationRequires},
		{From: "d", To: "b", Relation: RelationRequires},
	}
	if err := c.ReplaceProvenance(ctx, edges); err != nil {
		t.Fatalf("failed to replace edges: %v", err)
	}

	deps, err := c.DirectDependents(ctx, "b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deps) != 2 {
		t.Errorf("expected direct dependents [c d], got %v", deps)
	}

	down, err := c.Downstream(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(down) != 3 {
		t.Errorf("expected downstream closure of 3, got %v", down)
	}

	up, err := c.Upstream(ctx, "d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(up) != 3 {
		t.Errorf("expected upstream closure of 3, got %v", up)
	}

	// Replacing drops stale edges atomically.
	if err := c.ReplaceProvenance(ctx, []Edge{
		{From: "b", To: "a", Relation: RelationRequires},
	}); err != nil {
		t.Fatalf("failed to replace edges: %v", err)
	}
	down, err = c.Downstream(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(down) != 1 || down[0] != "b" {
		t.Errorf("expected only b downstream after replace, got %v", down)
	}
}

func TestAddProvenanceIsIdempotent(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.AddProvenance(ctx, "b", "a", RelationRequires); err != nil {
			t.Fatalf("failed to add edge: %v", err)
		}
	}

	deps, err := c.DirectDependents(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deps) != 1 {
		t.Errorf("expected one edge, got %v", deps)
	}
}

func TestRunLifecycle(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	if err := c.StartRun(ctx, "run-1", 5); err != nil {
		t.Fatalf("failed to start run: %v", err)
	}

	run, err := c.GetRun(ctx, "run-1")
	if err != nil || run == nil {
		t.Fatalf("expected run record: %v", err)
	}
	if run.Status != RunStatusRunning || run.Total != 5 {
		t.Errorf("unexpected run: %+v", run)
	}
	if run.FinishedAt != nil {
		t.Error("running run should have no finish time")
	}

	if err := c.FinishRun(ctx, "run-1", 3, 1, 1, RunStatusFailed); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	run, err = c.GetRun(ctx, "run-1")
	if err != nil || run == nil {
		t.Fatalf("expected run record: %v", err)
	}
	if run.Executed != 3 || run.Skipped != 1 || run.Failed != 1 {
		t.Errorf("unexpected counters: %+v", run)
	}
	if run.Status != RunStatusFailed || run.FinishedAt == nil {
		t.Errorf("unexpected final state: %+v", run)
	}

	if err := c.FinishRun(ctx, "no-such-run", 0, 0, 0, RunStatusCompleted); err == nil {
		t.Error("expected error finishing unknown run")
	}

	runs, err := c.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Errorf("unexpected run list: %+v", runs)
	}
}

func TestStats(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	now := time.Now().UTC()
	records := []*Record{
		{ArtifactID: "a", InputHash: "h", Status: StatusCompleted, ExecutedAt: now, Duration: 2 * time.Second},
		{ArtifactID: "b", InputHash: "h", Status: StatusCompleted, ExecutedAt: now, Duration: 4 * time.Second},
		{ArtifactID: "c", InputHash: "h", Status: StatusFailed, Error: "boom", ExecutedAt: now},
	}
	for _, rec := range records {
		if err := c.Put(ctx, rec); err != nil {
			t.Fatalf("failed to put %s: %v", rec.ArtifactID, err)
		}
	}
	if err := c.RecordSkip(ctx, "a"); err != nil {
		t.Fatalf("failed to record skip: %v", err)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}

	if stats.TotalArtifacts != 3 {
		t.Errorf("expected 3 artifacts, got %d", stats.TotalArtifacts)
	}
	if stats.ByStatus[StatusCompleted] != 2 || stats.ByStatus[StatusFailed] != 1 {
		t.Errorf("unexpected status counts: %v", stats.ByStatus)
	}
	if stats.TotalSkips != 1 {
		t.Errorf("expected 1 skip, got %d", stats.TotalSkips)
	}
	if stats.AvgExecutionTime != 3*time.Second {
		t.Errorf("expected 3s average, got %s", stats.AvgExecutionTime)
	}
	if stats.EstimatedTimeSaved != 3*time.Second {
		t.Errorf("expected 3s saved, got %s", stats.EstimatedTimeSaved)
	}
}
