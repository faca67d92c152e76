package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteCache implements ExecutionCache using SQLite.
type SQLiteCache struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite cache configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteCache creates a new SQLite cache instance. The database is not
// opened until Init is called.
func NewSQLiteCache(cfg Config) (*SQLiteCache, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("cache path is required")
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteCache{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Open is a convenience that creates, initializes, and migrates a cache
// in one call.
func Open(ctx context.Context, cfg Config) (*SQLiteCache, error) {
	c, err := NewSQLiteCache(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	if err := c.Migrate(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Init opens the database connection and enables WAL mode. Parent
// directories are created if missing.
func (c *SQLiteCache) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", c.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open cache database: %w", err)
	}

	db.SetMaxOpenConns(c.cfg.MaxOpenConns)
	db.SetMaxIdleConns(c.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(c.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping cache database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	c.db = db
	return nil
}

// Close closes the database connection.
func (c *SQLiteCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Migrate runs schema migrations.
func (c *SQLiteCache) Migrate(_ context.Context) error {
	if c.db == nil {
		return fmt.Errorf("cache not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(c.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Get returns the record for an artifact, or nil if absent.
func (c *SQLiteCache) Get(ctx context.Context, artifactID string) (*Record, error) {
	query := `
		SELECT id, input_hash, spec_hash, status, result, error,
		       executed_at, execution_time_ms, skip_count
		FROM artifacts
		WHERE id = ?
	`

	rec := &Record{}
	var (
		specHash sql.NullString
		result   sql.NullString
		errText  sql.NullString
		durMs    float64
	)
	err := c.db.QueryRowContext(ctx, query, artifactID).Scan(
		&rec.ArtifactID,
		&rec.InputHash,
		&specHash,
		&rec.Status,
		&result,
		&errText,
		&rec.ExecutedAt,
		&durMs,
		&rec.SkipCount,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	rec.SpecHash = specHash.String
	if result.Valid {
		rec.Result = []byte(result.String)
	}
	rec.Error = errText.String
	rec.Duration = time.Duration(durMs * float64(time.Millisecond))

	return rec, nil
}

// Put inserts or overwrites the record for an artifact. The skip counter
// of an existing record is preserved.
func (c *SQLiteCache) Put(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO artifacts (
			id, input_hash, spec_hash, status, result, error,
			executed_at, execution_time_ms, skip_count
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			input_hash = excluded.input_hash,
			spec_hash = excluded.spec_hash,
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			executed_at = excluded.executed_at,
			execution_time_ms = excluded.execution_time_ms,
			updated_at = CURRENT_TIMESTAMP
	`

	executedAt := rec.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}

	var result any
	if len(rec.Result) > 0 {
		result = string(rec.Result)
	}
	var errText any
	if rec.Error != "" {
		errText = rec.Error
	}
	var specHash any
	if rec.SpecHash != "" {
		specHash = rec.SpecHash
	}

	_, err := c.db.ExecContext(ctx, query,
		rec.ArtifactID,
		rec.InputHash,
		specHash,
		rec.Status,
		result,
		errText,
		executedAt,
		float64(rec.Duration)/float64(time.Millisecond),
	)

	if err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}

	return nil
}

// RecordSkip increments the skip counter for an artifact.
func (c *SQLiteCache) RecordSkip(ctx context.Context, artifactID string) error {
	query := `
		UPDATE artifacts
		SET skip_count = skip_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := c.db.ExecContext(ctx, query, artifactID); err != nil {
		return fmt.Errorf("failed to record skip: %w", err)
	}

	return nil
}

// Delete removes an artifact's record and its provenance edges.
func (c *SQLiteCache) Delete(ctx context.Context, artifactID string) (bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM provenance WHERE from_id = ? OR to_id = ?",
		artifactID, artifactID); err != nil {
		return false, fmt.Errorf("failed to delete provenance: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM artifacts WHERE id = ?", artifactID)
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}

	return rows > 0, nil
}

// Clear removes all records, provenance edges, and run history.
func (c *SQLiteCache) Clear(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"artifacts", "provenance", "execution_runs"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}

	return nil
}

// AddProvenance records that from requires to. Idempotent.
func (c *SQLiteCache) AddProvenance(ctx context.Context, from, to, relation string) error {
	if relation == "" {
		relation = RelationRequires
	}

	query := `
		INSERT OR IGNORE INTO provenance (from_id, to_id, relation)
		VALUES (?, ?, ?)
	`

	if _, err := c.db.ExecContext(ctx, query, from, to, relation); err != nil {
		return fmt.Errorf("failed to add provenance: %w", err)
	}

	return nil
}

// ReplaceProvenance atomically replaces the whole edge set.
func (c *SQLiteCache) ReplaceProvenance(ctx context.Context, edges []Edge) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM provenance"); err != nil {
		return fmt.Errorf("failed to clear provenance: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO provenance (from_id, to_id, relation) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare provenance insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, edge := range edges {
		relation := edge.Relation
		if relation == "" {
			relation = RelationRequires
		}
		if _, err := stmt.ExecContext(ctx, edge.From, edge.To, relation); err != nil {
			return fmt.Errorf("failed to insert provenance edge %s -> %s: %w",
				edge.From, edge.To, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit provenance replace: %w", err)
	}

	return nil
}

// DirectDependencies returns artifacts the given one requires.
func (c *SQLiteCache) DirectDependencies(ctx context.Context, artifactID string) ([]string, error) {
	return c.queryIDs(ctx,
		"SELECT to_id FROM provenance WHERE from_id = ? ORDER BY to_id", artifactID)
}

// DirectDependents returns artifacts that require the given one.
func (c *SQLiteCache) DirectDependents(ctx context.Context, artifactID string) ([]string, error) {
	return c.queryIDs(ctx,
		"SELECT from_id FROM provenance WHERE to_id = ? ORDER BY from_id", artifactID)
}

// maxTraversalDepth bounds recursive provenance queries.
const maxTraversalDepth = 100

// Upstream returns the transitive closure of dependencies, closest first.
func (c *SQLiteCache) Upstream(ctx context.Context, artifactID string) ([]string, error) {
	query := `
		WITH RECURSIVE upstream(id, depth) AS (
			SELECT to_id, 1
			FROM provenance
			WHERE from_id = ?
			UNION ALL
			SELECT p.to_id, u.depth + 1
			FROM upstream u
			JOIN provenance p ON p.from_id = u.id
			WHERE u.depth < ?
		)
		SELECT id FROM upstream GROUP BY id ORDER BY MIN(depth), id
	`
	return c.queryIDs(ctx, query, artifactID, maxTraversalDepth)
}

// Downstream returns the transitive closure of dependents, closest first.
func (c *SQLiteCache) Downstream(ctx context.Context, artifactID string) ([]string, error) {
	query := `
		WITH RECURSIVE downstream(id, depth) AS (
			SELECT from_id, 1
			FROM provenance
			WHERE to_id = ?
			UNION ALL
			SELECT p.from_id, d.depth + 1
			FROM downstream d
			JOIN provenance p ON p.to_id = d.id
			WHERE d.depth < ?
		)
		SELECT id FROM downstream GROUP BY id ORDER BY MIN(depth), id
	`
	return c.queryIDs(ctx, query, artifactID, maxTraversalDepth)
}

// StartRun opens a run record with the planned total.
func (c *SQLiteCache) StartRun(ctx context.Context, runID string, total int) error {
	query := `
		INSERT INTO execution_runs (
			id, started_at, total_artifacts, executed, skipped, failed, status
		)
		VALUES (?, ?, ?, 0, 0, 0, 'running')
	`

	if _, err := c.db.ExecContext(ctx, query, runID, time.Now().UTC(), total); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	return nil
}

// FinishRun closes a run record with final counters and status.
func (c *SQLiteCache) FinishRun(ctx context.Context, runID string, executed, skipped, failed int, status string) error {
	query := `
		UPDATE execution_runs SET
			finished_at = ?,
			executed = ?,
			skipped = ?,
			failed = ?,
			status = ?
		WHERE id = ?
	`

	result, err := c.db.ExecContext(ctx, query,
		time.Now().UTC(), executed, skipped, failed, status, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}

	return nil
}

// GetRun returns a run record, or nil if absent.
func (c *SQLiteCache) GetRun(ctx context.Context, runID string) (*Run, error) {
	query := `
		SELECT id, started_at, finished_at, total_artifacts, executed, skipped, failed, status
		FROM execution_runs
		WHERE id = ?
	`

	run := &Run{}
	err := c.db.QueryRowContext(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Total,
		&run.Executed,
		&run.Skipped,
		&run.Failed,
		&run.Status,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns returns recent runs, newest first.
func (c *SQLiteCache) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, started_at, finished_at, total_artifacts, executed, skipped, failed, status
		FROM execution_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Total,
			&run.Executed,
			&run.Skipped,
			&run.Failed,
			&run.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// Stats returns cache statistics.
func (c *SQLiteCache) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus: make(map[Status]int),
	}

	rows, err := c.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM artifacts GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.ByStatus[status] = count
		stats.TotalArtifacts += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	var totalSkips sql.NullInt64
	if err := c.db.QueryRowContext(ctx,
		"SELECT SUM(skip_count) FROM artifacts").Scan(&totalSkips); err != nil {
		return nil, fmt.Errorf("failed to sum skips: %w", err)
	}
	stats.TotalSkips = int(totalSkips.Int64)

	var avgMs sql.NullFloat64
	if err := c.db.QueryRowContext(ctx,
		"SELECT AVG(execution_time_ms) FROM artifacts WHERE status = 'completed'").Scan(&avgMs); err != nil {
		return nil, fmt.Errorf("failed to average execution time: %w", err)
	}
	stats.AvgExecutionTime = time.Duration(avgMs.Float64 * float64(time.Millisecond))

	if stats.TotalSkips > 0 && stats.AvgExecutionTime > 0 {
		stats.EstimatedTimeSaved = time.Duration(stats.TotalSkips) * stats.AvgExecutionTime
	}

	if stats.TotalArtifacts > 0 {
		stats.HitRate = float64(stats.ByStatus[StatusSkipped]) / float64(stats.TotalArtifacts) * 100
	}

	return stats, nil
}

// HealthCheck verifies the database connection is healthy.
func (c *SQLiteCache) HealthCheck(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("cache not initialized")
	}

	return c.db.PingContext(ctx)
}

// queryIDs runs a query returning a single TEXT column of artifact IDs.
func (c *SQLiteCache) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query provenance: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan artifact id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifact ids: %w", err)
	}

	return ids, nil
}
