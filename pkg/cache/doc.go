// Package cache provides the durable execution cache for the kiln engine.
// It stores one latest-only record per artifact, a provenance edge set
// rebuilt from the current graph, and an execution run log, backed by
// SQLite with WAL mode and embedded schema migrations.
package cache
