// Package engine implements incremental execution over an artifact
// graph: content-addressed hashing, skip decisions against a durable
// cache, dependency-ordered wave execution with bounded parallelism,
// and provenance-based impact analysis.
//
// The core contract is change detection by hash chaining. Each
// artifact's input hash covers its own declaration and the input hashes
// of everything it requires, so a change anywhere upstream invalidates
// the whole downstream closure while unrelated branches stay cached.
package engine
