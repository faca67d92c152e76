// Package manifest loads the declarative artifact graph from YAML. A
// manifest names the project's artifacts, their dependency edges, and
// optionally a shell command per artifact for the command-line runner.
package manifest
