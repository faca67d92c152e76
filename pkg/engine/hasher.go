package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"strings"

	"github.com/openkiln/kiln/pkg/graph"
)

// UnknownHash is the sentinel substituted for a dependency whose input
// hash could not be computed (missing node or cycle). Planning never
// aborts on a malformed graph; the sentinel guarantees the dependent's
// hash differs from any honestly computed one, at the cost that two
// differently broken graphs can collide. Callers wanting hard failures
// should run graph validation before planning.
const UnknownHash = "UNKNOWN"

// SpecHash computes a stable hash of an artifact's own declaration,
// independent of its dependencies. Only fields that affect generated
// behavior participate; free text is whitespace-normalized so incidental
// formatting does not invalidate the cache.
func SpecHash(spec *graph.ArtifactSpec) string {
	h := sha256.New()
	writeField(h, "id", spec.ID)
	writeField(h, "description", normalizeText(spec.Description))
	writeField(h, "contract", normalizeText(spec.Contract))
	writeField(h, "produces_file", spec.ProducesFile)
	writeField(h, "domain_type", spec.DomainType)
	return hex.EncodeToString(h.Sum(nil))
}

// InputHash chains an artifact's spec hash with the input hashes of its
// dependencies. Dependency hashes are sorted before hashing so the result
// does not depend on declaration order.
func InputHash(specHash string, dependencyHashes map[string]string) string {
	hashes := make([]string, 0, len(dependencyHashes))
	for _, dh := range dependencyHashes {
		hashes = append(hashes, dh)
	}
	sort.Strings(hashes)

	h := sha256.New()
	writeField(h, "spec", specHash)
	for _, dh := range hashes {
		writeField(h, "dep", dh)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeInputHash is a convenience combining SpecHash and InputHash.
func ComputeInputHash(spec *graph.ArtifactSpec, dependencyHashes map[string]string) string {
	return InputHash(SpecHash(spec), dependencyHashes)
}

// normalizeText collapses all whitespace runs to single spaces and trims,
// making the hash insensitive to reflowing and indentation changes.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// writeField writes a length-unambiguous key/value pair into the hash.
func writeField(w io.Writer, key, value string) {
	_, _ = io.WriteString(w, key)
	_, _ = io.WriteString(w, "\x1f")
	_, _ = io.WriteString(w, value)
	_, _ = io.WriteString(w, "\x1e")
}
