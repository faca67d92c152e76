package engine

import (
	"testing"

	"github.com/openkiln/kiln/pkg/graph"
)

func TestSpecHashIsDeterministic(t *testing.T) {
	spec := &graph.ArtifactSpec{
		ID:           "models",
		Description:  "Core data models",
		Contract:     "Exports User and Session types",
		ProducesFile: "src/models.py",
		DomainType:   "code",
	}

	first := SpecHash(spec)
	for i := 0; i < 5; i++ {
		if h := SpecHash(spec); h != first {
			t.Fatalf("hash not deterministic: %s vs %s", h, first)
		}
	}
}

func TestSpecHashCoversDeclarationFields(t *testing.T) {
	base := graph.ArtifactSpec{
		ID:           "models",
		Description:  "Core data models",
		Contract:     "Exports User",
		ProducesFile: "src/models.py",
		DomainType:   "code",
	}

	mutations := map[string]func(s *graph.ArtifactSpec){
		"id":            func(s *graph.ArtifactSpec) { s.ID = "other" },
		"description":   func(s *graph.ArtifactSpec) { s.Description = "changed" },
		"contract":      func(s *graph.ArtifactSpec) { s.Contract = "Exports User and Session" },
		"produces_file": func(s *graph.ArtifactSpec) { s.ProducesFile = "src/other.py" },
		"domain_type":   func(s *graph.ArtifactSpec) { s.DomainType = "config" },
	}

	baseHash := SpecHash(&base)
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			spec := base
			mutate(&spec)
			if SpecHash(&spec) == baseHash {
				t.Errorf("changing %s did not change the spec hash", name)
			}
		})
	}
}

func TestSpecHashNormalizesWhitespace(t *testing.T) {
	a := &graph.ArtifactSpec{ID: "x", Contract: "Exports   User\n\tand Session"}
	b := &graph.ArtifactSpec{ID: "x", Contract: "Exports User and Session"}

	if SpecHash(a) != SpecHash(b) {
		t.Error("whitespace differences should not change the spec hash")
	}
}

func TestInputHashIndependentOfDependencyOrder(t *testing.T) {
	specHash := SpecHash(&graph.ArtifactSpec{ID: "api"})

	forward := InputHash(specHash, map[string]string{
		"models": "hash-m",
		"db":     "hash-d",
	})
	backward := InputHash(specHash, map[string]string{
		"db":     "hash-d",
		"models": "hash-m",
	})

	if forward != backward {
		t.Errorf("input hash depends on map ordering: %s vs %s", forward, backward)
	}
}

func TestInputHashPropagatesDependencyChanges(t *testing.T) {
	specHash := SpecHash(&graph.ArtifactSpec{ID: "api"})

	before := InputHash(specHash, map[string]string{"models": "hash-1"})
	after := InputHash(specHash, map[string]string{"models": "hash-2"})

	if before == after {
		t.Error("dependency hash change should change the input hash")
	}
}

func TestInputHashWithoutDependenciesEqualsOwnChain(t *testing.T) {
	specHash := SpecHash(&graph.ArtifactSpec{ID: "config"})

	a := InputHash(specHash, nil)
	b := InputHash(specHash, map[string]string{})

	if a != b {
		t.Errorf("nil and empty dependency maps should hash identically: %s vs %s", a, b)
	}
	if a == specHash {
		t.Error("input hash should chain over the spec hash, not equal it")
	}
}

func TestInputHashWithSentinelDiffersFromKnown(t *testing.T) {
	specHash := SpecHash(&graph.ArtifactSpec{ID: "api"})

	known := InputHash(specHash, map[string]string{"models": "hash-1"})
	unknown := InputHash(specHash, map[string]string{"models": UnknownHash})

	if known == unknown {
		t.Error("sentinel dependency hash should produce a distinct input hash")
	}
}
