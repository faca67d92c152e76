package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

const validManifest = `
version: 1
name: demo
description: Example project
artifacts:
  - id: config
    description: Project configuration
    domain_type: config
    command: "cat config.toml"
  - id: models
    description: Core data models
    contract: Exports User and Session
    produces_file: src/models.py
    requires: [config]
    domain_type: code
    command: "python gen.py models"
    metadata:
      owner: platform
  - id: api
    description: HTTP API layer
    requires: [models]
`

func TestLoadFromBytes(t *testing.T) {
	m, err := NewLoader().LoadFromBytes([]byte(validManifest))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.Name != "demo" || len(m.Artifacts) != 3 {
		t.Fatalf("unexpected manifest: %+v", m)
	}

	models := m.Get("models")
	if models == nil {
		t.Fatal("expected models artifact")
	}
	if models.ProducesFile != "src/models.py" {
		t.Errorf("unexpected produces_file: %s", models.ProducesFile)
	}
	if len(models.Requires) != 1 || models.Requires[0] != "config" {
		t.Errorf("unexpected requires: %v", models.Requires)
	}
	if models.Metadata["owner"] != "platform" {
		t.Errorf("unexpected metadata: %v", models.Metadata)
	}

	if m.Get("ghost") != nil {
		t.Error("expected nil for unknown artifact")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiln.yaml")
	if err := os.WriteFile(path, []byte(validManifest), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	m, err := NewLoader().LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Artifacts) != 3 {
		t.Errorf("expected 3 artifacts, got %d", len(m.Artifacts))
	}

	if _, err := NewLoader().LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsInvalidManifests(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "not yaml",
			yaml: "{{{",
		},
		{
			name: "missing version",
			yaml: "name: demo\nartifacts:\n  - id: a\n",
		},
		{
			name: "unsupported version",
			yaml: "version: 2\nname: demo\nartifacts:\n  - id: a\n",
		},
		{
			name: "missing name",
			yaml: "version: 1\nartifacts:\n  - id: a\n",
		},
		{
			name: "no artifacts",
			yaml: "version: 1\nname: demo\nartifacts: []\n",
		},
		{
			name: "artifact without id",
			yaml: "version: 1\nname: demo\nartifacts:\n  - description: nameless\n",
		},
		{
			name: "duplicate ids",
			yaml: "version: 1\nname: demo\nartifacts:\n  - id: a\n  - id: a\n",
		},
		{
			name: "self dependency",
			yaml: "version: 1\nname: demo\nartifacts:\n  - id: a\n    requires: [a]\n",
		},
	}

	loader := NewLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loader.LoadFromBytes([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBuildGraph(t *testing.T) {
	m, err := NewLoader().LoadFromBytes([]byte(validManifest))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g, err := m.BuildGraph()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Len() != 3 {
		t.Errorf("expected 3 artifacts, got %d", g.Len())
	}
	if problems := g.Validate(); len(problems) != 0 {
		t.Errorf("expected clean graph, got %v", problems)
	}

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order[0] != "config" || order[2] != "api" {
		t.Errorf("unexpected order: %v", order)
	}
}

func TestCommands(t *testing.T) {
	m, err := NewLoader().LoadFromBytes([]byte(validManifest))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmds := m.Commands()
	if len(cmds) != 2 {
		t.Errorf("expected 2 commands, got %v", cmds)
	}
	if cmds["models"] != "python gen.py models" {
		t.Errorf("unexpected command: %q", cmds["models"])
	}
	if _, ok := cmds["api"]; ok {
		t.Error("api declares no command")
	}
}
