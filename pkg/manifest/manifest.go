package manifest

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openkiln/kiln/pkg/graph"
)

// DefaultPath is where the loader looks when no manifest path is given.
const DefaultPath = "kiln.yaml"

// Manifest is a declarative artifact graph loaded from YAML.
type Manifest struct {
	// Version is the manifest format version.
	Version int `yaml:"version" validate:"required,eq=1"`

	// Name identifies the project.
	Name string `yaml:"name" validate:"required"`

	// Description is an optional project summary.
	Description string `yaml:"description"`

	// Artifacts declares the units of work and their dependencies.
	Artifacts []Artifact `yaml:"artifacts" validate:"required,min=1,dive"`
}

// Artifact is one declared unit of work.
type Artifact struct {
	// ID is the unique artifact identifier.
	ID string `yaml:"id" validate:"required"`

	// Description says what the artifact is for.
	Description string `yaml:"description"`

	// Contract is the behavioral contract the produced content must meet.
	Contract string `yaml:"contract"`

	// ProducesFile is the output path, empty for organizational nodes.
	ProducesFile string `yaml:"produces_file"`

	// Requires lists the IDs of artifacts this one depends on.
	Requires []string `yaml:"requires"`

	// DomainType classifies the artifact (code, config, doc).
	DomainType string `yaml:"domain_type"`

	// Command is the shell command that produces the artifact's content.
	Command string `yaml:"command"`

	// Metadata carries free-form key/value pairs.
	Metadata map[string]string `yaml:"metadata"`
}

// Loader loads and validates manifests.
type Loader struct {
	validator *validator.Validate
}

// NewLoader creates a manifest loader.
func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(),
	}
}

// LoadFromFile loads a manifest from a YAML file.
func (l *Loader) LoadFromFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	m, err := l.LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// LoadFromBytes parses and validates a manifest from raw YAML.
func (l *Loader) LoadFromBytes(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := l.validator.Struct(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	seen := make(map[string]struct{}, len(m.Artifacts))
	for _, a := range m.Artifacts {
		if _, ok := seen[a.ID]; ok {
			return nil, fmt.Errorf("invalid manifest: duplicate artifact id %q", a.ID)
		}
		seen[a.ID] = struct{}{}

		for _, req := range a.Requires {
			if req == a.ID {
				return nil, fmt.Errorf("invalid manifest: artifact %q requires itself", a.ID)
			}
		}
	}

	return &m, nil
}

// BuildGraph converts the manifest into an artifact graph.
func (m *Manifest) BuildGraph() (*graph.Graph, error) {
	g := graph.New()
	for _, a := range m.Artifacts {
		spec := graph.ArtifactSpec{
			ID:           a.ID,
			Description:  a.Description,
			Contract:     a.Contract,
			ProducesFile: a.ProducesFile,
			Requires:     a.Requires,
			DomainType:   a.DomainType,
			Metadata:     a.Metadata,
		}
		if err := g.Add(spec); err != nil {
			return nil, fmt.Errorf("failed to build graph: %w", err)
		}
	}
	return g, nil
}

// Commands maps artifact IDs to their declared shell commands.
func (m *Manifest) Commands() map[string]string {
	cmds := make(map[string]string, len(m.Artifacts))
	for _, a := range m.Artifacts {
		if a.Command != "" {
			cmds[a.ID] = a.Command
		}
	}
	return cmds
}

// Get returns the declared artifact with the given ID, or nil.
func (m *Manifest) Get(id string) *Artifact {
	for i := range m.Artifacts {
		if m.Artifacts[i].ID == id {
			return &m.Artifacts[i]
		}
	}
	return nil
}
