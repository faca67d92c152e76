package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the artifact manifest",
		Long: `Validate the manifest and its dependency graph.

Checks:
  - Manifest structure and required fields
  - Duplicate and self-referencing artifacts
  - Missing dependencies, cycles, and orphaned artifacts`,
		Example: `  # Validate the default manifest
  kiln validate

  # Validate a specific manifest
  kiln validate -m build/kiln.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, g, err := loadManifest()
			if err != nil {
				return err
			}

			problems := g.Validate()
			if len(problems) > 0 {
				for _, p := range problems {
					log.Error().Msg(p)
				}
				return fmt.Errorf("manifest has %d problem(s)", len(problems))
			}

			fmt.Printf("Manifest %q is valid: %d artifacts\n", m.Name, g.Len())
			return nil
		},
	}

	return cmd
}
