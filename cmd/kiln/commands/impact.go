package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openkiln/kiln/pkg/engine"
)

func newImpactCommand() *cobra.Command {
	var upstream bool

	cmd := &cobra.Command{
		Use:   "impact <artifact-id>",
		Short: "Show what would re-execute if an artifact changed",
		Long: `Analyze the blast radius of changing one artifact using the cache's
provenance edges.

The analysis is purely structural: it reads recorded dependency edges
and never touches execution state or triggers execution.`,
		Example: `  # What depends on the models artifact
  kiln impact models

  # What the api artifact itself depends on
  kiln impact api --upstream`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			artifactID := args[0]

			c, err := openCache(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			analyzer := engine.NewImpactAnalyzer(c)

			if upstream {
				deps, err := analyzer.Upstream(ctx, artifactID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return json.NewEncoder(os.Stdout).Encode(deps)
				}
				fmt.Printf("%s depends on %d artifact(s): %s\n",
					artifactID, len(deps), strings.Join(deps, ", "))
				return nil
			}

			report, err := analyzer.Analyze(ctx, artifactID)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Printf("Changing %s would invalidate %d artifact(s)\n",
				report.ArtifactID, report.WillInvalidate)
			if len(report.DirectDependents) > 0 {
				fmt.Printf("  direct:     %s\n", strings.Join(report.DirectDependents, ", "))
			}
			if len(report.TransitiveDependents) > 0 {
				fmt.Printf("  transitive: %s\n", strings.Join(report.TransitiveDependents, ", "))
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&upstream, "upstream", false, "show dependencies instead of dependents")

	return cmd
}
