package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openkiln/kiln/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var force []string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview what a run would execute",
		Long: `Preview execution without running anything.

The plan:
  - Computes the input hash of every artifact in dependency order
  - Classifies each artifact as skip (cache hit) or execute
  - Reports the reason behind every decision

Planning is read-only: it never writes to the cache and never invokes
artifact commands.`,
		Example: `  # Preview the default manifest
  kiln plan

  # Preview with forced re-execution of one artifact
  kiln plan --force models

  # Machine-readable output
  kiln plan --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			_, g, err := loadManifest()
			if err != nil {
				return err
			}

			c, err := openCache(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			planner := engine.NewPlanner(g, c)
			plan, err := planner.Plan(ctx, engine.ForceSet(force))
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			}

			fmt.Printf("Plan: %d to execute, %d cached (%.0f%% hit rate)\n\n",
				len(plan.ToExecute), len(plan.ToSkip), plan.SkipRatio())

			for _, id := range plan.ToSkip {
				fmt.Printf("  skip     %-30s %s\n", id, plan.Decisions[id].Reason)
			}
			for _, id := range plan.ToExecute {
				fmt.Printf("  execute  %-30s %s\n", id, plan.Decisions[id].Reason)
			}

			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&force, "force", "f", nil, "force re-execution of specific artifacts")

	return cmd
}
