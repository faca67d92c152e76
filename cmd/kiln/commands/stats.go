package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show execution cache statistics",
		Long: `Show cache contents, hit rates, and recent run history.

Estimated time saved multiplies the total skip count by the average
duration of completed executions.`,
		Example: `  # Cache summary plus the last 10 runs
  kiln stats

  # More run history
  kiln stats --runs 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := openCache(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			stats, err := c.Stats(ctx)
			if err != nil {
				return err
			}

			history, err := c.ListRuns(ctx, runs)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"cache": stats,
					"runs":  history,
				})
			}

			fmt.Printf("Cached artifacts:     %d\n", stats.TotalArtifacts)
			for status, count := range stats.ByStatus {
				fmt.Printf("  %-19s %d\n", string(status)+":", count)
			}
			fmt.Printf("Total cache hits:     %d\n", stats.TotalSkips)
			fmt.Printf("Avg execution time:   %s\n", stats.AvgExecutionTime.Round(time.Millisecond))
			fmt.Printf("Estimated time saved: %s\n", stats.EstimatedTimeSaved.Round(time.Millisecond))

			if len(history) > 0 {
				fmt.Printf("\nRecent runs:\n")
				for _, run := range history {
					fmt.Printf("  %s  %-9s  %d executed, %d skipped, %d failed\n",
						run.StartedAt.Format(time.RFC3339), run.Status,
						run.Executed, run.Skipped, run.Failed)
				}
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&runs, "runs", 10, "number of recent runs to show")

	return cmd
}
