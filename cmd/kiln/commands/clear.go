package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCommand() *cobra.Command {
	var artifactID string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the execution cache",
		Long: `Clear cached execution records.

With --artifact, only that artifact's record is removed, which forces it
and its downstream closure to re-execute on the next run. Without it,
the entire cache including provenance and run history is removed.`,
		Example: `  # Forget everything
  kiln clear

  # Forget one artifact
  kiln clear --artifact models`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := openCache(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if artifactID != "" {
				deleted, err := c.Delete(ctx, artifactID)
				if err != nil {
					return err
				}
				if !deleted {
					fmt.Printf("No cached record for %s\n", artifactID)
					return nil
				}
				fmt.Printf("Cleared cached record for %s\n", artifactID)
				return nil
			}

			if err := c.Clear(ctx); err != nil {
				return err
			}
			fmt.Println("Execution cache cleared")
			return nil
		},
	}

	cmd.Flags().StringVarP(&artifactID, "artifact", "a", "", "clear only this artifact's record")

	return cmd
}
