package commands

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openkiln/kiln/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-plan whenever the manifest changes",
		Long: `Watch the manifest file and print a fresh execution preview on every
change. Useful while editing artifact contracts: it shows which parts of
the graph a change invalidates without executing anything.`,
		Example: `  # Watch the default manifest
  kiln watch

  # Watch a specific manifest
  kiln watch -m build/kiln.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			if err := watcher.Add(manifestPath); err != nil {
				return err
			}

			replan := func() {
				_, g, err := loadManifest()
				if err != nil {
					log.Error().Err(err).Msg("Failed to load manifest")
					return
				}

				c, err := openCache(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Failed to open cache")
					return
				}
				defer c.Close()

				plan, err := engine.NewPlanner(g, c).Plan(ctx, nil)
				if err != nil {
					log.Error().Err(err).Msg("Failed to plan")
					return
				}

				log.Info().
					Int("execute", len(plan.ToExecute)).
					Int("cached", len(plan.ToSkip)).
					Strs("to_execute", plan.ToExecute).
					Msg("Plan updated")
			}

			replan()
			log.Info().Str("manifest", manifestPath).Msg("Watching for changes")

			// Editors often replace the file instead of writing in place,
			// so debounce and re-add the path after each burst of events.
			var debounce *time.Timer
			for {
				select {
				case <-ctx.Done():
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
						continue
					}
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(500*time.Millisecond, func() {
						_ = watcher.Add(manifestPath)
						replan()
					})

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Error().Err(err).Msg("Watcher error")
				}
			}
		},
	}

	return cmd
}
