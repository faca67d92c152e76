package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openkiln/kiln/pkg/engine"
	"github.com/openkiln/kiln/pkg/graph"
	"github.com/openkiln/kiln/pkg/manifest"
	"github.com/openkiln/kiln/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		force         []string
		maxParallel   int
		metricsListen string
		keepGoing     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the artifact graph incrementally",
		Long: `Execute the artifact graph, reusing cached results where inputs are
unchanged.

Each artifact's declared command runs with its working directory set to
the manifest's directory; the command's stdout is the artifact's content.
If the artifact declares produces_file, the content is also written
there.

Artifacts execute in dependency-ordered waves. A failing artifact never
stops its wave siblings; artifacts downstream of a failure are marked
failed and retried on the next run.`,
		Example: `  # Incremental run
  kiln run

  # Force one artifact (its downstream re-executes, the rest stays cached)
  kiln run --force models

  # Bound parallelism and expose Prometheus metrics
  kiln run --max-parallel 4 --metrics-listen :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			m, g, err := loadManifest()
			if err != nil {
				return err
			}
			if problems := g.Validate(); len(problems) > 0 {
				for _, p := range problems {
					log.Error().Msg(p)
				}
				return fmt.Errorf("manifest has %d problem(s)", len(problems))
			}

			c, err := openCache(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			tel, err := setupTelemetry(metricsListen)
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())

			executor, err := engine.NewExecutor(ctx, g, c, engine.ExecutorConfig{
				MaxParallel: maxParallel,
				Logger:      tel.Logger,
				Metrics:     tel.Metrics,
				Tracer:      tel.Tracer,
				Publisher:   &eventBridge{events: tel.Events},
			})
			if err != nil {
				return err
			}

			createFn := commandCreateFn(m, filepath.Dir(manifestPath))

			result, err := executor.Execute(ctx, createFn, engine.ExecuteOptions{
				Force: force,
				OnProgress: func(msg string) {
					log.Info().Msg(msg)
				},
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(result); encErr != nil {
					return encErr
				}
			} else {
				fmt.Printf("Run %s finished in %s: %d executed, %d skipped, %d failed\n",
					result.RunID, result.Duration.Round(time.Millisecond),
					len(result.Completed), len(result.Skipped), len(result.Failed))
				for id, msg := range result.Failed {
					fmt.Printf("  failed  %-30s %s\n", id, msg)
				}
			}

			if !result.Success() && !keepGoing {
				return fmt.Errorf("%d artifact(s) failed", len(result.Failed))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&force, "force", "f", nil, "force re-execution of specific artifacts")
	cmd.Flags().IntVarP(&maxParallel, "max-parallel", "p", 10, "maximum concurrent artifact executions")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "expose Prometheus metrics on this address")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "exit zero even when artifacts fail")

	return cmd
}

// setupTelemetry builds the telemetry stack for a run.
func setupTelemetry(metricsListen string) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if metricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = metricsListen
	}

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if err := tel.StartMetricsServer(); err != nil {
		return nil, err
	}

	return tel, nil
}

// commandCreateFn builds a create function that runs each artifact's
// declared shell command. Stdout is the artifact's content; if the
// artifact declares an output file, the content is written there too.
func commandCreateFn(m *manifest.Manifest, workDir string) engine.CreateFunc {
	commands := m.Commands()

	return func(ctx context.Context, spec *graph.ArtifactSpec) (string, error) {
		command, ok := commands[spec.ID]
		if !ok {
			return "", fmt.Errorf("artifact %s declares no command", spec.ID)
		}

		execCmd := exec.CommandContext(ctx, "sh", "-c", command)
		execCmd.Dir = workDir
		execCmd.Env = append(os.Environ(),
			"KILN_ARTIFACT_ID="+spec.ID,
			"KILN_PRODUCES_FILE="+spec.ProducesFile,
		)

		var stderr strings.Builder
		execCmd.Stderr = &stderr

		out, err := execCmd.Output()
		if err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return "", fmt.Errorf("command failed: %w: %s", err, msg)
			}
			return "", fmt.Errorf("command failed: %w", err)
		}

		content := string(out)

		if spec.ProducesFile != "" {
			outPath := spec.ProducesFile
			if !filepath.IsAbs(outPath) {
				outPath = filepath.Join(workDir, outPath)
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
				return "", fmt.Errorf("failed to create output directory: %w", err)
			}
			if err := os.WriteFile(outPath, []byte(content), 0644); err != nil {
				return "", fmt.Errorf("failed to write output file: %w", err)
			}
		}

		return content, nil
	}
}

// eventBridge forwards engine notifications onto the telemetry event
// stream.
type eventBridge struct {
	events *telemetry.EventPublisher
}

func (b *eventBridge) Publish(_ context.Context, event *engine.Event) {
	_ = b.events.Publish(telemetry.Event{
		ID:         event.ID,
		Timestamp:  event.Timestamp,
		Type:       string(event.Type),
		Source:     "engine",
		RunID:      event.RunID,
		ArtifactID: event.ArtifactID,
		Message:    event.Message,
		Level:      event.Level,
		Data:       event.Data,
	})
}
