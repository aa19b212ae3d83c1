// pipeline-runner executes a single pipeline run from the command line and
// exits with the run's outcome. Intended for CI jobs that do not want to
// keep the HTTP service around.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"shipyard/internal/artifact"
	"shipyard/internal/config"
	"shipyard/internal/notify"
	"shipyard/internal/pipeline"
	"shipyard/internal/rollout"
	"shipyard/internal/scan"
	"shipyard/internal/secrets"
	"shipyard/internal/target"
)

func main() {
	level := slog.LevelInfo
	if config.GetBoolEnv("LOG_DEBUG", false) {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Warn("Interrupt received, canceling run")
		cancel()
	}()

	cmd := &cli.Command{
		Name:  "pipeline-runner",
		Usage: "Build, scan, and deploy one revision to a set of targets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "revision",
				Usage:    "Source revision to build (git SHA or tag)",
				Sources:  cli.EnvVars("PIPELINE_REVISION"),
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:    "target",
				Usage:   "Deployment target name (can be repeated)",
				Sources: cli.EnvVars("PIPELINE_TARGETS"),
			},
			&cli.StringFlag{
				Name:    "targets-file",
				Usage:   "Path to the target registry YAML",
				Sources: cli.EnvVars("TARGETS_FILE"),
				Value:   "targets.yaml",
			},
			&cli.StringFlag{
				Name:    "secrets-dir",
				Usage:   "Directory holding mounted cluster credentials",
				Sources: cli.EnvVars("SECRETS_DIR"),
				Value:   "/run/secrets",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Overall deadline for the run",
				Value: 30 * time.Minute,
			},
		},
		Action: execute,
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("Run failed", "error", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, cmd *cli.Command) error {
	registry, err := target.LoadRegistry(cmd.String("targets-file"))
	if err != nil {
		return err
	}

	targets := cmd.StringSlice("target")
	if len(targets) == 0 {
		// No explicit selection deploys to every registered target.
		targets = registry.Names()
	}

	builder, err := artifact.NewDockerBuilder(artifact.LoadConfigFromEnv())
	if err != nil {
		return err
	}
	defer builder.Close()

	scanCfg := scan.LoadConfigFromEnv()
	gate := scan.NewGate(scan.NewHTTPScanner(scanCfg.ServiceURL, scanCfg.Timeout), scan.PolicyFromEnv(), scanCfg)
	applier := rollout.NewClusterApplier(secrets.NewStore(cmd.String("secrets-dir")))
	engine := rollout.NewEngine(applier, rollout.NewStore(), rollout.LoadConfigFromEnv(), nil)

	orch := pipeline.NewOrchestrator(builder, gate, registry, engine, nil,
		pipeline.LoadConfigFromEnv(), notify.MemoryConfig{}, nil)
	svc := pipeline.NewService(orch)

	runCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	// Execute blocks until the run is terminal; canceling runCtx aborts the
	// in-flight stages but still yields a terminal run to report.
	run, err := svc.Execute(runCtx, pipeline.TriggerRequest{
		Revision: cmd.String("revision"),
		Targets:  targets,
	})
	if err != nil {
		return err
	}

	// The run result goes to stdout; logs go to stderr.
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(run); err != nil {
		return err
	}

	if run.Status != pipeline.RunHealthy {
		return fmt.Errorf("run %s finished %s: %s", run.ID, run.Status, run.Error)
	}
	return nil
}
