package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scenfuzz/scenfuzz/internal/config"
	"github.com/scenfuzz/scenfuzz/internal/observability"
	"github.com/scenfuzz/scenfuzz/pkg/experiment"
	"github.com/scenfuzz/scenfuzz/pkg/expstore"
	"github.com/scenfuzz/scenfuzz/pkg/manifest"
)

var experimentRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Create an experiment from a job manifest",
	Long: `Create an experiment as defined in a YAML or JSON job manifest.

The manifest specifies the route, the search method with its tuning, and
whether the experiment starts immediately. With --start (or run.start in
the manifest) the command launches the runner and waits for the experiment
to finish, printing progress as it goes.

Example:
  scenfuzz experiment run --job nightly.yaml
  scenfuzz experiment run --job nightly.yaml --start
  scenfuzz experiment run --job nightly.yaml --dry-run`,
	RunE: runExperimentRun,
}

var (
	runJobPath string
	runStart   bool
	runDryRun  bool
	runPlan    bool
)

func init() {
	experimentCmd.AddCommand(experimentRunCmd)

	experimentRunCmd.Flags().StringVarP(&runJobPath, "job", "j", "", "Path to job manifest (required)")
	experimentRunCmd.Flags().BoolVar(&runStart, "start", false, "Start the experiment and wait for it to finish")
	experimentRunCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Validate manifest and show plan without executing")
	experimentRunCmd.Flags().BoolVar(&runPlan, "plan", false, "Alias for --dry-run")

	_ = experimentRunCmd.MarkFlagRequired("job")
}

func runExperimentRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	// Load and validate manifest
	m, err := manifest.Load(runJobPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", runJobPath),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	observability.CLILogger.Debug("Loaded manifest",
		zap.String("path", runJobPath),
		zap.String("name", m.Experiment.Name),
		zap.String("route_id", m.Experiment.RouteID),
		zap.String("search_method", m.Experiment.SearchMethod))

	// Plan mode: show plan and exit
	if runPlan || runDryRun {
		return showRunPlan(m)
	}

	if isReadOnly() {
		return exitError(foundry.ExitInvalidArgument, "readonly mode enabled: refusing to create experiments",
			fmt.Errorf("use --dry-run or disable --readonly"))
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "failed to load configuration", err)
	}

	store, err := expstore.Open(ctx, expstore.Config{Path: cfg.Storage.DatabasePath})
	if err != nil {
		return exitError(foundry.ExitFileReadError, "failed to open experiment database", err)
	}
	defer func() { _ = store.Close() }()

	mgr := experiment.NewManager(ctx, experiment.ManagerConfig{
		Durable: store,
		Runner: experiment.RunnerOptions{
			PythonBin:      cfg.Runner.PythonBin,
			ScriptPath:     cfg.Runner.ScriptPath,
			HardTimeout:    cfg.Runner.HardTimeout,
			PollInterval:   cfg.Runner.PollInterval,
			InactivityWarn: cfg.Runner.InactivityWarn,
			KillGrace:      cfg.Runner.KillGrace,
		},
		OutputBaseDir: cfg.Runner.OutputBaseDir,
		Logger:        observability.CLILogger,
	})

	snap, err := mgr.Create(ctx, m.Config())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "failed to create experiment", err)
	}

	rec := snap.Experiment
	fmt.Printf("Created experiment %s\n", rec.ID)
	fmt.Printf("  Name:   %s\n", rec.Name)
	fmt.Printf("  Route:  %s (%s)\n", rec.RouteID, rec.RouteFile)
	fmt.Printf("  Method: %s, %d iterations\n", rec.Method, rec.Iterations)

	if !runStart && !m.Run.Start {
		fmt.Println()
		fmt.Printf("Start it with: curl -X POST http://localhost:%d/api/v1/experiments/%s/start\n", cfg.Server.Port, rec.ID)
		return nil
	}

	if err := mgr.Start(ctx, rec.ID); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "failed to start experiment", err)
	}
	fmt.Println()
	fmt.Println("Experiment running, waiting for completion (Ctrl-C to stop)...")

	final, err := waitForExperiment(ctx, mgr, rec.ID)
	if err != nil {
		return err
	}

	fmt.Println()
	switch final.Status {
	case experiment.StatusCompleted:
		fmt.Printf("Experiment completed: %d scenarios", final.ScenariosExecuted)
		if final.BestReward != nil {
			fmt.Printf(", best reward %.4f", *final.BestReward)
		}
		if final.CollisionFound {
			fmt.Printf(", collision found")
		}
		fmt.Println()
		fmt.Printf("Results in %s\n", final.OutputDirectory)
		return nil
	case experiment.StatusStopped:
		fmt.Println("Experiment stopped")
		return nil
	default:
		return exitError(foundry.ExitExternalServiceUnavailable, "experiment failed",
			errors.New(final.ErrorMessage))
	}
}

// waitForExperiment polls until the experiment reaches a terminal status.
// On interrupt it stops the run and reports the interruption.
func waitForExperiment(ctx context.Context, mgr *experiment.Manager, id string) (*experiment.Record, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	lastScenarios := -1
	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			err := mgr.Shutdown(stopCtx)
			cancel()
			if err != nil {
				observability.CLILogger.Warn("shutdown incomplete", zap.Error(err))
			}
			return nil, exitError(foundry.ExitSignalInt, "interrupted", ctx.Err())
		case <-ticker.C:
			snap, err := mgr.Get(ctx, id)
			if err != nil {
				return nil, exitError(foundry.ExitExternalServiceUnavailable, "lost track of experiment", err)
			}
			rec := snap.Experiment
			if rec.ScenariosExecuted != lastScenarios {
				lastScenarios = rec.ScenariosExecuted
				fmt.Printf("  iteration %d/%d, scenarios %d/%d\n",
					rec.CurrentIteration, rec.TotalIterations,
					rec.ScenariosExecuted, rec.TotalScenarios)
			}
			if rec.Status.Terminal() {
				return &rec, nil
			}
		}
	}
}

// showRunPlan displays what would be created without executing.
func showRunPlan(m *manifest.Manifest) error {
	spec := m.Experiment

	fmt.Println("=== Experiment Plan (dry-run) ===")
	fmt.Println()
	fmt.Printf("Name:       %s\n", spec.Name)
	fmt.Printf("Route:      %s\n", spec.RouteID)
	if spec.RouteName != "" {
		fmt.Printf("Route Name: %s\n", spec.RouteName)
	}
	if spec.RouteFile != "" {
		fmt.Printf("Route File: %s\n", spec.RouteFile)
	}
	fmt.Println()

	method := spec.SearchMethod
	if method == "" {
		method = string(experiment.MethodRandom)
	}
	fmt.Printf("Method:     %s\n", method)
	if spec.NumIterations > 0 {
		fmt.Printf("Iterations: %d\n", spec.NumIterations)
	}
	if spec.TimeoutSeconds > 0 {
		fmt.Printf("Timeout:    %ds per scenario\n", spec.TimeoutSeconds)
	}
	if spec.RandomSeed != nil {
		fmt.Printf("Seed:       %d\n", *spec.RandomSeed)
	}
	if spec.RewardFunction != "" {
		fmt.Printf("Reward:     %s\n", spec.RewardFunction)
	}
	if spec.Agent != "" {
		fmt.Printf("Agent:      %s\n", spec.Agent)
	}

	if spec.PSO != nil {
		fmt.Println()
		fmt.Println("PSO:")
		fmt.Printf("  Pop Size: %d\n", spec.PSO.PopSize)
		fmt.Printf("  W:        %.2f\n", spec.PSO.W)
		fmt.Printf("  C1:       %.2f\n", spec.PSO.C1)
		fmt.Printf("  C2:       %.2f\n", spec.PSO.C2)
	}
	if spec.GA != nil {
		fmt.Println()
		fmt.Println("GA:")
		fmt.Printf("  Pop Size: %d\n", spec.GA.PopSize)
		fmt.Printf("  Prob Mut: %.2f\n", spec.GA.ProbMut)
	}

	fmt.Println()
	if m.Run.Start {
		fmt.Println("Run:        start immediately")
		fmt.Println()
	}

	fmt.Println("Manifest validated successfully. Remove --dry-run to execute.")
	return nil
}
