package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scenfuzz/scenfuzz/internal/config"
	"github.com/scenfuzz/scenfuzz/internal/observability"
	"github.com/scenfuzz/scenfuzz/pkg/carlaenv"
)

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Kill stray simulator processes and free their ports",
	Long: `Find CARLA simulator and scenario runner processes left behind by a
crashed or interrupted experiment, terminate them, and free the TCP ports
they held.

Examples:
  scenfuzz cleanup --dry-run   # Show what would be killed
  scenfuzz cleanup             # Kill stray processes and free ports`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be killed without touching anything")
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	// Probing is allowed in readonly mode; killing is not.
	if !cleanupDryRun && isReadOnly() {
		return exitError(foundry.ExitInvalidArgument, "readonly mode enabled: refusing to kill simulator processes",
			fmt.Errorf("use --dry-run or disable --readonly"))
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "failed to load configuration", err)
	}

	ports := cfg.Cleanup.Ports
	if len(ports) == 0 {
		ports = carlaenv.DefaultPorts()
	}

	cleaner := carlaenv.New(carlaenv.Config{
		Ports:  ports,
		DryRun: cleanupDryRun,
	}, observability.CLILogger)

	strays, err := cleaner.Stray(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "cannot probe simulator processes", err)
	}

	if len(strays) == 0 {
		observability.CLILogger.Info("No stray simulator processes found")
	}
	for _, p := range strays {
		observability.CLILogger.Info(fmt.Sprintf("Stray process %d: %s", p.PID, p.Command),
			zap.Int("pid", p.PID))
	}

	if cleanupDryRun {
		observability.CLILogger.Info("Dry run: nothing was killed")
		return nil
	}

	if err := cleaner.Clean(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "cleanup failed", err)
	}

	observability.CLILogger.Info("Environment cleanup complete",
		zap.Int("processes", len(strays)),
		zap.Int("ports", len(ports)))
	return nil
}
