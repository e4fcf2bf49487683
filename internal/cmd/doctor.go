package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scenfuzz/scenfuzz/internal/config"
	errwrap "github.com/scenfuzz/scenfuzz/internal/errors"
	"github.com/scenfuzz/scenfuzz/internal/observability"
	"github.com/scenfuzz/scenfuzz/pkg/carlaenv"
	"github.com/scenfuzz/scenfuzz/pkg/expstore"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the scenfuzz installation and suggest fixes
for common issues: missing runner script, unreachable Python interpreter,
unwritable output directory, locked database, stray simulator processes.

Examples:
  scenfuzz doctor`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) {
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 9

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.25" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.25+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible access
	version := crucible.GetVersion()
	if version.Crucible != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ v%s", checkNum, totalChecks, version.Crucible),
			zap.String("crucible_version", version.Crucible))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... ❌ Cannot access Crucible", checkNum, totalChecks))
		ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible",
			errwrap.NewExternalServiceError("Crucible service unavailable"))
	}
	checkNum++

	// Check 3: Gofulmen access
	if version.Gofulmen != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s", checkNum, totalChecks, version.Gofulmen),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 4: Config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking config directory... ❌ Cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Cannot find config directory",
			errwrap.WrapInternal(cmd.Context(), err, "Cannot find config directory"))
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking config directory... ✅ %s", checkNum, totalChecks, configDir),
			zap.String("config_dir", configDir))
	}
	checkNum++

	// Check 5: Configuration load
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ %v", checkNum, totalChecks, err),
			zap.Error(err))
		ExitWithCode(observability.CLILogger, foundry.ExitInvalidArgument, "Configuration is invalid",
			errwrap.WrapInternal(cmd.Context(), err, "Configuration is invalid"))
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking configuration... ✅ loaded", checkNum, totalChecks),
		zap.String("database", cfg.Storage.DatabasePath),
		zap.String("runner_script", cfg.Runner.ScriptPath))
	checkNum++

	// Check 6: Output directory writable
	if err := writableDir(cfg.Runner.OutputBaseDir); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking output directory... ❌ %s not writable", checkNum, totalChecks, cfg.Runner.OutputBaseDir),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking output directory... ✅ %s", checkNum, totalChecks, cfg.Runner.OutputBaseDir),
			zap.String("output_dir", cfg.Runner.OutputBaseDir))
	}
	checkNum++

	// Check 7: Runner script and interpreter
	if _, err := os.Stat(cfg.Runner.ScriptPath); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking runner script... ❌ %s not found", checkNum, totalChecks, cfg.Runner.ScriptPath),
			zap.Error(err))
		printRunnerHelp()
		allChecks = false
	} else if python, err := pythonOnPath(cfg.Runner.PythonBin); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking runner script... ❌ interpreter %s not found", checkNum, totalChecks, cfg.Runner.PythonBin),
			zap.Error(err))
		printRunnerHelp()
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking runner script... ✅ %s via %s", checkNum, totalChecks, cfg.Runner.ScriptPath, python),
			zap.String("script", cfg.Runner.ScriptPath),
			zap.String("python", python))
	}
	checkNum++

	// Check 8: Experiment database
	store, err := expstore.Open(cmd.Context(), expstore.Config{Path: cfg.Storage.DatabasePath})
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking experiment database... ❌ cannot open %s", checkNum, totalChecks, cfg.Storage.DatabasePath),
			zap.Error(err))
		allChecks = false
	} else {
		count, countErr := store.Count(cmd.Context())
		_ = store.Close()
		if countErr != nil {
			observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking experiment database... ❌ cannot query %s", checkNum, totalChecks, cfg.Storage.DatabasePath),
				zap.Error(countErr))
			allChecks = false
		} else {
			observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking experiment database... ✅ %s (%d experiments)", checkNum, totalChecks, cfg.Storage.DatabasePath, count),
				zap.String("database", cfg.Storage.DatabasePath),
				zap.Int("experiments", count))
		}
	}
	checkNum++

	// Check 9: Stray simulator processes
	cleaner := carlaenv.New(carlaenv.Config{Ports: cfg.Cleanup.Ports}, observability.CLILogger)
	strays, err := cleaner.Stray(cmd.Context())
	switch {
	case err != nil:
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking simulator processes... ⚠️  cannot probe", checkNum, totalChecks),
			zap.Error(err))
	case len(strays) > 0:
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking simulator processes... ⚠️  %d stray process(es), run 'scenfuzz cleanup'", checkNum, totalChecks, len(strays)),
			zap.Int("strays", len(strays)))
		allChecks = false
	default:
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking simulator processes... ✅ none running", checkNum, totalChecks))
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

// writableDir verifies the directory exists (creating it if needed) and
// accepts a new file.
func writableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// pythonOnPath resolves the configured interpreter to an executable path.
func pythonOnPath(bin string) (string, error) {
	if filepath.IsAbs(bin) {
		info, err := os.Stat(bin)
		if err != nil {
			return "", err
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s is a directory", bin)
		}
		return bin, nil
	}
	return exec.LookPath(bin)
}

// printRunnerHelp prints help for configuring the simulation runner.
func printRunnerHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure the simulation runner:")
	observability.CLILogger.Info("  1. Set runner.script_path in scenfuzz.yaml to the fuzzing entry script, or")
	observability.CLILogger.Info("  2. Set the SCENFUZZ_RUNNER_SCRIPT environment variable, or")
	observability.CLILogger.Info("  3. Place sim_runner.py in the working directory")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("The interpreter is resolved from runner.python_bin (default python3)")
	observability.CLILogger.Info("and must have the CARLA client packages installed.")
	observability.CLILogger.Info("")
}
