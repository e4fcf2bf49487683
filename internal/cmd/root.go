// Package cmd implements the scenfuzz command line interface.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/scenfuzz/scenfuzz/internal/config"
	"github.com/scenfuzz/scenfuzz/internal/observability"
)

var (
	cfgFile  string
	verbose  bool
	readOnly bool
)

// versionInfo is populated by SetVersionInfo from main's ldflags.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected at link time.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// appIdentity is resolved once per process in PersistentPreRunE.
var appIdentity *config.AppIdentity

// GetAppIdentity returns the resolved application identity, or nil before
// the root command has run.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

var rootCmd = &cobra.Command{
	Use:   config.BinaryName,
	Short: "Scenario fuzzing orchestrator for CARLA simulation experiments",
	Long: `scenfuzz orchestrates scenario-fuzzing experiments against the CARLA
driving simulator. It supervises the Python runner subprocess, parses its
progress output, persists experiment records to SQLite, and serves a REST
API with live log streaming.

Common workflows:
  scenfuzz serve                         # Run the experiment API server
  scenfuzz experiment run --job job.yaml # Create an experiment from a manifest
  scenfuzz experiment list               # List stored experiments
  scenfuzz cleanup --dry-run             # Show stray simulator processes
  scenfuzz doctor                        # Diagnose the installation`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		observability.InitCLILogger(config.BinaryName, verbose)
		appIdentity = &config.AppIdentity{
			BinaryName: config.BinaryName,
			EnvPrefix:  config.EnvPrefix,
			ConfigName: config.ConfigName,
		}
		if viper.GetBool("readonly") {
			readOnly = true
		}
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., project root, user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().Bool("readonly", false, "refuse operations that modify experiments or the environment")
	_ = viper.BindPFlag("readonly", rootCmd.PersistentFlags().Lookup("readonly"))

	setDefaults()
}

// isReadOnly reports whether the readonly latch is engaged via flag, env,
// or config file.
func isReadOnly() bool {
	return readOnly || viper.GetBool("readonly")
}

// setDefaults seeds the global viper instance so flags and env bindings
// resolve against the same defaults the server loader uses.
func setDefaults() {
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", "structured")

	viper.SetDefault("storage.database_path", "experiments.db")
	viper.SetDefault("storage.parameter_ranges_path", "parameter_ranges.yaml")

	viper.SetDefault("runner.script_path", "sim_runner.py")
	viper.SetDefault("runner.python_bin", "python3")
	viper.SetDefault("runner.output_base_dir", "output")
	viper.SetDefault("runner.routes_dir", "routes")
	viper.SetDefault("runner.hard_timeout", "2h")

	viper.SetDefault("recovery.limit", 100)

	viper.SetDefault("cleanup.enabled", true)

	viper.SetDefault("health.enabled", true)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(config.ConfigName)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		observability.CLILogger.Debug("Using config file",
			zap.String("file", viper.ConfigFileUsed()))
	}
}
