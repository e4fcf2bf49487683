// Package config loads server configuration with the precedence runtime
// overrides > environment > config file > defaults.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Application identity. The env prefix doubles as the marker stripped from
// the simulator subprocess environment.
const (
	BinaryName = "scenfuzz"
	EnvPrefix  = "SCENFUZZ"
	ConfigName = "scenfuzz"
)

// AppIdentity names the binary for config and env resolution.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig controls log level and output profile.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// StorageConfig locates the durable experiment store and the parameter
// ranges file.
type StorageConfig struct {
	DatabasePath        string `mapstructure:"database_path"`
	ParameterRangesPath string `mapstructure:"parameter_ranges_path"`
}

// RunnerConfig controls how simulator subprocesses are launched and
// supervised.
type RunnerConfig struct {
	ScriptPath     string        `mapstructure:"script_path"`
	PythonBin      string        `mapstructure:"python_bin"`
	OutputBaseDir  string        `mapstructure:"output_base_dir"`
	RoutesDir      string        `mapstructure:"routes_dir"`
	HardTimeout    time.Duration `mapstructure:"hard_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	InactivityWarn time.Duration `mapstructure:"inactivity_warn"`
	KillGrace      time.Duration `mapstructure:"kill_grace"`
}

// RecoveryConfig bounds startup recovery from the durable store.
type RecoveryConfig struct {
	Limit int `mapstructure:"limit"`
}

// CleanupConfig controls stray simulator process cleanup.
type CleanupConfig struct {
	Enabled bool  `mapstructure:"enabled"`
	Ports   []int `mapstructure:"ports"`
}

// HealthConfig toggles the health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	Health   HealthConfig   `mapstructure:"health"`
}

var (
	configMu    sync.Mutex
	appIdentity *AppIdentity
	appConfig   *Config
)

// Load builds the configuration and caches it for GetConfig. Later maps in
// overrides win over earlier ones; all overrides win over env and file.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	appIdentity = &AppIdentity{
		BinaryName: BinaryName,
		EnvPrefix:  EnvPrefix,
		ConfigName: ConfigName,
	}

	v := viper.New()
	setDefaults(v)

	for _, spec := range envSpecsFor(appIdentity) {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	v.SetConfigName(appIdentity.ConfigName)
	v.SetConfigType("yaml")
	for _, path := range configSearchPaths() {
		v.AddConfigPath(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	for _, override := range overrides {
		applyOverride(v, "", override)
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the last loaded configuration, or nil before Load.
func GetConfig() *Config {
	configMu.Lock()
	defer configMu.Unlock()
	return appConfig
}

// Identity returns the loaded application identity, or nil before Load.
func Identity() *AppIdentity {
	configMu.Lock()
	defer configMu.Unlock()
	return appIdentity
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("storage.database_path", "experiments.db")
	v.SetDefault("storage.parameter_ranges_path", "parameter_ranges.yaml")

	v.SetDefault("runner.script_path", "sim_runner.py")
	v.SetDefault("runner.python_bin", "python3")
	v.SetDefault("runner.output_base_dir", "output")
	v.SetDefault("runner.routes_dir", "routes")
	v.SetDefault("runner.hard_timeout", "2h")
	v.SetDefault("runner.poll_interval", "30s")
	v.SetDefault("runner.inactivity_warn", "10m")
	v.SetDefault("runner.kill_grace", "5s")

	v.SetDefault("recovery.limit", 100)

	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.ports", []int{2000, 2001, 2002, 8000, 8001, 8002})

	v.SetDefault("health.enabled", true)
}

// applyOverride flattens nested override maps into dotted viper keys so
// they take top precedence.
func applyOverride(v *viper.Viper, prefix string, values map[string]any) {
	for key, value := range values {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			applyOverride(v, path, nested)
			continue
		}
		v.Set(path, value)
	}
}

type envSpec struct {
	Name string
	Path string
}

// getEnvSpecs returns the env var bindings, empty before Load.
func getEnvSpecs() []envSpec {
	configMu.Lock()
	defer configMu.Unlock()
	if appIdentity == nil {
		return nil
	}
	return envSpecsFor(appIdentity)
}

func envSpecsFor(identity *AppIdentity) []envSpec {
	prefix := identity.EnvPrefix + "_"
	return []envSpec{
		{Name: prefix + "HOST", Path: "server.host"},
		{Name: prefix + "PORT", Path: "server.port"},
		{Name: prefix + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: prefix + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: prefix + "IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: prefix + "LOG_LEVEL", Path: "logging.level"},
		{Name: prefix + "LOG_PROFILE", Path: "logging.profile"},
		{Name: prefix + "DB_PATH", Path: "storage.database_path"},
		{Name: prefix + "PARAMETER_RANGES", Path: "storage.parameter_ranges_path"},
		{Name: prefix + "RUNNER_SCRIPT", Path: "runner.script_path"},
		{Name: prefix + "PYTHON_BIN", Path: "runner.python_bin"},
		{Name: prefix + "OUTPUT_BASE", Path: "runner.output_base_dir"},
		{Name: prefix + "ROUTES_DIR", Path: "runner.routes_dir"},
		{Name: prefix + "HARD_TIMEOUT", Path: "runner.hard_timeout"},
		{Name: prefix + "RECOVERY_LIMIT", Path: "recovery.limit"},
		{Name: prefix + "CLEANUP_ENABLED", Path: "cleanup.enabled"},
		{Name: prefix + "HEALTH_ENABLED", Path: "health.enabled"},
	}
}

// getUserConfigPaths returns per-user config directories, empty before
// Load.
func getUserConfigPaths() []string {
	configMu.Lock()
	defer configMu.Unlock()
	return userConfigPathsFor(appIdentity)
}

func userConfigPathsFor(identity *AppIdentity) []string {
	if identity == nil {
		return nil
	}
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, identity.ConfigName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+identity.ConfigName))
	}
	return paths
}

// configSearchPaths is called with configMu held.
func configSearchPaths() []string {
	paths := []string{"."}
	if root, err := findProjectRoot(); err == nil && root != "" {
		paths = append(paths, root)
	}
	paths = append(paths, userConfigPathsFor(appIdentity)...)
	paths = append(paths, filepath.Join("/etc", ConfigName))
	return paths
}

// findProjectRoot locates the nearest ancestor directory that looks like a
// project root. In CI a workspace boundary env var is honored when it is
// an absolute path containing the working directory; otherwise discovery
// walks up from the working directory.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}

	if inCI() {
		for _, name := range []string{"GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"} {
			boundary := os.Getenv(name)
			if boundary == "" || !filepath.IsAbs(boundary) {
				continue
			}
			info, statErr := os.Stat(boundary)
			if statErr != nil || !info.IsDir() {
				continue
			}
			boundary = filepath.Clean(boundary)
			if !containsPath(boundary, cwd) {
				continue
			}
			if root, ok := searchUpForRoot(cwd, boundary); ok {
				return root, nil
			}
		}
	}

	if root, ok := searchUpForRoot(cwd, ""); ok {
		return root, nil
	}
	return cwd, nil
}

func inCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

// containsPath reports whether path is boundary or lies under it.
func containsPath(boundary, path string) bool {
	rel, err := filepath.Rel(boundary, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// searchUpForRoot walks from start toward the filesystem root (or the
// boundary, when set) looking for project markers.
func searchUpForRoot(start, boundary string) (string, bool) {
	dir := start
	for {
		for _, marker := range []string{"go.mod", ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, true
			}
		}
		if boundary != "" && dir == boundary {
			return "", false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
