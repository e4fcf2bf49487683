package experiment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Environment variables consumed by the simulation runner. Any stale
// SCENFUZZ_* values inherited from the parent environment are stripped before
// launch so a previous run's settings cannot leak into a new subprocess.
const (
	envRunConfig = "SCENFUZZ_RUN_CONFIG"
	envOutputDir = "SCENFUZZ_OUTPUT_DIR"
	envPrefix    = "SCENFUZZ_"
)

// BuildArgs assembles the runner's argument vector for a record: the route id
// as the positional argument followed by the method, budget, and reproduction
// flags, plus the method-specific tuning flags for PSO and GA.
func BuildArgs(rec *Record) []string {
	args := []string{
		rec.RouteID,
		"--method", string(rec.Method),
		"--iterations", strconv.Itoa(rec.Iterations),
		"--route-file", rec.RouteFile,
		"--timeout", strconv.Itoa(rec.TimeoutSeconds),
		"--seed", strconv.Itoa(rec.RandomSeed),
		"--reward-function", rec.RewardFunction,
		"--agent", string(rec.Agent),
	}

	switch rec.Method {
	case MethodPSO:
		args = append(args,
			"--pso-pop-size", strconv.Itoa(rec.PSOPopSize),
			"--pso-w", formatFloat(rec.PSOW),
			"--pso-c1", formatFloat(rec.PSOC1),
			"--pso-c2", formatFloat(rec.PSOC2),
		)
	case MethodGA:
		args = append(args,
			"--ga-pop-size", strconv.Itoa(rec.GAPopSize),
			"--ga-prob-mut", formatFloat(rec.GAProbMut),
		)
	}

	if rec.Headless {
		args = append(args, "--headless")
	}
	return args
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// RunConfig is the side-channel configuration file handed to the runner for
// settings that have no command-line flag. The runner finds it via
// SCENFUZZ_RUN_CONFIG.
type RunConfig struct {
	ExperimentID   string `json:"experiment_id"`
	ExperimentName string `json:"experiment_name"`
	OutputDir      string `json:"output_dir"`
	RewardFunction string `json:"reward_function"`
	RandomSeed     int    `json:"random_seed"`
}

// WriteRunConfig writes the side-channel config for rec into dir and returns
// the file path.
func WriteRunConfig(dir string, rec *Record) (string, error) {
	cfg := RunConfig{
		ExperimentID:   rec.ID,
		ExperimentName: rec.Name,
		OutputDir:      rec.OutputDirectory,
		RewardFunction: rec.RewardFunction,
		RandomSeed:     rec.RandomSeed,
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run config: %w", err)
	}
	path := filepath.Join(dir, "experiment_config.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write run config: %w", err)
	}
	return path, nil
}

// BuildEnv returns a copy of the current environment with stale runner
// variables stripped and the per-run values set.
func BuildEnv(runConfigPath, outputDir string) []string {
	env := make([]string, 0, len(os.Environ())+2)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, envPrefix) {
			continue
		}
		env = append(env, kv)
	}
	env = append(env,
		envRunConfig+"="+runConfigPath,
		envOutputDir+"="+outputDir,
	)
	return env
}
