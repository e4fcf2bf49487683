package cmd

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenfuzz/scenfuzz/pkg/manifest"
)

func TestShowRunPlan(t *testing.T) {
	seed := 7

	tests := []struct {
		name     string
		manifest *manifest.Manifest
		contains []string
	}{
		{
			name: "basic manifest",
			manifest: &manifest.Manifest{
				Version: "1.0",
				Experiment: manifest.ExperimentSpec{
					Name:          "Nightly Cut-In",
					RouteID:       "1",
					RouteName:     "Town01 cut-in",
					SearchMethod:  "random",
					NumIterations: 25,
				},
			},
			contains: []string{
				"Experiment Plan (dry-run)",
				"Name:       Nightly Cut-In",
				"Route:      1",
				"Route Name: Town01 cut-in",
				"Method:     random",
				"Iterations: 25",
				"Manifest validated successfully. Remove --dry-run to execute.",
			},
		},
		{
			name: "pso tuning and seed",
			manifest: &manifest.Manifest{
				Version: "1.0",
				Experiment: manifest.ExperimentSpec{
					Name:         "Swarm",
					RouteID:      "3",
					SearchMethod: "pso",
					RandomSeed:   &seed,
					PSO: &manifest.PSOSpec{
						PopSize: 24,
						W:       0.7,
						C1:      0.4,
						C2:      0.6,
					},
				},
			},
			contains: []string{
				"Method:     pso",
				"Seed:       7",
				"PSO:",
				"Pop Size: 24",
				"W:        0.70",
				"C1:       0.40",
				"C2:       0.60",
			},
		},
		{
			name: "ga with immediate start",
			manifest: &manifest.Manifest{
				Version: "1.0",
				Experiment: manifest.ExperimentSpec{
					Name:         "Evolve",
					RouteID:      "2",
					SearchMethod: "ga",
					GA: &manifest.GASpec{
						PopSize: 40,
						ProbMut: 0.15,
					},
				},
				Run: manifest.RunSpec{Start: true},
			},
			contains: []string{
				"Method:     ga",
				"GA:",
				"Pop Size: 40",
				"Prob Mut: 0.15",
				"Run:        start immediately",
			},
		},
		{
			name: "defaults fill the method",
			manifest: &manifest.Manifest{
				Version: "1.0",
				Experiment: manifest.ExperimentSpec{
					Name:    "Bare",
					RouteID: "1",
				},
			},
			contains: []string{
				"Method:     random",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Capture stdout
			old := os.Stdout
			r, w, _ := os.Pipe()
			os.Stdout = w

			err := showRunPlan(tt.manifest)
			require.NoError(t, err)

			require.NoError(t, w.Close())
			os.Stdout = old

			var buf bytes.Buffer
			_, _ = buf.ReadFrom(r)
			output := buf.String()

			for _, want := range tt.contains {
				assert.Contains(t, output, want, "output should contain %q", want)
			}
		})
	}
}

func TestExperimentRun_InvalidManifest(t *testing.T) {
	resetReadOnly(t)

	f, err := os.CreateTemp("", "scenfuzz-bad-job-*.yaml")
	require.NoError(t, err)
	defer func() { _ = os.Remove(f.Name()) }()
	defer func() { _ = f.Close() }()

	// Missing the required route_id
	_, err = f.WriteString(`version: "1.0"
experiment:
  name: Missing Route
`)
	require.NoError(t, err)

	rootCmd.SetArgs([]string{"experiment", "run", "--job", f.Name(), "--dry-run"})
	rootCmd.SetContext(context.Background())

	err = rootCmd.Execute()
	rootCmd.SetArgs(nil)
	resetRunFlags(t)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid manifest")
}

// resetRunFlags clears experiment run flag state that persists across
// Execute calls.
func resetRunFlags(t *testing.T) {
	t.Helper()
	runDryRun = false
	runPlan = false
	runStart = false
	require.NoError(t, experimentRunCmd.Flags().Set("dry-run", "false"))
	require.NoError(t, experimentRunCmd.Flags().Set("plan", "false"))
	require.NoError(t, experimentRunCmd.Flags().Set("start", "false"))
}

func TestExperimentRun_MissingManifestFile(t *testing.T) {
	resetReadOnly(t)

	rootCmd.SetArgs([]string{"experiment", "run", "--job", "/nonexistent/job.yaml"})
	rootCmd.SetContext(context.Background())

	err := rootCmd.Execute()
	rootCmd.SetArgs(nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid manifest")
}
