package params

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parameter_ranges.yaml")
	return NewManager(path), path
}

func TestLoadSeedsDefaults(t *testing.T) {
	mgr, path := newTestManager(t)

	ranges, err := mgr.Load()
	require.NoError(t, err)

	assert.Len(t, ranges.Default, 5)
	assert.Contains(t, ranges.Default, "absolute_v")
	assert.Contains(t, ranges.ScenarioOverrides, "CutIn")

	// Seeding persists the file so later loads see the same content.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk Ranges
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	assert.Equal(t, ranges.Default["absolute_v"].Max, onDisk.Default["absolute_v"].Max)

	again, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, ranges.Default, again.Default)
}

func TestLoadExistingFile(t *testing.T) {
	mgr, path := newTestManager(t)
	content := `default:
  speed:
    min: 0
    max: 10
    default: 5
    unit: m/s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ranges, err := mgr.Load()
	require.NoError(t, err)
	require.Len(t, ranges.Default, 1)
	rng := ranges.Default["speed"]
	assert.Equal(t, 0.0, rng.Min)
	assert.Equal(t, 10.0, rng.Max)
	require.NotNil(t, rng.Default)
	assert.Equal(t, 5.0, *rng.Default)
	assert.Equal(t, "m/s", rng.Unit)
}

func TestLoadMalformedFile(t *testing.T) {
	mgr, path := newTestManager(t)
	require.NoError(t, os.WriteFile(path, []byte("default: [not, a, map]"), 0o644))

	_, err := mgr.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse parameter ranges")
}

func TestLoadEmptyFile(t *testing.T) {
	mgr, path := newTestManager(t)
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	ranges, err := mgr.Load()
	require.NoError(t, err)
	assert.NotNil(t, ranges.Default)
	assert.Empty(t, ranges.Default)
}

func TestApplyGlobalDefaults(t *testing.T) {
	mgr, _ := newTestManager(t)

	ranges, err := mgr.Apply(Update{
		Ranges: map[string]Range{
			"absolute_v": {Min: 1, Max: 20, Default: f(10)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, ranges.Default["absolute_v"].Min)
	assert.Equal(t, 20.0, ranges.Default["absolute_v"].Max)

	// Untouched stock ranges survive the merge.
	assert.Contains(t, ranges.Default, "v_ego")

	reloaded, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, 20.0, reloaded.Default["absolute_v"].Max)
}

func TestApplyScenarioOverride(t *testing.T) {
	mgr, _ := newTestManager(t)

	ranges, err := mgr.Apply(Update{
		ScenarioType: "OppositeVehicleRunningRedLight",
		Ranges: map[string]Range{
			"relative_v": {Min: -5, Max: 5},
		},
	})
	require.NoError(t, err)
	require.Contains(t, ranges.ScenarioOverrides, "OppositeVehicleRunningRedLight")
	assert.Equal(t, 5.0, ranges.ScenarioOverrides["OppositeVehicleRunningRedLight"]["relative_v"].Max)

	// Existing overrides for other scenario types are untouched.
	assert.Contains(t, ranges.ScenarioOverrides, "CutIn")

	// A second update for the same type merges rather than replaces.
	ranges, err = mgr.Apply(Update{
		ScenarioType: "OppositeVehicleRunningRedLight",
		Ranges: map[string]Range{
			"absolute_v": {Min: 0, Max: 15},
		},
	})
	require.NoError(t, err)
	assert.Len(t, ranges.ScenarioOverrides["OppositeVehicleRunningRedLight"], 2)
}

func TestApplyValidation(t *testing.T) {
	mgr, _ := newTestManager(t)

	tests := []struct {
		name        string
		upd         Update
		errContains string
	}{
		{
			name: "min above max",
			upd: Update{Ranges: map[string]Range{
				"absolute_v": {Min: 10, Max: 5},
			}},
			errContains: "min must be below max",
		},
		{
			name: "min equals max",
			upd: Update{Ranges: map[string]Range{
				"absolute_v": {Min: 5, Max: 5},
			}},
			errContains: "min must be below max",
		},
		{
			name: "default below min",
			upd: Update{Ranges: map[string]Range{
				"absolute_v": {Min: 5, Max: 10, Default: f(1)},
			}},
			errContains: "default outside [min, max]",
		},
		{
			name: "default above max",
			upd: Update{Ranges: map[string]Range{
				"absolute_v": {Min: 5, Max: 10, Default: f(11)},
			}},
			errContains: "default outside [min, max]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.Apply(tt.upd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
			assert.Contains(t, err.Error(), "absolute_v") // named parameter
		})
	}
}

func TestApplyEmptyUpdate(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.Apply(Update{})
	require.EqualError(t, err, "no ranges in update")
}

func TestRangesValidate(t *testing.T) {
	good := DefaultRanges()
	require.NoError(t, good.Validate())

	bad := Ranges{
		Default: map[string]Range{"ok": {Min: 0, Max: 1}},
		ScenarioOverrides: map[string]map[string]Range{
			"CutIn": {"speed": {Min: 3, Max: 1}},
		},
	}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CutIn.speed")
}

func TestSaveAtomicLeavesNoTempFiles(t *testing.T) {
	mgr, path := newTestManager(t)
	_, err := mgr.Load()
	require.NoError(t, err)

	_, err = mgr.Apply(Update{Ranges: map[string]Range{
		"r_ego": {Min: 0, Max: 100},
	}})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(path), entries[0].Name())
}

func TestManagerCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config", "ranges.yaml")
	mgr := NewManager(path)

	_, err := mgr.Load()
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)
}
