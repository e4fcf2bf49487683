package cmd

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestSetVersionInfo(t *testing.T) {
	// Save original values
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2024-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	t.Run("returns nil before init", func(t *testing.T) {
		// Save and restore
		orig := appIdentity
		appIdentity = nil
		defer func() { appIdentity = orig }()

		result := GetAppIdentity()
		assert.Nil(t, result)
	})

	t.Run("returns identity after set", func(t *testing.T) {
		// If appIdentity is already set from other tests, verify it returns
		if appIdentity != nil {
			result := GetAppIdentity()
			assert.NotNil(t, result)
			assert.Equal(t, appIdentity, result)
		}
	})
}

func TestSetDefaults(t *testing.T) {
	// Reset viper for clean test
	v := viper.New()
	viper.Reset()
	defer func() {
		// Restore defaults and the readonly flag binding Reset wiped
		viper.Reset()
		setDefaults()
		_ = viper.BindPFlag("readonly", rootCmd.PersistentFlags().Lookup("readonly"))
		_ = v
	}()

	// Call setDefaults
	setDefaults()

	// Verify server defaults
	assert.Equal(t, "127.0.0.1", viper.GetString("server.host"))
	assert.Equal(t, 8000, viper.GetInt("server.port"))
	assert.Equal(t, "30s", viper.GetString("server.read_timeout"))
	assert.Equal(t, "30s", viper.GetString("server.write_timeout"))
	assert.Equal(t, "120s", viper.GetString("server.idle_timeout"))
	assert.Equal(t, "10s", viper.GetString("server.shutdown_timeout"))

	// Verify logging defaults
	assert.Equal(t, "info", viper.GetString("logging.level"))
	assert.Equal(t, "structured", viper.GetString("logging.profile"))

	// Verify storage defaults
	assert.Equal(t, "experiments.db", viper.GetString("storage.database_path"))
	assert.Equal(t, "parameter_ranges.yaml", viper.GetString("storage.parameter_ranges_path"))

	// Verify runner defaults
	assert.Equal(t, "sim_runner.py", viper.GetString("runner.script_path"))
	assert.Equal(t, "python3", viper.GetString("runner.python_bin"))
	assert.Equal(t, "output", viper.GetString("runner.output_base_dir"))
	assert.Equal(t, "routes", viper.GetString("runner.routes_dir"))
	assert.Equal(t, "2h", viper.GetString("runner.hard_timeout"))

	// Verify recovery defaults
	assert.Equal(t, 100, viper.GetInt("recovery.limit"))

	// Verify cleanup defaults
	assert.True(t, viper.GetBool("cleanup.enabled"))

	// Verify health defaults
	assert.True(t, viper.GetBool("health.enabled"))
}

func TestIsReadOnly(t *testing.T) {
	resetReadOnly(t)
	defer resetReadOnly(t)

	assert.False(t, isReadOnly())

	readOnly = true
	assert.True(t, isReadOnly())

	readOnly = false
	viper.Set("readonly", true)
	assert.True(t, isReadOnly())
}
