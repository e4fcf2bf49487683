package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenfuzz/scenfuzz/internal/observability"
)

func TestWritableDir(t *testing.T) {
	t.Run("existing writable directory", func(t *testing.T) {
		assert.NoError(t, writableDir(t.TempDir()))
	})

	t.Run("creates missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "output")
		assert.NoError(t, writableDir(dir))

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("path occupied by a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "occupied")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

		assert.Error(t, writableDir(path))
	})
}

func TestPythonOnPath(t *testing.T) {
	t.Run("absolute path to executable", func(t *testing.T) {
		got, err := pythonOnPath("/bin/sh")
		require.NoError(t, err)
		assert.Equal(t, "/bin/sh", got)
	})

	t.Run("absolute path to directory", func(t *testing.T) {
		_, err := pythonOnPath(t.TempDir())
		assert.Error(t, err)
	})

	t.Run("missing interpreter", func(t *testing.T) {
		_, err := pythonOnPath(filepath.Join(t.TempDir(), "python-nope"))
		assert.Error(t, err)
	})
}

func TestPrintRunnerHelp(t *testing.T) {
	// Initialize CLI logger to avoid nil pointer
	observability.InitCLILogger("test", false)

	// This test verifies the function doesn't panic
	// It logs help text for configuring the simulation runner
	t.Run("does not panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			printRunnerHelp()
		})
	})
}
