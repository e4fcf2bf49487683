package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	t.Run("default level is info", func(t *testing.T) {
		InitCLILogger("scenfuzz", false)
		require.NotNil(t, CLILogger)
		assert.True(t, CLILogger.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, CLILogger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("verbose enables debug", func(t *testing.T) {
		InitCLILogger("scenfuzz", true)
		assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("logging does not panic", func(t *testing.T) {
		InitCLILogger("scenfuzz", false)
		assert.NotPanics(t, func() {
			CLILogger.Info("hello")
			CLILogger.Debug("suppressed")
		})
	})
}

func TestNewServerLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		profile string
		wantErr bool
	}{
		{name: "structured info", level: "info", profile: "structured"},
		{name: "console debug", level: "debug", profile: "console"},
		{name: "empty profile defaults to structured", level: "warn", profile: ""},
		{name: "profile is case insensitive", level: "info", profile: "Console"},
		{name: "bad level", level: "loud", profile: "structured", wantErr: true},
		{name: "bad profile", level: "info", profile: "rainbow", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewServerLogger(tt.level, tt.profile)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestNewServerLoggerLevelApplied(t *testing.T) {
	logger, err := NewServerLogger("error", "structured")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
}
