package carlaenv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultPatterns(), cfg.Patterns)
	assert.Equal(t, DefaultPorts(), cfg.Ports)
	assert.Equal(t, 3*time.Second, cfg.TermGrace)
	assert.Equal(t, 2*time.Second, cfg.SettleDelay)
	assert.False(t, cfg.DryRun)
}

func TestConfigExplicitValues(t *testing.T) {
	cfg := Config{
		Patterns:    []string{"my_sim"},
		Ports:       []int{9000},
		TermGrace:   time.Second,
		SettleDelay: -1,
	}.withDefaults()
	assert.Equal(t, []string{"my_sim"}, cfg.Patterns)
	assert.Equal(t, []int{9000}, cfg.Ports)
	assert.Equal(t, time.Second, cfg.TermGrace)
	assert.Zero(t, cfg.SettleDelay)
}

func TestSplitPgrepLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		pid     int
		command string
		ok      bool
	}{
		{"pid and command", "1234 /usr/bin/CarlaUE4 -opengl", 1234, "/usr/bin/CarlaUE4 -opengl", true},
		{"pid only", "1234", 1234, "", true},
		{"padded", "  1234 python leaderboard_evaluator.py", 1234, "python leaderboard_evaluator.py", true},
		{"garbage", "notapid something", 0, "", false},
		{"empty", "", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, command, ok := splitPgrepLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.pid, pid)
				assert.Equal(t, tt.command, command)
			}
		})
	}
}

func TestStrayNoMatches(t *testing.T) {
	// A pattern that cannot match any real process; pgrep's exit 1 must be
	// treated as an empty result, not an error.
	c := New(Config{Patterns: []string{"scenfuzz_test_no_such_process_a8f3"}}, nil)
	procs, err := c.Stray(context.Background())
	require.NoError(t, err)
	assert.Empty(t, procs)
}

func TestCleanDryRun(t *testing.T) {
	c := New(Config{
		Patterns:    []string{"scenfuzz_test_no_such_process_a8f3"},
		Ports:       []int{59999},
		SettleDelay: -1,
		DryRun:      true,
	}, nil)

	// Dry run never signals anything, so it is safe to execute in tests.
	require.NoError(t, c.Clean(context.Background()))
}

func TestCleanCanceledContext(t *testing.T) {
	c := New(Config{
		Patterns:  []string{"scenfuzz_test_no_such_process_a8f3"},
		Ports:     []int{59999},
		TermGrace: 10 * time.Second,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Clean(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
