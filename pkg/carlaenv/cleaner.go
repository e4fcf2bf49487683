// Package carlaenv clears stray simulator state between experiment runs: a
// crashed run can leave CARLA server processes, evaluator scripts, and bound
// ports behind that would wedge the next launch.
package carlaenv

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultPatterns are the process command-line patterns considered simulator
// residue.
func DefaultPatterns() []string {
	return []string{
		"CarlaUE4",
		"leaderboard_evaluator.py",
		"scenario_runner",
		"python.*leaderboard_evaluator",
		"python.*scenario_runner",
	}
}

// DefaultPorts are the TCP ports the simulator and its agents bind.
func DefaultPorts() []int {
	return []int{2000, 2001, 2002, 8000, 8001, 8002}
}

// Config tunes the cleanup behavior.
type Config struct {
	// Patterns are pkill/pgrep -f patterns. Empty means DefaultPatterns.
	Patterns []string
	// Ports are TCP ports freed with fuser. Empty means DefaultPorts.
	Ports []int
	// TermGrace is the pause between SIGTERM and SIGKILL.
	TermGrace time.Duration
	// SettleDelay is the pause after cleanup before returning.
	SettleDelay time.Duration
	// DryRun reports what would be killed without killing anything.
	DryRun bool
}

func (c Config) withDefaults() Config {
	if len(c.Patterns) == 0 {
		c.Patterns = DefaultPatterns()
	}
	if len(c.Ports) == 0 {
		c.Ports = DefaultPorts()
	}
	if c.TermGrace <= 0 {
		c.TermGrace = 3 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	} else if c.SettleDelay == 0 {
		c.SettleDelay = 2 * time.Second
	}
	return c
}

// Cleaner kills stray simulator processes and frees their ports.
type Cleaner struct {
	cfg    Config
	logger *zap.Logger
}

// New returns a cleaner with defaults applied.
func New(cfg Config, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{cfg: cfg.withDefaults(), logger: logger}
}

// Process is one stray process found by Stray.
type Process struct {
	PID     int    `json:"pid"`
	Command string `json:"command"`
}

// Stray lists processes matching the configured patterns.
func (c *Cleaner) Stray(ctx context.Context) ([]Process, error) {
	seen := make(map[int]bool)
	var out []Process
	for _, pattern := range c.cfg.Patterns {
		cmd := exec.CommandContext(ctx, "pgrep", "-af", pattern)
		data, err := cmd.Output()
		if err != nil {
			// pgrep exits 1 when nothing matched.
			if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
				continue
			}
			return nil, fmt.Errorf("pgrep %q: %w", pattern, err)
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			pid, command, ok := splitPgrepLine(sc.Text())
			if !ok || seen[pid] {
				continue
			}
			seen[pid] = true
			out = append(out, Process{PID: pid, Command: command})
		}
	}
	return out, nil
}

func splitPgrepLine(line string) (int, string, bool) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 2)
	if len(fields) == 0 {
		return 0, "", false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", false
	}
	command := ""
	if len(fields) == 2 {
		command = fields[1]
	}
	return pid, command, true
}

// Running reports whether a CARLA server process is alive.
func (c *Cleaner) Running(ctx context.Context) bool {
	err := exec.CommandContext(ctx, "pgrep", "-f", "CarlaUE4").Run()
	return err == nil
}

// Clean terminates matching processes (SIGTERM, grace, SIGKILL), frees the
// configured ports, and waits for the environment to settle. In dry-run mode
// it only logs what it would do.
func (c *Cleaner) Clean(ctx context.Context) error {
	if c.cfg.DryRun {
		procs, err := c.Stray(ctx)
		if err != nil {
			return err
		}
		for _, p := range procs {
			c.logger.Info("would kill stray process",
				zap.Int("pid", p.PID), zap.String("command", p.Command))
		}
		c.logger.Info("dry run, skipping port cleanup", zap.Ints("ports", c.cfg.Ports))
		return nil
	}

	c.logger.Info("cleaning simulator environment")

	for _, pattern := range c.cfg.Patterns {
		c.pkill(ctx, "-TERM", pattern)
	}
	if err := sleepCtx(ctx, c.cfg.TermGrace); err != nil {
		return err
	}
	for _, pattern := range c.cfg.Patterns {
		c.pkill(ctx, "-KILL", pattern)
	}

	for _, port := range c.cfg.Ports {
		cmd := exec.CommandContext(ctx, "fuser", "-k", fmt.Sprintf("%d/tcp", port))
		if err := cmd.Run(); err != nil {
			// fuser exits nonzero when the port was already free.
			c.logger.Debug("port already free", zap.Int("port", port))
		} else {
			c.logger.Debug("freed port", zap.Int("port", port))
		}
	}

	if err := sleepCtx(ctx, c.cfg.SettleDelay); err != nil {
		return err
	}
	c.logger.Info("simulator environment cleanup completed")
	return nil
}

func (c *Cleaner) pkill(ctx context.Context, signal, pattern string) {
	cmd := exec.CommandContext(ctx, "pkill", signal, "-f", pattern)
	if err := cmd.Run(); err != nil {
		if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
			return
		}
		c.logger.Debug("pkill failed",
			zap.String("pattern", pattern), zap.String("signal", signal), zap.Error(err))
		return
	}
	c.logger.Debug("signaled processes",
		zap.String("pattern", pattern), zap.String("signal", signal))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
