package experiment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/scenfuzz/scenfuzz/pkg/artifacts"
	"github.com/scenfuzz/scenfuzz/pkg/logstream"
)

// EnvCleaner clears stray simulator processes and busy ports before a run.
type EnvCleaner interface {
	Clean(ctx context.Context) error
}

// RunnerOptions configure how the simulation runner subprocess is launched
// and supervised.
type RunnerOptions struct {
	// PythonBin is the interpreter used to launch the runner.
	PythonBin string
	// ScriptPath is the runner entry script.
	ScriptPath string
	// WorkDir is the subprocess working directory. Empty means inherit.
	WorkDir string
	// HardTimeout is the wall-clock ceiling for one run.
	HardTimeout time.Duration
	// PollInterval is the supervision housekeeping tick.
	PollInterval time.Duration
	// InactivityWarn is how long the runner may stay silent before the
	// supervisor logs a warning.
	InactivityWarn time.Duration
	// KillGrace is the pause between SIGTERM and SIGKILL.
	KillGrace time.Duration
}

func (o RunnerOptions) withDefaults() RunnerOptions {
	if o.PythonBin == "" {
		o.PythonBin = "python3"
	}
	if o.ScriptPath == "" {
		o.ScriptPath = "sim_runner.py"
	}
	if o.HardTimeout <= 0 {
		o.HardTimeout = 2 * time.Hour
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.InactivityWarn <= 0 {
		o.InactivityWarn = 10 * time.Minute
	}
	if o.KillGrace <= 0 {
		o.KillGrace = 5 * time.Second
	}
	return o
}

// SupervisorConfig carries the collaborators a Supervisor needs. Durable,
// Hub, and Cleaner may be nil; the supervisor then runs purely in memory.
type SupervisorConfig struct {
	Store   *StateStore
	Durable RecordStore
	Hub     *logstream.Hub
	Cleaner EnvCleaner
	Runner  RunnerOptions
	Logger  *zap.Logger
}

// Supervisor launches the simulation runner for an experiment and owns the
// subprocess for its whole life: output streaming, progress parsing, timeout
// enforcement, kill-on-cancel, and the final completed/failed
// reconciliation.
//
// One Supervisor instance is shared across runs; all per-run state is local
// to Run.
type Supervisor struct {
	store   *StateStore
	durable RecordStore
	hub     *logstream.Hub
	cleaner EnvCleaner
	opts    RunnerOptions
	logger  *zap.Logger
}

// NewSupervisor returns a supervisor with defaults applied.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		store:   cfg.Store,
		durable: cfg.Durable,
		hub:     cfg.Hub,
		cleaner: cfg.Cleaner,
		opts:    cfg.Runner.withDefaults(),
		logger:  logger,
	}
}

// Run executes one experiment subprocess to completion. The record must
// already be in the running state. Returns ctx.Err() when canceled (the
// caller decides the final status), ErrRunTimeout when the hard ceiling
// killed the run, and nil for every natural exit, successful or not: a
// runner that failed on its own terms is a normal supervision outcome.
func (s *Supervisor) Run(ctx context.Context, id string) error {
	snap, err := s.store.Snapshot(id)
	if err != nil {
		return err
	}
	rec := snap.Experiment

	if s.hub != nil {
		defer s.hub.CloseExperiment(id)
	}

	if s.cleaner != nil {
		if err := s.cleaner.Clean(ctx); err != nil {
			s.logger.Warn("environment cleanup before launch failed",
				zap.String("experiment_id", id), zap.Error(err))
		}
	}

	if err := os.MkdirAll(rec.OutputDirectory, 0755); err != nil {
		s.failRun(id, fmt.Sprintf("create output directory: %v", err))
		return fmt.Errorf("create output directory: %w", err)
	}
	cfgPath, err := WriteRunConfig(rec.OutputDirectory, &rec)
	if err != nil {
		s.failRun(id, err.Error())
		return err
	}

	logFile, err := os.Create(filepath.Join(rec.OutputDirectory, artifacts.RunLogFile))
	if err != nil {
		s.logger.Warn("cannot create experiment log file",
			zap.String("experiment_id", id), zap.Error(err))
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Close()
		}
	}()

	args := append([]string{s.opts.ScriptPath}, BuildArgs(&rec)...)
	cmd := exec.Command(s.opts.PythonBin, args...)
	cmd.Dir = s.opts.WorkDir
	cmd.Env = BuildEnv(cfgPath, rec.OutputDirectory)
	// Own process group so a kill reaches the runner's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.failRun(id, fmt.Sprintf("stdout pipe: %v", err))
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.failRun(id, fmt.Sprintf("stderr pipe: %v", err))
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		s.failRun(id, fmt.Sprintf("start runner: %v", err))
		return fmt.Errorf("start runner: %w", err)
	}
	pid := cmd.Process.Pid
	start := time.Now()

	_ = s.store.WithLock(id, func(r *Record, _ *Volatile) error {
		r.PID = pid
		return nil
	})
	if s.durable != nil {
		if err := s.durable.UpdatePID(context.Background(), id, pid); err != nil {
			s.logger.Warn("failed to persist runner pid",
				zap.String("experiment_id", id), zap.Error(err))
		}
	}
	s.logger.Info("runner started",
		zap.String("experiment_id", id),
		zap.Int("pid", pid),
		zap.String("method", string(rec.Method)))

	parser := NewParser(s.store, id, s.flushProgress, s.persistOutputDir, s.logger)
	tee := &teeWriter{}
	if logFile != nil {
		tee.w = logFile
	}
	var lastActivity atomic.Int64
	lastActivity.Store(start.UnixNano())

	var readers sync.WaitGroup
	readers.Add(2)
	go s.readStream(ctx, &readers, stdout, id, parser, &lastActivity, tee)
	go s.readStream(ctx, &readers, stderr, id, parser, &lastActivity, tee)

	// Readers must drain before Wait closes the pipes.
	waitCh := make(chan error, 1)
	go func() {
		readers.Wait()
		waitCh <- cmd.Wait()
	}()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.opts.HardTimeout)
	defer deadline.Stop()

	for {
		select {
		case waitErr := <-waitCh:
			return s.reconcile(id, rec.OutputDirectory, waitErr, time.Since(start))

		case <-ticker.C:
			idle := time.Since(time.Unix(0, lastActivity.Load()))
			if idle >= s.opts.InactivityWarn {
				s.logger.Warn("runner has produced no output recently",
					zap.String("experiment_id", id),
					zap.Int("pid", pid),
					zap.Duration("idle", idle.Round(time.Second)))
			}

		case <-deadline.C:
			// The run may have finished just as the timer fired.
			select {
			case waitErr := <-waitCh:
				return s.reconcile(id, rec.OutputDirectory, waitErr, time.Since(start))
			default:
			}
			s.logger.Warn("killing runner after hard timeout",
				zap.String("experiment_id", id),
				zap.Int("pid", pid),
				zap.Duration("timeout", s.opts.HardTimeout))
			s.terminate(pid, waitCh)
			s.failRun(id, fmt.Sprintf("experiment exceeded maximum runtime of %s", s.opts.HardTimeout))
			return ErrRunTimeout

		case <-ctx.Done():
			s.terminate(pid, waitCh)
			return ctx.Err()
		}
	}
}

// terminate sends SIGTERM to the process group, waits out the grace period,
// then SIGKILLs and reaps.
func (s *Supervisor) terminate(pid int, waitCh <-chan error) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-waitCh:
		return
	case <-time.After(s.opts.KillGrace):
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	<-waitCh
}

// readStream consumes one output stream line by line, teeing to the
// experiment log, publishing classified entries to the hub, and feeding the
// progress parser.
func (s *Supervisor) readStream(ctx context.Context, wg *sync.WaitGroup, r io.Reader, id string, parser *Parser, lastActivity *atomic.Int64, tee *teeWriter) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		lastActivity.Store(time.Now().UnixNano())
		tee.writeLine(line)
		if s.hub != nil {
			s.hub.Publish(logstream.Entry{
				ExperimentID: id,
				Severity:     logstream.Classify(line),
				Line:         line,
				Time:         time.Now().UTC(),
			})
		}
		parser.Feed(ctx, line)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Debug("runner stream closed",
			zap.String("experiment_id", id), zap.Error(err))
	}
}

// reconcile decides the final status after a natural exit. A run succeeds
// when the process exited cleanly or when it left result artifacts behind in
// either the allocated or the self-reported output directory.
func (s *Supervisor) reconcile(id, allocatedDir string, waitErr error, elapsed time.Duration) error {
	var reportedDir string
	_ = s.store.WithLock(id, func(rec *Record, _ *Volatile) error {
		reportedDir = rec.OutputDirectory
		return nil
	})

	hasResult := artifacts.HasResult(allocatedDir)
	if !hasResult && reportedDir != "" && reportedDir != allocatedDir {
		hasResult = artifacts.HasResult(reportedDir)
	}
	success := waitErr == nil || hasResult

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	var fl ProgressFlush
	var finalStatus Status
	var finalMsg string
	_ = s.store.WithLock(id, func(rec *Record, vol *Volatile) error {
		secs := elapsed.Seconds()
		vol.ElapsedSeconds = &secs
		if success {
			if err := rec.TransitionTo(StatusCompleted); err != nil {
				// Already terminal (stopped raced the exit); keep it.
				finalStatus = rec.Status
				finalMsg = rec.ErrorMessage
				return nil
			}
		} else {
			rec.Fail(fmt.Sprintf("runner exited with code %d without producing results", exitCode))
		}
		finalStatus, finalMsg = rec.Status, rec.ErrorMessage
		fl = ProgressFlush{
			CurrentIteration:       rec.CurrentIteration,
			TotalIterations:        rec.TotalIterations,
			ScenariosExecuted:      rec.ScenariosExecuted,
			ScenariosThisIteration: rec.ScenariosThisIteration,
			CollisionFound:         rec.CollisionFound,
		}
		if rec.BestReward != nil {
			v := *rec.BestReward
			fl.BestReward = &v
		}
		return nil
	})

	if s.durable != nil {
		ctx := context.Background()
		if err := s.durable.UpdateProgress(ctx, id, fl); err != nil {
			s.logger.Warn("failed to persist final progress",
				zap.String("experiment_id", id), zap.Error(err))
		}
		if err := s.durable.UpdateStatus(ctx, id, finalStatus, finalMsg); err != nil {
			s.logger.Warn("failed to persist final status",
				zap.String("experiment_id", id), zap.Error(err))
		}
	}

	s.logger.Info("runner finished",
		zap.String("experiment_id", id),
		zap.String("status", string(finalStatus)),
		zap.Int("exit_code", exitCode),
		zap.Duration("elapsed", elapsed.Round(time.Second)))
	return nil
}

// failRun marks the experiment failed with the given message and persists
// the status best-effort.
func (s *Supervisor) failRun(id, message string) {
	var st Status
	var msg string
	if err := s.store.WithLock(id, func(rec *Record, _ *Volatile) error {
		rec.Fail(message)
		st, msg = rec.Status, rec.ErrorMessage
		return nil
	}); err != nil {
		return
	}
	if s.durable == nil {
		return
	}
	if err := s.durable.UpdateStatus(context.Background(), id, st, msg); err != nil {
		s.logger.Warn("failed to persist failure status",
			zap.String("experiment_id", id), zap.Error(err))
	}
}

func (s *Supervisor) flushProgress(ctx context.Context, id string, fl ProgressFlush) error {
	if s.durable == nil {
		return nil
	}
	return s.durable.UpdateProgress(ctx, id, fl)
}

func (s *Supervisor) persistOutputDir(ctx context.Context, id, path string) error {
	if s.durable == nil {
		return nil
	}
	return s.durable.UpdateOutputDir(ctx, id, path)
}

// teeWriter serializes line writes from the two stream readers into the
// experiment log file.
type teeWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (t *teeWriter) writeLine(line string) {
	if t.w == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.w, line+"\n")
}
