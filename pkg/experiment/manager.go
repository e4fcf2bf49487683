package experiment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scenfuzz/scenfuzz/pkg/logstream"
)

// RecordStore is the durable persistence layer consumed by the manager and
// supervisor. Implemented by pkg/expstore; faked in tests. Persistence
// failures are never fatal to a run: callers log and carry on with the
// in-memory state.
type RecordStore interface {
	Create(ctx context.Context, rec *Record) error
	List(ctx context.Context, limit int) ([]*Record, error)
	UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error
	UpdateProgress(ctx context.Context, id string, fl ProgressFlush) error
	UpdateOutputDir(ctx context.Context, id, path string) error
	UpdatePID(ctx context.Context, id string, pid int) error
	Rename(ctx context.Context, id, name string) error
	UpdateNotes(ctx context.Context, id, notes string) error
	Delete(ctx context.Context, id string) (bool, error)
}

// ManagerConfig carries the manager's collaborators and tunables.
type ManagerConfig struct {
	Durable       RecordStore
	Hub           *logstream.Hub
	Cleaner       EnvCleaner
	Runner        RunnerOptions
	OutputBaseDir string
	RecoveryLimit int
	Logger        *zap.Logger
}

// task tracks one live supervisor goroutine.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the experiment lifecycle: creation, launch, stop, deletion,
// and restart recovery. It is the single writer of lifecycle transitions;
// progress mutations are delegated to the per-run parser.
type Manager struct {
	store      *StateStore
	durable    RecordStore
	hub        *logstream.Hub
	sup        *Supervisor
	outputBase string
	logger     *zap.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

// NewManager builds a manager and recovers recent experiments from the
// durable store. Recovered records keep their persisted status; no
// supervisor tasks are recreated, so a row still marked running from a
// previous process heals to failed on first read.
func NewManager(ctx context.Context, cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	outputBase := cfg.OutputBaseDir
	if outputBase == "" {
		outputBase = "output"
	}
	m := &Manager{
		store:      NewStateStore(),
		durable:    cfg.Durable,
		hub:        cfg.Hub,
		outputBase: outputBase,
		logger:     logger,
		tasks:      make(map[string]*task),
	}
	m.sup = NewSupervisor(SupervisorConfig{
		Store:   m.store,
		Durable: cfg.Durable,
		Hub:     cfg.Hub,
		Cleaner: cfg.Cleaner,
		Runner:  cfg.Runner,
		Logger:  logger,
	})
	m.recover(ctx, cfg.RecoveryLimit)
	return m
}

func (m *Manager) recover(ctx context.Context, limit int) {
	if m.durable == nil {
		return
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := m.durable.List(ctx, limit)
	if err != nil {
		m.logger.Warn("experiment recovery failed", zap.Error(err))
		return
	}
	for _, rec := range rows {
		m.store.Register(rec.Clone())
	}
	if len(rows) > 0 {
		m.logger.Info("recovered experiments from store", zap.Int("count", len(rows)))
	}
}

// Create validates and registers a new experiment in the created state. A
// name already in use is replaced with a generated one rather than rejected.
func (m *Manager) Create(ctx context.Context, cfg Config) (Snapshot, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Snapshot{}, err
	}

	name := cfg.Name
	if m.store.NameTaken(name) {
		name = GenerateName(m.store.NameTaken)
		m.logger.Info("experiment name already in use, generated a new one",
			zap.String("requested", cfg.Name), zap.String("name", name))
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	rec := &Record{
		ID:              id,
		Name:            name,
		RouteID:         cfg.RouteID,
		RouteName:       cfg.RouteName,
		RouteFile:       cfg.RouteFile,
		Method:          cfg.Method,
		Iterations:      cfg.Iterations,
		TimeoutSeconds:  cfg.TimeoutSeconds,
		Headless:        *cfg.Headless,
		RandomSeed:      *cfg.RandomSeed,
		RewardFunction:  cfg.RewardFunction,
		Agent:           cfg.Agent,
		PSOPopSize:      cfg.PSOPopSize,
		PSOW:            cfg.PSOW,
		PSOC1:           cfg.PSOC1,
		PSOC2:           cfg.PSOC2,
		GAPopSize:       cfg.GAPopSize,
		GAProbMut:       cfg.GAProbMut,
		Status:          StatusCreated,
		CreatedAt:       now,
		TotalIterations: cfg.Iterations,
		TotalScenarios:  cfg.TotalScenarios(),
		OutputDirectory: m.allocatedDir(id),
	}

	if err := os.MkdirAll(rec.OutputDirectory, 0755); err != nil {
		return Snapshot{}, fmt.Errorf("create output directory: %w", err)
	}

	if m.durable != nil {
		if err := m.durable.Create(ctx, rec.Clone()); err != nil {
			m.logger.Warn("failed to persist new experiment",
				zap.String("experiment_id", id), zap.Error(err))
		}
	}

	m.store.Register(rec)
	m.logger.Info("experiment created",
		zap.String("experiment_id", id),
		zap.String("name", name),
		zap.String("method", string(rec.Method)),
		zap.Int("total_scenarios", rec.TotalScenarios))
	return m.store.Snapshot(id)
}

// allocatedDir is the output directory assigned at creation time. The
// runner may later report a different path, which corrects the record
// exactly once.
func (m *Manager) allocatedDir(id string) string {
	return filepath.Join(m.outputBase, "experiment_"+id)
}

// Start launches the supervisor for a created experiment. The status
// transition is the admission gate, so concurrent starts cannot race two
// subprocesses for one experiment.
func (m *Manager) Start(ctx context.Context, id string) error {
	if m.hasTask(id) {
		return ErrAlreadyRunning
	}
	err := m.store.WithLock(id, func(rec *Record, _ *Volatile) error {
		if rec.Status == StatusRunning {
			return ErrAlreadyRunning
		}
		return rec.TransitionTo(StatusRunning)
	})
	if err != nil {
		return err
	}
	m.persistStatus(ctx, id)

	runCtx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.tasks[id] = t
	m.mu.Unlock()

	go func() {
		defer close(t.done)
		defer m.deregister(id)
		err := m.sup.Run(runCtx, id)
		switch {
		case err == nil, errors.Is(err, context.Canceled), errors.Is(err, ErrRunTimeout):
		default:
			m.logger.Error("experiment supervision failed",
				zap.String("experiment_id", id), zap.Error(err))
		}
	}()

	m.logger.Info("experiment started", zap.String("experiment_id", id))
	return nil
}

// Stop cancels a running experiment and waits for its subprocess to die.
// The record is marked stopped before the cancel so concurrent reads never
// mistake the winding-down task for a crashed one.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		if !m.store.Has(id) {
			return ErrNotFound
		}
		return ErrNotRunning
	}

	_ = m.store.WithLock(id, func(rec *Record, _ *Volatile) error {
		if rec.Status == StatusRunning {
			return rec.TransitionTo(StatusStopped)
		}
		return nil
	})
	m.persistStatus(ctx, id)

	t.cancel()
	<-t.done
	m.deregister(id)
	m.logger.Info("experiment stopped", zap.String("experiment_id", id))
	return nil
}

// Get returns a snapshot of one experiment. A record stuck in running with
// no live task (the supervising process died) is healed to failed on read.
func (m *Manager) Get(ctx context.Context, id string) (Snapshot, error) {
	healed := false
	err := m.store.WithLock(id, func(rec *Record, _ *Volatile) error {
		if rec.Status == StatusRunning && !m.hasTask(id) {
			rec.Fail("experiment task died unexpectedly")
			healed = true
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	if healed {
		m.logger.Warn("healed zombie experiment", zap.String("experiment_id", id))
		m.persistStatus(ctx, id)
	}
	return m.store.Snapshot(id)
}

// ListOptions filter and paginate List.
type ListOptions struct {
	Limit  int
	Offset int
	Status Status
	Method SearchMethod
}

// List returns in-memory records newest first, plus the total count after
// filtering. Experiments older than the recovery window are not listed;
// they remain reachable by id in the durable store.
func (m *Manager) List(opts ListOptions) ([]*Record, int) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	all := m.store.List()
	filtered := all[:0]
	for _, rec := range all {
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		if opts.Method != "" && rec.Method != opts.Method {
			continue
		}
		filtered = append(filtered, rec)
	}
	sort.Slice(filtered, func(i, j int) bool {
		if !filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
		}
		return filtered[i].ID < filtered[j].ID
	})

	total := len(filtered)
	if opts.Offset >= total {
		return []*Record{}, total
	}
	end := opts.Offset + opts.Limit
	if end > total {
		end = total
	}
	return filtered[opts.Offset:end], total
}

// Duplicate creates a fresh experiment from an existing one's
// configuration, under a generated name.
func (m *Manager) Duplicate(ctx context.Context, id string) (Snapshot, error) {
	snap, err := m.store.Snapshot(id)
	if err != nil {
		return Snapshot{}, err
	}
	cfg := snap.Experiment.Config()
	cfg.Name = GenerateName(m.store.NameTaken)
	return m.Create(ctx, cfg)
}

// Delete removes an experiment entirely: a running one is stopped first,
// then the output directories, the durable row, and the in-memory entry go.
// Returns false when the id is unknown.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	snap, err := m.store.Snapshot(id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if m.hasTask(id) {
		if err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotRunning) {
			return false, fmt.Errorf("stop before delete: %w", err)
		}
	}

	for _, dir := range []string{m.allocatedDir(id), snap.Experiment.OutputDirectory} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Warn("failed to remove output directory",
				zap.String("experiment_id", id), zap.String("dir", dir), zap.Error(err))
		}
	}

	if m.durable != nil {
		if _, err := m.durable.Delete(ctx, id); err != nil {
			m.logger.Warn("failed to delete durable record",
				zap.String("experiment_id", id), zap.Error(err))
		}
	}

	m.store.Remove(id)
	if m.hub != nil {
		m.hub.CloseExperiment(id)
	}
	m.logger.Info("experiment deleted", zap.String("experiment_id", id))
	return true, nil
}

// UpdateRequest carries PATCH-style partial updates. Nil fields are left
// untouched.
type UpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Notes *string `json:"notes,omitempty"`
}

// Update renames or annotates an experiment. Unlike Create, a name
// collision here is an error: an explicit rename should never be silently
// rewritten.
func (m *Manager) Update(ctx context.Context, id string, req UpdateRequest) (Snapshot, error) {
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if err := ValidateName(name); err != nil {
			return Snapshot{}, err
		}
		var sameName bool
		err := m.store.WithLock(id, func(rec *Record, _ *Volatile) error {
			sameName = rec.Name == name
			return nil
		})
		if err != nil {
			return Snapshot{}, err
		}
		if !sameName && m.store.NameTaken(name) {
			return Snapshot{}, validationErrorf("name", "already in use")
		}
		_ = m.store.WithLock(id, func(rec *Record, _ *Volatile) error {
			rec.Name = name
			return nil
		})
		if m.durable != nil {
			if err := m.durable.Rename(ctx, id, name); err != nil {
				m.logger.Warn("failed to persist rename",
					zap.String("experiment_id", id), zap.Error(err))
			}
		}
	}

	if req.Notes != nil {
		notes := *req.Notes
		err := m.store.WithLock(id, func(rec *Record, _ *Volatile) error {
			rec.Notes = notes
			return nil
		})
		if err != nil {
			return Snapshot{}, err
		}
		if m.durable != nil {
			if err := m.durable.UpdateNotes(ctx, id, notes); err != nil {
				m.logger.Warn("failed to persist notes",
					zap.String("experiment_id", id), zap.Error(err))
			}
		}
	}

	return m.store.Snapshot(id)
}

// Stats summarizes the in-memory experiment population.
type Stats struct {
	Total              int            `json:"total"`
	ByStatus           map[Status]int `json:"by_status"`
	ByMethod           map[string]int `json:"by_method"`
	CollisionsFound    int            `json:"collisions_found"`
	Running            int            `json:"running"`
	AvgDurationSeconds float64        `json:"avg_duration_seconds"`
}

// Stats computes summary counts over all registered experiments.
func (m *Manager) Stats() Stats {
	st := Stats{
		ByStatus: make(map[Status]int),
		ByMethod: make(map[string]int),
	}
	var durTotal float64
	var durCount int
	for _, rec := range m.store.List() {
		st.Total++
		st.ByStatus[rec.Status]++
		st.ByMethod[string(rec.Method)]++
		if rec.CollisionFound {
			st.CollisionsFound++
		}
		if rec.Status == StatusRunning {
			st.Running++
		}
		if rec.Status.Terminal() && rec.StartedAt != nil && rec.CompletedAt != nil {
			durTotal += rec.CompletedAt.Sub(*rec.StartedAt).Seconds()
			durCount++
		}
	}
	if durCount > 0 {
		st.AvgDurationSeconds = durTotal / float64(durCount)
	}
	return st
}

// StatusCounts returns the number of experiments per status.
func (m *Manager) StatusCounts() map[Status]int {
	counts := make(map[Status]int)
	for _, rec := range m.store.List() {
		counts[rec.Status]++
	}
	return counts
}

// Count returns the number of registered experiments.
func (m *Manager) Count() int {
	return m.store.Len()
}

// Shutdown stops every live experiment task. Used for graceful server
// shutdown; ctx bounds the wait.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotRunning) && !errors.Is(err, ErrNotFound) {
			m.logger.Warn("failed to stop experiment during shutdown",
				zap.String("experiment_id", id), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) hasTask(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[id]
	return ok
}

func (m *Manager) deregister(id string) {
	m.mu.Lock()
	delete(m.tasks, id)
	m.mu.Unlock()
}

func (m *Manager) persistStatus(ctx context.Context, id string) {
	if m.durable == nil {
		return
	}
	var st Status
	var msg string
	if err := m.store.WithLock(id, func(rec *Record, _ *Volatile) error {
		st, msg = rec.Status, rec.ErrorMessage
		return nil
	}); err != nil {
		return
	}
	if err := m.durable.UpdateStatus(ctx, id, st, msg); err != nil {
		m.logger.Warn("failed to persist status",
			zap.String("experiment_id", id),
			zap.String("status", string(st)),
			zap.Error(err))
	}
}
