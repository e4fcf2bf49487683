// Package experiment implements the scenario-fuzzing experiment engine: the
// lifecycle manager, the in-memory state store, the subprocess supervisor for
// the simulation runner, and the progress-line parser that turns runner output
// into structured state.
//
// An experiment is one configured run of a search method (random, PSO, GA)
// exploring scenario parameters to find a collision-triggering configuration.
// The manager owns at most one live supervisor task per experiment; all
// mutations of a given experiment's state happen under its per-id lock.
package experiment

import (
	"fmt"
	"time"
)

// SearchMethod selects the optimization strategy used to choose scenario
// parameters across iterations.
type SearchMethod string

const (
	MethodRandom SearchMethod = "random"
	MethodPSO    SearchMethod = "pso"
	MethodGA     SearchMethod = "ga"
)

// Valid reports whether m is a known search method.
func (m SearchMethod) Valid() bool {
	switch m {
	case MethodRandom, MethodPSO, MethodGA:
		return true
	}
	return false
}

// PopulationBased reports whether one optimization iteration of m contains a
// population of scenario executions (PSO/GA) rather than a single one.
func (m SearchMethod) PopulationBased() bool {
	return m == MethodPSO || m == MethodGA
}

// Agent identifies the autonomous-driving agent under test.
type Agent string

const (
	AgentBA     Agent = "ba"
	AgentApollo Agent = "apollo"
)

// Valid reports whether a is a known agent.
func (a Agent) Valid() bool {
	return a == AgentBA || a == AgentApollo
}

// Status is the lifecycle state of an experiment.
//
// NOTE: These values are persisted and are part of the stable on-disk
// contract.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// Terminal reports whether s is a final state. There is no transition out of
// a terminal state except deleting the experiment.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// Record is the durable experiment record.
//
// It carries the submitted configuration flattened alongside lifecycle status
// and progress counters, mirroring the persisted row. Mutations that carry
// invariants (status transitions, best reward, collision flag, output
// directory correction) go through the accessor methods below rather than
// direct field writes.
type Record struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	RouteID   string       `json:"route_id"`
	RouteName string       `json:"route_name,omitempty"`
	RouteFile string       `json:"route_file"`
	Method    SearchMethod `json:"search_method"`

	Iterations     int    `json:"num_iterations"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Headless       bool   `json:"headless"`
	RandomSeed     int    `json:"random_seed"`
	RewardFunction string `json:"reward_function"`
	Agent          Agent  `json:"agent"`

	PSOPopSize int     `json:"pso_pop_size,omitempty"`
	PSOW       float64 `json:"pso_w,omitempty"`
	PSOC1      float64 `json:"pso_c1,omitempty"`
	PSOC2      float64 `json:"pso_c2,omitempty"`
	GAPopSize  int     `json:"ga_pop_size,omitempty"`
	GAProbMut  float64 `json:"ga_prob_mut,omitempty"`

	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CurrentIteration       int      `json:"current_iteration"`
	TotalIterations        int      `json:"total_iterations"`
	ScenariosExecuted      int      `json:"scenarios_executed"`
	ScenariosThisIteration int      `json:"scenarios_this_iteration"`
	TotalScenarios         int      `json:"total_scenarios"`
	BestReward             *float64 `json:"best_reward,omitempty"`
	CollisionFound         bool     `json:"collision_found"`

	OutputDirectory string `json:"output_directory"`
	ErrorMessage    string `json:"error_message,omitempty"`
	Notes           string `json:"notes,omitempty"`
	PID             int    `json:"pid,omitempty"`

	// outputDirResolved tracks the exactly-once correction of
	// OutputDirectory from subprocess output. Not persisted.
	outputDirResolved bool
}

// PopulationSize returns the number of scenario executions per optimization
// iteration for the record's method (1 for random search).
func (r *Record) PopulationSize() int {
	switch r.Method {
	case MethodPSO:
		return r.PSOPopSize
	case MethodGA:
		return r.GAPopSize
	default:
		return 1
	}
}

// TransitionTo moves the record to the given status, enforcing the legal
// lifecycle: created -> running -> {completed|failed|stopped}. StartedAt is
// set once on entering running, CompletedAt once on entering a terminal
// state.
func (r *Record) TransitionTo(status Status) error {
	switch {
	case status == StatusRunning && r.Status == StatusCreated:
	case status.Terminal() && r.Status == StatusRunning:
	default:
		return fmt.Errorf("invalid status transition: %s -> %s", r.Status, status)
	}

	now := time.Now().UTC()
	r.Status = status
	if status == StatusRunning && r.StartedAt == nil {
		r.StartedAt = &now
	}
	if status.Terminal() && r.CompletedAt == nil {
		r.CompletedAt = &now
	}
	return nil
}

// Fail transitions the record to failed with the given message. Unlike a
// plain TransitionTo it also tolerates the created state, so launch failures
// before the record ever entered running still land in a terminal state.
func (r *Record) Fail(message string) {
	if r.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	r.Status = StatusFailed
	r.ErrorMessage = message
	if r.CompletedAt == nil {
		r.CompletedAt = &now
	}
}

// ApplyReward offers a sanitized (finite) reward observation. The best reward
// only ever decreases: lower is better by convention. Returns true when the
// observation improved the best.
func (r *Record) ApplyReward(v float64) bool {
	if r.BestReward != nil && v >= *r.BestReward {
		return false
	}
	r.BestReward = &v
	return true
}

// MarkCollision latches the collision flag. It is monotonic: once set it is
// never cleared for the lifetime of the record.
func (r *Record) MarkCollision() {
	r.CollisionFound = true
}

// ResolveOutputDir corrects OutputDirectory to the path the subprocess
// reported. The correction is applied exactly once; later reports are
// ignored. Returns true when the correction was applied.
func (r *Record) ResolveOutputDir(path string) bool {
	if r.outputDirResolved || path == "" || path == r.OutputDirectory {
		return false
	}
	r.OutputDirectory = path
	r.outputDirResolved = true
	return true
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.BestReward != nil {
		v := *r.BestReward
		c.BestReward = &v
	}
	return &c
}

// Config extracts the submittable configuration from the record, used when
// duplicating an experiment.
func (r *Record) Config() Config {
	headless := r.Headless
	seed := r.RandomSeed
	return Config{
		Name:           r.Name,
		RouteID:        r.RouteID,
		RouteName:      r.RouteName,
		RouteFile:      r.RouteFile,
		Method:         r.Method,
		Iterations:     r.Iterations,
		TimeoutSeconds: r.TimeoutSeconds,
		Headless:       &headless,
		RandomSeed:     &seed,
		RewardFunction: r.RewardFunction,
		Agent:          r.Agent,
		PSOPopSize:     r.PSOPopSize,
		PSOW:           r.PSOW,
		PSOC1:          r.PSOC1,
		PSOC2:          r.PSOC2,
		GAPopSize:      r.GAPopSize,
		GAProbMut:      r.GAProbMut,
	}
}

// RewardPoint is one reward observation retained for charting.
type RewardPoint struct {
	Scenario  int       `json:"scenario"`
	Reward    float64   `json:"reward"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
}

// Bounds for the volatile reward retention windows.
const (
	recentRewardsMax = 10
	rewardHistoryMax = 1000
)

// Volatile holds per-experiment state that is never persisted. It is rebuilt
// empty after a process restart; only the durable summary counters survive.
type Volatile struct {
	ElapsedSeconds *float64
	RecentRewards  []float64
	RewardHistory  []RewardPoint
}

// RecordReward appends a reward observation to the bounded retention windows.
func (v *Volatile) RecordReward(scenario, iteration int, reward float64, at time.Time) {
	v.RecentRewards = append(v.RecentRewards, reward)
	if len(v.RecentRewards) > recentRewardsMax {
		v.RecentRewards = v.RecentRewards[len(v.RecentRewards)-recentRewardsMax:]
	}
	v.RewardHistory = append(v.RewardHistory, RewardPoint{
		Scenario:  scenario,
		Reward:    reward,
		Iteration: iteration,
		Timestamp: at,
	})
	if len(v.RewardHistory) > rewardHistoryMax {
		v.RewardHistory = v.RewardHistory[len(v.RewardHistory)-rewardHistoryMax:]
	}
}

// Progress is the live progress view combining durable counters with the
// volatile reward windows.
type Progress struct {
	CurrentIteration       int           `json:"current_iteration"`
	TotalIterations        int           `json:"total_iterations"`
	ScenariosExecuted      int           `json:"scenarios_executed"`
	ScenariosThisIteration int           `json:"scenarios_this_iteration"`
	TotalScenarios         int           `json:"total_scenarios"`
	BestReward             *float64      `json:"best_reward,omitempty"`
	CollisionFound         bool          `json:"collision_found"`
	ElapsedSeconds         *float64      `json:"elapsed_seconds,omitempty"`
	RecentRewards          []float64     `json:"recent_rewards,omitempty"`
	RewardHistory          []RewardPoint `json:"reward_history,omitempty"`
	Method                 SearchMethod  `json:"search_method"`
	PopulationSize         int           `json:"population_size"`
}

// Snapshot is a consistent point-in-time copy of one experiment's record and
// progress, safe to use outside the per-id lock.
type Snapshot struct {
	Experiment Record   `json:"experiment"`
	Progress   Progress `json:"progress"`
}

func buildProgress(rec *Record, vol *Volatile) Progress {
	p := Progress{
		CurrentIteration:       rec.CurrentIteration,
		TotalIterations:        rec.TotalIterations,
		ScenariosExecuted:      rec.ScenariosExecuted,
		ScenariosThisIteration: rec.ScenariosThisIteration,
		TotalScenarios:         rec.TotalScenarios,
		CollisionFound:         rec.CollisionFound,
		Method:                 rec.Method,
		PopulationSize:         rec.PopulationSize(),
	}
	if rec.BestReward != nil {
		v := *rec.BestReward
		p.BestReward = &v
	}
	if vol != nil {
		if vol.ElapsedSeconds != nil {
			e := *vol.ElapsedSeconds
			p.ElapsedSeconds = &e
		}
		p.RecentRewards = append([]float64(nil), vol.RecentRewards...)
		p.RewardHistory = append([]RewardPoint(nil), vol.RewardHistory...)
	}
	return p
}
