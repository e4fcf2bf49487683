// Package manifest provides loading and validation of experiment job
// manifests.
//
// A job manifest is a YAML or JSON file that declares one experiment: the
// route under test, the search method and its budget, and whether to start
// the run immediately. Manifests are validated against a JSON Schema before
// use; the schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	experiment:
//	  name: Nightly PSO sweep
//	  route_id: "0"
//	  route_file: routes_carlo
//	  search_method: pso
//	  num_iterations: 20
//	  pso:
//	    pop_size: 20
//	run:
//	  start: true
package manifest

import "github.com/scenfuzz/scenfuzz/pkg/experiment"

// Manifest is a validated experiment job manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Experiment declares the experiment to create.
	Experiment ExperimentSpec `json:"experiment" yaml:"experiment"`

	// Run controls what happens after creation (optional).
	Run RunSpec `json:"run,omitempty" yaml:"run,omitempty"`
}

// ExperimentSpec mirrors the experiment configuration accepted by the API.
// Omitted optional fields take the engine defaults.
type ExperimentSpec struct {
	Name      string `json:"name" yaml:"name"`
	RouteID   string `json:"route_id" yaml:"route_id"`
	RouteName string `json:"route_name,omitempty" yaml:"route_name,omitempty"`
	RouteFile string `json:"route_file,omitempty" yaml:"route_file,omitempty"`

	SearchMethod   string `json:"search_method,omitempty" yaml:"search_method,omitempty"`
	NumIterations  int    `json:"num_iterations,omitempty" yaml:"num_iterations,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Headless       *bool  `json:"headless,omitempty" yaml:"headless,omitempty"`
	RandomSeed     *int   `json:"random_seed,omitempty" yaml:"random_seed,omitempty"`
	RewardFunction string `json:"reward_function,omitempty" yaml:"reward_function,omitempty"`
	Agent          string `json:"agent,omitempty" yaml:"agent,omitempty"`

	PSO *PSOSpec `json:"pso,omitempty" yaml:"pso,omitempty"`
	GA  *GASpec  `json:"ga,omitempty" yaml:"ga,omitempty"`
}

// PSOSpec tunes particle swarm optimization.
type PSOSpec struct {
	PopSize int     `json:"pop_size,omitempty" yaml:"pop_size,omitempty"`
	W       float64 `json:"w,omitempty" yaml:"w,omitempty"`
	C1      float64 `json:"c1,omitempty" yaml:"c1,omitempty"`
	C2      float64 `json:"c2,omitempty" yaml:"c2,omitempty"`
}

// GASpec tunes the genetic algorithm.
type GASpec struct {
	PopSize int     `json:"pop_size,omitempty" yaml:"pop_size,omitempty"`
	ProbMut float64 `json:"prob_mut,omitempty" yaml:"prob_mut,omitempty"`
}

// RunSpec controls post-creation behavior.
type RunSpec struct {
	// Start launches the experiment immediately after creation.
	Start bool `json:"start,omitempty" yaml:"start,omitempty"`
}

// ApplyDefaults fills optional manifest fields. Engine defaults for the
// experiment itself (iterations, timeout, seed) are applied by the
// experiment config during creation.
func (m *Manifest) ApplyDefaults() {
	if m.Version == "" {
		m.Version = "1.0"
	}
}

// Config converts the manifest into an experiment configuration.
func (m *Manifest) Config() experiment.Config {
	spec := m.Experiment
	cfg := experiment.Config{
		Name:           spec.Name,
		RouteID:        spec.RouteID,
		RouteName:      spec.RouteName,
		RouteFile:      spec.RouteFile,
		Method:         experiment.SearchMethod(spec.SearchMethod),
		Iterations:     spec.NumIterations,
		TimeoutSeconds: spec.TimeoutSeconds,
		Headless:       spec.Headless,
		RandomSeed:     spec.RandomSeed,
		RewardFunction: spec.RewardFunction,
		Agent:          experiment.Agent(spec.Agent),
	}
	if spec.PSO != nil {
		cfg.PSOPopSize = spec.PSO.PopSize
		cfg.PSOW = spec.PSO.W
		cfg.PSOC1 = spec.PSO.C1
		cfg.PSOC2 = spec.PSO.C2
	}
	if spec.GA != nil {
		cfg.GAPopSize = spec.GA.PopSize
		cfg.GAProbMut = spec.GA.ProbMut
	}
	return cfg
}
