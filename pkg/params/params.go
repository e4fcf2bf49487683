// Package params manages the fuzzable parameter ranges the scenario search
// explores. Ranges live in a YAML file with global defaults plus optional
// per-scenario-type overrides; a missing file is seeded with the stock
// ranges.
package params

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Range bounds one fuzzable parameter.
type Range struct {
	Min         float64  `yaml:"min" json:"min"`
	Max         float64  `yaml:"max" json:"max"`
	Default     *float64 `yaml:"default,omitempty" json:"default,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Unit        string   `yaml:"unit,omitempty" json:"unit,omitempty"`
}

func (r Range) validate(name string) error {
	if r.Min >= r.Max {
		return fmt.Errorf("parameter %s: min must be below max", name)
	}
	if r.Default != nil && (*r.Default < r.Min || *r.Default > r.Max) {
		return fmt.Errorf("parameter %s: default outside [min, max]", name)
	}
	return nil
}

// Ranges is the full parameter range configuration.
type Ranges struct {
	Default           map[string]Range            `yaml:"default" json:"default"`
	ScenarioOverrides map[string]map[string]Range `yaml:"scenario_overrides,omitempty" json:"scenario_overrides,omitempty"`
}

// Validate checks every range in the configuration.
func (r Ranges) Validate() error {
	for name, rng := range r.Default {
		if err := rng.validate(name); err != nil {
			return err
		}
	}
	for scenario, ranges := range r.ScenarioOverrides {
		for name, rng := range ranges {
			if err := rng.validate(scenario + "." + name); err != nil {
				return err
			}
		}
	}
	return nil
}

func f(v float64) *float64 { return &v }

// DefaultRanges returns the stock parameter ranges.
func DefaultRanges() Ranges {
	return Ranges{
		Default: map[string]Range{
			"absolute_v": {Min: 0, Max: 30, Default: f(10), Description: "Absolute velocity in m/s", Unit: "m/s"},
			"relative_p": {Min: -100, Max: 100, Default: f(0), Description: "Relative position in meters", Unit: "m"},
			"relative_v": {Min: -20, Max: 20, Default: f(0), Description: "Relative velocity in m/s", Unit: "m/s"},
			"r_ego":      {Min: 0, Max: 200, Default: f(50), Description: "Ego vehicle range parameter", Unit: "m"},
			"v_ego":      {Min: 0, Max: 30, Default: f(15), Description: "Ego vehicle velocity", Unit: "m/s"},
		},
		ScenarioOverrides: map[string]map[string]Range{
			"CutIn": {
				"absolute_v": {Min: 5, Max: 25, Default: f(15), Description: "Cut-in velocity for CutIn scenario", Unit: "m/s"},
			},
			"FollowLeadingVehicle": {
				"relative_p": {Min: 10, Max: 50, Default: f(30), Description: "Following distance", Unit: "m"},
			},
		},
	}
}

// Update merges new ranges into the configuration. An empty ScenarioType
// targets the global defaults.
type Update struct {
	Ranges       map[string]Range `json:"ranges"`
	ScenarioType string           `json:"scenario_type,omitempty"`
}

// Validate checks the update payload without touching the store.
func (u Update) Validate() error {
	if len(u.Ranges) == 0 {
		return errors.New("no ranges in update")
	}
	for name, rng := range u.Ranges {
		if err := rng.validate(name); err != nil {
			return err
		}
	}
	return nil
}

// Manager loads and persists the ranges file.
type Manager struct {
	path string
	mu   sync.Mutex
}

// NewManager manages the ranges file at path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Load reads the ranges file, seeding it with defaults when missing.
func (m *Manager) Load() (Ranges, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked()
}

func (m *Manager) loadLocked() (Ranges, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		ranges := DefaultRanges()
		if err := m.saveLocked(ranges); err != nil {
			return Ranges{}, err
		}
		return ranges, nil
	}
	if err != nil {
		return Ranges{}, fmt.Errorf("read parameter ranges: %w", err)
	}

	var ranges Ranges
	if err := yaml.Unmarshal(data, &ranges); err != nil {
		return Ranges{}, fmt.Errorf("parse parameter ranges: %w", err)
	}
	if ranges.Default == nil {
		ranges.Default = make(map[string]Range)
	}
	return ranges, nil
}

// Apply validates and merges an update, persists the result, and returns
// it.
func (m *Manager) Apply(upd Update) (Ranges, error) {
	if err := upd.Validate(); err != nil {
		return Ranges{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ranges, err := m.loadLocked()
	if err != nil {
		return Ranges{}, err
	}

	if upd.ScenarioType == "" {
		for name, rng := range upd.Ranges {
			ranges.Default[name] = rng
		}
	} else {
		if ranges.ScenarioOverrides == nil {
			ranges.ScenarioOverrides = make(map[string]map[string]Range)
		}
		if ranges.ScenarioOverrides[upd.ScenarioType] == nil {
			ranges.ScenarioOverrides[upd.ScenarioType] = make(map[string]Range)
		}
		for name, rng := range upd.Ranges {
			ranges.ScenarioOverrides[upd.ScenarioType][name] = rng
		}
	}

	if err := m.saveLocked(ranges); err != nil {
		return Ranges{}, err
	}
	return ranges, nil
}

// saveLocked writes the ranges file atomically (temp file, then rename).
func (m *Manager) saveLocked(ranges Ranges) error {
	data, err := yaml.Marshal(ranges)
	if err != nil {
		return fmt.Errorf("marshal parameter ranges: %w", err)
	}
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ranges-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp ranges file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp ranges file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp ranges file: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace ranges file: %w", err)
	}
	return nil
}
