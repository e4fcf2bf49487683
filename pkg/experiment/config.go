package experiment

// Defaults and accepted ranges for experiment configuration. The ranges match
// what the simulation runner itself will accept; rejecting early keeps bad
// values from ever reaching a subprocess.
const (
	DefaultIterations = 10
	MinIterations     = 1
	MaxIterations     = 1000

	DefaultTimeoutSeconds = 300
	MinTimeoutSeconds     = 30
	MaxTimeoutSeconds     = 3600

	DefaultPSOPopSize = 20
	MinPSOPopSize     = 5
	MaxPSOPopSize     = 100

	DefaultPSOW  = 0.8
	DefaultPSOC1 = 0.5
	DefaultPSOC2 = 0.5
	MinPSOCoeff  = 0.1
	MaxPSOCoeff  = 2.0

	DefaultGAPopSize = 50
	MinGAPopSize     = 10
	MaxGAPopSize     = 200

	DefaultGAProbMut = 0.1
	MinGAProbMut     = 0.01
	MaxGAProbMut     = 0.5

	DefaultRandomSeed     = 42
	DefaultRewardFunction = "ttc"
	DefaultRouteFile      = "routes_carlo"
)

// RewardFunctions lists the reward shaping functions the runner understands.
var RewardFunctions = []string{
	"collision",
	"distance",
	"safety_margin",
	"ttc",
	"ttc_div_dist",
	"weighted_multi",
}

func validRewardFunction(name string) bool {
	for _, rf := range RewardFunctions {
		if rf == name {
			return true
		}
	}
	return false
}

// Config is a submitted experiment configuration. Pointer fields distinguish
// "absent, use default" from an explicit zero value.
type Config struct {
	Name      string       `json:"name" mapstructure:"name"`
	RouteID   string       `json:"route_id" mapstructure:"route_id"`
	RouteName string       `json:"route_name,omitempty" mapstructure:"route_name"`
	RouteFile string       `json:"route_file,omitempty" mapstructure:"route_file"`
	Method    SearchMethod `json:"search_method" mapstructure:"search_method"`

	Iterations     int    `json:"num_iterations,omitempty" mapstructure:"num_iterations"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" mapstructure:"timeout_seconds"`
	Headless       *bool  `json:"headless,omitempty" mapstructure:"headless"`
	RandomSeed     *int   `json:"random_seed,omitempty" mapstructure:"random_seed"`
	RewardFunction string `json:"reward_function,omitempty" mapstructure:"reward_function"`
	Agent          Agent  `json:"agent,omitempty" mapstructure:"agent"`

	PSOPopSize int     `json:"pso_pop_size,omitempty" mapstructure:"pso_pop_size"`
	PSOW       float64 `json:"pso_w,omitempty" mapstructure:"pso_w"`
	PSOC1      float64 `json:"pso_c1,omitempty" mapstructure:"pso_c1"`
	PSOC2      float64 `json:"pso_c2,omitempty" mapstructure:"pso_c2"`
	GAPopSize  int     `json:"ga_pop_size,omitempty" mapstructure:"ga_pop_size"`
	GAProbMut  float64 `json:"ga_prob_mut,omitempty" mapstructure:"ga_prob_mut"`
}

// Normalize fills unset fields with defaults. Call before Validate.
func (c *Config) Normalize() {
	if c.Method == "" {
		c.Method = MethodRandom
	}
	if c.RouteFile == "" {
		c.RouteFile = DefaultRouteFile
	}
	if c.Iterations == 0 {
		c.Iterations = DefaultIterations
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Headless == nil {
		v := true
		c.Headless = &v
	}
	if c.RandomSeed == nil {
		v := DefaultRandomSeed
		c.RandomSeed = &v
	}
	if c.RewardFunction == "" {
		c.RewardFunction = DefaultRewardFunction
	}
	if c.Agent == "" {
		c.Agent = AgentBA
	}
	if c.Method == MethodPSO {
		if c.PSOPopSize == 0 {
			c.PSOPopSize = DefaultPSOPopSize
		}
		if c.PSOW == 0 {
			c.PSOW = DefaultPSOW
		}
		if c.PSOC1 == 0 {
			c.PSOC1 = DefaultPSOC1
		}
		if c.PSOC2 == 0 {
			c.PSOC2 = DefaultPSOC2
		}
	}
	if c.Method == MethodGA {
		if c.GAPopSize == 0 {
			c.GAPopSize = DefaultGAPopSize
		}
		if c.GAProbMut == 0 {
			c.GAProbMut = DefaultGAProbMut
		}
	}
}

// Validate checks the normalized configuration against the accepted ranges.
// The first violation is returned as a *ValidationError.
func (c *Config) Validate() error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	if c.RouteID == "" {
		return validationErrorf("route_id", "is required")
	}
	if !c.Method.Valid() {
		return validationErrorf("search_method", "must be one of random, pso, ga")
	}
	if c.Iterations < MinIterations || c.Iterations > MaxIterations {
		return validationErrorf("num_iterations", "must be between %d and %d", MinIterations, MaxIterations)
	}
	if c.TimeoutSeconds < MinTimeoutSeconds || c.TimeoutSeconds > MaxTimeoutSeconds {
		return validationErrorf("timeout_seconds", "must be between %d and %d", MinTimeoutSeconds, MaxTimeoutSeconds)
	}
	if !validRewardFunction(c.RewardFunction) {
		return validationErrorf("reward_function", "unknown reward function %q", c.RewardFunction)
	}
	if !c.Agent.Valid() {
		return validationErrorf("agent", "must be one of ba, apollo")
	}

	switch c.Method {
	case MethodPSO:
		if c.PSOPopSize < MinPSOPopSize || c.PSOPopSize > MaxPSOPopSize {
			return validationErrorf("pso_pop_size", "must be between %d and %d", MinPSOPopSize, MaxPSOPopSize)
		}
		if c.PSOW < MinPSOCoeff || c.PSOW > MaxPSOCoeff {
			return validationErrorf("pso_w", "must be between %g and %g", MinPSOCoeff, MaxPSOCoeff)
		}
		if c.PSOC1 < MinPSOCoeff || c.PSOC1 > MaxPSOCoeff {
			return validationErrorf("pso_c1", "must be between %g and %g", MinPSOCoeff, MaxPSOCoeff)
		}
		if c.PSOC2 < MinPSOCoeff || c.PSOC2 > MaxPSOCoeff {
			return validationErrorf("pso_c2", "must be between %g and %g", MinPSOCoeff, MaxPSOCoeff)
		}
	case MethodGA:
		if c.GAPopSize < MinGAPopSize || c.GAPopSize > MaxGAPopSize {
			return validationErrorf("ga_pop_size", "must be between %d and %d", MinGAPopSize, MaxGAPopSize)
		}
		if c.GAProbMut < MinGAProbMut || c.GAProbMut > MaxGAProbMut {
			return validationErrorf("ga_prob_mut", "must be between %g and %g", MinGAProbMut, MaxGAProbMut)
		}
	}
	return nil
}

// PopulationSize returns the scenario executions per iteration implied by the
// configuration (1 for random search).
func (c *Config) PopulationSize() int {
	switch c.Method {
	case MethodPSO:
		return c.PSOPopSize
	case MethodGA:
		return c.GAPopSize
	default:
		return 1
	}
}

// TotalScenarios returns the planned scenario count for the whole run. For
// population-based methods it is iterations times population size; for random
// search one scenario per iteration. Fixed at creation time.
func (c *Config) TotalScenarios() int {
	if c.Method.PopulationBased() {
		return c.Iterations * c.PopulationSize()
	}
	return c.Iterations
}
