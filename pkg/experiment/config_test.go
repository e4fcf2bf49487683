package experiment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() Config {
	return Config{Name: "Test Run", RouteID: "0"}
}

func TestConfigNormalize(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Normalize()

		assert.Equal(t, MethodRandom, cfg.Method)
		assert.Equal(t, DefaultRouteFile, cfg.RouteFile)
		assert.Equal(t, DefaultIterations, cfg.Iterations)
		assert.Equal(t, DefaultTimeoutSeconds, cfg.TimeoutSeconds)
		require.NotNil(t, cfg.Headless)
		assert.True(t, *cfg.Headless)
		require.NotNil(t, cfg.RandomSeed)
		assert.Equal(t, DefaultRandomSeed, *cfg.RandomSeed)
		assert.Equal(t, DefaultRewardFunction, cfg.RewardFunction)
		assert.Equal(t, AgentBA, cfg.Agent)

		// Method-specific tuning stays zero for random search.
		assert.Zero(t, cfg.PSOPopSize)
		assert.Zero(t, cfg.GAPopSize)
	})

	t.Run("fills pso tuning", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Method = MethodPSO
		cfg.Normalize()

		assert.Equal(t, DefaultPSOPopSize, cfg.PSOPopSize)
		assert.Equal(t, DefaultPSOW, cfg.PSOW)
		assert.Equal(t, DefaultPSOC1, cfg.PSOC1)
		assert.Equal(t, DefaultPSOC2, cfg.PSOC2)
	})

	t.Run("fills ga tuning", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Method = MethodGA
		cfg.Normalize()

		assert.Equal(t, DefaultGAPopSize, cfg.GAPopSize)
		assert.Equal(t, DefaultGAProbMut, cfg.GAProbMut)
	})

	t.Run("preserves explicit values", func(t *testing.T) {
		headless := false
		seed := 7
		cfg := Config{
			Name:           "Explicit",
			RouteID:        "1",
			Method:         MethodPSO,
			Iterations:     50,
			TimeoutSeconds: 60,
			Headless:       &headless,
			RandomSeed:     &seed,
			RewardFunction: "distance",
			Agent:          AgentApollo,
			PSOPopSize:     10,
		}
		cfg.Normalize()

		assert.Equal(t, 50, cfg.Iterations)
		assert.False(t, *cfg.Headless)
		assert.Equal(t, 7, *cfg.RandomSeed)
		assert.Equal(t, "distance", cfg.RewardFunction)
		assert.Equal(t, AgentApollo, cfg.Agent)
		assert.Equal(t, 10, cfg.PSOPopSize)
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		cfg := baseConfig()
		cfg.Normalize()
		return cfg
	}

	t.Run("normalized config is valid", func(t *testing.T) {
		cfg := valid()
		require.NoError(t, cfg.Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"short name", func(c *Config) { c.Name = "x" }, "name"},
		{"name with slash", func(c *Config) { c.Name = "run/1" }, "name"},
		{"missing route", func(c *Config) { c.RouteID = "" }, "route_id"},
		{"bad method", func(c *Config) { c.Method = "annealing" }, "search_method"},
		{"iterations low", func(c *Config) { c.Iterations = 0 }, "num_iterations"},
		{"iterations high", func(c *Config) { c.Iterations = 1001 }, "num_iterations"},
		{"timeout low", func(c *Config) { c.TimeoutSeconds = 10 }, "timeout_seconds"},
		{"timeout high", func(c *Config) { c.TimeoutSeconds = 4000 }, "timeout_seconds"},
		{"bad reward", func(c *Config) { c.RewardFunction = "speed" }, "reward_function"},
		{"bad agent", func(c *Config) { c.Agent = "tesla" }, "agent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	t.Run("pso bounds", func(t *testing.T) {
		for _, tc := range []struct {
			field  string
			mutate func(*Config)
		}{
			{"pso_pop_size", func(c *Config) { c.PSOPopSize = 2 }},
			{"pso_pop_size", func(c *Config) { c.PSOPopSize = 500 }},
			{"pso_w", func(c *Config) { c.PSOW = 3.0 }},
			{"pso_c1", func(c *Config) { c.PSOC1 = 0.01 }},
			{"pso_c2", func(c *Config) { c.PSOC2 = 2.5 }},
		} {
			cfg := baseConfig()
			cfg.Method = MethodPSO
			cfg.Normalize()
			tc.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
		}
	})

	t.Run("ga bounds", func(t *testing.T) {
		for _, tc := range []struct {
			field  string
			mutate func(*Config)
		}{
			{"ga_pop_size", func(c *Config) { c.GAPopSize = 5 }},
			{"ga_pop_size", func(c *Config) { c.GAPopSize = 300 }},
			{"ga_prob_mut", func(c *Config) { c.GAProbMut = 0.001 }},
			{"ga_prob_mut", func(c *Config) { c.GAProbMut = 0.9 }},
		} {
			cfg := baseConfig()
			cfg.Method = MethodGA
			cfg.Normalize()
			tc.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
		}
	})

	t.Run("pso bounds ignored for random", func(t *testing.T) {
		cfg := valid()
		cfg.PSOPopSize = 2
		require.NoError(t, cfg.Validate())
	})
}

func TestTotalScenarios(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{
			name: "random is one per iteration",
			cfg:  Config{Method: MethodRandom, Iterations: 10},
			want: 10,
		},
		{
			name: "pso multiplies by swarm size",
			cfg:  Config{Method: MethodPSO, Iterations: 10, PSOPopSize: 20},
			want: 200,
		},
		{
			name: "ga multiplies by population",
			cfg:  Config{Method: MethodGA, Iterations: 5, GAPopSize: 50},
			want: 250,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.TotalScenarios())
		})
	}
}

func TestIsValidation(t *testing.T) {
	err := validationErrorf("name", "too short")
	assert.True(t, IsValidation(err))
	assert.False(t, IsValidation(ErrNotFound))
	assert.False(t, IsValidation(nil))
}
