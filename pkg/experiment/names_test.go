package experiment

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	t.Run("accepts reasonable names", func(t *testing.T) {
		for _, name := range []string{
			"ab",
			"Swift Falcon",
			"PSO sweep 2024-06",
			"  padded  ",
			strings.Repeat("x", 100),
		} {
			assert.NoError(t, ValidateName(name), "name %q", name)
		}
	})

	t.Run("rejects bad lengths", func(t *testing.T) {
		for _, name := range []string{"", "x", "   ", strings.Repeat("x", 101)} {
			err := ValidateName(name)
			require.Error(t, err, "name %q", name)
			assert.Contains(t, err.Error(), "characters")
		}
	})

	t.Run("rejects forbidden characters", func(t *testing.T) {
		for _, ch := range []string{"<", ">", ":", `"`, "/", `\`, "|", "?", "*"} {
			err := ValidateName("run" + ch + "1")
			require.Error(t, err, "character %q", ch)
			assert.Contains(t, err.Error(), "invalid character")
		}
	})

	t.Run("length counts runes not bytes", func(t *testing.T) {
		assert.NoError(t, ValidateName("日本"))
	})
}

func TestGenerateName(t *testing.T) {
	t.Run("generates adjective animal pairs", func(t *testing.T) {
		name := GenerateName(func(string) bool { return false })
		parts := strings.SplitN(name, " ", 2)
		require.Len(t, parts, 2)
		assert.Contains(t, nameAdjectives, parts[0])
		assert.Contains(t, nameAnimals, parts[1])
	})

	t.Run("avoids taken names", func(t *testing.T) {
		taken := map[string]bool{}
		for i := 0; i < 200; i++ {
			name := GenerateName(func(n string) bool { return taken[n] })
			assert.False(t, taken[name], "generated a taken name %q", name)
			taken[name] = true
		}
	})

	t.Run("suffix fallback terminates when pairs exhausted", func(t *testing.T) {
		// Everything without a numeric suffix is taken, plus the first
		// few suffixed variants.
		name := GenerateName(func(n string) bool {
			if !strings.Contains(n, "#") {
				return true
			}
			return strings.HasSuffix(n, "#2") || strings.HasSuffix(n, "#3")
		})
		require.Contains(t, name, "#")
		var base string
		var num int
		_, err := fmt.Sscanf(name, "%s", &base)
		require.NoError(t, err)
		_, err = fmt.Sscanf(name[strings.Index(name, "#"):], "#%d", &num)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, num, 4)
	})

	t.Run("name passes validation", func(t *testing.T) {
		name := GenerateName(func(string) bool { return false })
		assert.NoError(t, ValidateName(name))
	})
}
