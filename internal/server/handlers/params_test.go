package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenfuzz/scenfuzz/pkg/params"
)

func TestGetParameterRanges(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(t, http.MethodGet, "/config/parameter-ranges", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ranges params.Ranges
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ranges))
	assert.Contains(t, ranges.Default, "absolute_v")
	assert.Contains(t, ranges.Default, "v_ego")
	assert.Contains(t, ranges.ScenarioOverrides, "CutIn")
}

func TestUpdateParameterRanges(t *testing.T) {
	t.Run("merges into defaults", func(t *testing.T) {
		f := newAPIFixture(t, "")

		rec := f.do(t, http.MethodPut, "/config/parameter-ranges", map[string]any{
			"ranges": map[string]any{
				"absolute_v": map[string]any{"min": 1, "max": 5},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var ranges params.Ranges
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&ranges))
		assert.Equal(t, 1.0, ranges.Default["absolute_v"].Min)
		assert.Equal(t, 5.0, ranges.Default["absolute_v"].Max)
		// Untouched parameters survive the merge.
		assert.Contains(t, ranges.Default, "v_ego")
	})

	t.Run("scenario override", func(t *testing.T) {
		f := newAPIFixture(t, "")

		rec := f.do(t, http.MethodPut, "/config/parameter-ranges", map[string]any{
			"scenario_type": "FollowLeadingVehicle",
			"ranges": map[string]any{
				"relative_v": map[string]any{"min": -5, "max": 5},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var ranges params.Ranges
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&ranges))
		assert.Equal(t, -5.0, ranges.ScenarioOverrides["FollowLeadingVehicle"]["relative_v"].Min)
	})

	t.Run("rejects inverted bounds", func(t *testing.T) {
		f := newAPIFixture(t, "")

		rec := f.do(t, http.MethodPut, "/config/parameter-ranges", map[string]any{
			"ranges": map[string]any{
				"absolute_v": map[string]any{"min": 10, "max": 2},
			},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeErrorCode(t, rec))
	})

	t.Run("rejects empty update", func(t *testing.T) {
		f := newAPIFixture(t, "")

		rec := f.do(t, http.MethodPut, "/config/parameter-ranges", map[string]any{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		f := newAPIFixture(t, "")

		req := httptest.NewRequest(http.MethodPut, "/config/parameter-ranges", strings.NewReader("{oops"))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
