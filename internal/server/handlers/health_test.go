package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	err error
}

func (s stubChecker) CheckHealth(ctx context.Context) error {
	return s.err
}

// blockingChecker never returns before the per-check deadline fires.
type blockingChecker struct{}

func (blockingChecker) CheckHealth(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestHealthHandlerHealthy(t *testing.T) {
	manager := NewHealthManager("0.3.0")
	manager.RegisterChecker("store", stubChecker{})
	manager.RegisterChecker("runner", stubChecker{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	manager.HealthHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "0.3.0", resp.Version)
	assert.Equal(t, "healthy", resp.Checks["store"])
	assert.Equal(t, "healthy", resp.Checks["runner"])
	assert.False(t, resp.Timestamp.IsZero())
}

func TestHealthHandlerUnhealthy(t *testing.T) {
	manager := NewHealthManager("0.3.0")
	manager.RegisterChecker("store", stubChecker{err: errors.New("database locked")})
	manager.RegisterChecker("runner", stubChecker{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	manager.HealthHandler(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Error struct {
			Code    string                 `json:"code"`
			Message string                 `json:"message"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)

	require.NotNil(t, resp.Error.Details)
	checks, ok := resp.Error.Details["checks"].(map[string]interface{})
	require.True(t, ok, "expected checks in error details")
	assert.Equal(t, "unhealthy", checks["store"])
	assert.Equal(t, "healthy", checks["runner"])
}

func TestDetermineOverallStatus(t *testing.T) {
	manager := NewHealthManager("dev")

	tests := []struct {
		name   string
		checks map[string]string
		want   string
	}{
		{"all healthy", map[string]string{"store": "healthy", "runner": "healthy"}, "healthy"},
		{"timeout degrades", map[string]string{"store": "timeout"}, "degraded"},
		{"unhealthy wins over timeout", map[string]string{"store": "timeout", "runner": "unhealthy"}, "unhealthy"},
		{"no checks", map[string]string{}, "healthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, manager.determineOverallStatus(tt.checks))
		})
	}
}

func TestRunChecksTimesOutSlowChecker(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("runner", blockingChecker{})

	checks := manager.runChecks(context.Background())

	assert.Equal(t, "timeout", checks["runner"])
}

func TestInitAndGetHealthManager(t *testing.T) {
	original := globalHealthManager
	defer func() { globalHealthManager = original }()

	globalHealthManager = nil
	assert.Nil(t, GetHealthManager())

	InitHealthManager("0.3.0")
	require.NotNil(t, GetHealthManager())
}

func TestGlobalHandlers(t *testing.T) {
	original := globalHealthManager
	defer func() { globalHealthManager = original }()

	InitHealthManager("0.3.0")

	tests := []struct {
		name    string
		path    string
		handler http.HandlerFunc
	}{
		{"health", "/health", HealthHandler},
		{"liveness", "/health/live", LivenessHandler},
		{"readiness", "/health/ready", ReadinessHandler},
		{"startup", "/health/startup", StartupHandler},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()

			tt.handler(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestGlobalHandlersWhenNotInitialized(t *testing.T) {
	original := globalHealthManager
	defer func() { globalHealthManager = original }()

	globalHealthManager = nil

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"HealthHandler", HealthHandler},
		{"LivenessHandler", LivenessHandler},
		{"ReadinessHandler", ReadinessHandler},
		{"StartupHandler", StartupHandler},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			rec := httptest.NewRecorder()

			tt.handler(rec, req)

			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		})
	}
}
