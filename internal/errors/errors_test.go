package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenfuzz/scenfuzz/pkg/experiment"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{
			name:       "validation error",
			err:        &experiment.ValidationError{Field: "iterations", Message: "must be at least 1"},
			wantCode:   CodeValidation,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrapped validation error",
			err:        fmt.Errorf("create: %w", &experiment.ValidationError{Field: "name", Message: "too short"}),
			wantCode:   CodeValidation,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not found",
			err:        experiment.ErrNotFound,
			wantCode:   CodeNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "already running",
			err:        experiment.ErrAlreadyRunning,
			wantCode:   CodeConflict,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "not running",
			err:        fmt.Errorf("stop: %w", experiment.ErrNotRunning),
			wantCode:   CodeConflict,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "unclassified",
			err:        errors.New("disk exploded"),
			wantCode:   CodeInternal,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, status := Classify(tt.err)
			assert.Equal(t, tt.wantCode, env.Code)
			assert.Equal(t, tt.wantStatus, status)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestClassifyValidationCarriesField(t *testing.T) {
	env, _ := Classify(&experiment.ValidationError{Field: "timeout_seconds", Message: "out of range"})
	require.NotNil(t, env.Context)
	assert.Equal(t, "timeout_seconds", env.Context["field"])
}

func TestClassifyEnvelopeErrorPassthrough(t *testing.T) {
	err := NewExternalServiceError("simulator unreachable")

	env, status := Classify(err)
	assert.Equal(t, CodeExternalService, env.Code)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "simulator unreachable", env.Message)
}

func TestWrapInternal(t *testing.T) {
	cause := errors.New("sqlite locked")
	ctx := ContextWithCorrelationID(context.Background(), "req-42")

	err := WrapInternal(ctx, cause, "failed to persist experiment")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to persist experiment")

	env, status := Classify(err)
	assert.Equal(t, CodeInternal, env.Code)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "req-42", env.CorrelationID)
	require.NotNil(t, env.Context)
	assert.Equal(t, "sqlite locked", env.Context["cause"])
}

func TestRespondWithError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/experiments/nope", nil)
	req = req.WithContext(ContextWithCorrelationID(req.Context(), "corr-7"))
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, experiment.ErrNotFound)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeNotFound, body.Error.Code)
	assert.Equal(t, "experiment not found", body.Error.Message)
	assert.Equal(t, "corr-7", body.Error.RequestID)
}

func TestCorrelationIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CorrelationIDFromContext(ctx))

	ctx = ContextWithCorrelationID(ctx, "abc")
	assert.Equal(t, "abc", CorrelationIDFromContext(ctx))
}
