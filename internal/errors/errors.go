// Package errors adapts domain errors to the structured HTTP error
// envelope. Envelopes are built on gofulmen's error envelope type so the
// wire shape stays consistent across services.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	fulerrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/scenfuzz/scenfuzz/pkg/experiment"
)

// Error codes carried in the envelope.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeInternal         = "INTERNAL_ERROR"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeExternalService  = "EXTERNAL_SERVICE_ERROR"
)

// HTTPErrorDetail is the error object inside the response envelope.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HTTPErrorResponse is the JSON body written for every error status.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

type correlationIDKey struct{}

// ContextWithCorrelationID stores a request correlation id for later
// envelope construction.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext returns the stored correlation id, if any.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// EnvelopeError carries a prebuilt envelope plus the HTTP status it maps
// to. Handlers return it when the default classification is wrong.
type EnvelopeError struct {
	Envelope *fulerrors.ErrorEnvelope
	Status   int
	Err      error
}

func (e *EnvelopeError) Error() string {
	if e.Err != nil {
		return e.Envelope.Message + ": " + e.Err.Error()
	}
	return e.Envelope.Message
}

func (e *EnvelopeError) Unwrap() error { return e.Err }

// NewExternalServiceError reports a dependency outage (simulator runner,
// database) as a 503 envelope.
func NewExternalServiceError(message string) error {
	return &EnvelopeError{
		Envelope: fulerrors.NewErrorEnvelope(CodeExternalService, message),
		Status:   http.StatusServiceUnavailable,
	}
}

// WrapInternal wraps an unexpected failure as a 500 envelope, attaching
// the correlation id from ctx when present.
func WrapInternal(ctx context.Context, err error, message string) error {
	env := fulerrors.NewErrorEnvelope(CodeInternal, message)
	if id := CorrelationIDFromContext(ctx); id != "" {
		env = env.WithCorrelationID(id)
	}
	if err != nil {
		if withCtx, ctxErr := env.WithContext(map[string]interface{}{"cause": err.Error()}); ctxErr == nil {
			env = withCtx
		}
	}
	return &EnvelopeError{Envelope: env, Status: http.StatusInternalServerError, Err: err}
}

// Classify maps an error to the envelope and HTTP status the API contract
// promises for it.
func Classify(err error) (*fulerrors.ErrorEnvelope, int) {
	var envErr *EnvelopeError
	if errors.As(err, &envErr) {
		return envErr.Envelope, envErr.Status
	}

	var verr *experiment.ValidationError
	if errors.As(err, &verr) {
		env := fulerrors.NewErrorEnvelope(CodeValidation, verr.Error())
		if verr.Field != "" {
			if withCtx, ctxErr := env.WithContext(map[string]interface{}{"field": verr.Field}); ctxErr == nil {
				env = withCtx
			}
		}
		return env, http.StatusBadRequest
	}

	switch {
	case errors.Is(err, experiment.ErrNotFound):
		return fulerrors.NewErrorEnvelope(CodeNotFound, err.Error()), http.StatusNotFound
	case errors.Is(err, experiment.ErrAlreadyRunning),
		errors.Is(err, experiment.ErrNotRunning):
		return fulerrors.NewErrorEnvelope(CodeConflict, err.Error()), http.StatusConflict
	}

	return fulerrors.NewErrorEnvelope(CodeInternal, err.Error()), http.StatusInternalServerError
}

// RespondWithError classifies err and writes the JSON envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	env, status := Classify(err)
	if env.CorrelationID == "" {
		if id := CorrelationIDFromContext(r.Context()); id != "" {
			env = env.WithCorrelationID(id)
		}
	}
	WriteEnvelope(w, env, status)
}

// WriteEnvelope serializes an envelope as the HTTP error response body.
func WriteEnvelope(w http.ResponseWriter, env *fulerrors.ErrorEnvelope, status int) {
	resp := HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:      env.Code,
			Message:   env.Message,
			RequestID: env.CorrelationID,
			Details:   env.Context,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
