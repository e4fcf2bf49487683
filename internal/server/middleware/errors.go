// Package middleware provides the request-scoped HTTP middleware chain:
// request id propagation and panic recovery with structured error bodies.
package middleware

import (
	"fmt"
	"net/http"

	fulerrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/scenfuzz/scenfuzz/internal/errors"
)

// RequestIDHeader carries the client-supplied or generated request id.
const RequestIDHeader = "X-Request-ID"

var logger = zap.NewNop()

// SetLogger installs the logger used for recovered panics.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// ErrorDetail is the error object inside the middleware error body.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse is the JSON body written for recovered panics.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// RequestID attaches a request id to the context and response. A client
// X-Request-ID is honored; otherwise one is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		ctx := apperrors.ContextWithCorrelationID(r.Context(), id)
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Recovery converts handler panics into a 500 envelope instead of tearing
// down the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"))

				env := fulerrors.NewErrorEnvelope(apperrors.CodeInternal, fmt.Sprintf("panic: %v", rec))
				if id := apperrors.CorrelationIDFromContext(r.Context()); id != "" {
					env = env.WithCorrelationID(id)
				}
				writeErrorResponse(w, env, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is Recovery under the name the router mounts it as.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

func writeErrorResponse(w http.ResponseWriter, env *fulerrors.ErrorEnvelope, statusCode int) {
	apperrors.WriteEnvelope(w, env, statusCode)
}
