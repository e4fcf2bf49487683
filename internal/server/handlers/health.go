// Package handlers implements the HTTP endpoints: health probes, version,
// and the experiment API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	fulerrors "github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/scenfuzz/scenfuzz/internal/errors"
)

// Health states reported per check and overall.
const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusTimeout   = "timeout"
	statusDegraded  = "degraded"
)

const checkTimeout = 2 * time.Second

// HealthChecker probes one dependency.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the body of a passing health probe.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthManager runs registered checkers and serves the probe endpoints.
type HealthManager struct {
	version string

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealthManager creates a manager reporting the given version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds a named dependency check.
func (m *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

func (m *HealthManager) snapshotCheckers() map[string]HealthChecker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]HealthChecker, len(m.checkers))
	for name, c := range m.checkers {
		out[name] = c
	}
	return out
}

// runChecks executes every checker with a per-check timeout.
func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	results := make(map[string]string)
	for name, checker := range m.snapshotCheckers() {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checker.CheckHealth(checkCtx)
		cancel()

		switch {
		case err == nil:
			results[name] = statusHealthy
		case checkCtx.Err() == context.DeadlineExceeded:
			results[name] = statusTimeout
		default:
			results[name] = statusUnhealthy
		}
	}
	return results
}

// determineOverallStatus folds per-check states into one. A timeout alone
// degrades the service without failing the probe.
func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	overall := statusHealthy
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		switch checks[name] {
		case statusUnhealthy:
			return statusUnhealthy
		case statusTimeout:
			overall = statusDegraded
		}
	}
	return overall
}

// HealthHandler serves GET /health.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	overall := m.determineOverallStatus(checks)

	if overall == statusUnhealthy {
		env := fulerrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "one or more health checks failed")
		if withCtx, err := env.WithContext(map[string]interface{}{"checks": checks}); err == nil {
			env = withCtx
		}
		apperrors.WriteEnvelope(w, env, http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    overall,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

// LivenessHandler serves GET /health/live. Liveness only proves the
// process responds; dependency state is readiness territory.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "alive",
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	})
}

// ReadinessHandler serves GET /health/ready.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}

// StartupHandler serves GET /health/startup.
func (m *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}

var (
	healthMu            sync.RWMutex
	globalHealthManager *HealthManager
)

// InitHealthManager installs the process-wide health manager.
func InitHealthManager(version string) {
	healthMu.Lock()
	defer healthMu.Unlock()
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide manager, nil before init.
func GetHealthManager() *HealthManager {
	healthMu.RLock()
	defer healthMu.RUnlock()
	return globalHealthManager
}

func globalHealth(w http.ResponseWriter, r *http.Request, serve func(*HealthManager, http.ResponseWriter, *http.Request)) {
	manager := GetHealthManager()
	if manager == nil {
		env := fulerrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health manager not initialized")
		apperrors.WriteEnvelope(w, env, http.StatusServiceUnavailable)
		return
	}
	serve(manager, w, r)
}

// HealthHandler serves GET /health via the global manager.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	globalHealth(w, r, (*HealthManager).HealthHandler)
}

// LivenessHandler serves GET /health/live via the global manager.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	globalHealth(w, r, (*HealthManager).LivenessHandler)
}

// ReadinessHandler serves GET /health/ready via the global manager.
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	globalHealth(w, r, (*HealthManager).ReadinessHandler)
}

// StartupHandler serves GET /health/startup via the global manager.
func StartupHandler(w http.ResponseWriter, r *http.Request) {
	globalHealth(w, r, (*HealthManager).StartupHandler)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
