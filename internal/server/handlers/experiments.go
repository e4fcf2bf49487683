package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-chi/chi/v5"
	fulerrors "github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	apperrors "github.com/scenfuzz/scenfuzz/internal/errors"
	"github.com/scenfuzz/scenfuzz/pkg/artifacts"
	"github.com/scenfuzz/scenfuzz/pkg/experiment"
	"github.com/scenfuzz/scenfuzz/pkg/logstream"
	"github.com/scenfuzz/scenfuzz/pkg/params"
)

const (
	defaultLogTail = 100
	maxLogTail     = 1000

	streamHeartbeat = 15 * time.Second
)

// API serves the /api/v1 experiment endpoints.
type API struct {
	manager   *experiment.Manager
	hub       *logstream.Hub
	params    *params.Manager
	routesDir string
	logger    *zap.Logger
}

// APIConfig wires the API handlers to the application services.
type APIConfig struct {
	Manager   *experiment.Manager
	Hub       *logstream.Hub
	Params    *params.Manager
	RoutesDir string
	Logger    *zap.Logger
}

// NewAPI builds the API handler set.
func NewAPI(cfg APIConfig) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		manager:   cfg.Manager,
		hub:       cfg.Hub,
		params:    cfg.Params,
		routesDir: cfg.RoutesDir,
		logger:    logger,
	}
}

// Routes returns the router for the /api/v1 subtree.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/experiments", func(r chi.Router) {
		r.Post("/", a.createExperiment)
		r.Get("/", a.listExperiments)
		r.Get("/stats", a.experimentStats)
		r.Get("/status-counts", a.statusCounts)
		r.Get("/count", a.experimentCount)

		r.Route("/{experimentID}", func(r chi.Router) {
			r.Get("/", a.getExperiment)
			r.Patch("/", a.updateExperiment)
			r.Delete("/", a.deleteExperiment)
			r.Post("/start", a.startExperiment)
			r.Post("/stop", a.stopExperiment)
			r.Post("/duplicate", a.duplicateExperiment)
			r.Get("/status", a.experimentStatus)
			r.Get("/results", a.experimentResults)
			r.Get("/files", a.experimentFiles)
			r.Get("/logs", a.experimentLogs)
			r.Get("/logs/stream", a.streamExperimentLogs)
		})
	})

	r.Route("/routes", func(r chi.Router) {
		r.Get("/", a.listRouteFiles)
		r.Get("/{routeFile}", a.listRouteCatalog)
	})

	r.Route("/config", func(r chi.Router) {
		r.Get("/parameter-ranges", a.getParameterRanges)
		r.Put("/parameter-ranges", a.updateParameterRanges)
	})

	return r
}

type createExperimentRequest struct {
	experiment.Config
	StartImmediately bool `json:"start_immediately"`
}

func (a *API) createExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, &experiment.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()})
		return
	}

	snap, err := a.manager.Create(r.Context(), req.Config)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	if req.StartImmediately {
		if err := a.manager.Start(r.Context(), snap.Experiment.ID); err != nil {
			a.logger.Warn("failed to start experiment after create",
				zap.String("experiment_id", snap.Experiment.ID),
				zap.Error(err))
		} else if refreshed, getErr := a.manager.Get(r.Context(), snap.Experiment.ID); getErr == nil {
			snap = refreshed
		}
	}

	writeJSON(w, http.StatusCreated, snap)
}

type listExperimentsResponse struct {
	Experiments []*experiment.Record `json:"experiments"`
	Total       int                  `json:"total"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

func (a *API) listExperiments(w http.ResponseWriter, r *http.Request) {
	opts := experiment.ListOptions{Limit: 50}

	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, r, &experiment.ValidationError{Field: "limit", Message: "must be a positive integer"})
			return
		}
		opts.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondWithError(w, r, &experiment.ValidationError{Field: "offset", Message: "must be a non-negative integer"})
			return
		}
		opts.Offset = n
	}
	if raw := q.Get("status"); raw != "" {
		status := experiment.Status(raw)
		if !status.Valid() {
			respondWithError(w, r, &experiment.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", raw)})
			return
		}
		opts.Status = status
	}
	if raw := q.Get("search_method"); raw != "" {
		method := experiment.SearchMethod(raw)
		if !method.Valid() {
			respondWithError(w, r, &experiment.ValidationError{Field: "search_method", Message: fmt.Sprintf("unknown search method %q", raw)})
			return
		}
		opts.Method = method
	}

	records, total := a.manager.List(opts)
	if records == nil {
		records = []*experiment.Record{}
	}

	writeJSON(w, http.StatusOK, listExperimentsResponse{
		Experiments: records,
		Total:       total,
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	})
}

func (a *API) getExperiment(w http.ResponseWriter, r *http.Request) {
	snap, err := a.manager.Get(r.Context(), chi.URLParam(r, "experimentID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) updateExperiment(w http.ResponseWriter, r *http.Request) {
	var req experiment.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, &experiment.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()})
		return
	}

	snap, err := a.manager.Update(r.Context(), chi.URLParam(r, "experimentID"), req)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) deleteExperiment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "experimentID")
	removed, err := a.manager.Delete(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if !removed {
		respondWithError(w, r, experiment.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"deleted": true,
	})
}

func (a *API) startExperiment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "experimentID")
	if err := a.manager.Start(r.Context(), id); err != nil {
		respondWithError(w, r, err)
		return
	}
	snap, err := a.manager.Get(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) stopExperiment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "experimentID")
	if err := a.manager.Stop(r.Context(), id); err != nil {
		respondWithError(w, r, err)
		return
	}
	snap, err := a.manager.Get(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) duplicateExperiment(w http.ResponseWriter, r *http.Request) {
	snap, err := a.manager.Duplicate(r.Context(), chi.URLParam(r, "experimentID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

type experimentStatusResponse struct {
	ID       string              `json:"id"`
	Status   experiment.Status   `json:"status"`
	Progress experiment.Progress `json:"progress"`
}

func (a *API) experimentStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := a.manager.Get(r.Context(), chi.URLParam(r, "experimentID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, experimentStatusResponse{
		ID:       snap.Experiment.ID,
		Status:   snap.Experiment.Status,
		Progress: snap.Progress,
	})
}

func (a *API) experimentStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Stats())
}

func (a *API) statusCounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status_counts": a.manager.StatusCounts(),
	})
}

func (a *API) experimentCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"count": a.manager.Count(),
	})
}

type experimentResultsResponse struct {
	ID           string                  `json:"id"`
	Status       experiment.Status       `json:"status"`
	HasResults   bool                    `json:"has_results"`
	BestSolution *artifacts.BestSolution `json:"best_solution,omitempty"`
	Files        []artifacts.FileInfo    `json:"files"`
}

func (a *API) experimentResults(w http.ResponseWriter, r *http.Request) {
	snap, err := a.manager.Get(r.Context(), chi.URLParam(r, "experimentID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	resp := experimentResultsResponse{
		ID:     snap.Experiment.ID,
		Status: snap.Experiment.Status,
		Files:  []artifacts.FileInfo{},
	}

	dir := snap.Experiment.OutputDirectory
	if dir != "" {
		if sol, readErr := artifacts.ReadBestSolution(dir); readErr == nil {
			resp.HasResults = true
			resp.BestSolution = sol
		} else if !errors.Is(readErr, fs.ErrNotExist) {
			a.logger.Warn("failed to read best solution",
				zap.String("experiment_id", resp.ID),
				zap.Error(readErr))
		}
		if files, listErr := artifacts.ListFiles(dir); listErr == nil {
			resp.Files = files
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type experimentFilesResponse struct {
	ID    string               `json:"id"`
	Files []artifacts.FileInfo `json:"files"`
	Total int                  `json:"total"`
}

func (a *API) experimentFiles(w http.ResponseWriter, r *http.Request) {
	snap, err := a.manager.Get(r.Context(), chi.URLParam(r, "experimentID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	var patterns []string
	if pattern := r.URL.Query().Get("pattern"); pattern != "" {
		if !doublestar.ValidatePattern(pattern) {
			respondWithError(w, r, &experiment.ValidationError{Field: "pattern", Message: "invalid glob pattern"})
			return
		}
		patterns = append(patterns, pattern)
	}

	resp := experimentFilesResponse{
		ID:    snap.Experiment.ID,
		Files: []artifacts.FileInfo{},
	}

	if dir := snap.Experiment.OutputDirectory; dir != "" {
		files, listErr := artifacts.ListFiles(dir, patterns...)
		if listErr != nil && !errors.Is(listErr, fs.ErrNotExist) {
			respondWithError(w, r, listErr)
			return
		}
		if files != nil {
			resp.Files = files
		}
	}
	resp.Total = len(resp.Files)

	writeJSON(w, http.StatusOK, resp)
}

type experimentLogsResponse struct {
	ID    string   `json:"id"`
	Lines []string `json:"lines"`
	Total int      `json:"total"`
}

func (a *API) experimentLogs(w http.ResponseWriter, r *http.Request) {
	snap, err := a.manager.Get(r.Context(), chi.URLParam(r, "experimentID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	limit := defaultLogTail
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, parseErr := strconv.Atoi(raw)
		if parseErr != nil || n < 1 {
			respondWithError(w, r, &experiment.ValidationError{Field: "limit", Message: "must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxLogTail {
		limit = maxLogTail
	}

	resp := experimentLogsResponse{
		ID:    snap.Experiment.ID,
		Lines: []string{},
	}

	if dir := snap.Experiment.OutputDirectory; dir != "" {
		lines, tailErr := artifacts.TailFile(filepath.Join(dir, artifacts.RunLogFile), limit)
		if tailErr != nil && !errors.Is(tailErr, fs.ErrNotExist) {
			respondWithError(w, r, tailErr)
			return
		}
		if lines != nil {
			resp.Lines = lines
		}
	}
	resp.Total = len(resp.Lines)

	writeJSON(w, http.StatusOK, resp)
}

// streamExperimentLogs serves the live output stream as server-sent
// events. The subscription drops on client disconnect or when the hub
// closes the experiment's stream.
func (a *API) streamExperimentLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "experimentID")
	if _, err := a.manager.Get(r.Context(), id); err != nil {
		respondWithError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, r, &apperrors.EnvelopeError{
			Envelope: fulerrors.NewErrorEnvelope(apperrors.CodeInternal, "streaming unsupported by connection"),
			Status:   http.StatusInternalServerError,
		})
		return
	}

	// Streams outlive the server's write timeout; clear the per-request
	// deadline where the connection supports it.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	subID, ch := a.hub.Subscribe(id)
	defer a.hub.Unsubscribe(id, subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	// Initial comment so clients and proxies see bytes before the first
	// log line arrives.
	fmt.Fprint(w, ": ping\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case entry, open := <-ch:
			if !open {
				return
			}
			data, marshalErr := json.Marshal(entry)
			if marshalErr != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
