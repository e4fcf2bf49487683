package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	fulerrors "github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/scenfuzz/scenfuzz/internal/errors"
	"github.com/scenfuzz/scenfuzz/pkg/experiment"
	"github.com/scenfuzz/scenfuzz/pkg/routesxml"
)

type routeFilesResponse struct {
	Files []routesxml.FileInfo `json:"files"`
	Total int                  `json:"total"`
}

func (a *API) listRouteFiles(w http.ResponseWriter, r *http.Request) {
	files, err := routesxml.ListFiles(a.routesDir)
	if err != nil {
		// A missing routes directory is an empty catalog, not a failure.
		if errors.Is(err, fs.ErrNotExist) {
			writeJSON(w, http.StatusOK, routeFilesResponse{Files: []routesxml.FileInfo{}})
			return
		}
		respondWithError(w, r, err)
		return
	}
	if files == nil {
		files = []routesxml.FileInfo{}
	}
	writeJSON(w, http.StatusOK, routeFilesResponse{Files: files, Total: len(files)})
}

type routeCatalogResponse struct {
	File   string            `json:"file"`
	Routes []routesxml.Route `json:"routes"`
	Total  int               `json:"total"`
}

func (a *API) listRouteCatalog(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "routeFile")
	routes, err := routesxml.ListRoutes(a.routesDir, name)
	if err != nil {
		switch {
		case errors.Is(err, routesxml.ErrInvalidName):
			respondWithError(w, r, &experiment.ValidationError{Field: "file", Message: err.Error()})
		case errors.Is(err, fs.ErrNotExist):
			respondWithError(w, r, &apperrors.EnvelopeError{
				Envelope: fulerrors.NewErrorEnvelope(apperrors.CodeNotFound, "route file not found: "+name),
				Status:   http.StatusNotFound,
			})
		default:
			respondWithError(w, r, err)
		}
		return
	}
	if routes == nil {
		routes = []routesxml.Route{}
	}
	writeJSON(w, http.StatusOK, routeCatalogResponse{
		File:   filepath.Base(strings.TrimSuffix(name, ".xml")),
		Routes: routes,
		Total:  len(routes),
	})
}
