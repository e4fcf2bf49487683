package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/scenfuzz/scenfuzz/pkg/experiment"
	"github.com/scenfuzz/scenfuzz/pkg/params"
)

func (a *API) getParameterRanges(w http.ResponseWriter, r *http.Request) {
	ranges, err := a.params.Load()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranges)
}

func (a *API) updateParameterRanges(w http.ResponseWriter, r *http.Request) {
	var upd params.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		respondWithError(w, r, &experiment.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()})
		return
	}
	if err := upd.Validate(); err != nil {
		respondWithError(w, r, &experiment.ValidationError{Field: "ranges", Message: err.Error()})
		return
	}

	updated, err := a.params.Apply(upd)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
