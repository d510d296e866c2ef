package api

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/sydlexius/intake/internal/spreadsheet"
)

type pathRequest struct {
	Path string `json:"path" validate:"required"`
}

// handleParseSpreadsheet returns the rows of a CSV file keyed by header.
// POST /api/v1/spreadsheets/parse
func (r *Router) handleParseSpreadsheet(w http.ResponseWriter, req *http.Request) {
	var body pathRequest
	if !decodeRequest(w, req, &body) {
		return
	}

	rows, err := spreadsheet.ParseFile(body.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "file not found")
	case errors.Is(err, spreadsheet.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeJSON(w, http.StatusOK, rows)
	}
}
