package api

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/sydlexius/intake/internal/connection"
)

type extractRequest struct {
	Path  string `json:"path" validate:"required"`
	Model string `json:"model"`
}

// handleVisionStatus reports whether the vision model server is reachable.
// GET /api/v1/vision/status
func (r *Router) handleVisionStatus(w http.ResponseWriter, req *http.Request) {
	if r.vision == nil {
		writeJSON(w, http.StatusOK, map[string]any{"available": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available": r.vision.CheckAvailable(req.Context()),
		"model":     r.vision.Model(),
	})
}

// handleVisionModels lists the models installed on the vision server.
// GET /api/v1/vision/models
func (r *Router) handleVisionModels(w http.ResponseWriter, req *http.Request) {
	if r.vision == nil {
		writeError(w, http.StatusServiceUnavailable, "vision service not configured")
		return
	}
	models, err := r.vision.ListModels(req.Context())
	if err != nil {
		r.visionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// handleVisionAnalyze returns the vision server's raw response for an image.
// POST /api/v1/vision/analyze
func (r *Router) handleVisionAnalyze(w http.ResponseWriter, req *http.Request) {
	if r.vision == nil {
		writeError(w, http.StatusServiceUnavailable, "vision service not configured")
		return
	}
	var body pathRequest
	if !decodeRequest(w, req, &body) {
		return
	}

	raw, err := r.vision.Analyze(req.Context(), body.Path)
	if err != nil {
		r.visionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw) //nolint:errcheck
}

// handleVisionExtract reads structured vehicle data from a document photo.
// POST /api/v1/vision/extract
func (r *Router) handleVisionExtract(w http.ResponseWriter, req *http.Request) {
	if r.vision == nil {
		writeError(w, http.StatusServiceUnavailable, "vision service not configured")
		return
	}
	var body extractRequest
	if !decodeRequest(w, req, &body) {
		return
	}

	doc, err := r.vision.ExtractDocument(req.Context(), body.Path, body.Model)
	if err != nil {
		r.visionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (r *Router) visionError(w http.ResponseWriter, err error) {
	var statusErr *connection.StatusError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "file not found")
	case errors.As(err, &statusErr):
		r.logger.Warn("vision server rejected request", "status", statusErr.StatusCode)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		r.logger.Warn("vision request failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
