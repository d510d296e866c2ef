package api

import (
	"errors"
	"net/http"

	"github.com/sydlexius/intake/internal/scanner"
)

// scanRequest overrides the server's default scan settings. Omitted flags
// keep their defaults.
type scanRequest struct {
	Paths               []string `json:"paths" validate:"required,min=1,dive,required"`
	IncludeHidden       *bool    `json:"include_hidden"`
	MaxDepth            *int     `json:"max_depth" validate:"omitempty,gte=0"`
	IncludeImages       *bool    `json:"include_images"`
	IncludeDocuments    *bool    `json:"include_documents"`
	IncludeSpreadsheets *bool    `json:"include_spreadsheets"`
	Sort                string   `json:"sort" validate:"omitempty,oneof=modified path"`
}

func (s scanRequest) config(defaults scanner.Config) scanner.Config {
	cfg := defaults
	cfg.Paths = s.Paths
	if s.IncludeHidden != nil {
		cfg.IncludeHidden = *s.IncludeHidden
	}
	if s.MaxDepth != nil {
		cfg.MaxDepth = s.MaxDepth
	}
	if s.IncludeImages != nil {
		cfg.IncludeImages = *s.IncludeImages
	}
	if s.IncludeDocuments != nil {
		cfg.IncludeDocuments = *s.IncludeDocuments
	}
	if s.IncludeSpreadsheets != nil {
		cfg.IncludeSpreadsheets = *s.IncludeSpreadsheets
	}
	return cfg
}

// handleScan walks the requested roots and returns the admitted files.
// POST /api/v1/scan
func (r *Router) handleScan(w http.ResponseWriter, req *http.Request) {
	if r.scannerService == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not configured")
		return
	}

	var body scanRequest
	if !decodeRequest(w, req, &body) {
		return
	}

	results, err := r.scannerService.Scan(req.Context(), body.config(r.scannerService.Defaults()))
	if err != nil {
		// Only cancellation surfaces here; the client has gone away.
		r.logger.Warn("scan aborted", "error", err)
		writeError(w, http.StatusServiceUnavailable, "scan canceled")
		return
	}
	scanner.SortResults(results, body.Sort)
	if results == nil {
		results = []scanner.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

// handleStartScan starts a background scan job.
// POST /api/v1/scans
func (r *Router) handleStartScan(w http.ResponseWriter, req *http.Request) {
	if r.scannerService == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not configured")
		return
	}

	var body scanRequest
	if !decodeRequest(w, req, &body) {
		return
	}

	job, err := r.scannerService.Run(req.Context(), body.config(r.scannerService.Defaults()))
	if errors.Is(err, scanner.ErrScanInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleScanStatus returns the current or most recent scan job.
// GET /api/v1/scans/current
func (r *Router) handleScanStatus(w http.ResponseWriter, req *http.Request) {
	if r.scannerService == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not configured")
		return
	}

	job := r.scannerService.Status()
	if job == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "idle"})
		return
	}
	if len(job.Results) > 0 {
		job.Results = append([]scanner.Result(nil), job.Results...)
		scanner.SortResults(job.Results, req.URL.Query().Get("sort"))
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelScan stops the running scan job.
// DELETE /api/v1/scans/current
func (r *Router) handleCancelScan(w http.ResponseWriter, _ *http.Request) {
	if r.scannerService == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not configured")
		return
	}
	if !r.scannerService.Cancel() {
		writeError(w, http.StatusNotFound, "no scan running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "canceling"})
}
