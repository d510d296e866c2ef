package api

import (
	"errors"
	"net/http"

	"github.com/sydlexius/intake/internal/batchsync"
	"github.com/sydlexius/intake/internal/scanner"
)

type syncRequest struct {
	Results   []scanner.Result `json:"results" validate:"required"`
	APIKey    string           `json:"api_key"`
	BatchSize int              `json:"batch_size" validate:"omitempty,gte=1"`
}

// handleSync dispatches hinted results to the remote ingestion endpoint.
// Request-level failures (missing credential) are 400s; per-batch failures
// come back inside the 200 report.
// POST /api/v1/sync
func (r *Router) handleSync(w http.ResponseWriter, req *http.Request) {
	if r.syncProcessor == nil {
		writeError(w, http.StatusServiceUnavailable, "sync not configured")
		return
	}

	var body syncRequest
	if !decodeRequest(w, req, &body) {
		return
	}
	if body.APIKey == "" {
		body.APIKey = r.syncDefaults.APIKey
	}
	if body.BatchSize == 0 {
		body.BatchSize = r.syncDefaults.BatchSize
	}

	report, err := r.syncProcessor.Sync(req.Context(), body.Results, body.APIKey, body.BatchSize)
	switch {
	case errors.Is(err, batchsync.ErrMissingCredential), errors.Is(err, batchsync.ErrInvalidBatchSize):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil && report != nil:
		r.logger.Warn("sync interrupted", "sync_id", report.ID, "error", err)
		writeJSON(w, http.StatusOK, report)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, report)
	}
}
