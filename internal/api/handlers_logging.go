package api

import (
	"net/http"
)

func (r *Router) handleGetLogging(w http.ResponseWriter, _ *http.Request) {
	if r.logManager == nil {
		writeError(w, http.StatusServiceUnavailable, "logging manager not available")
		return
	}
	writeJSON(w, http.StatusOK, r.logManager.Config())
}

// handleUpdateLogging applies a partial logging config at runtime. Fields
// missing from the body keep their current values.
func (r *Router) handleUpdateLogging(w http.ResponseWriter, req *http.Request) {
	if r.logManager == nil {
		writeError(w, http.StatusServiceUnavailable, "logging manager not available")
		return
	}

	cfg := r.logManager.Config()
	if !decodeRequest(w, req, &cfg) {
		return
	}
	if err := r.logManager.Reconfigure(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg = r.logManager.Config()
	r.logger.Info("logging reconfigured", "level", cfg.Level, "format", cfg.Format, "file", cfg.FilePath)
	writeJSON(w, http.StatusOK, cfg)
}
