package api

import (
	"encoding/json"
	"net/http"

	"github.com/silt-cache/silt/internal/config"
	"github.com/silt-cache/silt/internal/engine"
	"github.com/silt-cache/silt/internal/metrics"
)

// HandleSystemConfig returns the current cache timings per resource root.
func HandleSystemConfig(managers []*engine.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string]config.CacheConfig, len(managers))
		for _, m := range managers {
			out[m.Root()] = m.Config()
		}
		WriteJSON(w, http.StatusOK, map[string]any{"resources": out})
	}
}

// HandlePatchSystemConfig replaces the cache timings on every manager. The
// drainers pick the new interval up at their next tick.
func HandlePatchSystemConfig(managers []*engine.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg config.CacheConfig
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
			return
		}
		if err := cfg.Validate(); err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
			return
		}
		for _, m := range managers {
			if err := m.ReplaceConfig(cfg); err != nil {
				WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
				return
			}
		}
		WriteJSON(w, http.StatusOK, cfg)
	}
}

// HandleMetrics returns the cache counter snapshots.
func HandleMetrics(mets *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"global": mets.Snapshot(),
			"roots":  mets.SnapshotRoots(),
		})
	}
}
