package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/warden/internal/audit"
	"github.com/nerrad567/warden/internal/automation"
)

// handleGetSettings returns the global automation settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Settings())
}

// handleUpdateSettings replaces the global settings and applies them to the
// safety store immediately. Omitted fields keep their current values.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	settings := s.registry.Settings()
	before := settings

	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.orchestrator.UpdateSettings(r.Context(), &settings); err != nil {
		if automation.IsValidationError(err) {
			writeValidationError(w, err.Error())
			return
		}
		s.logger.Error("failed to update settings", "error", err)
		writeInternalError(w, "failed to update settings")
		return
	}

	s.audit.Record(r.Context(), audit.ActionUpdate, audit.EntitySettings, "", audit.SourceAPI, map[string]any{
		"enabled":                 settings.Enabled,
		"was_enabled":             before.Enabled,
		"global_cooldown_seconds": settings.GlobalCooldownSeconds,
		"protected":               settings.Protected,
	})
	writeJSON(w, http.StatusOK, s.registry.Settings())
}
