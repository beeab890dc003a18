package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/warden/internal/automation"
	"github.com/nerrad567/warden/internal/listener"
)

// handleEvent accepts an inbound webhook event and queues it for the
// orchestrator. It answers 202 once queued; matching happens asynchronously.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev listener.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	tc, err := ev.TriggerContext(time.Now())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.orchestrator.HandleEvent(tc); err != nil {
		if errors.Is(err, automation.ErrEventBufferFull) || errors.Is(err, automation.ErrOrchestratorStopped) {
			writeUnavailable(w, err.Error())
			return
		}
		writeInternalError(w, "failed to queue event")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "channel_id": tc.ChannelID})
}
