package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxLedgerLimit caps ?limit on ledger queries.
const maxLedgerLimit = 500

// handleQueryLedger returns recorded outcomes, newest first.
//
// Query parameters:
//   - resource: restrict to one resource (case-sensitive)
//   - limit: max results (default 50, max 500)
func (s *Server) handleQueryLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resource := strings.TrimSpace(q.Get("resource"))
	if len(resource) > maxQueryParamLen {
		writeBadRequest(w, "resource exceeds maximum length")
		return
	}

	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLedgerLimit)
	}

	entries := s.ledger.Query(resource, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// cooldownView is the JSON shape of one active cooldown.
type cooldownView struct {
	Resource         string    `json:"resource"`
	LastDispatch     time.Time `json:"last_dispatch"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// handleListCooldowns returns every resource still inside its cooldown.
func (s *Server) handleListCooldowns(w http.ResponseWriter, _ *http.Request) {
	snap := s.safety.Snapshot()
	out := make([]cooldownView, 0, len(snap))
	for _, c := range snap {
		out = append(out, cooldownView{
			Resource:         c.Resource,
			LastDispatch:     c.LastDispatch,
			RemainingSeconds: int((c.Remaining + time.Second - 1) / time.Second),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":   s.safety.Enabled(),
		"cooldowns": out,
		"count":     len(out),
	})
}
