package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/warden/internal/audit"
	"github.com/nerrad567/warden/internal/automation"
)

// maxQueryParamLen limits path and query parameter length.
const maxQueryParamLen = 100

// handleListRules returns every rule in evaluation order.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.registry.ListRules(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

// handleGetRule returns a single rule by ID.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	rule, err := s.registry.GetRule(r.Context(), id)
	if err != nil {
		s.writeRuleError(w, err, "failed to get rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleCreateRule validates and stores a new rule.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule automation.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.registry.CreateRule(r.Context(), &rule); err != nil {
		s.writeRuleError(w, err, "failed to create rule")
		return
	}

	s.audit.Record(r.Context(), audit.ActionCreate, audit.EntityRule, rule.ID, audit.SourceAPI,
		map[string]any{"name": rule.Name, "enabled": rule.Enabled})
	writeJSON(w, http.StatusCreated, rule)
}

// handleUpdateRule replaces a rule. Fields missing from the body keep
// their stored values; the ID cannot be changed.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	existing, err := s.registry.GetRule(r.Context(), id)
	if err != nil {
		s.writeRuleError(w, err, "failed to get rule")
		return
	}

	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	existing.ID = id

	if err := s.registry.UpdateRule(r.Context(), existing); err != nil {
		s.writeRuleError(w, err, "failed to update rule")
		return
	}

	s.audit.Record(r.Context(), audit.ActionUpdate, audit.EntityRule, id, audit.SourceAPI,
		map[string]any{"name": existing.Name, "enabled": existing.Enabled})
	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteRule removes a rule by ID.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	if err := s.registry.DeleteRule(r.Context(), id); err != nil {
		s.writeRuleError(w, err, "failed to delete rule")
		return
	}

	s.audit.Record(r.Context(), audit.ActionDelete, audit.EntityRule, id, audit.SourceAPI, nil)
	w.WriteHeader(http.StatusNoContent)
}

// testRequest is the body for the rule dry-run endpoints.
type testRequest struct {
	Rule      *automation.Rule `json:"rule,omitempty"`
	Text      string           `json:"text"`
	ChannelID string           `json:"channel_id,omitempty"`
	SourceID  string           `json:"source_id,omitempty"`
	IsWebhook bool             `json:"is_webhook,omitempty"`
}

// triggerContext builds the message the dry run evaluates. Without an
// explicit channel the rule's first channel is used so text-only tests
// reach the keyword stages.
func (t testRequest) triggerContext(rule *automation.Rule) automation.TriggerContext {
	channel := t.ChannelID
	if channel == "" && rule != nil && len(rule.Trigger.Channels) > 0 {
		channel = rule.Trigger.Channels[0]
	}
	return automation.TriggerContext{
		ChannelID:  channel,
		SourceID:   t.SourceID,
		IsWebhook:  t.IsWebhook,
		Text:       t.Text,
		ReceivedAt: time.Now().UTC(),
	}
}

// handleTestRule dry-runs an unsaved rule against sample text.
func (s *Server) handleTestRule(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Rule == nil {
		writeBadRequest(w, "rule is required")
		return
	}

	result, err := s.orchestrator.TestMatch(req.Rule, req.triggerContext(req.Rule))
	if err != nil {
		s.writeRuleError(w, err, "failed to test rule")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleTestStoredRule dry-runs a stored rule against sample text.
func (s *Server) handleTestStoredRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rule, err := s.registry.GetRule(r.Context(), id)
	if err != nil {
		s.writeRuleError(w, err, "failed to get rule")
		return
	}

	result, err := s.orchestrator.TestMatch(rule, req.triggerContext(rule))
	if err != nil {
		s.writeRuleError(w, err, "failed to test rule")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func ruleID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid rule ID")
		return "", false
	}
	return id, true
}

// writeRuleError maps automation errors onto HTTP status codes.
func (s *Server) writeRuleError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, automation.ErrRuleNotFound):
		writeNotFound(w, "rule not found")
	case errors.Is(err, automation.ErrRuleExists):
		writeConflict(w, err.Error())
	case automation.IsValidationError(err):
		writeValidationError(w, err.Error())
	default:
		s.logger.Error(fallback, "error", err)
		writeInternalError(w, fallback)
	}
}
