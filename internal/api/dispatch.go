package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/warden/internal/action"
	"github.com/nerrad567/warden/internal/actuator"
	"github.com/nerrad567/warden/internal/audit"
	"github.com/nerrad567/warden/internal/automation"
	"github.com/nerrad567/warden/internal/dispatch"
)

const (
	// maxWait caps how long POST /dispatch?wait blocks for the outcome.
	maxWait = 60 * time.Second

	// maxDelaySeconds matches the rule validation limit.
	maxDelaySeconds = 3600
)

// dispatchRequest is the body for POST /dispatch.
type dispatchRequest struct {
	Resource       string `json:"resource"`
	Action         string `json:"action"`
	Origin         string `json:"origin"` // manual (default) or scheduled
	DelaySeconds   int    `json:"delay_seconds"`
	OnlyIfRunning  bool   `json:"only_if_running"`
	FeedbackTarget string `json:"feedback_target,omitempty"`
	Silent         bool   `json:"silent"`
	Wait           bool   `json:"wait"`
}

func (d dispatchRequest) toRequest() (action.Request, error) {
	kind, err := action.ParseKind(d.Action)
	if err != nil {
		return action.Request{}, err
	}

	origin := strings.ToLower(strings.TrimSpace(d.Origin))
	switch origin {
	case "":
		origin = action.OriginManual
	case action.OriginManual, action.OriginScheduled:
	default:
		return action.Request{}, errors.New(`origin must be "manual" or "scheduled"`)
	}

	if d.DelaySeconds < 0 || d.DelaySeconds > maxDelaySeconds {
		return action.Request{}, errors.New("delay_seconds must be between 0 and 3600")
	}

	req := action.NewRequest(strings.TrimSpace(d.Resource), kind, origin)
	req.Delay = time.Duration(d.DelaySeconds) * time.Second
	req.OnlyIfRunning = d.OnlyIfRunning
	req.FeedbackTarget = d.FeedbackTarget
	req.Silent = d.Silent
	return req, nil
}

// handleDispatch submits a manual or scheduled request. Only the protected
// check applies. A denied request answers 200 with the SKIPPED outcome; an
// accepted one answers 202, or 200 with the outcome when wait is set and it
// resolves in time.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var body dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	d, err := s.orchestrator.DispatchManual(req)
	if err != nil {
		switch {
		case errors.Is(err, automation.ErrInvalidAction):
			writeValidationError(w, err.Error())
		case errors.Is(err, dispatch.ErrStopped):
			writeUnavailable(w, "dispatch queue stopped")
		default:
			s.logger.Error("manual dispatch failed", "error", err)
			writeInternalError(w, "failed to submit dispatch")
		}
		return
	}

	s.audit.Record(r.Context(), audit.ActionDispatch, audit.EntityDispatch, d.Request.Resource, audit.SourceAPI, map[string]any{
		"request_id":    d.Request.ID,
		"action":        d.Request.Kind,
		"origin":        d.Request.RuleID,
		"delay_seconds": body.DelaySeconds,
		"denied":        d.Denied != nil,
	})

	if d.Denied != nil {
		writeJSON(w, http.StatusOK, map[string]any{"request": d.Request, "outcome": d.Denied})
		return
	}

	if body.Wait {
		wait := maxWait
		if d.Request.Delay > 0 {
			wait = min(maxWait, d.Request.Delay+maxWait/2)
		}
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()

		if o, err := d.Future.Wait(ctx); err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"request": d.Request, "outcome": o})
			return
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"request": d.Request, "status": "pending"})
}

// handleCancelDispatch cancels a delayed or queued request.
func (s *Server) handleCancelDispatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid request ID")
		return
	}

	if err := s.queue.Cancel(id); err != nil {
		switch {
		case errors.Is(err, dispatch.ErrUnknownRequest):
			writeNotFound(w, "request not found")
		case errors.Is(err, dispatch.ErrNotCancellable):
			writeConflict(w, "request is already running or complete")
		default:
			writeInternalError(w, "failed to cancel request")
		}
		return
	}

	s.audit.Record(r.Context(), audit.ActionCancel, audit.EntityDispatch, id, audit.SourceAPI, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleListPending returns delayed and queued requests with queue stats.
func (s *Server) handleListPending(w http.ResponseWriter, _ *http.Request) {
	pending := s.queue.Pending()
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"count":   len(pending),
		"stats":   s.queue.Stats(),
	})
}

// handleDescribeResource reports what the actuator knows about a resource.
func (s *Server) handleDescribeResource(w http.ResponseWriter, r *http.Request) {
	if s.actuator == nil {
		writeUnavailable(w, "actuator not configured")
		return
	}
	name := chi.URLParam(r, "name")
	if name == "" || len(name) > maxQueryParamLen {
		writeBadRequest(w, "invalid resource name")
		return
	}

	info, err := s.actuator.Describe(r.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, actuator.ErrNotFound):
			writeNotFound(w, "resource not found")
		case errors.Is(err, actuator.ErrUnavailable):
			writeUnavailable(w, err.Error())
		default:
			s.logger.Error("describe resource failed", "resource", name, "error", err)
			writeInternalError(w, "failed to describe resource")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"resource":  info,
		"protected": s.safety.IsProtected(name),
	})
}
