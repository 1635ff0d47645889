package runnerapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentrelay/agentrelay/internal/session"
)

// CallbackRegistrar is implemented by the concrete session.EventSink so a
// per-job callback_url (carried on the start request, per §4.6) can be
// resolved back out when an event for that job is delivered. Optional: a
// sink that serves a single, fixed controller address need not implement
// it.
type CallbackRegistrar interface {
	RegisterCallback(jobID, url string)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "runner"})
}

type startRequest struct {
	Goal            string `json:"goal"`
	CallbackURL     string `json:"callback_url"`
	Model           string `json:"model"`
	MaxTurns        int    `json:"max_turns"`
	ApprovalTimeout int    `json:"approval_timeout"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Goal == "" {
		writeError(w, http.StatusBadRequest, "goal is required")
		return
	}

	if req.CallbackURL != "" && s.registrar != nil {
		s.registrar.RegisterCallback(jobID, req.CallbackURL)
	}

	opts := session.Options{
		JobID:    jobID,
		Goal:     req.Goal,
		Model:    req.Model,
		MaxTurns: req.MaxTurns,
	}
	if req.ApprovalTimeout > 0 {
		opts.ApprovalTimeout = time.Duration(req.ApprovalTimeout) * time.Second
	}

	// The session outlives this request: net/http cancels r.Context() as
	// soon as the handler returns.
	sess, err := s.supervisor.Start(context.WithoutCancel(r.Context()), opts)
	if err != nil {
		if err == session.ErrAlreadyRunning {
			writeError(w, http.StatusConflict, "session already running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"status": "started",
		"model":  sess.Snapshot().Model,
	})
}

type approveRequest struct {
	ToolUseID       string `json:"tool_use_id"`
	Approved        bool   `json:"approved"`
	AutoApproveTool bool   `json:"auto_approve_tool"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	sess, ok := s.supervisor.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "no session for job")
		return
	}

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var matched bool
	if req.Approved {
		matched = sess.Approve(req.ToolUseID, req.AutoApproveTool)
	} else {
		matched = sess.Deny(req.ToolUseID)
	}
	if !matched {
		writeError(w, http.StatusBadRequest, "no matching pending approval")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "approved": req.Approved})
}

type messageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	sess, ok := s.supervisor.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "no session for job")
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	sess.AddMessage(req.Message)
	writeJSON(w, http.StatusOK, map[string]string{"status": "message_added"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	sess, ok := s.supervisor.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "no session for job")
		return
	}
	sess.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancel_requested"})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	sess, ok := s.supervisor.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "no session for job")
		return
	}
	sess.End()
	writeJSON(w, http.StatusOK, map[string]string{"status": "end_requested"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	sess, ok := s.supervisor.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "no session for job")
		return
	}

	snap := sess.Snapshot()
	body := map[string]any{
		"job_id":      snap.JobID,
		"status":      snap.Status,
		"iteration":   snap.Iteration,
		"max_turns":   snap.MaxTurns,
		"model":       snap.Model,
		"result_text": snap.ResultText,
	}
	if snap.PendingApproval != nil {
		body["pending_approval"] = map[string]string{
			"tool_use_id": snap.PendingApproval.ToolUseID,
			"tool_name":   snap.PendingApproval.ToolName,
		}
	}
	writeJSON(w, http.StatusOK, body)
}
