// Package session implements the runner's Session Supervisor: one goroutine
// per job hosting the LLM conversation, the approval rendezvous that gates
// dangerous tool calls, the follow-up message queue that keeps a persistent
// session alive between turns, and the cooperative cancel/end flags the
// HTTP control surface signals into a running loop.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/internal/eventproto"
	"github.com/agentrelay/agentrelay/internal/jobstore"
	"github.com/agentrelay/agentrelay/internal/llm"
	"github.com/agentrelay/agentrelay/internal/logging"
)

// Status mirrors the runner-side session lifecycle from the data model.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusWaitingApproval Status = "waiting_approval"
	StatusWaitingInput    Status = "waiting_input"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// defaultDangerousTools require approval before the permission callback
// allows them; Options.DangerousTools replaces the set at construction so a
// deployment can widen or narrow it.
var defaultDangerousTools = map[string]bool{"Bash": true, "Write": true, "Edit": true}

const defaultApprovalTimeout = 600 * time.Second

// PendingApproval mirrors a tool call parked waiting on a human decision.
type PendingApproval struct {
	ToolUseID string
	ToolName  string
	ToolInput map[string]any
}

// EventSink delivers one event envelope to the controller. Implementations
// typically POST to /events with retry; local JSONL logging happens
// independently in Session.emit regardless of sink success.
type EventSink interface {
	Send(ctx context.Context, env eventproto.Envelope) error
}

type approvalDecision struct {
	approved bool
}

// Session is the in-memory, runner-side state for one job. Kept in the
// Supervisor's registry by job ID even after termination, until process
// exit.
type Session struct {
	jobID           string
	goal            string
	model           string
	maxTurns        int
	approvalTimeout time.Duration
	dangerousTools  map[string]bool

	driver llm.Driver
	sink   EventSink
	store  *jobstore.Store

	mu              sync.Mutex
	status          Status
	iteration       int
	resultText      string
	approvedTools   map[string]bool
	pendingApproval *PendingApproval
	approvalCh      chan approvalDecision
	followups       []string
	cancelRequested bool
	endRequested    bool

	wake chan struct{}
	done chan struct{}

	seqMu sync.Mutex
	seq   uint64
}

// Options configures a new Session.
type Options struct {
	JobID           string
	Goal            string
	Model           string
	MaxTurns        int
	ApprovalTimeout time.Duration
	DangerousTools  map[string]bool
}

func newSession(driver llm.Driver, sink EventSink, store *jobstore.Store, opts Options) *Session {
	timeout := opts.ApprovalTimeout
	if timeout <= 0 {
		timeout = defaultApprovalTimeout
	}
	dangerous := opts.DangerousTools
	if dangerous == nil {
		dangerous = defaultDangerousTools
	}
	return &Session{
		jobID:           opts.JobID,
		goal:            opts.Goal,
		model:           opts.Model,
		maxTurns:        opts.MaxTurns,
		approvalTimeout: timeout,
		dangerousTools:  dangerous,
		driver:          driver,
		sink:            sink,
		store:           store,
		status:          StatusPending,
		approvedTools:   make(map[string]bool),
		wake:            make(chan struct{}, 1),
		done:            make(chan struct{}),
	}
}

// Snapshot is the read-only view returned by the runner's status endpoint.
type Snapshot struct {
	JobID           string
	Status          Status
	Iteration       int
	MaxTurns        int
	Model           string
	ResultText      string
	PendingApproval *PendingApproval
}

// Snapshot returns the current state for the status endpoint.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		JobID:           s.jobID,
		Status:          s.status,
		Iteration:       s.iteration,
		MaxTurns:        s.maxTurns,
		Model:           s.model,
		ResultText:      s.resultText,
		PendingApproval: s.pendingApproval,
	}
}

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsTerminal reports whether the session has reached a status from which it
// never transitions again.
func (st Status) IsTerminal() bool {
	switch st {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the session's main loop returns.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Session) setResultText(text string) {
	s.mu.Lock()
	s.resultText = text
	s.mu.Unlock()
}

func (s *Session) currentIteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iteration
}

func (s *Session) bumpIteration() int {
	s.mu.Lock()
	s.iteration++
	n := s.iteration
	s.mu.Unlock()
	return n
}

// Approve grants a pending tool call. Returns false unless the pending
// call's tool_use_id matches — a duplicate or stale decision is a benign
// no-op. If autoApproveTool is set, the tool name is added to the
// session's approved set BEFORE the rendezvous is woken, so a racing
// re-check of the same tool inside the callback always observes it.
func (s *Session) Approve(toolUseID string, autoApproveTool bool) bool {
	s.mu.Lock()
	if s.pendingApproval == nil || s.pendingApproval.ToolUseID != toolUseID {
		s.mu.Unlock()
		return false
	}
	if autoApproveTool {
		s.approvedTools[s.pendingApproval.ToolName] = true
	}
	ch := s.approvalCh
	s.mu.Unlock()
	sendDecision(ch, approvalDecision{approved: true})
	return true
}

// Deny refuses a pending tool call. Symmetric to Approve.
func (s *Session) Deny(toolUseID string) bool {
	s.mu.Lock()
	if s.pendingApproval == nil || s.pendingApproval.ToolUseID != toolUseID {
		s.mu.Unlock()
		return false
	}
	ch := s.approvalCh
	s.mu.Unlock()
	sendDecision(ch, approvalDecision{approved: false})
	return true
}

// AddMessage queues a follow-up message, to be delivered as the next user
// turn once the session reaches waiting_input (or immediately, if it is
// already parked there).
func (s *Session) AddMessage(text string) {
	s.mu.Lock()
	s.followups = append(s.followups, text)
	s.mu.Unlock()
	s.signal()
}

// Cancel requests cancellation. If a tool call is currently parked waiting
// on approval, it is woken with a denial so the loop can observe
// cancelRequested at the next check.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelRequested = true
	ch := s.approvalCh
	s.mu.Unlock()
	sendDecision(ch, approvalDecision{approved: false})
	s.signal()
}

// End requests a graceful end of the persistent session.
func (s *Session) End() {
	s.mu.Lock()
	s.endRequested = true
	ch := s.approvalCh
	s.mu.Unlock()
	sendDecision(ch, approvalDecision{approved: false})
	s.signal()
}

func sendDecision(ch chan approvalDecision, d approvalDecision) {
	if ch == nil {
		return
	}
	select {
	case ch <- d:
	default:
	}
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// popFollowup returns the head of the follow-up queue, if any.
func (s *Session) popFollowup() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.followups) == 0 {
		return "", false
	}
	msg := s.followups[0]
	s.followups = s.followups[1:]
	return msg, true
}

// waitForMessage blocks until a follow-up arrives or cancel/end is
// requested, polling the wake channel rather than sleeping so AddMessage,
// Cancel and End all take effect immediately.
func (s *Session) waitForMessage(ctx context.Context) (string, bool) {
	for {
		if msg, ok := s.popFollowup(); ok {
			return msg, true
		}
		s.mu.Lock()
		stop := s.cancelRequested || s.endRequested
		s.mu.Unlock()
		if stop {
			return "", false
		}
		select {
		case <-s.wake:
		case <-ctx.Done():
			return "", false
		}
	}
}

func (s *Session) flags() (cancel, end bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested, s.endRequested
}

// emit stamps env with job ID, timestamp and a monotone sequence number,
// appends it to the local JSONL log (best-effort), and forwards it to the
// sink. Sink failures are logged, never fatal — at-least-once delivery is
// upheld by the sink's own retry, not by this method. The local log write
// happens regardless of sink outcome: a controller that is down or
// unreachable must never cost the session its own history.
func (s *Session) emit(ctx context.Context, t eventproto.Type, data any) {
	s.seqMu.Lock()
	s.seq++
	seq := s.seq
	s.seqMu.Unlock()

	env := eventproto.Envelope{
		JobID:     s.jobID,
		EventType: t,
		Timestamp: time.Now().UTC(),
		Seq:       seq,
		Data:      data,
	}

	if s.store != nil {
		if line, err := json.Marshal(env); err != nil {
			logging.Warn().Err(err).Str("job_id", s.jobID).Msg("session: marshal event for local log")
		} else if err := s.store.AppendEventLog(s.jobID, line); err != nil {
			logging.Warn().Err(err).Str("job_id", s.jobID).Msg("session: append local event log")
		}
	}

	if s.sink != nil {
		if err := s.sink.Send(ctx, env); err != nil {
			logging.Warn().Err(err).Str("job_id", s.jobID).Str("event_type", string(t)).Msg("session: deliver event to controller")
		}
	}
}

func toolUseID(jobID string, iteration int, toolName string) string {
	return fmt.Sprintf("sdk-%s-%d-%s", jobID, iteration, toolName)
}
