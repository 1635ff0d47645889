package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/internal/eventproto"
	"github.com/agentrelay/agentrelay/internal/jobstore"
	"github.com/agentrelay/agentrelay/internal/llm"
	"github.com/agentrelay/agentrelay/internal/logging"
)

// Supervisor owns the process-wide session registry and knows how to start
// new sessions against a concrete llm.Driver.
type Supervisor struct {
	driver llm.Driver
	sink   EventSink
	store  *jobstore.Store

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates a Supervisor.
func New(driver llm.Driver, sink EventSink, store *jobstore.Store) *Supervisor {
	return &Supervisor{
		driver:   driver,
		sink:     sink,
		store:    store,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for a job, if the runner has ever seen it this
// process lifetime.
func (sv *Supervisor) Get(jobID string) (*Session, bool) {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	s, ok := sv.sessions[jobID]
	return s, ok
}

// ErrAlreadyRunning is returned by Start when a session for jobID already
// exists and is not in a terminal state. Per the kept Open Question 1
// behavior, a second start on a job whose prior session DID terminate is
// accepted and replaces the registry entry.
var ErrAlreadyRunning = fmt.Errorf("session already running")

// Start creates and launches a new Session for opts.JobID, registering it
// in the shared map and running its main loop on a new goroutine. Returns
// ErrAlreadyRunning if an existing, non-terminal session occupies the slot.
func (sv *Supervisor) Start(ctx context.Context, opts Options) (*Session, error) {
	sv.mu.Lock()
	if existing, ok := sv.sessions[opts.JobID]; ok && !existing.Status().IsTerminal() {
		sv.mu.Unlock()
		return nil, ErrAlreadyRunning
	}

	s := newSession(sv.driver, sv.sink, sv.store, opts)
	sv.sessions[opts.JobID] = s
	sv.mu.Unlock()

	go s.run(ctx)
	return s, nil
}

// run is the main loop: submit the goal, stream events, gate tool calls on
// approval, and park on follow-ups between turns until cancel, end, or a
// terminal LLM result.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	s.setStatus(StatusRunning)
	s.emit(ctx, eventproto.Progress, eventproto.ProgressData{Message: "Agent started", Iteration: 0})

	llmSess, err := s.driver.Start(ctx, llm.SessionOptions{
		Goal:         s.goal,
		Model:        s.model,
		MaxTurns:     s.maxTurns,
		OnPermission: s.checkPermission,
	})
	if err != nil {
		s.setStatus(StatusFailed)
		s.setResultText(err.Error())
		s.emit(ctx, eventproto.Failed, eventproto.FailedData{Error: err.Error()})
		return
	}
	defer llmSess.Close()

	s.loop(ctx, llmSess)
}

func (s *Session) loop(ctx context.Context, llmSess llm.Session) {
	for {
		select {
		case msg, ok := <-llmSess.Messages():
			if !ok {
				return
			}
			if s.interruptIfRequested(ctx, llmSess) {
				return
			}
			if s.handleMessage(ctx, llmSess, msg) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// interruptIfRequested checks the cooperative cancel/end flags before each
// streamed event is processed, matching the reference loop's per-event
// check. Cancellation never interrupts a tool call already in flight; it
// takes effect at the next event boundary.
func (s *Session) interruptIfRequested(ctx context.Context, llmSess llm.Session) bool {
	cancel, end := s.flags()
	switch {
	case cancel:
		_ = llmSess.Interrupt(ctx)
		s.setStatus(StatusCancelled)
		s.emit(ctx, eventproto.Completed, eventproto.CompletedData{
			Status:  eventproto.StatusCancelled,
			Message: "Agent cancelled by user",
		})
		return true
	case end:
		_ = llmSess.Interrupt(ctx)
		s.setStatus(StatusCompleted)
		s.emit(ctx, eventproto.SessionEnded, eventproto.SessionEndedData{Message: "Session ended by user"})
		return true
	default:
		return false
	}
}

// handleMessage processes one streamed llm.Message and returns whether the
// loop should stop.
func (s *Session) handleMessage(ctx context.Context, llmSess llm.Session, msg llm.Message) bool {
	switch msg.Kind {
	case llm.KindText:
		if strings.TrimSpace(msg.Text) == "" {
			return false
		}
		n := s.bumpIteration()
		s.emit(ctx, eventproto.Progress, eventproto.ProgressData{Message: truncate(msg.Text, 2000), Iteration: n})
		return false

	case llm.KindThinking:
		s.emit(ctx, eventproto.Thinking, eventproto.ThinkingData{
			Iteration: s.currentIteration(),
			Snippet:   truncate(msg.Text, 500),
		})
		return false

	case llm.KindToolUse:
		s.emit(ctx, eventproto.ToolCall, eventproto.ToolCallData{
			ToolName:  msg.ToolName,
			ToolInput: eventproto.SummarizeToolInput(msg.ToolName, msg.ToolInput),
			ToolUseID: msg.ToolUseID,
		})
		return false

	case llm.KindToolResult:
		s.emit(ctx, eventproto.ToolResult, eventproto.ToolResultData{
			ToolUseID:     msg.ResultToolUseID,
			ResultPreview: eventproto.SummarizeResult(msg.ResultPreview),
		})
		return false

	case llm.KindResult:
		return s.handleResult(ctx, llmSess, msg)

	default:
		logging.Warn().Str("job_id", s.jobID).Str("kind", string(msg.Kind)).Msg("session: unknown message kind, dropped")
		return false
	}
}

func (s *Session) handleResult(ctx context.Context, llmSess llm.Session, msg llm.Message) bool {
	if msg.IsError {
		s.setStatus(StatusFailed)
		errText := msg.ResultText
		if errText == "" {
			errText = "Unknown error"
		}
		s.setResultText(errText)
		s.emit(ctx, eventproto.Failed, eventproto.FailedData{Error: errText})
		return true
	}

	result := truncate(msg.ResultText, 2000)
	s.setResultText(result)
	s.emit(ctx, eventproto.AssistantResponse, eventproto.AssistantResponseData{
		Message:      result,
		NumTurns:     msg.NumTurns,
		DurationMS:   msg.DurationMS,
		TotalCostUSD: msg.TotalCostUSD,
	})
	if msg.InputTokens > 0 || msg.OutputTokens > 0 {
		s.emit(ctx, eventproto.TokenUsage, eventproto.TokenUsageData{
			InputTokens:  msg.InputTokens,
			OutputTokens: msg.OutputTokens,
			Iteration:    s.currentIteration(),
		})
	}

	if next, ok := s.popFollowup(); ok {
		s.setStatus(StatusRunning)
		if err := llmSess.Send(ctx, next); err != nil {
			s.setStatus(StatusFailed)
			s.setResultText(err.Error())
			s.emit(ctx, eventproto.Failed, eventproto.FailedData{Error: err.Error()})
			return true
		}
		return false
	}

	s.setStatus(StatusWaitingInput)
	s.emit(ctx, eventproto.WaitingInput, eventproto.WaitingInputData{})

	next, ok := s.waitForMessage(ctx)
	if !ok {
		cancel, _ := s.flags()
		if cancel {
			s.setStatus(StatusCancelled)
			s.emit(ctx, eventproto.Completed, eventproto.CompletedData{
				Status:  eventproto.StatusCancelled,
				Message: "Agent cancelled by user",
			})
		} else {
			s.setStatus(StatusCompleted)
			s.emit(ctx, eventproto.SessionEnded, eventproto.SessionEndedData{Message: "Session ended by user"})
		}
		return true
	}

	s.setStatus(StatusRunning)
	if err := llmSess.Send(ctx, next); err != nil {
		s.setStatus(StatusFailed)
		s.setResultText(err.Error())
		s.emit(ctx, eventproto.Failed, eventproto.FailedData{Error: err.Error()})
		return true
	}
	return false
}

// checkPermission is the driver-facing permission callback: auto-allow
// safe tools and already-approved ones, otherwise park a pending approval
// and wait on the rendezvous up to the session's approval timeout.
func (s *Session) checkPermission(ctx context.Context, toolName string, toolInput map[string]any) llm.PermissionDecision {
	s.mu.Lock()
	if !s.dangerousTools[toolName] {
		s.mu.Unlock()
		return llm.Allowed()
	}
	if s.approvedTools[toolName] {
		s.mu.Unlock()
		return llm.Allowed()
	}

	id := toolUseID(s.jobID, s.iteration, toolName)
	respCh := make(chan approvalDecision, 1)
	s.pendingApproval = &PendingApproval{ToolUseID: id, ToolName: toolName, ToolInput: toolInput}
	s.approvalCh = respCh
	s.status = StatusWaitingApproval
	s.mu.Unlock()

	s.emit(ctx, eventproto.ApprovalNeeded, eventproto.ApprovalNeededData{
		ToolUseID: id,
		ToolName:  toolName,
		ToolInput: eventproto.SummarizeToolInput(toolName, toolInput),
	})

	select {
	case decision := <-respCh:
		s.clearPendingApproval()
		if cancel, _ := s.flags(); cancel {
			return llm.Denied("Agent cancelled by user.")
		}
		if !decision.approved {
			return llm.Denied(fmt.Sprintf("Tool call '%s' was denied by the user.", toolName))
		}
		return llm.Allowed()

	case <-time.After(s.approvalTimeout):
		s.clearPendingApproval()
		timeoutSeconds := int(s.approvalTimeout.Seconds())
		s.emit(ctx, eventproto.ApprovalTimeout, eventproto.ApprovalTimeoutData{
			ToolUseID: id,
			ToolName:  toolName,
			Timeout:   timeoutSeconds,
		})
		return llm.Denied(fmt.Sprintf(
			"Tool call '%s' was denied automatically — approval timed out after %d seconds.",
			toolName, timeoutSeconds,
		))

	case <-ctx.Done():
		s.clearPendingApproval()
		return llm.Denied("Agent cancelled by user.")
	}
}

func (s *Session) clearPendingApproval() {
	s.mu.Lock()
	s.pendingApproval = nil
	s.approvalCh = nil
	s.status = StatusRunning
	s.mu.Unlock()
}

func truncate(str string, n int) string {
	if len(str) <= n {
		return str
	}
	return str[:n]
}
