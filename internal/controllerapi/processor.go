package controllerapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentrelay/agentrelay/internal/approval"
	"github.com/agentrelay/agentrelay/internal/eventbus"
	"github.com/agentrelay/agentrelay/internal/eventproto"
	"github.com/agentrelay/agentrelay/internal/jobstore"
	"github.com/agentrelay/agentrelay/internal/queue"
)

// QueueCompleter is the narrow surface the processor needs against the job
// queue: freeing the concurrency slot once a runner event marks a job
// terminal.
type QueueCompleter interface {
	MarkCompleted(jobID string)
}

// JobProcessor is the controller's default EventProcessor: the durable,
// chat-independent half of runner event handling. It updates Job phase,
// token counters, and the approval broker's pending table, then frees the
// queue's concurrency slot on terminal events. Modeled on the reference
// implementation's per-event-type dispatch (progress.py's `_on_<event_type>`
// methods), generalized from "post to chat" effects to "mutate durable
// state" effects — the chat-facing rendering of the same events is a
// separate concern (internal/chatops).
type JobProcessor struct {
	store  *jobstore.Store
	queue  QueueCompleter
	broker *approval.Broker
	bus    *eventbus.Bus
}

// NewJobProcessor creates a JobProcessor.
func NewJobProcessor(store *jobstore.Store, q QueueCompleter, broker *approval.Broker, bus *eventbus.Bus) *JobProcessor {
	return &JobProcessor{store: store, queue: q, broker: broker, bus: bus}
}

// Process implements EventProcessor.
func (p *JobProcessor) Process(ctx context.Context, env eventproto.Envelope) error {
	job, err := p.store.Load(env.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", env.JobID, err)
	}
	if env.Seq > job.LastSeq {
		job.LastSeq = env.Seq
	}

	terminal, lifecycle := p.applyEvent(job, env)

	if err := p.store.Save(job); err != nil {
		return fmt.Errorf("save job %s: %w", env.JobID, err)
	}

	if terminal && p.queue != nil {
		p.queue.MarkCompleted(env.JobID)
	}
	if lifecycle != "" && p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: lifecycle, Job: job})
	}
	return nil
}

// applyEvent mutates job in place per env's type and reports whether the
// job reached a terminal phase, plus the lifecycle bus event (if any) to
// publish for the chat front-end.
func (p *JobProcessor) applyEvent(job *jobstore.Job, env eventproto.Envelope) (terminal bool, lifecycle eventbus.Type) {
	switch env.EventType {
	case eventproto.ApprovalNeeded:
		var data eventproto.ApprovalNeededData
		decodeData(env.Data, &data)
		job.Phase = jobstore.PhaseWaitingApproval
		if p.broker != nil {
			p.broker.RegisterPending(job.JobID, data.ToolUseID, data.ToolName, job.ChannelID, job.ThreadTS)
		}

	case eventproto.ApprovalTimeout:
		var data eventproto.ApprovalTimeoutData
		decodeData(env.Data, &data)
		job.Phase = jobstore.PhaseRunning
		if p.broker != nil {
			p.broker.Clear(job.JobID)
		}

	case eventproto.WaitingInput:
		job.Phase = jobstore.PhaseWaitingInput

	case eventproto.AssistantResponse:
		var data eventproto.AssistantResponseData
		decodeData(env.Data, &data)
		job.Phase = jobstore.PhaseRunning
		job.AgentIteration = data.NumTurns

	case eventproto.TokenUsage:
		var data eventproto.TokenUsageData
		decodeData(env.Data, &data)
		job.InputTokens += data.InputTokens
		job.OutputTokens += data.OutputTokens

	case eventproto.Completed:
		var data eventproto.CompletedData
		decodeData(env.Data, &data)
		if data.Status == eventproto.StatusCancelled {
			job.Phase = jobstore.PhaseCancelled
			lifecycle = eventbus.JobCancelled
		} else {
			job.Phase = jobstore.PhaseDone
			lifecycle = eventbus.JobDone
		}
		terminal = true

	case eventproto.Failed:
		var data eventproto.FailedData
		decodeData(env.Data, &data)
		job.Phase = jobstore.PhaseFailed
		job.Error = data.Error
		terminal = true
		lifecycle = eventbus.JobFailed

	case eventproto.SessionEnded:
		job.Phase = jobstore.PhaseDone
		terminal = true
		lifecycle = eventbus.JobDone

	default:
		// progress / thinking / tool_call / tool_result are display-only —
		// nothing durable to update beyond last_seq, already applied above.
	}
	return terminal, lifecycle
}

// decodeData re-marshals a generic any (a map[string]any after JSON
// unmarshal into Envelope.Data) into a concrete Data struct. Best-effort:
// malformed data leaves out the zero value rather than failing the whole
// event, matching the "forward-compatible, never fatal" event contract.
func decodeData(raw any, out any) {
	b, err := json.Marshal(raw)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, out)
}
