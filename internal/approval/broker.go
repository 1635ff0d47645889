// Package approval implements the controller-side Approval Broker: it owns
// the single pending-approval-per-job table and converts a human decision
// (button click or typed vocabulary) into a runner RPC plus a chat UI
// update.
package approval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentrelay/agentrelay/internal/jobstore"
)

// approveWords and denyWords are the recognized free-text decision
// vocabularies for a thread reply, matched case-insensitively after
// trimming whitespace.
var (
	approveWords = map[string]bool{"yes": true, "y": true, "approve": true, "ok": true, "go": true}
	denyWords    = map[string]bool{"no": true, "n": true, "deny": true, "reject": true, "stop": true}
)

// Pending mirrors a tool call parked in the runner's permission callback,
// waiting on a human decision.
type Pending struct {
	JobID     string
	ToolUseID string
	ToolName  string
	ChannelID string
	ThreadTS  string
}

// RunnerClient is the narrow RPC surface the broker needs against the
// runner; the controller's real implementation lives in
// internal/controllerapi.
type RunnerClient interface {
	Approve(ctx context.Context, jobID, toolUseID string, approved, autoApproveTool bool) error
}

// ChatBridge is the narrow surface the broker needs against the chat
// front-end to reflect a decision in the UI.
type ChatBridge interface {
	UpdateMessage(ctx context.Context, channelID, messageTS, text string) error
	PostMessage(ctx context.Context, channelID, threadTS, text string) error
}

// Broker owns the PendingApproval table. Table accesses are serialized by
// a single lock held only across the table mutation itself; the outbound
// RPC and chat UI edit happen after the lock is released.
type Broker struct {
	mu      sync.Mutex
	pending map[string]Pending // job_id -> entry

	runner RunnerClient
	bridge ChatBridge
	store  *jobstore.Store
}

// New creates a Broker.
func New(runner RunnerClient, bridge ChatBridge, store *jobstore.Store) *Broker {
	return &Broker{
		pending: make(map[string]Pending),
		runner:  runner,
		bridge:  bridge,
		store:   store,
	}
}

// RegisterPending installs a pending entry for job_id, overwriting any
// prior entry. Must be called before HandleApprove/HandleDeny/
// HandleTextReply can match for this job.
func (b *Broker) RegisterPending(jobID, toolUseID, toolName, channelID, threadTS string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[jobID] = Pending{
		JobID:     jobID,
		ToolUseID: toolUseID,
		ToolName:  toolName,
		ChannelID: channelID,
		ThreadTS:  threadTS,
	}
}

// GetPending returns the pending approval for a job, if any.
func (b *Broker) GetPending(jobID string) (Pending, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[jobID]
	return p, ok
}

// HandleApprove approves a pending tool call if its tool_use_id matches the
// entry on file for job_id. Returns whether a match was found and
// processed; duplicate clicks after the first are benign no-ops.
func (b *Broker) HandleApprove(ctx context.Context, jobID, toolUseID string, autoAll bool, messageTS string) (bool, error) {
	pending, ok := b.consume(jobID, toolUseID)
	if !ok {
		return false, nil
	}

	if err := b.runner.Approve(ctx, jobID, toolUseID, true, autoAll); err != nil {
		return true, fmt.Errorf("approve via runner: %w", err)
	}

	if autoAll && b.store != nil {
		if job, err := b.store.Load(jobID); err == nil {
			job.AddApprovedTool(pending.ToolName)
			_ = b.store.Save(job)
		}
	}

	b.updateDecisionMessage(ctx, pending, true, autoAll, messageTS)
	return true, nil
}

// HandleDeny is symmetric to HandleApprove.
func (b *Broker) HandleDeny(ctx context.Context, jobID, toolUseID string, messageTS string) (bool, error) {
	pending, ok := b.consume(jobID, toolUseID)
	if !ok {
		return false, nil
	}

	if err := b.runner.Approve(ctx, jobID, toolUseID, false, false); err != nil {
		return true, fmt.Errorf("deny via runner: %w", err)
	}

	b.updateDecisionMessage(ctx, pending, false, false, messageTS)
	return true, nil
}

// HandleTextReply matches a lower-cased, trimmed thread reply against the
// approve/deny vocabularies. Returns false if it matches neither — the
// caller is then free to forward the text as a follow-up message.
func (b *Broker) HandleTextReply(ctx context.Context, jobID, text string) (bool, error) {
	pending, ok := b.GetPending(jobID)
	if !ok {
		return false, nil
	}

	normalized := strings.ToLower(strings.TrimSpace(text))
	switch {
	case approveWords[normalized]:
		return b.HandleApprove(ctx, jobID, pending.ToolUseID, false, "")
	case denyWords[normalized]:
		return b.HandleDeny(ctx, jobID, pending.ToolUseID, "")
	default:
		return false, nil
	}
}

// Clear unconditionally removes any pending entry for job_id, used when the
// runner emits approval_timeout.
func (b *Broker) Clear(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, jobID)
}

// consume removes and returns the pending entry for jobID iff its
// tool_use_id matches.
func (b *Broker) consume(jobID, toolUseID string) (Pending, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending, ok := b.pending[jobID]
	if !ok || pending.ToolUseID != toolUseID {
		return Pending{}, false
	}
	delete(b.pending, jobID)
	return pending, true
}

func (b *Broker) updateDecisionMessage(ctx context.Context, pending Pending, approved, autoAll bool, messageTS string) {
	if b.bridge == nil {
		return
	}

	var text string
	if approved {
		suffix := ""
		if autoAll {
			suffix = " (all future calls)"
		}
		text = fmt.Sprintf(":white_check_mark: `%s` — *Approved*%s", pending.ToolName, suffix)
	} else {
		text = fmt.Sprintf(":no_entry_sign: `%s` — *Denied*", pending.ToolName)
	}

	if messageTS != "" {
		_ = b.bridge.UpdateMessage(ctx, pending.ChannelID, messageTS, text)
	} else {
		_ = b.bridge.PostMessage(ctx, pending.ChannelID, pending.ThreadTS, text)
	}
}
