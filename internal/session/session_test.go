package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/internal/eventproto"
	"github.com/agentrelay/agentrelay/internal/llm/fake"
)

type recordingSink struct {
	mu   sync.Mutex
	envs []eventproto.Envelope
}

func (r *recordingSink) Send(ctx context.Context, env eventproto.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return nil
}

func (r *recordingSink) hasType(t eventproto.Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.envs {
		if e.EventType == t {
			return true
		}
	}
	return false
}

func (r *recordingSink) countType(t eventproto.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.envs {
		if e.EventType == t {
			n++
		}
	}
	return n
}

func waitForStatus(t *testing.T, s *Session, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Status() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, want, s.Status(), "status did not converge")
}

func TestHappyPathReachesWaitingInputThenEnds(t *testing.T) {
	script := &fake.Script{Fallback: "done thinking"}
	sv := New(fake.New(script), &recordingSink{}, nil)

	s, err := sv.Start(context.Background(), Options{JobID: "J1", Goal: "say hello", ApprovalTimeout: time.Second})
	require.NoError(t, err)

	waitForStatus(t, s, StatusWaitingInput, 2*time.Second)

	s.End()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	assert.Equal(t, StatusCompleted, s.Status())
}

func TestApprovalNeededThenApproveAllowsTool(t *testing.T) {
	script := &fake.Script{
		Turns: []fake.Turn{
			{
				Match:             fake.MatchConfig{Contains: "delete"},
				ToolName:          "Bash",
				ToolInput:         map[string]any{"command": "rm file"},
				ToolResultPreview: "removed",
				Result:            "Deleted the file.",
			},
		},
	}
	sink := &recordingSink{}
	sv := New(fake.New(script), sink, nil)

	s, err := sv.Start(context.Background(), Options{JobID: "J2", Goal: "please delete the scratch file", ApprovalTimeout: 5 * time.Second})
	require.NoError(t, err)

	waitForStatus(t, s, StatusWaitingApproval, 2*time.Second)
	snap := s.Snapshot()
	require.NotNil(t, snap.PendingApproval)
	assert.Equal(t, "Bash", snap.PendingApproval.ToolName)

	ok := s.Approve(snap.PendingApproval.ToolUseID, false)
	assert.True(t, ok)

	waitForStatus(t, s, StatusWaitingInput, 2*time.Second)
	assert.True(t, sink.hasType(eventproto.ApprovalNeeded))
	assert.True(t, sink.hasType(eventproto.ToolResult))
	assert.True(t, sink.hasType(eventproto.AssistantResponse))
}

func TestDenyRefusesTool(t *testing.T) {
	script := &fake.Script{
		Turns: []fake.Turn{
			{
				Match:    fake.MatchConfig{Contains: "rm -rf"},
				ToolName: "Bash",
				Result:   "I will not do that.",
			},
		},
	}
	sink := &recordingSink{}
	sv := New(fake.New(script), sink, nil)

	s, err := sv.Start(context.Background(), Options{JobID: "J3", Goal: "run rm -rf /", ApprovalTimeout: 5 * time.Second})
	require.NoError(t, err)

	waitForStatus(t, s, StatusWaitingApproval, 2*time.Second)
	snap := s.Snapshot()
	ok := s.Deny(snap.PendingApproval.ToolUseID)
	assert.True(t, ok)

	waitForStatus(t, s, StatusWaitingInput, 2*time.Second)

	// Duplicate decision after consumption is a benign no-op.
	assert.False(t, s.Approve(snap.PendingApproval.ToolUseID, false))
}

func TestAutoApproveSkipsSecondApprovalForSameTool(t *testing.T) {
	script := &fake.Script{
		Turns: []fake.Turn{
			{Match: fake.MatchConfig{Contains: "first"}, ToolName: "Bash", Result: "ok1"},
			{Match: fake.MatchConfig{Contains: "second"}, ToolName: "Bash", Result: "ok2"},
		},
	}
	sink := &recordingSink{}
	sv := New(fake.New(script), sink, nil)

	s, err := sv.Start(context.Background(), Options{JobID: "J4", Goal: "run first command", ApprovalTimeout: 5 * time.Second})
	require.NoError(t, err)

	waitForStatus(t, s, StatusWaitingApproval, 2*time.Second)
	snap := s.Snapshot()
	require.True(t, s.Approve(snap.PendingApproval.ToolUseID, true))

	waitForStatus(t, s, StatusWaitingInput, 2*time.Second)
	assert.Equal(t, 1, sink.countType(eventproto.ApprovalNeeded))

	s.AddMessage("second command please")
	require.Eventually(t, func() bool { return sink.countType(eventproto.AssistantResponse) == 2 }, 2*time.Second, time.Millisecond)
	waitForStatus(t, s, StatusWaitingInput, 2*time.Second)

	// No second approval_needed — Bash was auto-approved after the first.
	assert.Equal(t, 1, sink.countType(eventproto.ApprovalNeeded))
	assert.Equal(t, 2, sink.countType(eventproto.AssistantResponse))
}

func TestApprovalTimeoutAutoDenies(t *testing.T) {
	script := &fake.Script{
		Turns: []fake.Turn{
			{Match: fake.MatchConfig{Contains: "slow"}, ToolName: "Bash", Result: "timed out, gave up"},
		},
	}
	sink := &recordingSink{}
	sv := New(fake.New(script), sink, nil)

	s, err := sv.Start(context.Background(), Options{JobID: "J5", Goal: "do the slow thing", ApprovalTimeout: 30 * time.Millisecond})
	require.NoError(t, err)

	waitForStatus(t, s, StatusWaitingInput, 2*time.Second)
	assert.True(t, sink.hasType(eventproto.ApprovalTimeout))
	assert.True(t, sink.hasType(eventproto.ApprovalNeeded))
	assert.False(t, sink.hasType(eventproto.ToolResult))
}

func TestCancelWhileWaitingInputEndsSessionCancelled(t *testing.T) {
	script := &fake.Script{Fallback: "sure"}
	sink := &recordingSink{}
	sv := New(fake.New(script), sink, nil)

	s, err := sv.Start(context.Background(), Options{JobID: "J6", Goal: "hello", ApprovalTimeout: time.Second})
	require.NoError(t, err)

	waitForStatus(t, s, StatusWaitingInput, 2*time.Second)
	s.Cancel()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish after cancel")
	}
	assert.Equal(t, StatusCancelled, s.Status())
	assert.True(t, sink.hasType(eventproto.Completed))
}

func TestFollowUpMessageResumesSession(t *testing.T) {
	script := &fake.Script{
		Turns: []fake.Turn{
			{Match: fake.MatchConfig{Contains: "first"}, Result: "ack one"},
			{Match: fake.MatchConfig{Contains: "second"}, Result: "ack two"},
		},
	}
	sink := &recordingSink{}
	sv := New(fake.New(script), sink, nil)

	s, err := sv.Start(context.Background(), Options{JobID: "J7", Goal: "first message", ApprovalTimeout: time.Second})
	require.NoError(t, err)

	waitForStatus(t, s, StatusWaitingInput, 2*time.Second)
	s.AddMessage("second message")
	require.Eventually(t, func() bool { return sink.countType(eventproto.AssistantResponse) == 2 }, 2*time.Second, time.Millisecond)
	waitForStatus(t, s, StatusWaitingInput, 2*time.Second)

	assert.Equal(t, 2, sink.countType(eventproto.AssistantResponse))
}

func TestStartTwiceWhileRunningIsRejected(t *testing.T) {
	script := &fake.Script{Fallback: "ok"}
	sv := New(fake.New(script), &recordingSink{}, nil)

	s, err := sv.Start(context.Background(), Options{JobID: "J8", Goal: "hello", ApprovalTimeout: time.Second})
	require.NoError(t, err)
	waitForStatus(t, s, StatusWaitingInput, 2*time.Second)

	// Session is non-terminal (waiting_input): a second start must be rejected.
	_, err = sv.Start(context.Background(), Options{JobID: "J8", Goal: "hello again"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	s.End()
	<-s.Done()

	// Terminal now: a second start is accepted and replaces the registry entry.
	s2, err := sv.Start(context.Background(), Options{JobID: "J8", Goal: "hello again", ApprovalTimeout: time.Second})
	require.NoError(t, err)
	assert.NotSame(t, s, s2)
}
