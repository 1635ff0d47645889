package controllerapi

import (
	"context"
	"testing"

	"github.com/agentrelay/agentrelay/internal/approval"
	"github.com/agentrelay/agentrelay/internal/eventbus"
	"github.com/agentrelay/agentrelay/internal/eventproto"
	"github.com/agentrelay/agentrelay/internal/jobstore"
)

type stubRunnerClient struct{}

func (stubRunnerClient) Approve(ctx context.Context, jobID, toolUseID string, approved, autoApproveTool bool) error {
	return nil
}

type stubChatBridge struct{}

func (stubChatBridge) UpdateMessage(ctx context.Context, channelID, messageTS, text string) error {
	return nil
}
func (stubChatBridge) PostMessage(ctx context.Context, channelID, threadTS, text string) error {
	return nil
}

type stubQueueCompleter struct {
	completed []string
}

func (s *stubQueueCompleter) MarkCompleted(jobID string) {
	s.completed = append(s.completed, jobID)
}

func TestProcessApprovalNeededSetsPhaseAndRegistersPending(t *testing.T) {
	store := jobstore.New(t.TempDir())
	job, err := store.Create("goal", "sonnet", "u1", "C1", "T1", 20, "http://runner/cb")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	broker := approval.New(stubRunnerClient{}, stubChatBridge{}, store)
	proc := NewJobProcessor(store, &stubQueueCompleter{}, broker, eventbus.New())

	env := eventproto.Envelope{
		JobID:     job.JobID,
		EventType: eventproto.ApprovalNeeded,
		Data:      eventproto.ApprovalNeededData{ToolUseID: "tu1", ToolName: "Bash"},
		Seq:       1,
	}
	if err := proc.Process(context.Background(), env); err != nil {
		t.Fatalf("process: %v", err)
	}

	updated, err := store.Load(job.JobID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if updated.Phase != jobstore.PhaseWaitingApproval {
		t.Fatalf("expected WAITING_APPROVAL, got %s", updated.Phase)
	}
	if updated.LastSeq != 1 {
		t.Fatalf("expected last_seq 1, got %d", updated.LastSeq)
	}

	pending, ok := broker.GetPending(job.JobID)
	if !ok || pending.ToolUseID != "tu1" {
		t.Fatalf("expected pending approval registered, got %+v ok=%v", pending, ok)
	}
}

func TestProcessCompletedMarksDoneAndFreesQueue(t *testing.T) {
	store := jobstore.New(t.TempDir())
	job, err := store.Create("goal", "sonnet", "u1", "C1", "T1", 20, "http://runner/cb")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	qc := &stubQueueCompleter{}
	proc := NewJobProcessor(store, qc, nil, nil)

	env := eventproto.Envelope{
		JobID:     job.JobID,
		EventType: eventproto.Completed,
		Data:      eventproto.CompletedData{Status: eventproto.StatusCompleted},
	}
	if err := proc.Process(context.Background(), env); err != nil {
		t.Fatalf("process: %v", err)
	}

	updated, err := store.Load(job.JobID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if updated.Phase != jobstore.PhaseDone {
		t.Fatalf("expected DONE, got %s", updated.Phase)
	}
	if len(qc.completed) != 1 || qc.completed[0] != job.JobID {
		t.Fatalf("expected queue.MarkCompleted called, got %v", qc.completed)
	}
}

func TestProcessFailedSetsErrorAndPublishesLifecycle(t *testing.T) {
	store := jobstore.New(t.TempDir())
	job, err := store.Create("goal", "sonnet", "u1", "C1", "T1", 20, "http://runner/cb")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	bus := eventbus.New()
	var seen []eventbus.Type
	bus.SubscribeAll(func(ev eventbus.Event) { seen = append(seen, ev.Type) })

	proc := NewJobProcessor(store, &stubQueueCompleter{}, nil, bus)
	env := eventproto.Envelope{
		JobID:     job.JobID,
		EventType: eventproto.Failed,
		Data:      eventproto.FailedData{Error: "boom"},
	}
	if err := proc.Process(context.Background(), env); err != nil {
		t.Fatalf("process: %v", err)
	}

	updated, err := store.Load(job.JobID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if updated.Phase != jobstore.PhaseFailed || updated.Error != "boom" {
		t.Fatalf("expected FAILED with error, got %+v", updated)
	}
	if len(seen) != 1 || seen[0] != eventbus.JobFailed {
		t.Fatalf("expected job.failed published, got %v", seen)
	}
}

func TestProcessTokenUsageAccumulates(t *testing.T) {
	store := jobstore.New(t.TempDir())
	job, err := store.Create("goal", "sonnet", "u1", "C1", "T1", 20, "http://runner/cb")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	proc := NewJobProcessor(store, &stubQueueCompleter{}, nil, nil)
	for i := 0; i < 2; i++ {
		env := eventproto.Envelope{
			JobID:     job.JobID,
			EventType: eventproto.TokenUsage,
			Data:      eventproto.TokenUsageData{InputTokens: 10, OutputTokens: 5},
			Seq:       uint64(i + 1),
		}
		if err := proc.Process(context.Background(), env); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	updated, err := store.Load(job.JobID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if updated.InputTokens != 20 || updated.OutputTokens != 10 {
		t.Fatalf("expected accumulated token counts, got in=%d out=%d", updated.InputTokens, updated.OutputTokens)
	}
	if updated.LastSeq != 2 {
		t.Fatalf("expected last_seq 2, got %d", updated.LastSeq)
	}
}
