package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/internal/jobstore"
)

type fakeRunnerClient struct {
	calls []approveCall
}

type approveCall struct {
	jobID, toolUseID    string
	approved, autoAll   bool
}

func (f *fakeRunnerClient) Approve(ctx context.Context, jobID, toolUseID string, approved, autoApproveTool bool) error {
	f.calls = append(f.calls, approveCall{jobID, toolUseID, approved, autoApproveTool})
	return nil
}

type fakeChatBridge struct {
	updated []string
	posted  []string
}

func (f *fakeChatBridge) UpdateMessage(ctx context.Context, channelID, messageTS, text string) error {
	f.updated = append(f.updated, text)
	return nil
}

func (f *fakeChatBridge) PostMessage(ctx context.Context, channelID, threadTS, text string) error {
	f.posted = append(f.posted, text)
	return nil
}

func TestHandleApproveConsumesFirstMatchOnly(t *testing.T) {
	runner := &fakeRunnerClient{}
	bridge := &fakeChatBridge{}
	b := New(runner, bridge, nil)

	b.RegisterPending("J1", "tu-1", "Bash", "C1", "T1")

	ok, err := b.HandleApprove(context.Background(), "J1", "tu-1", false, "m-1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, approveCall{"J1", "tu-1", true, false}, runner.calls[0])
	require.Len(t, bridge.updated, 1)
	assert.Contains(t, bridge.updated[0], "Approved")

	// Duplicate click: no match, benign no-op.
	ok, err = b.HandleApprove(context.Background(), "J1", "tu-1", false, "m-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, runner.calls, 1)
}

func TestHandleApproveAutoAllRecordsApprovedToolOnJob(t *testing.T) {
	store := jobstore.New(t.TempDir())
	job, err := store.Create("goal", "sonnet", "u1", "C1", "", 20, "")
	require.NoError(t, err)

	runner := &fakeRunnerClient{}
	b := New(runner, &fakeChatBridge{}, store)
	b.RegisterPending(job.JobID, "tu-1", "Bash", "C1", "T1")

	ok, err := b.HandleApprove(context.Background(), job.JobID, "tu-1", true, "")
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := store.Load(job.JobID)
	require.NoError(t, err)
	assert.True(t, loaded.HasApprovedTool("Bash"))
}

func TestHandleTextReplyApproveVocabulary(t *testing.T) {
	runner := &fakeRunnerClient{}
	b := New(runner, &fakeChatBridge{}, nil)
	b.RegisterPending("J1", "tu-1", "Bash", "C1", "T1")

	ok, err := b.HandleTextReply(context.Background(), "J1", " Yes ")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, runner.calls, 1)
	assert.True(t, runner.calls[0].approved)
}

func TestHandleTextReplyDenyVocabulary(t *testing.T) {
	runner := &fakeRunnerClient{}
	b := New(runner, &fakeChatBridge{}, nil)
	b.RegisterPending("J1", "tu-1", "Bash", "C1", "T1")

	ok, err := b.HandleTextReply(context.Background(), "J1", "stop")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, runner.calls, 1)
	assert.False(t, runner.calls[0].approved)
}

func TestHandleTextReplyNoMatchForwardable(t *testing.T) {
	b := New(&fakeRunnerClient{}, &fakeChatBridge{}, nil)
	b.RegisterPending("J1", "tu-1", "Bash", "C1", "T1")

	ok, err := b.HandleTextReply(context.Background(), "J1", "please continue with the refactor")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearRemovesPendingUnconditionally(t *testing.T) {
	b := New(&fakeRunnerClient{}, &fakeChatBridge{}, nil)
	b.RegisterPending("J1", "tu-1", "Bash", "C1", "T1")
	b.Clear("J1")

	_, ok := b.GetPending("J1")
	assert.False(t, ok)
}
