// Package queue implements the controller's Job Queue: a strict FIFO,
// single-concurrency scheduler that owns Job phase transitions triggered
// by queue events and dispatches start/cancel/end RPCs to the runner.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentrelay/agentrelay/internal/eventbus"
	"github.com/agentrelay/agentrelay/internal/jobstore"
	"github.com/agentrelay/agentrelay/internal/logging"
)

// StartRequest is the body of the controller->runner start RPC.
type StartRequest struct {
	Goal            string
	CallbackURL     string
	Model           string
	MaxTurns        int
	ApprovalTimeout int
}

// RunnerClient is the narrow RPC surface the queue needs against a runner.
// The controller's real implementation, with retry/backoff, lives in
// internal/controllerapi.
type RunnerClient interface {
	Start(ctx context.Context, jobID string, req StartRequest) error
	Cancel(ctx context.Context, jobID string) error
	End(ctx context.Context, jobID string) error
}

// Queue is the single-concurrency FIFO scheduler. Safe for concurrent use.
type Queue struct {
	mu           sync.Mutex
	pending      []string
	currentJobID string

	store  *jobstore.Store
	runner RunnerClient
	bus    *eventbus.Bus
}

// New creates a Queue.
func New(store *jobstore.Store, runner RunnerClient, bus *eventbus.Bus) *Queue {
	return &Queue{
		store:  store,
		runner: runner,
		bus:    bus,
	}
}

// CurrentJobID returns the job currently holding the concurrency slot, or
// "" if the queue is idle.
func (q *Queue) CurrentJobID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentJobID
}

// HasActiveSession reports whether a job currently holds the slot.
func (q *Queue) HasActiveSession() bool {
	return q.CurrentJobID() != ""
}

// Enqueue appends jobID to the queue and returns its 0-based position. If
// no job is currently running, it is immediately promoted — the dispatch
// itself runs on a detached goroutine so the lock is never held across
// network I/O.
func (q *Queue) Enqueue(jobID string) int {
	q.mu.Lock()
	q.pending = append(q.pending, jobID)
	position := len(q.pending) - 1

	var dispatch string
	if q.currentJobID == "" {
		dispatch = q.startNextLocked()
	}
	q.mu.Unlock()

	if dispatch != "" {
		go q.dispatchStart(context.Background(), dispatch)
	}
	return position
}

// Cancel cancels a queued or running job. Returns whether any action was
// taken. A queued job is removed under the lock and finalized after it is
// released. For the running job the whole operation, including the cancel
// RPC, runs under the queue lock (matching the reference implementation) so that the
// cancelled job's phase is durably CANCELLED before any replacement job is
// promoted to RUNNING — never two jobs visibly RUNNING at once.
func (q *Queue) Cancel(ctx context.Context, jobID string) bool {
	q.mu.Lock()

	for i, id := range q.pending {
		if id != jobID {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.mu.Unlock()
		q.finalizeCancelled(ctx, jobID)
		return true
	}

	if q.currentJobID != jobID {
		q.mu.Unlock()
		return false
	}

	if err := q.runner.Cancel(ctx, jobID); err != nil {
		logging.Warn().Err(err).Str("job_id", jobID).Msg("queue: cancel RPC failed")
	}
	q.finalizeCancelled(ctx, jobID)

	q.currentJobID = ""
	dispatch := q.startNextLocked()
	q.mu.Unlock()

	if dispatch != "" {
		go q.dispatchStart(ctx, dispatch)
	}
	return true
}

func (q *Queue) finalizeCancelled(ctx context.Context, jobID string) {
	job, err := q.store.Load(jobID)
	if err != nil {
		logging.Warn().Err(err).Str("job_id", jobID).Msg("queue: load job for cancel")
		return
	}
	job.Phase = jobstore.PhaseCancelled
	if err := q.store.Save(job); err != nil {
		logging.Warn().Err(err).Str("job_id", jobID).Msg("queue: save cancelled job")
		return
	}
	q.publish(eventbus.JobCancelled, job)
}

// MarkCompleted is called by the event handler on terminal runner events
// (completed, failed, session_ended). It clears the current job iff it
// matches and promotes the next one.
func (q *Queue) MarkCompleted(jobID string) {
	q.mu.Lock()
	var dispatch string
	if q.currentJobID == jobID {
		q.currentJobID = ""
		dispatch = q.startNextLocked()
	}
	q.mu.Unlock()

	if dispatch != "" {
		go q.dispatchStart(context.Background(), dispatch)
	}
}

// EndSession gracefully terminates a persistent session: POSTs end to the
// runner, sets phase DONE, fires JobDone, clears current, and promotes the
// next job.
func (q *Queue) EndSession(ctx context.Context, jobID string) error {
	q.mu.Lock()
	if q.currentJobID != jobID {
		q.mu.Unlock()
		return fmt.Errorf("job %s is not the current session", jobID)
	}

	if err := q.runner.End(ctx, jobID); err != nil {
		logging.Warn().Err(err).Str("job_id", jobID).Msg("queue: end RPC failed")
	}

	job, err := q.store.Load(jobID)
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("load job for end: %w", err)
	}
	job.Phase = jobstore.PhaseDone
	if err := q.store.Save(job); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("save ended job: %w", err)
	}
	q.publish(eventbus.JobDone, job)

	q.currentJobID = ""
	dispatch := q.startNextLocked()
	q.mu.Unlock()

	if dispatch != "" {
		go q.dispatchStart(ctx, dispatch)
	}
	return nil
}

// startNextLocked pops the next queued job and marks it current. Must hold
// q.mu. Returns the job ID to dispatch, or "" if the queue is empty.
func (q *Queue) startNextLocked() string {
	if len(q.pending) == 0 {
		q.currentJobID = ""
		return ""
	}
	jobID := q.pending[0]
	q.pending = q.pending[1:]
	q.currentJobID = jobID
	return jobID
}

// dispatchStart sends the start request to the runner. On failure it marks
// the job FAILED, fires JobFailed, and promotes the next queued job.
func (q *Queue) dispatchStart(ctx context.Context, jobID string) {
	job, err := q.store.Load(jobID)
	if err != nil {
		logging.Error().Err(err).Str("job_id", jobID).Msg("queue: load job to start")
		return
	}

	job.Phase = jobstore.PhaseRunning
	if err := q.store.Save(job); err != nil {
		logging.Error().Err(err).Str("job_id", jobID).Msg("queue: save running job")
		return
	}

	err = q.runner.Start(ctx, jobID, StartRequest{
		Goal:        job.Goal,
		CallbackURL: job.CallbackURL,
		Model:       job.Model,
		MaxTurns:    job.MaxTurns,
	})
	if err != nil {
		q.failStart(ctx, jobID, fmt.Sprintf("failed to start agent: %v", err))
		return
	}

	q.publish(eventbus.JobStarted, job)
}

func (q *Queue) failStart(ctx context.Context, jobID, reason string) {
	job, err := q.store.Load(jobID)
	if err != nil {
		logging.Error().Err(err).Str("job_id", jobID).Msg("queue: load job after failed start")
		return
	}
	job.Phase = jobstore.PhaseFailed
	job.Error = reason
	if err := q.store.Save(job); err != nil {
		logging.Error().Err(err).Str("job_id", jobID).Msg("queue: save failed job")
		return
	}
	q.publish(eventbus.JobFailed, job)

	q.mu.Lock()
	var dispatch string
	if q.currentJobID == jobID {
		q.currentJobID = ""
		dispatch = q.startNextLocked()
	}
	q.mu.Unlock()

	if dispatch != "" {
		go q.dispatchStart(ctx, dispatch)
	}
}

func (q *Queue) publish(t eventbus.Type, job *jobstore.Job) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(eventbus.Event{Type: t, Job: job})
}
