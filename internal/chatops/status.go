package chatops

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentrelay/agentrelay/internal/jobstore"
)

var phaseEmoji = map[jobstore.Phase]string{
	jobstore.PhaseQueued:          ":hourglass:",
	jobstore.PhaseRunning:         ":gear:",
	jobstore.PhaseWaitingApproval: ":lock:",
	jobstore.PhaseWaitingInput:    ":speech_balloon:",
	jobstore.PhaseBlocked:         ":warning:",
	jobstore.PhaseDone:            ":white_check_mark:",
	jobstore.PhaseFailed:          ":x:",
	jobstore.PhaseCancelled:       ":stop_sign:",
}

// FormatJobStatus renders a Job into the chat response for `!poc status`,
// covering phase, model, iteration/max_turns, token counters,
// approved_tools, and error per spec §6.
func FormatJobStatus(job *jobstore.Job) string {
	emoji, ok := phaseEmoji[job.Phase]
	if !ok {
		emoji = ":question:"
	}

	lines := []string{
		fmt.Sprintf("%s *Job %s* — %s", emoji, job.JobID, job.Phase),
		fmt.Sprintf("Goal: _%s_", job.Goal),
		fmt.Sprintf("Model: `%s`", job.Model),
		fmt.Sprintf("Iteration: %d/%d", job.AgentIteration, job.MaxTurns),
	}

	if job.InputTokens > 0 || job.OutputTokens > 0 {
		lines = append(lines, fmt.Sprintf("Tokens: %d in / %d out", job.InputTokens, job.OutputTokens))
	}

	if len(job.ApprovedTools) > 0 {
		names := make([]string, 0, len(job.ApprovedTools))
		for name := range job.ApprovedTools {
			names = append(names, name)
		}
		sort.Strings(names)
		lines = append(lines, fmt.Sprintf("Approved tools: %s", strings.Join(names, ", ")))
	}

	if job.Error != "" {
		lines = append(lines, fmt.Sprintf("\n:rotating_light: Error: %s", job.Error))
	}

	return strings.Join(lines, "\n")
}

// FormatJobList renders up to 10 jobs, newest first, for `!poc list`.
// jobs is expected oldest-first, newest-last (jobstore.Store.List's order);
// the caller need not pre-sort.
func FormatJobList(jobs []*jobstore.Job) string {
	if len(jobs) == 0 {
		return "No jobs found."
	}

	recent := jobs
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	lines := []string{"*Recent jobs:*"}
	for i := len(recent) - 1; i >= 0; i-- {
		job := recent[i]
		goal := job.Goal
		if len(goal) > 60 {
			goal = goal[:60]
		}
		lines = append(lines, fmt.Sprintf("  `%s` — %s — _%s_", job.JobID, job.Phase, goal))
	}
	return strings.Join(lines, "\n")
}
