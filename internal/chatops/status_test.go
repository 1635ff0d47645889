package chatops

import (
	"strings"
	"testing"

	"github.com/agentrelay/agentrelay/internal/jobstore"
)

func TestFormatJobStatusIncludesCoreFields(t *testing.T) {
	job := &jobstore.Job{
		JobID: "J1", Goal: "fix the bug", Phase: jobstore.PhaseRunning,
		Model: "sonnet", AgentIteration: 3, MaxTurns: 20,
		InputTokens: 100, OutputTokens: 40,
		ApprovedTools: jobstore.ApprovedToolSet{"Bash": struct{}{}},
	}
	out := FormatJobStatus(job)

	for _, want := range []string{"J1", "fix the bug", "sonnet", "3/20", "100 in / 40 out", "Bash"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected status to contain %q, got:\n%s", want, out)
		}
	}
}

func TestFormatJobStatusOmitsTokensAndToolsWhenAbsent(t *testing.T) {
	job := &jobstore.Job{JobID: "J2", Goal: "g", Phase: jobstore.PhaseQueued, MaxTurns: 10}
	out := FormatJobStatus(job)
	if strings.Contains(out, "Tokens:") || strings.Contains(out, "Approved tools:") {
		t.Errorf("expected no token/tool lines for a fresh job, got:\n%s", out)
	}
}

func TestFormatJobStatusShowsError(t *testing.T) {
	job := &jobstore.Job{JobID: "J3", Phase: jobstore.PhaseFailed, Error: "boom", MaxTurns: 5}
	out := FormatJobStatus(job)
	if !strings.Contains(out, "boom") {
		t.Errorf("expected error text in output, got:\n%s", out)
	}
}

func TestFormatJobListNewestFirstAndCappedAtTen(t *testing.T) {
	var jobs []*jobstore.Job
	for i := 0; i < 15; i++ {
		jobs = append(jobs, &jobstore.Job{JobID: string(rune('A' + i)), Phase: jobstore.PhaseDone, Goal: "g"})
	}
	out := FormatJobList(jobs)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 11 { // header + 10 jobs
		t.Fatalf("expected 11 lines (header + 10), got %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], string(rune('A'+14))) {
		t.Errorf("expected newest job first, got: %s", lines[1])
	}
}

func TestFormatJobListEmpty(t *testing.T) {
	if out := FormatJobList(nil); out != "No jobs found." {
		t.Errorf("unexpected empty-list message: %q", out)
	}
}
