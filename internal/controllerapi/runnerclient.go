package controllerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentrelay/agentrelay/internal/queue"
)

// RunnerClient is the controller's HTTP client for calling the runner's
// control-plane API (§4.6 controller -> runner table). It implements both
// queue.RunnerClient and approval.RunnerClient, since both need the same
// retrying POST-and-decode shape against the same base URL.
type RunnerClient struct {
	baseURL    string
	httpClient *http.Client
	newBackoff func() backoff.BackOff
}

// NewRunnerClient creates a RunnerClient targeting the runner listening at
// baseURL (e.g. "http://runner:8081").
func NewRunnerClient(baseURL string) *RunnerClient {
	return &RunnerClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
}

// Start implements queue.RunnerClient. Deliberately NOT retried: §4.6's
// /start is not idempotent (a second call on an already-running job is a
// 409), so retrying a lost response risks reporting the queue's own retry
// as "already running" instead of surfacing the original failure. A
// runner-unreachable start surfaces once as FAILED per spec §7.
func (c *RunnerClient) Start(ctx context.Context, jobID string, req queue.StartRequest) error {
	body := map[string]any{
		"goal":             req.Goal,
		"callback_url":     req.CallbackURL,
		"model":            req.Model,
		"max_turns":        req.MaxTurns,
		"approval_timeout": req.ApprovalTimeout,
	}
	return c.postOnce(ctx, fmt.Sprintf("/jobs/%s/start", jobID), body)
}

// Cancel implements queue.RunnerClient.
func (c *RunnerClient) Cancel(ctx context.Context, jobID string) error {
	return c.post(ctx, fmt.Sprintf("/jobs/%s/cancel", jobID), map[string]any{}, nil)
}

// End implements queue.RunnerClient.
func (c *RunnerClient) End(ctx context.Context, jobID string) error {
	return c.post(ctx, fmt.Sprintf("/jobs/%s/end", jobID), map[string]any{}, nil)
}

// Approve implements approval.RunnerClient.
func (c *RunnerClient) Approve(ctx context.Context, jobID, toolUseID string, approved, autoApproveTool bool) error {
	body := map[string]any{
		"tool_use_id":       toolUseID,
		"approved":          approved,
		"auto_approve_tool": autoApproveTool,
	}
	return c.post(ctx, fmt.Sprintf("/jobs/%s/approve", jobID), body, nil)
}

// Message posts a follow-up message to a parked session. Not part of
// either narrow RunnerClient interface (neither queue nor approval need
// it) but exposed for the chat front-end's thread-reply forwarding.
func (c *RunnerClient) Message(ctx context.Context, jobID, message string) error {
	return c.post(ctx, fmt.Sprintf("/jobs/%s/message", jobID), map[string]any{"message": message}, nil)
}

// StatusSnapshot mirrors the runner status response (§4.6).
type StatusSnapshot struct {
	JobID           string `json:"job_id"`
	Status          string `json:"status"`
	Iteration       int    `json:"iteration"`
	MaxTurns        int    `json:"max_turns"`
	Model           string `json:"model"`
	ResultText      string `json:"result_text"`
	PendingApproval *struct {
		ToolUseID string `json:"tool_use_id"`
		ToolName  string `json:"tool_name"`
	} `json:"pending_approval,omitempty"`
}

// Status fetches the runner's current view of a job.
func (c *RunnerClient) Status(ctx context.Context, jobID string) (*StatusSnapshot, error) {
	url := c.baseURL + fmt.Sprintf("/jobs/%s/status", jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var snap StatusSnapshot
	err = backoff.Retry(func() error {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("runner status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("runner status %d", resp.StatusCode))
		}
		return json.NewDecoder(resp.Body).Decode(&snap)
	}, c.newBackoff())
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// postOnce sends a JSON body to path exactly once, no retry. Used for
// non-idempotent calls where a retried lost response could be mistaken for
// a conflicting state transition (see Start).
func (c *RunnerClient) postOnce(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("runner %s: %d: %s", path, resp.StatusCode, respBody)
	}
	return nil
}

// post sends a JSON body to path with retry on transport errors and 5xx
// responses; 4xx responses are permanent failures (retrying a bad request
// never helps).
func (c *RunnerClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	url := c.baseURL + path

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("runner %s: %d", path, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			respBody, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("runner %s: %d: %s", path, resp.StatusCode, respBody))
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}, c.newBackoff())
}
