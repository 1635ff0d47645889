// Package eventproto defines the wire protocol for events flowing from a
// runner to the controller, and the summarization rules that turn raw LLM
// tool input/output into the lossy, display-only strings carried on the
// wire.
package eventproto

import "time"

// Type is the closed set of event types a runner may emit.
type Type string

const (
	Progress         Type = "progress"
	Thinking         Type = "thinking"
	ToolCall         Type = "tool_call"
	ToolResult       Type = "tool_result"
	ApprovalNeeded   Type = "approval_needed"
	ApprovalTimeout  Type = "approval_timeout"
	AssistantResponse Type = "assistant_response"
	WaitingInput     Type = "waiting_input"
	Completed        Type = "completed"
	Failed           Type = "failed"
	SessionEnded     Type = "session_ended"
	TokenUsage       Type = "token_usage"
)

// Envelope is the event wire format POSTed by the runner to the
// controller's /events endpoint, and also appended to the per-job
// events.jsonl log.
//
// Seq is a monotone per-job counter (see DESIGN.md Open Question 2); it is
// not currently used for dedup or reconnect, only recorded.
type Envelope struct {
	JobID     string    `json:"job_id"`
	EventType Type      `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
	Data      any       `json:"data"`
}

// ProgressData is carried by Progress events.
type ProgressData struct {
	Message   string `json:"message"`
	Iteration int    `json:"iteration,omitempty"`
}

// ThinkingData is carried by Thinking events.
type ThinkingData struct {
	Iteration int    `json:"iteration"`
	Snippet   string `json:"snippet"`
}

// ToolCallData is carried by ToolCall events.
type ToolCallData struct {
	ToolName  string `json:"tool_name"`
	ToolInput string `json:"tool_input"`
	ToolUseID string `json:"tool_use_id"`
}

// ToolResultData is carried by ToolResult events.
type ToolResultData struct {
	ToolUseID     string `json:"tool_use_id"`
	ToolName      string `json:"tool_name"`
	ResultPreview string `json:"result_preview"`
}

// ApprovalNeededData is carried by ApprovalNeeded events.
type ApprovalNeededData struct {
	ToolUseID string `json:"tool_use_id"`
	ToolName  string `json:"tool_name"`
	ToolInput string `json:"tool_input"`
}

// ApprovalTimeoutData is carried by ApprovalTimeout events.
type ApprovalTimeoutData struct {
	ToolUseID string `json:"tool_use_id"`
	ToolName  string `json:"tool_name"`
	Timeout   int    `json:"timeout"`
}

// AssistantResponseData is carried by AssistantResponse events, emitted at
// the end of one turn of the persistent session.
type AssistantResponseData struct {
	Message      string  `json:"message"`
	NumTurns     int     `json:"num_turns"`
	DurationMS   int64   `json:"duration_ms"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// WaitingInputData is carried by WaitingInput events. It has no fields; the
// type alone tells the controller the session is parked awaiting a
// follow-up message.
type WaitingInputData struct{}

// CompletedStatus is the closed set of terminal statuses a Completed event
// may carry.
type CompletedStatus string

const (
	StatusCompleted    CompletedStatus = "completed"
	StatusCancelled    CompletedStatus = "cancelled"
	StatusMaxIterations CompletedStatus = "max_iterations"
)

// CompletedData is carried by Completed events.
type CompletedData struct {
	Status  CompletedStatus `json:"status"`
	Message string          `json:"message,omitempty"`
}

// FailedData is carried by Failed events.
type FailedData struct {
	Error string `json:"error"`
}

// SessionEndedData is carried by SessionEnded events.
type SessionEndedData struct {
	Message string `json:"message"`
}

// TokenUsageData is carried by TokenUsage events.
type TokenUsageData struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	Iteration    int `json:"iteration"`
}
