// Package llm defines the boundary between the session supervisor and the
// actual LLM backend. The backend itself — model weights, provider API,
// token billing — is an external collaborator; this package only fixes the
// shape a driver must expose so the supervisor can drive a session without
// knowing which backend is behind it.
package llm

import "context"

// Kind identifies the shape of a streamed Message.
type Kind string

const (
	KindText       Kind = "text"        // assistant text chunk (-> progress)
	KindThinking   Kind = "thinking"    // extended-thinking chunk
	KindToolUse    Kind = "tool_use"    // model requested a tool call
	KindToolResult Kind = "tool_result" // a tool call's result became available
	KindResult     Kind = "result"      // end of turn: success or error
)

// Message is one streamed unit of a session. Exactly the fields relevant to
// Kind are populated; the rest are zero.
type Message struct {
	Kind Kind

	// KindText / KindThinking
	Text string

	// KindToolUse
	ToolUseID string
	ToolName  string
	ToolInput map[string]any

	// KindToolResult
	ResultToolUseID string
	ResultPreview   string

	// KindResult
	IsError      bool
	ResultText   string
	NumTurns     int
	DurationMS   int64
	TotalCostUSD float64
	InputTokens  int
	OutputTokens int
}

// PermissionDecision is the outcome of a tool-permission check.
type PermissionDecision struct {
	Allow      bool
	DenyReason string
}

// Allowed grants the pending tool call.
func Allowed() PermissionDecision { return PermissionDecision{Allow: true} }

// Denied refuses the pending tool call with a human-readable reason that the
// driver should surface back to the model as the tool's result.
func Denied(reason string) PermissionDecision {
	return PermissionDecision{Allow: false, DenyReason: reason}
}

// PermissionFunc is consulted by the driver before it lets a tool run. It
// may block — the supervisor's implementation parks on the approval
// rendezvous here.
type PermissionFunc func(ctx context.Context, toolName string, toolInput map[string]any) PermissionDecision

// SessionOptions configures a new session.
type SessionOptions struct {
	Goal         string
	Model        string
	MaxTurns     int
	SystemPrompt string
	OnPermission PermissionFunc
}

// Driver starts agent sessions. Implementations wrap a concrete model
// client; the fake package provides a scriptable stand-in for tests.
type Driver interface {
	Start(ctx context.Context, opts SessionOptions) (Session, error)
}

// Session is one live, possibly multi-turn, agent conversation.
type Session interface {
	// Messages streams events for the session's lifetime. It stays open
	// across turns (a Result does not close it) and is closed after Close.
	Messages() <-chan Message

	// Send submits a follow-up user message, continuing the session
	// after a prior turn's Result. Callers must wait for the previous
	// turn's KindResult message before calling Send.
	Send(ctx context.Context, message string) error

	// Interrupt stops in-flight generation for the current turn. Used on
	// cancellation or graceful session end.
	Interrupt(ctx context.Context) error

	// Close releases any resources held by the session. Safe to call
	// more than once.
	Close() error
}
