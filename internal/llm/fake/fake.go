// Package fake provides a scriptable, in-process implementation of
// llm.Driver for tests. Responses are picked by matching the submitted
// prompt against a small rule table, the same way a mock LLM server
// matches prompts to canned completions — adapted here to drive
// llm.Session directly instead of faking a provider's wire format, since
// the wire format itself is outside this module's scope.
package fake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/agentrelay/agentrelay/internal/llm"
)

// MatchConfig selects a Turn by inspecting the submitted prompt text.
type MatchConfig struct {
	Contains    string   `yaml:"contains"`
	ContainsAll []string `yaml:"contains_all"`
	ContainsAny []string `yaml:"contains_any"`
	Exact       string   `yaml:"exact"`
}

// Matches reports whether prompt satisfies m. An empty MatchConfig never
// matches.
func (m MatchConfig) Matches(prompt string) bool {
	lower := strings.ToLower(prompt)

	if m.Exact != "" {
		return strings.EqualFold(prompt, m.Exact)
	}
	if m.Contains != "" {
		return strings.Contains(lower, strings.ToLower(m.Contains))
	}
	if len(m.ContainsAll) > 0 {
		for _, s := range m.ContainsAll {
			if !strings.Contains(lower, strings.ToLower(s)) {
				return false
			}
		}
		return true
	}
	if len(m.ContainsAny) > 0 {
		for _, s := range m.ContainsAny {
			if strings.Contains(lower, strings.ToLower(s)) {
				return true
			}
		}
		return false
	}
	return false
}

// Turn scripts a single exchange: an optional tool call gated by the
// session's permission callback, followed by a terminal result.
type Turn struct {
	Name              string         `yaml:"name"`
	Match             MatchConfig    `yaml:"match"`
	Priority          int            `yaml:"priority"`
	Thinking          string         `yaml:"thinking"`
	Text              string         `yaml:"text"`
	ToolName          string         `yaml:"tool_name"`
	ToolInput         map[string]any `yaml:"tool_input"`
	ToolResultPreview string         `yaml:"tool_result_preview"`
	Result            string         `yaml:"result"`
	IsError           bool           `yaml:"is_error"`
}

// Script is the full set of scripted turns for a fake driver.
type Script struct {
	Fallback string `yaml:"fallback"`
	Turns    []Turn `yaml:"turns"`
}

// LoadScript reads a Script from a YAML file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	return &s, nil
}

// find returns the highest-priority matching turn, or nil.
func (s *Script) find(prompt string) *Turn {
	var best *Turn
	bestPriority := -1
	for i := range s.Turns {
		t := &s.Turns[i]
		if t.Match.Matches(prompt) && t.Priority > bestPriority {
			best = t
			bestPriority = t.Priority
		}
	}
	return best
}

// Driver is a scriptable llm.Driver backed by a Script.
type Driver struct {
	script *Script
}

// New creates a Driver. A nil script has no turns and a fallback of "ok":
// every prompt falls through to a result with text "ok".
func New(script *Script) *Driver {
	if script == nil {
		script = &Script{Fallback: "ok"}
	}
	return &Driver{script: script}
}

// Start implements llm.Driver.
func (d *Driver) Start(ctx context.Context, opts llm.SessionOptions) (llm.Session, error) {
	s := &session{
		script: d.script,
		opts:   opts,
		msgs:   make(chan llm.Message, 16),
		in:     make(chan string, 8),
		done:   make(chan struct{}),
	}
	go s.run()
	if err := s.Send(ctx, opts.Goal); err != nil {
		return nil, err
	}
	return s, nil
}

type session struct {
	script *Script
	opts   llm.SessionOptions

	msgs chan llm.Message
	in   chan string
	done chan struct{}

	closeOnce sync.Once
	iteration int
}

func (s *session) run() {
	defer close(s.msgs)
	for {
		select {
		case prompt, ok := <-s.in:
			if !ok {
				return
			}
			s.iteration++
			s.playTurn(prompt)
		case <-s.done:
			return
		}
	}
}

func (s *session) playTurn(prompt string) {
	turn := s.script.find(prompt)
	if turn == nil {
		s.emit(llm.Message{Kind: llm.KindResult, ResultText: s.script.Fallback, NumTurns: s.iteration})
		return
	}

	if turn.Thinking != "" {
		s.emit(llm.Message{Kind: llm.KindThinking, Text: turn.Thinking})
	}
	if turn.Text != "" {
		s.emit(llm.Message{Kind: llm.KindText, Text: turn.Text})
	}

	if turn.ToolName != "" {
		toolUseID := fmt.Sprintf("fake-%s-%d-%s", s.opts.Model, s.iteration, turn.ToolName)
		s.emit(llm.Message{
			Kind:      llm.KindToolUse,
			ToolUseID: toolUseID,
			ToolName:  turn.ToolName,
			ToolInput: turn.ToolInput,
		})

		decision := llm.Allowed()
		if s.opts.OnPermission != nil {
			decision = s.opts.OnPermission(context.Background(), turn.ToolName, turn.ToolInput)
		}
		// A denied call is never executed, so — matching the real SDK — no
		// PostToolUse hook fires and no tool_result is emitted for it.
		if decision.Allow {
			s.emit(llm.Message{
				Kind:            llm.KindToolResult,
				ResultToolUseID: toolUseID,
				ResultPreview:   turn.ToolResultPreview,
			})
		}
	}

	s.emit(llm.Message{
		Kind:       llm.KindResult,
		ResultText: turn.Result,
		IsError:    turn.IsError,
		NumTurns:   s.iteration,
	})
}

func (s *session) emit(m llm.Message) {
	select {
	case s.msgs <- m:
	case <-s.done:
	}
}

func (s *session) Messages() <-chan llm.Message { return s.msgs }

func (s *session) Send(ctx context.Context, message string) error {
	select {
	case <-s.done:
		return errors.New("fake: session closed")
	default:
	}
	select {
	case s.in <- message:
		return nil
	case <-s.done:
		return errors.New("fake: session closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) Interrupt(ctx context.Context) error {
	return nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
