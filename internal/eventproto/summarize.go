package eventproto

import (
	"encoding/json"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

const (
	toolInputLimit     = 200
	resultPreviewLimit = 500
)

// SummarizeToolInput converts a tool invocation's raw input into a ≤200-char
// display-only summary, using a tool-specific projection where one is
// known. Summaries are lossy and never re-parsed by the controller.
func SummarizeToolInput(toolName string, input map[string]any) string {
	var s string
	switch toolName {
	case "Bash":
		s = stringField(input, "command")
		return truncateBash(s)
	case "Read", "Write", "Edit":
		s = stringField(input, "file_path")
	case "Glob", "Grep":
		s = stringField(input, "pattern")
	case "WebSearch":
		s = stringField(input, "query")
	case "WebFetch":
		s = stringField(input, "url")
	default:
		s = jsonDump(input)
	}
	return truncate(s, toolInputLimit)
}

// SummarizeResult converts a tool result into a ≤500-char preview.
func SummarizeResult(result string) string {
	return truncate(result, resultPreviewLimit)
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return jsonDump(m)
}

func jsonDump(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// truncateBash truncates a shell command to the display limit, preferring
// to cut at a command-word boundary rather than mid-token when the raw
// command is long enough to need it.
func truncateBash(cmd string) string {
	if len(cmd) <= toolInputLimit {
		return cmd
	}

	if boundary := lastCommandBoundary(cmd, toolInputLimit); boundary > 0 {
		return strings.TrimRight(cmd[:boundary], " \t")
	}
	return cmd[:toolInputLimit]
}

// lastCommandBoundary parses cmd as bash and returns the largest end offset,
// within limit bytes, of any node in the syntax tree (nested nodes
// included), or 0 if parsing fails or no node ends within limit.
func lastCommandBoundary(cmd string, limit int) int {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(false))
	file, err := parser.Parse(strings.NewReader(cmd), "")
	if err != nil {
		return 0
	}

	best := 0
	syntax.Walk(file, func(node syntax.Node) bool {
		if node == nil {
			return true
		}
		end := node.End().Offset()
		if int(end) <= limit && int(end) > best {
			best = int(end)
		}
		return true
	})
	return best
}
