// Package chatops implements the chat front-end collaborator described in
// spec §6: the `!poc` command grammar, approval button value encoding,
// status rendering, and a Slack Socket Mode app wiring those into the
// controller's Job Queue and Approval Broker. It handles chat commands,
// approval button clicks and thread replies; it does not post runner events
// (progress, approval prompts, job results) to chat, and
// internal/controllerapi only ever mutates durable job state.
package chatops

import (
	"regexp"
	"strings"
)

// CommandPrefix is the command word every chat command starts with.
const CommandPrefix = "!poc"

// modelAliases maps the short flags --model accepts to provider-specific
// model identifiers. A value not found here is passed through unchanged,
// so callers may also supply a raw identifier.
var modelAliases = map[string]string{
	"opus":   "claude-opus-4-20250514",
	"sonnet": "claude-sonnet-4-5-20250929",
	"haiku":  "claude-haiku-4-5-20251001",
}

var modelFlagPattern = regexp.MustCompile(`(?s)--model\s+(\S+)\s*(.*)`)

// ParseCommand splits a raw message into (action, rest). A message that
// does not start with CommandPrefix returns ("", ""). `!poc` alone (or
// `!poc` followed only by whitespace) is treated as "help".
func ParseCommand(text string) (action, rest string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(strings.ToLower(text), CommandPrefix) {
		return "", ""
	}

	body := strings.TrimSpace(text[len(CommandPrefix):])
	if body == "" {
		return "help", ""
	}

	parts := strings.SplitN(body, " ", 2)
	action = strings.ToLower(parts[0])
	if len(parts) > 1 {
		rest = strings.TrimSpace(parts[1])
	}
	return action, rest
}

// ParseModelFlag extracts a leading `--model <alias|id>` flag from a run
// command's argument string. Returns the resolved model identifier (empty
// if no flag was present) and the remaining text, which is the goal.
func ParseModelFlag(args string) (model, remaining string) {
	match := modelFlagPattern.FindStringSubmatch(args)
	if match == nil {
		return "", args
	}

	key := strings.ToLower(match[1])
	if resolved, ok := modelAliases[key]; ok {
		return resolved, strings.TrimSpace(match[2])
	}
	return key, strings.TrimSpace(match[2])
}

// HelpText is the response to `!poc help`.
const HelpText = "*POC Agent Commands*\n\n" +
	"`!poc run [--model opus|sonnet|haiku] <goal>` — start the agent on a task\n" +
	"`!poc status [job_id]` — show agent status\n" +
	"`!poc cancel [job_id]` — cancel a running agent\n" +
	"`!poc list` — list recent jobs\n" +
	"`!poc help` — show this help message\n\n" +
	"The agent will request approval for bash commands and file writes.\n" +
	"Reply \"yes\"/\"approve\" or \"no\"/\"deny\" in the thread, or use the buttons."
