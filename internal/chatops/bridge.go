package chatops

import (
	"context"

	"github.com/slack-go/slack"
)

// SlackBridge implements approval.ChatBridge (UpdateMessage and PostMessage)
// against a real Slack workspace via slack-go/slack. It has no job-lifecycle
// posting of its own.
type SlackBridge struct {
	client *slack.Client
}

// NewSlackBridge wraps an already-authenticated client.
func NewSlackBridge(client *slack.Client) *SlackBridge {
	return &SlackBridge{client: client}
}

// UpdateMessage implements approval.ChatBridge: edits an approval prompt in
// place once it has been decided, per spec §4.3/§8 seed scenario 2.
func (b *SlackBridge) UpdateMessage(ctx context.Context, channelID, messageTS, text string) error {
	_, _, _, err := b.client.UpdateMessageContext(ctx, channelID, messageTS, slack.MsgOptionText(text, false))
	return err
}

// PostMessage implements approval.ChatBridge: posts a new message into a
// job's thread (used when no message_ts is available to edit, e.g. a text
// reply decision).
func (b *SlackBridge) PostMessage(ctx context.Context, channelID, threadTS, text string) error {
	_, _, err := b.client.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false), slack.MsgOptionTS(threadTS))
	return err
}

// RecordingBridge is a ChatBridge test double that records every call
// instead of talking to Slack.
type RecordingBridge struct {
	Updates []BridgeCall
	Posts   []BridgeCall
}

// BridgeCall captures one UpdateMessage/PostMessage invocation.
type BridgeCall struct {
	ChannelID string
	TS        string
	Text      string
}

func (b *RecordingBridge) UpdateMessage(ctx context.Context, channelID, messageTS, text string) error {
	b.Updates = append(b.Updates, BridgeCall{ChannelID: channelID, TS: messageTS, Text: text})
	return nil
}

func (b *RecordingBridge) PostMessage(ctx context.Context, channelID, threadTS, text string) error {
	b.Posts = append(b.Posts, BridgeCall{ChannelID: channelID, TS: threadTS, Text: text})
	return nil
}
