package chatops

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/agentrelay/agentrelay/internal/approval"
	"github.com/agentrelay/agentrelay/internal/jobstore"
	"github.com/agentrelay/agentrelay/internal/logging"
	"github.com/agentrelay/agentrelay/internal/queue"
)

// MessageForwarder is the narrow surface the app needs to relay a thread
// reply that isn't a command or an approval decision on to the runner, via
// POST /jobs/{id}/message.
type MessageForwarder interface {
	Message(ctx context.Context, jobID, message string) error
}

// Poster is the narrow surface the app needs against a chat client to reply
// to commands. *slack.Client satisfies it; tests supply a fake.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Options configures a new App.
type Options struct {
	DefaultModel           string
	DefaultMaxTurns        int
	ApprovalTimeoutSeconds int
	CallbackURL            string
}

// App is the Socket Mode front-end wiring the `!poc` command grammar and
// approval buttons into the controller's Job Queue and Approval Broker. It
// owns no durable state of its own beyond the in-memory thread_ts -> job_id
// map used to route thread replies (rebuilt from jobstore on restart would
// be a reasonable enhancement; not required by spec §6).
type App struct {
	client *socketmode.Client
	api    Poster

	store     *jobstore.Store
	queue     *queue.Queue
	broker    *approval.Broker
	forwarder MessageForwarder

	opts Options

	mu         sync.Mutex
	jobThreads map[string]string // thread_ts -> job_id
}

// New creates an App around an already-authenticated Socket Mode client.
func New(api Poster, socket *socketmode.Client, store *jobstore.Store, q *queue.Queue, broker *approval.Broker, forwarder MessageForwarder, opts Options) *App {
	return &App{
		client:     socket,
		api:        api,
		store:      store,
		queue:      q,
		broker:     broker,
		forwarder:  forwarder,
		opts:       opts,
		jobThreads: make(map[string]string),
	}
}

// Run processes Socket Mode events until ctx is cancelled. It blocks in
// client.RunContext while a separate goroutine dispatches the client's events.
func (a *App) Run(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-a.client.Events:
				if !ok {
					return
				}
				a.dispatch(ctx, evt)
			}
		}
	}()
	return a.client.RunContext(ctx)
}

func (a *App) dispatch(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		a.client.Ack(*evt.Request)
		eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		a.handleEventsAPI(ctx, eventsAPI)

	case socketmode.EventTypeInteractive:
		a.client.Ack(*evt.Request)
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		a.handleInteraction(ctx, callback)
	}
}

func (a *App) handleEventsAPI(ctx context.Context, eventsAPI slackevents.EventsAPIEvent) {
	if eventsAPI.Type != slackevents.CallbackEvent {
		return
	}

	switch inner := eventsAPI.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		a.handleMessageEvent(ctx, inner)
	}
}

func (a *App) handleMessageEvent(ctx context.Context, msg *slackevents.MessageEvent) {
	text := msg.Text
	threadTS := msg.ThreadTimeStamp
	if threadTS == "" {
		threadTS = msg.TimeStamp
	}

	action, rest := ParseCommand(text)
	if action != "" {
		a.handleCommand(ctx, action, rest, msg.Channel, threadTS)
		return
	}

	if text == "" {
		return
	}

	jobID, tracked := a.lookupThread(threadTS)
	if !tracked {
		return
	}

	handled, err := a.broker.HandleTextReply(ctx, jobID, text)
	if err != nil {
		logging.Warn().Err(err).Str("job_id", jobID).Msg("chatops: text reply approval failed")
		return
	}
	if handled {
		return
	}

	if a.forwarder == nil {
		return
	}
	if err := a.forwarder.Message(ctx, jobID, text); err != nil {
		logging.Warn().Err(err).Str("job_id", jobID).Msg("chatops: forward follow-up message failed")
	}
}

func (a *App) handleCommand(ctx context.Context, action, args, channel, threadTS string) {
	switch action {
	case "help", "":
		a.say(ctx, channel, threadTS, HelpText)

	case "run":
		a.handleRun(ctx, args, channel, threadTS)

	case "status":
		a.handleStatus(ctx, args, channel, threadTS)

	case "cancel":
		a.handleCancel(ctx, args, channel, threadTS)

	case "list":
		a.handleList(ctx, channel, threadTS)

	default:
		a.say(ctx, channel, threadTS, fmt.Sprintf(":question: Unknown command `%s`. Try `!poc help`.", action))
	}
}

func (a *App) handleRun(ctx context.Context, args, channel, threadTS string) {
	model, goal := ParseModelFlag(args)
	if model == "" {
		model = a.opts.DefaultModel
	}
	if goal == "" {
		goal = "Complete the task"
	}

	job, err := a.store.Create(goal, model, "", channel, threadTS, a.opts.DefaultMaxTurns, a.opts.CallbackURL)
	if err != nil {
		a.say(ctx, channel, threadTS, fmt.Sprintf(":x: Failed to create job: %v", err))
		return
	}

	a.mu.Lock()
	a.jobThreads[threadTS] = job.JobID
	a.mu.Unlock()

	a.say(ctx, channel, threadTS, fmt.Sprintf(":rocket: Job `%s` started: _%s_\nModel: `%s`", job.JobID, goal, job.Model))
	a.queue.Enqueue(job.JobID)
}

func (a *App) handleStatus(ctx context.Context, args, channel, threadTS string) {
	jobID := strings.TrimSpace(args)
	if jobID == "" {
		jobID = a.queue.CurrentJobID()
	}
	if jobID == "" {
		a.say(ctx, channel, threadTS, "No active job. Use `!poc list` to see recent jobs.")
		return
	}

	job, err := a.store.Load(jobID)
	if err != nil {
		a.say(ctx, channel, threadTS, fmt.Sprintf(":x: Job `%s` not found.", jobID))
		return
	}
	a.say(ctx, channel, threadTS, FormatJobStatus(job))
}

func (a *App) handleCancel(ctx context.Context, args, channel, threadTS string) {
	jobID := strings.TrimSpace(args)
	if jobID == "" {
		jobID = a.queue.CurrentJobID()
	}
	if jobID == "" {
		a.say(ctx, channel, threadTS, "No active job to cancel.")
		return
	}

	if a.queue.Cancel(ctx, jobID) {
		a.say(ctx, channel, threadTS, fmt.Sprintf(":stop_sign: Cancellation requested for `%s`.", jobID))
	} else {
		a.say(ctx, channel, threadTS, fmt.Sprintf(":x: Job `%s` not found or already finished.", jobID))
	}
}

func (a *App) handleList(ctx context.Context, channel, threadTS string) {
	ids, err := a.store.List()
	if err != nil {
		a.say(ctx, channel, threadTS, ":x: Failed to list jobs.")
		return
	}

	var jobs []*jobstore.Job
	for _, id := range ids {
		job, err := a.store.Load(id)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	a.say(ctx, channel, threadTS, FormatJobList(jobs))
}

// handleInteraction processes approval Block Kit button clicks: approve_tool,
// approve_tool_all, deny_tool, each carrying an EncodeButtonValue payload.
func (a *App) handleInteraction(ctx context.Context, callback slack.InteractionCallback) {
	if len(callback.ActionCallback.BlockActions) == 0 {
		return
	}
	action := callback.ActionCallback.BlockActions[0]
	messageTS := callback.Container.MessageTs

	jobID, toolUseID, _, err := DecodeButtonValue(action.Value)
	if err != nil {
		logging.Warn().Err(err).Str("action_id", action.ActionID).Msg("chatops: malformed button value")
		return
	}

	switch action.ActionID {
	case "approve_tool":
		_, _ = a.broker.HandleApprove(ctx, jobID, toolUseID, false, messageTS)
	case "approve_tool_all":
		_, _ = a.broker.HandleApprove(ctx, jobID, toolUseID, true, messageTS)
	case "deny_tool":
		_, _ = a.broker.HandleDeny(ctx, jobID, toolUseID, messageTS)
	}
}

func (a *App) lookupThread(threadTS string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	jobID, ok := a.jobThreads[threadTS]
	return jobID, ok
}

func (a *App) say(ctx context.Context, channel, threadTS, text string) {
	_, _, err := a.api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false), slack.MsgOptionTS(threadTS))
	if err != nil {
		logging.Warn().Err(err).Str("channel", channel).Msg("chatops: post message failed")
	}
}
