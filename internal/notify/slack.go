package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nholik/safety-companion/internal/transition"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

const (
	slackMaxBlocks = 50
	// slackReservedBlocks accounts for header, summary section and context block in each message
	slackReservedBlocks = 3
	slackMaxAgents      = slackMaxBlocks - slackReservedBlocks
)

// SlackNotifier posts health changes to a Slack incoming webhook.
type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	timing     timingConfig
	channel    *channel
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; notifications disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}
	for _, opt := range opts {
		opt(notifier)
	}
	notifier.channel = newChannel(logger, "slack", webhookURL, notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, change transition.Change) error {
	messages := buildSlackMessages(change)
	payloads := make([][]byte, 0, len(messages))
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		payloads = append(payloads, payload)
	}
	if err := n.channel.deliver(ctx, change, payloads...); err != nil {
		return err
	}

	n.logger.Debug().
		Str("endpoint", change.Endpoint).
		Str("phase", change.CurrentPhase).
		Int("messages", len(messages)).
		Msg("slack notification sent")

	return nil
}

func buildSlackMessages(change transition.Change) []slack.WebhookMessage {
	agents := change.Agents
	if len(agents) <= slackMaxAgents {
		return []slack.WebhookMessage{buildSlackMessage(change, agents, 1, 1)}
	}

	total := len(agents)
	partTotal := (total + slackMaxAgents - 1) / slackMaxAgents
	messages := make([]slack.WebhookMessage, 0, partTotal)
	for i := 0; i < total; i += slackMaxAgents {
		end := i + slackMaxAgents
		if end > total {
			end = total
		}
		messages = append(messages, buildSlackMessage(change, agents[i:end], (i/slackMaxAgents)+1, partTotal))
	}
	return messages
}

func buildSlackMessage(change transition.Change, agents []transition.AgentChange, partIndex, partTotal int) slack.WebhookMessage {
	summary := Summary(change)
	if partTotal > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, partIndex, partTotal)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Phase:*\n`%s` → `%s`", label(change.PreviousPhase), label(change.CurrentPhase)), false, false),
	}
	if change.PreviousStatus != "" || change.CurrentStatus != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Status:*\n`%s` → `%s`", label(change.PreviousStatus), label(change.CurrentStatus)), false, false))
	}
	if change.Service != "" || change.Version != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Service:*\n%s %s", label(change.Service), change.Version), false, false))
	}
	if change.Error != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Error:*\n"+change.Error, false, false))
	}
	section := slack.NewSectionBlock(nil, fields, nil)

	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Endpoint: `%s`", change.Endpoint), false, false),
	}
	if partTotal > 1 {
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Batch: %d/%d", partIndex, partTotal), false, false))
	}
	contextBlock := slack.NewContextBlock("", contextElements...)

	blocks := []slack.Block{header, section, contextBlock}
	for _, agent := range agents {
		text := fmt.Sprintf("*%s*: `%s` → `%s`", agent.Name, label(agent.Previous), label(agent.Current))
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", text, false, false), nil, nil))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}
