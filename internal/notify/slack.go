package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nholik/deploy-shepherd/internal/state"
	"github.com/nholik/deploy-shepherd/internal/transition"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

const (
	slackMaxBlocks = 50
	// slackReservedBlocks accounts for header block + context block in each message
	slackReservedBlocks = 2
	slackMaxEvents      = slackMaxBlocks - slackReservedBlocks
)

type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	timing     timingConfig
	poster     *httpPoster
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

	notifier.poster = newHTTPPoster(logger, "slack", webhookURL, "application/json", notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, events []transition.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := n.poster.waitForRateLimit(ctx, "slack"); err != nil {
		return err
	}

	messages := buildSlackMessages(events)
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		if err := n.poster.postWithRetry(ctx, payload); err != nil {
			return err
		}
	}

	n.logger.Debug().
		Int("events", len(events)).
		Int("messages", len(messages)).
		Msg("slack notification sent")

	return nil
}

func (n *SlackNotifier) postOnce(ctx context.Context, payload []byte) error {
	return n.poster.post(ctx, payload)
}

func buildSlackMessages(events []transition.Event) []slack.WebhookMessage {
	if len(events) == 0 {
		return nil
	}
	if slackMaxEvents <= 0 {
		return []slack.WebhookMessage{buildSlackMessage(events, len(events), 1, 1)}
	}

	total := len(events)
	chunkTotal := (total + slackMaxEvents - 1) / slackMaxEvents
	messages := make([]slack.WebhookMessage, 0, chunkTotal)

	for i := 0; i < total; i += slackMaxEvents {
		end := i + slackMaxEvents
		if end > total {
			end = total
		}
		partIndex := (i / slackMaxEvents) + 1
		messages = append(messages, buildSlackMessage(events[i:end], total, partIndex, chunkTotal))
	}
	return messages
}

func buildSlackMessage(events []transition.Event, total int, partIndex int, partTotal int) slack.WebhookMessage {
	summary := fmt.Sprintf("deploy-shepherd: %d deployment transition(s)", total)
	if partTotal > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, partIndex, partTotal)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))
	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", "Source: *deploy-shepherd*", false, false),
	}
	if partTotal > 1 {
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Batch: %d/%d", partIndex, partTotal), false, false))
	}
	context := slack.NewContextBlock("", contextElements...)

	blocks := []slack.Block{header, context}
	for _, event := range events {
		blocks = append(blocks, buildEventBlock(event))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildEventBlock(event transition.Event) slack.Block {
	title := fmt.Sprintf("*%s*: `%s` → `%s`", event.Deployment, phaseLabel(event.PreviousPhase), phaseLabel(event.CurrentPhase))
	text := slack.NewTextBlockObject("mrkdwn", title, false, false)

	fields := make([]*slack.TextBlockObject, 0, 3)
	fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Generation:*\n%d", event.Generation), false, false))
	if len(event.Reasons) > 0 {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Reasons:*\n"+strings.Join(event.Reasons, ", "), false, false))
	}
	if event.ReplicaChange != nil {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", formatReplicaChange(event.ReplicaChange), false, false))
	}

	return slack.NewSectionBlock(text, fields, nil)
}

func formatReplicaChange(change *transition.ReplicaChange) string {
	return fmt.Sprintf("*Replicas:*\nReady %d/%d (Δ %d)",
		change.CurrentReady, change.CurrentTotal, change.ReadyDelta)
}

func phaseLabel(phase state.Phase) string {
	if phase == "" {
		return "unknown"
	}
	return string(phase)
}
