package alertnotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/poplexity/bpvalidate/internal/config"
	"github.com/poplexity/bpvalidate/internal/logger"
)

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// MultiNotifier fans one event out to every configured backend, kept
// close to identical to the teacher's: every backend gets a chance even
// if an earlier one fails, and the last error (if any) is returned.
type MultiNotifier struct {
	notifiers []Notifier
}

func (m *MultiNotifier) Notify(ctx context.Context, event Event) error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			lastErr = err
			logger.Warn("ALERT", "notifier failed: %v", err)
		}
	}
	return lastErr
}

func NewNotifier(cfg config.AlertsConfig) Notifier {
	notifiers := []Notifier{&LogNotifier{}}

	if cfg.Channels.PagerDuty.Enabled && cfg.Channels.PagerDuty.APIKey != "" {
		notifiers = append(notifiers, &PagerDutyNotifier{apiKey: cfg.Channels.PagerDuty.APIKey, defaultSeverity: cfg.Channels.PagerDuty.Severity})
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Webhook != "" {
		notifiers = append(notifiers, &DiscordNotifier{webhook: cfg.Channels.Discord.Webhook})
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" && cfg.Channels.Telegram.ChatID != "" {
		notifiers = append(notifiers, &TelegramNotifier{apiKey: cfg.Channels.Telegram.Token, channel: cfg.Channels.Telegram.ChatID})
	}
	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.Webhook != "" {
		notifiers = append(notifiers, &SlackNotifier{webhook: cfg.Channels.Slack.Webhook})
	}

	return &MultiNotifier{notifiers: notifiers}
}

type LogNotifier struct{}

func (l *LogNotifier) Notify(ctx context.Context, event Event) error {
	logger.Warn("ALERT", "%s | %s", event.Status, event.Message)
	return nil
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields"`
	Timestamp string         `json:"timestamp"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func formatDiscordEmbed(event Event) discordPayload {
	emoji, color := "🚨", 0xFF0000
	if event.Status == Resolved {
		emoji, color = "💚", 0x00FF00
	}

	fields := []discordField{{Name: "BP", Value: event.Owner, Inline: false}}
	for _, detail := range event.Details {
		fields = append(fields, discordField{Name: detail.Label, Value: detail.Value, Inline: false})
	}

	return discordPayload{Embeds: []discordEmbed{{
		Title: fmt.Sprintf("%s %s", emoji, event.Title), Color: color,
		Fields: fields, Timestamp: event.Timestamp.Format(time.RFC3339),
	}}}
}

type DiscordNotifier struct {
	webhook string
}

func (d *DiscordNotifier) Notify(ctx context.Context, event Event) error {
	if d.webhook == "" {
		return nil
	}
	return postJSON(ctx, d.webhook, formatDiscordEmbed(event))
}

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func formatSlackBlocks(event Event) slackPayload {
	emoji := "🚨"
	if event.Status == Resolved {
		emoji = "💚"
	}

	fields := []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*BP:*\n%s", event.Owner)}}
	for _, detail := range event.Details {
		fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", detail.Label, detail.Value)})
	}

	return slackPayload{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("%s %s", emoji, event.Title)}},
		{Type: "section", Fields: fields},
	}}
}

type SlackNotifier struct {
	webhook string
}

func (s *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if s.webhook == "" {
		return nil
	}
	return postJSON(ctx, s.webhook, formatSlackBlocks(event))
}

func formatTelegramHTML(event Event) string {
	emoji := "🚨"
	if event.Status == Resolved {
		emoji = "💚"
	}
	message := fmt.Sprintf("<b>%s %s</b>\n\n<b>BP:</b> %s", emoji, event.Title, event.Owner)
	for _, detail := range event.Details {
		message += fmt.Sprintf("\n<b>%s:</b> %s", detail.Label, detail.Value)
	}
	return message
}

type TelegramNotifier struct {
	apiKey  string
	channel string
}

func (t *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	if t.apiKey == "" || t.channel == "" {
		return nil
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.apiKey)
	payload := map[string]string{
		"chat_id": t.channel, "text": formatTelegramHTML(event), "parse_mode": "HTML",
	}
	return postJSON(ctx, url, payload)
}

type PagerDutyNotifier struct {
	apiKey          string
	defaultSeverity string
}

type pagerDutyPayload struct {
	RoutingKey  string        `json:"routing_key"`
	EventAction string        `json:"event_action"`
	DedupKey    string        `json:"dedup_key"`
	Payload     pagerDutyBody `json:"payload"`
}

type pagerDutyBody struct {
	Summary   string            `json:"summary"`
	Source    string            `json:"source"`
	Severity  string            `json:"severity"`
	Timestamp string            `json:"timestamp"`
	Custom    map[string]string `json:"custom_details,omitempty"`
}

func (p *PagerDutyNotifier) Notify(ctx context.Context, event Event) error {
	if p.apiKey == "" {
		return nil
	}
	action := "trigger"
	if event.Status == Resolved {
		action = "resolve"
	}
	severity := p.defaultSeverity
	if severity == "" {
		severity = "critical"
	}
	if event.Severity != "" {
		severity = event.Severity
	}

	custom := make(map[string]string, len(event.Details))
	for _, detail := range event.Details {
		custom[detail.Label] = detail.Value
	}

	payload := pagerDutyPayload{
		RoutingKey: p.apiKey, EventAction: action, DedupKey: event.Key,
		Payload: pagerDutyBody{
			Summary: event.Message, Source: event.Owner, Severity: severity,
			Timestamp: time.Now().UTC().Format(time.RFC3339), Custom: custom,
		},
	}
	return postJSON(ctx, "https://events.pagerduty.com/v2/enqueue", payload)
}

func postJSON(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
