package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/nholik/safety-companion/internal/transition"
	"github.com/rs/zerolog"
)

// defaultWebhookTemplate renders a compact JSON alert. Custom templates
// receive the same WebhookPayload.
const defaultWebhookTemplate = `{"kind":{{ toJson .Kind }},"summary":{{ toJson .Summary }},"endpoint":{{ toJson .Change.Endpoint }},"generated_at":{{ toJson .GeneratedAt }},"change":{{ toJson .Change }}}`

// WebhookPayload is the template context for one backend health alert.
type WebhookPayload struct {
	Kind        Kind
	Summary     string
	Change      transition.Change
	GeneratedAt time.Time
}

// WebhookNotifier renders alerts through a text/template and posts them.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	channel  *channel
	now      func() time.Time
}

// NewWebhookNotifier creates a webhook notifier with the provided template.
// A nil notifier is returned when webhookURL is empty.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL string, tmpl string) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"toJson": toJSON,
			"label":  label,
		}).
		Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	return &WebhookNotifier{
		logger:   logger,
		template: parsed,
		channel:  newChannel(logger, "webhook", webhookURL, defaultTiming),
		now:      time.Now,
	}, nil
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, change transition.Change) error {
	if n == nil {
		return nil
	}

	payload, err := n.render(change)
	if err != nil {
		return err
	}
	if err := n.channel.deliver(ctx, change, payload); err != nil {
		return err
	}

	n.logger.Debug().
		Str("endpoint", change.Endpoint).
		Str("kind", string(KindOf(change))).
		Msg("webhook notification sent")
	return nil
}

func (n *WebhookNotifier) render(change transition.Change) ([]byte, error) {
	var buf bytes.Buffer
	err := n.template.Execute(&buf, WebhookPayload{
		Kind:        KindOf(change),
		Summary:     Summary(change),
		Change:      change,
		GeneratedAt: n.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("render webhook template: %w", err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("render webhook template: empty payload")
	}
	return buf.Bytes(), nil
}

func toJSON(v any) (string, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
