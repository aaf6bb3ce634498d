package toast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// WebhookSink encaminha toasts de erro para um webhook compatível com Slack.
type WebhookSink struct {
	webhookURL string
	client     *http.Client
	kinds      map[Kind]bool
}

// NewWebhookSink devolve nil quando a URL está vazia. Sem kinds, só erros são enviados.
func NewWebhookSink(webhookURL string, kinds ...Kind) *WebhookSink {
	if webhookURL == "" {
		return nil
	}
	if len(kinds) == 0 {
		kinds = []Kind{KindError}
	}
	filter := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		filter[k] = true
	}
	return &WebhookSink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		kinds:      filter,
	}
}

func (s *WebhookSink) Deliver(ctx context.Context, t Toast) error {
	if s == nil || s.webhookURL == "" {
		return errors.New("webhook não configurado")
	}
	if !s.kinds[t.Kind] {
		return nil
	}

	body, err := json.Marshal(map[string]any{"text": formatWebhookText(t)})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook respondeu %d", resp.StatusCode)
	}
	return nil
}

func formatWebhookText(t Toast) string {
	emoji := ":information_source:"
	switch t.Kind {
	case KindError:
		emoji = ":rotating_light:"
	case KindSuccess:
		emoji = ":white_check_mark:"
	}
	if t.Body == "" {
		return emoji + " *" + t.Title + "*"
	}
	return emoji + " *" + t.Title + "*\n" + t.Body
}
