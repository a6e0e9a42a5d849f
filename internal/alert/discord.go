package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DiscordChannel posts alerts as webhook embeds. Operational alerts go to
// webhookURL; raw study forwards go to studyWebhookURL so they can land in a
// separate Discord channel. Either URL may be empty, which silently disables
// that delivery path.
type DiscordChannel struct {
	webhookURL      string
	studyWebhookURL string
	client          *http.Client
}

func NewDiscordChannel(webhookURL, studyWebhookURL string) *DiscordChannel {
	return &DiscordChannel{
		webhookURL:      webhookURL,
		studyWebhookURL: studyWebhookURL,
		client:          &http.Client{Timeout: 8 * time.Second},
	}
}

func (d *DiscordChannel) Name() string {
	return "discord"
}

func levelColor(level AlertLevel) int {
	switch level {
	case Warning:
		return 0xf39c12
	case Error:
		return 0xe74c3c
	case Critical:
		return 0x992d22
	default:
		return 0x3498db
	}
}

func (d *DiscordChannel) Send(ctx context.Context, alert AlertPayload) error {
	if d.webhookURL == "" {
		return nil
	}

	var fields []map[string]interface{}
	for k, v := range alert.Fields {
		fields = append(fields, map[string]interface{}{
			"name":   k,
			"value":  v,
			"inline": true,
		})
	}

	embed := map[string]interface{}{
		"title":       fmt.Sprintf("[%s] %s", alert.Level, alert.Title),
		"description": alert.Message,
		"color":       levelColor(alert.Level),
		"fields":      fields,
		"timestamp":   alert.Timestamp.UTC().Format(time.RFC3339),
	}

	return d.post(ctx, d.webhookURL, embed)
}

// SendStudy relays a TradingView study payload. The payload is rendered as a
// JSON block and the chart snapshot, when present, becomes the embed image.
func (d *DiscordChannel) SendStudy(ctx context.Context, payload map[string]interface{}, chartURL string) error {
	if d.studyWebhookURL == "" {
		return nil
	}

	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}

	embed := map[string]interface{}{
		"title":       "Study Alert",
		"description": fmt.Sprintf("```json\n%s\n```", body),
		"color":       levelColor(Info),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	if chartURL != "" {
		embed["image"] = map[string]interface{}{"url": chartURL}
	}

	return d.post(ctx, d.studyWebhookURL, embed)
}

// SendEmbed posts a pre-built embed to the operational webhook. The daily
// report uses this to ship its own formatting.
func (d *DiscordChannel) SendEmbed(ctx context.Context, embed map[string]interface{}) error {
	if d.webhookURL == "" {
		return nil
	}
	return d.post(ctx, d.webhookURL, embed)
}

func (d *DiscordChannel) post(ctx context.Context, url string, embed map[string]interface{}) error {
	jsonBody, err := json.Marshal(map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Discord replies 204 on success.
	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook failed with status: %d", resp.StatusCode)
	}

	return nil
}
