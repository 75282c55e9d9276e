package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Discord embed colours per level.
var discordColor = map[AlertLevel]int{
	AlertInfo:     0x2ecc71,
	AlertWarning:  0xf1c40f,
	AlertCritical: 0xe74c3c,
}

type genericBody struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	TS      string     `json:"ts"`
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordBody struct {
	Content string         `json:"content"`
	Embeds  []discordEmbed `json:"embeds"`
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint. The body
// layout is chosen by the encode func: a flat generic object, or a
// Discord message with one embed.
type WebhookNotifier struct {
	url    string
	encode func(Alert, time.Time) any
	client *http.Client
	now    func() time.Time
	log    *slog.Logger
}

// NewWebhookNotifier posts {level, title, message, ts} to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return newWebhook(url, "webhook", func(a Alert, ts time.Time) any {
		return genericBody{Level: a.Level, Title: a.Title, Message: a.Message, TS: ts.Format(time.RFC3339Nano)}
	})
}

// NewDiscordNotifier posts to a Discord incoming-webhook URL.
func NewDiscordNotifier(url string) *WebhookNotifier {
	return newWebhook(url, "discord", func(a Alert, ts time.Time) any {
		return discordBody{
			Content: fmt.Sprintf("**[%s] %s**\n%s", a.Level, a.Title, a.Message),
			Embeds: []discordEmbed{{
				Title:       a.Title,
				Description: a.Message,
				Color:       discordColor[a.Level],
				Timestamp:   ts.Format(time.RFC3339),
			}},
		}
	})
}

func newWebhook(url, kind string, encode func(Alert, time.Time) any) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		encode: encode,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
		log:    slog.Default().With("component", "notify", "sink", kind),
	}
}

// Send posts one alert. Any non-2xx response is an error carrying the
// start of the response body.
func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(w.encode(alert, w.now().UTC()))
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	w.log.Debug("alert delivered", "title", alert.Title, "level", alert.Level)
	return nil
}
