package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Discord embed accent colors per severity, keyed on the bracketed prefix
// FormatAlert puts in the title.
var discordColors = map[string]int{
	"[LOW]":      0x95a5a6,
	"[MEDIUM]":   0xf1c40f,
	"[HIGH]":     0xe67e22,
	"[CRITICAL]": 0xe74c3c,
}

// DiscordSender delivers alerts via a Discord webhook as colored embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert to the Discord webhook as a single embed whose color
// follows the severity tag in the title.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	color := 0x3498db
	for prefix, c := range discordColors {
		if strings.HasPrefix(title, prefix) {
			color = c
			break
		}
	}

	payload := map[string]any{
		"embeds": []map[string]any{{
			"title":       title,
			"description": message,
			"color":       color,
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
