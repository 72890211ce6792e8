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

const (
	// Discord limits embed titles and descriptions separately.
	discordMaxTitle       = 256
	discordMaxDescription = 4096

	discordColorAlert = 0xE67E22
	discordColorError = 0xC0392B
)

// DiscordSender delivers notifications as webhook embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Username        string              `json:"username"`
	Embeds          []discordEmbed      `json:"embeds"`
	AllowedMentions map[string][]string `json:"allowed_mentions"`
}

// Send posts one embed. The body goes in a code block so the opportunity
// columns line up; failure titles are coloured red.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	color := discordColorAlert
	if strings.Contains(strings.ToLower(title), "fail") {
		color = discordColorError
	}
	body, err := json.Marshal(discordPayload{
		Username: "fundingbot",
		Embeds: []discordEmbed{{
			Title:       truncate(title, discordMaxTitle),
			Description: "```\n" + truncate(message, discordMaxDescription-8) + "\n```",
			Color:       color,
			Timestamp:   d.now().UTC().Format(time.RFC3339),
		}},
		AllowedMentions: map[string][]string{"parse": {}},
	})
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

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("discord: rate limited (429), retry after %ss", resp.Header.Get("Retry-After"))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (d *DiscordSender) Name() string {
	return "discord"
}
