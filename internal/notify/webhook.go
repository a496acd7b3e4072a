package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	defaultTelegramAPI = "https://api.telegram.org"
	senderTimeout      = 10 * time.Second

	// Per-message limits of the two services.
	discordMaxContent = 2000
	telegramMaxText   = 4096
)

// DiscordSender posts alerts to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: &http.Client{Timeout: senderTimeout}}
}

func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := truncate(fmt.Sprintf("**%s**\n%s", title, message), discordMaxContent)
	return postJSON(ctx, d.client, d.webhookURL, map[string]any{
		"content":          content,
		"allowed_mentions": map[string]any{"parse": []string{}},
	})
}

func (d *DiscordSender) Name() string { return "discord" }

// TelegramSender posts alerts through the Bot API sendMessage call using
// HTML formatting, which needs no escaping beyond <, > and &.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: defaultTelegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: senderTimeout},
	}
}

// WithAPIBase points the sender at a different Bot API host.
func (t *TelegramSender) WithAPIBase(base string) *TelegramSender {
	t.apiBase = strings.TrimRight(base, "/")
	return t
}

func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	text := "<b>" + html.EscapeString(title) + "</b>\n" + html.EscapeString(message)
	err := postJSON(ctx, t.client, t.apiBase+"/bot"+t.token+"/sendMessage", map[string]any{
		"chat_id":                  t.chatID,
		"text":                     truncate(text, telegramMaxText),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	// The token is part of the URL; keep it out of logs.
	if err != nil && t.token != "" && strings.Contains(err.Error(), t.token) {
		return errors.New(strings.ReplaceAll(err.Error(), t.token, "***"))
	}
	return err
}

func (t *TelegramSender) Name() string { return "telegram" }

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// truncate cuts s to at most n bytes on a rune boundary, marking the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	const mark = "…"
	cut := n - len(mark)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + mark
}
