// Package discordapi is the announcement sink and interaction reply client. All sends
// are best-effort: a relay session never fails because Discord is down, so callers log
// errors instead of propagating them.
package discordapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
)

const defaultBaseURL = "https://discord.com"

// Client posts messages through a webhook and edits interaction followups.
type Client struct {
	WebhookPath string // /api/webhooks/<id>/<token>
	AvatarURL   string
	BaseURL     string // override for tests; defaults to discord.com
	HTTPClient  *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBaseURL
}

type allowedMentions struct {
	Users []string `json:"users"`
}

type embedImage struct {
	URL string `json:"url"`
}

type embed struct {
	Color int         `json:"color,omitempty"`
	Image *embedImage `json:"image,omitempty"`
}

type webhookMessage struct {
	Content         string           `json:"content"`
	AvatarURL       string           `json:"avatar_url,omitempty"`
	Embeds          []embed          `json:"embeds,omitempty"`
	AllowedMentions *allowedMentions `json:"allowed_mentions,omitempty"`
}

// CreateMessage posts plain content through the configured webhook, optionally allowing
// mentions of specific user ids.
func (c *Client) CreateMessage(ctx context.Context, content string, mentionUserIDs ...string) error {
	if c.WebhookPath == "" {
		return fmt.Errorf("webhook path not configured")
	}
	msg := webhookMessage{Content: content, AvatarURL: c.AvatarURL}
	if len(mentionUserIDs) > 0 {
		msg.AllowedMentions = &allowedMentions{Users: mentionUserIDs}
	}
	return c.post(ctx, c.WebhookPath, msg)
}

// AnnounceStream posts the "went live" announcement: title | watch URL, with an optional
// thumbnail embed.
func (c *Client) AnnounceStream(ctx context.Context, title, watchURL, imageURL string) error {
	if c.WebhookPath == "" {
		return fmt.Errorf("webhook path not configured")
	}
	msg := webhookMessage{
		Content:   fmt.Sprintf("%s | %s", title, watchURL),
		AvatarURL: c.AvatarURL,
	}
	if imageURL != "" {
		msg.Embeds = []embed{{Color: 6570405, Image: &embedImage{URL: imageURL}}}
	}
	return c.post(ctx, c.WebhookPath, msg)
}

// EditFollowup replaces the deferred interaction reply with final content.
func (c *Client) EditFollowup(ctx context.Context, applicationID, interactionToken, content string, mentionUserIDs ...string) error {
	path := fmt.Sprintf("/api/webhooks/%s/%s/messages/@original", applicationID, interactionToken)
	msg := webhookMessage{Content: content}
	if len(mentionUserIDs) > 0 {
		msg.AllowedMentions = &allowedMentions{Users: mentionUserIDs}
	}
	return c.patch(ctx, path, msg)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	return c.send(ctx, http.MethodPost, path, body)
}

func (c *Client) patch(ctx context.Context, path string, body any) error {
	return c.send(ctx, http.MethodPatch, path, body)
}

func (c *Client) send(ctx context.Context, method, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("discord %s %s failed: %s: %s", method, path, resp.Status, string(b))
	}
	return nil
}

var awaitPhrases = []string{
	"Wait a few seconds...",
	"Hold on, working on it...",
	"One moment, fetching that for you...",
	":hourglass_flowing_sand: loading... :hourglass:",
}

// RandomAwaitPhrase returns filler content for the deferred interaction reply.
func RandomAwaitPhrase() string {
	//nolint:gosec // G404: cosmetic pick, not used for security
	return awaitPhrases[rand.Intn(len(awaitPhrases))]
}
