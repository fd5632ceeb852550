// Package scheduler is a thin client for the scheduler SaaS used to re-run Twitch
// reauth and subscription renewal at a future time. The service fires a webhook back
// into this deployment's /auth and /resubscribe endpoints.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://api.schedulerapi.com"

type Client struct {
	APIKey     string
	BaseURL    string // override for tests
	HTTPClient *http.Client
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

type payload struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Body   string `json:"body,omitempty"`
}

type scheduleRequest struct {
	ID       string  `json:"id,omitempty"`
	When     string  `json:"when"`
	Protocol string  `json:"protocol"`
	Payload  payload `json:"payload"`
}

type scheduleResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Schedule registers a GET webhook callback at the given time and returns the task id.
func (c *Client) Schedule(ctx context.Context, when time.Time, callbackURL string) (string, error) {
	req := scheduleRequest{
		When:     when.UTC().Format(time.RFC3339),
		Protocol: "webhook",
		Payload:  payload{Method: "get", URL: callbackURL},
	}
	res, err := c.call(ctx, "/schedule", req)
	if err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", fmt.Errorf("scheduler: no task id in response: %s", res.Message)
	}
	return res.ID, nil
}

// Update reschedules an existing task.
func (c *Client) Update(ctx context.Context, id string, when time.Time, callbackURL string) error {
	req := scheduleRequest{
		ID:       id,
		When:     when.UTC().Format(time.RFC3339),
		Protocol: "webhook",
		Payload:  payload{Method: "get", URL: callbackURL},
	}
	_, err := c.call(ctx, "/update", req)
	return err
}

// Cancel neutralizes a pending task. The API has no delete, so the task is repointed
// at a harmless no-op URL shortly in the future.
func (c *Client) Cancel(ctx context.Context, id, hostURL string) error {
	return c.Update(ctx, id, time.Now().Add(5*time.Minute), hostURL+"/")
}

func (c *Client) call(ctx context.Context, path string, body scheduleRequest) (*scheduleResponse, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("scheduler %s failed: %s: %s", path, resp.Status, string(b))
	}
	var res scheduleResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ReauthURL builds the callback that triggers a Twitch app token refresh.
func ReauthURL(hostURL, clientID string) string {
	return fmt.Sprintf("%s/auth?clientId=%s", hostURL, url.QueryEscape(clientID))
}

// ResubscribeURL builds the callback that renews a broadcaster's EventSub subscriptions.
func ResubscribeURL(hostURL, clientID, userID, login string) string {
	v := url.Values{}
	v.Set("clientId", clientID)
	v.Set("userId", userID)
	v.Set("login", login)
	return fmt.Sprintf("%s/resubscribe?%s", hostURL, v.Encode())
}
