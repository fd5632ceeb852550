package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// EventSub subscription types this service manages.
const (
	EventStreamOnline  = "stream.online"
	EventStreamOffline = "stream.offline"
)

// Subscription is an EventSub subscription record.
type Subscription struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	Condition struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
	} `json:"condition"`
}

// BroadcasterID returns the broadcaster the subscription watches.
func (s Subscription) BroadcasterID() string { return s.Condition.BroadcasterUserID }

// subscribeRequest is the wire shape of an EventSub create call.
type subscribeRequest struct {
	Type      string `json:"type"`
	Version   string `json:"version"`
	Condition struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
	} `json:"condition"`
	Transport struct {
		Method   string `json:"method"`
		Callback string `json:"callback"`
		Secret   string `json:"secret"`
	} `json:"transport"`
}

// Subscribe creates a webhook subscription of the given type for a broadcaster,
// delivering to callbackURL signed with secret. Returns the subscription id.
func (hc *HelixClient) Subscribe(ctx context.Context, eventType, broadcasterID, callbackURL, secret string) (string, error) {
	if broadcasterID == "" || callbackURL == "" || secret == "" {
		return "", fmt.Errorf("missing broadcasterID/callbackURL/secret")
	}
	reqBody := subscribeRequest{Type: eventType, Version: "1"}
	reqBody.Condition.BroadcasterUserID = broadcasterID
	reqBody.Transport.Method = "webhook"
	reqBody.Transport.Callback = callbackURL
	reqBody.Transport.Secret = secret

	var body struct {
		Data []Subscription `json:"data"`
	}
	if err := hc.postJSON(ctx, "/helix/eventsub/subscriptions", reqBody, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("eventsub subscribe: empty response")
	}
	return body.Data[0].ID, nil
}

// Unsubscribe deletes a subscription by id.
func (hc *HelixClient) Unsubscribe(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return fmt.Errorf("subscriptionID empty")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, hc.base()+"/helix/eventsub/subscriptions", nil)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("id", subscriptionID)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("eventsub unsubscribe failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

// ListSubscriptions returns all subscriptions owned by this client id.
func (hc *HelixClient) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var body struct {
		Data []Subscription `json:"data"`
	}
	if err := hc.getJSON(ctx, "/helix/eventsub/subscriptions", url.Values{}, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

func (hc *HelixClient) postJSON(ctx context.Context, path string, in, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hc.base()+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix %s failed: %s: %s", path, resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
