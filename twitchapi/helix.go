// Package twitchapi contains helpers to interact with Twitch Helix APIs for user
// resolution, live stream metadata, EventSub subscription management, and resolving
// the HLS playlist of a live channel, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

const defaultHelixBaseURL = "https://api.twitch.tv"

// HelixClient provides the Helix methods the relay needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string // override for tests; defaults to api.twitch.tv
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return defaultHelixBaseURL
}

// User is the subset of the Helix user object the relay cares about.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Stream is the subset of the Helix stream object the relay cares about.
type Stream struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	StartedAt string `json:"started_at"`
}

// usersQuery enumerates the recognized filters for the Helix users endpoint.
type usersQuery struct {
	Logins []string
	IDs    []string
}

func (q usersQuery) values() url.Values {
	v := url.Values{}
	for _, l := range q.Logins {
		v.Add("login", l)
	}
	for _, id := range q.IDs {
		v.Add("id", id)
	}
	return v
}

// GetUserByLogin resolves a login name to its Helix user record.
func (hc *HelixClient) GetUserByLogin(ctx context.Context, login string) (*User, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	users, err := hc.getUsers(ctx, usersQuery{Logins: []string{login}})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user not found")
	}
	return &users[0], nil
}

// GetUsersByIDs resolves up to 100 user ids to Helix user records.
func (hc *HelixClient) GetUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return hc.getUsers(ctx, usersQuery{IDs: ids})
}

func (hc *HelixClient) getUsers(ctx context.Context, q usersQuery) ([]User, error) {
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.getJSON(ctx, "/helix/users", q.values(), &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetStream returns the current live stream for a user id, or nil when the user is
// not live (Helix returns an empty data set rather than an error).
func (hc *HelixClient) GetStream(ctx context.Context, userID string) (*Stream, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	v := url.Values{}
	v.Set("user_id", userID)
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.getJSON(ctx, "/helix/streams", v, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// getJSON performs an authenticated GET against a Helix path and decodes into out.
func (hc *HelixClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+path, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = query.Encode()
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
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix %s failed: %s: %s", path, resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
