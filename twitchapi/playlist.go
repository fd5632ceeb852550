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

const defaultUsherBaseURL = "https://usher.ttvnw.net"

// PlaylistResolver turns a live channel login into the HLS master playlist URL that
// ffmpeg reads. Twitch gates the playlist behind a short-lived channel access token,
// so resolution is two calls: fetch token+signature, then build the usher URL.
type PlaylistResolver struct {
	ClientID     string
	HTTPClient   *http.Client
	APIBaseURL   string // override for tests; defaults to api.twitch.tv
	UsherBaseURL string // override for tests; defaults to usher.ttvnw.net
}

func (pr *PlaylistResolver) http() *http.Client {
	if pr.HTTPClient != nil {
		return pr.HTTPClient
	}
	return http.DefaultClient
}

type channelAccessToken struct {
	Token string `json:"token"`
	Sig   string `json:"sig"`
}

// Resolve returns the master playlist URL for a live channel.
func (pr *PlaylistResolver) Resolve(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	tok, err := pr.accessToken(ctx, login)
	if err != nil {
		return "", fmt.Errorf("channel access token: %w", err)
	}
	usher := pr.UsherBaseURL
	if usher == "" {
		usher = defaultUsherBaseURL
	}
	v := url.Values{}
	v.Set("token", tok.Token)
	v.Set("sig", tok.Sig)
	v.Set("allow_source", "true")
	v.Set("allow_audio_only", "false")
	v.Set("fast_bread", "true")
	return fmt.Sprintf("%s/api/channel/hls/%s.m3u8?%s", usher, url.PathEscape(login), v.Encode()), nil
}

func (pr *PlaylistResolver) accessToken(ctx context.Context, login string) (*channelAccessToken, error) {
	base := pr.APIBaseURL
	if base == "" {
		base = defaultHelixBaseURL
	}
	endpoint := fmt.Sprintf("%s/api/channels/%s/access_token", base, url.PathEscape(login))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", pr.ClientID)
	resp, err := pr.http().Do(req)
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
		return nil, fmt.Errorf("access token request failed: %s: %s", resp.Status, string(b))
	}
	var tok channelAccessToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, err
	}
	return &tok, nil
}
