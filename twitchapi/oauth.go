package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenResult is the response of both the authorization_code and refresh_token grants.
type TokenResult struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// UserAuth drives the user-token code grant. The user credential is optional; when an
// operator completes the consent flow the resulting token row is kept fresh by the
// background refresher.
type UserAuth struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       string // space or comma separated

	AuthBaseURL string       // override for tests; defaults to id.twitch.tv
	HTTPClient  *http.Client // defaults to http.DefaultClient
}

func (ua *UserAuth) baseURL() string {
	if ua.AuthBaseURL != "" {
		return ua.AuthBaseURL
	}
	return defaultAuthBaseURL
}

func (ua *UserAuth) httpClient() *http.Client {
	if ua.HTTPClient != nil {
		return ua.HTTPClient
	}
	return http.DefaultClient
}

// Configured reports whether the consent flow can be offered at all.
func (ua *UserAuth) Configured() bool {
	return ua != nil && ua.ClientID != "" && ua.ClientSecret != "" && ua.RedirectURI != ""
}

// AuthorizeURL constructs the user authorization URL for the OAuth code grant.
func (ua *UserAuth) AuthorizeURL(state string) (string, error) {
	if ua.ClientID == "" || ua.RedirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", ua.ClientID)
	v.Set("redirect_uri", ua.RedirectURI)
	if ua.Scopes != "" {
		v.Set("scope", strings.TrimSpace(strings.ReplaceAll(ua.Scopes, ",", " ")))
	}
	if state != "" {
		v.Set("state", state)
	}
	return ua.baseURL() + "/oauth2/authorize?" + v.Encode(), nil
}

// Exchange trades an authorization code for access and refresh tokens.
func (ua *UserAuth) Exchange(ctx context.Context, code string) (*TokenResult, error) {
	if ua.ClientID == "" || ua.ClientSecret == "" || code == "" || ua.RedirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	form := url.Values{}
	form.Set("client_id", ua.ClientID)
	form.Set("client_secret", ua.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", ua.RedirectURI)
	return ua.grant(ctx, form)
}

// Refresh trades a refresh token for a new access token.
func (ua *UserAuth) Refresh(ctx context.Context, refreshToken string) (*TokenResult, error) {
	if ua.ClientID == "" || ua.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	form := url.Values{}
	form.Set("client_id", ua.ClientID)
	form.Set("client_secret", ua.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return ua.grant(ctx, form)
}

func (ua *UserAuth) grant(ctx context.Context, form url.Values) (*TokenResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ua.baseURL()+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := ua.httpClient().Do(req)
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
		return nil, fmt.Errorf("twitch token grant failed: %s: %s", resp.Status, string(b))
	}
	var res TokenResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
