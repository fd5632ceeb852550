// Package youtubeapi wraps Google OAuth2 client config and the YouTube Data API for
// provisioning live broadcasts and their reusable ingestion stream. Tokens are persisted
// via the provided TokenStore interface so they can be refreshed and reused across sessions.
package youtubeapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/Kamikozz/discord-bot-twitch-vods-links/config"
)

const provider = "youtube"

// ErrCredentialUnavailable means no valid token is stored and refresh cannot produce one:
// a human must complete the interactive consent flow again.
var ErrCredentialUnavailable = errors.New("youtube credential unavailable")

type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, raw string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, raw string, err error)
}

type Service struct {
	cfg   *config.Config
	store TokenStore
	oauth *oauth2.Config

	// extra client options, used by tests to point the typed client at a mock server
	opts []option.ClientOption
}

func New(cfg *config.Config, ts TokenStore, opts ...option.ClientOption) *Service {
	scopes := []string{"https://www.googleapis.com/auth/youtube"}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		s := strings.ReplaceAll(cfg.YTScopes, ",", " ")
		fields := strings.Fields(s)
		if len(fields) > 0 {
			scopes = fields
		}
	}
	oauth := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}
	return &Service{cfg: cfg, store: ts, oauth: oauth, opts: opts}
}

// AuthCodeURL returns the consent URL to send to the operator (via Discord).
func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens and persists them.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	rawBytes, _ := json.Marshal(tok)
	_ = s.store.UpsertOAuthToken(ctx, provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, string(rawBytes))
	return tok, nil
}

// Token returns a currently-valid access token, refreshing first when the stored one is
// near expiry. It fails with ErrCredentialUnavailable when there is nothing stored or
// refresh cannot succeed, so callers abort before hitting the API.
func (s *Service) Token(ctx context.Context) (*oauth2.Token, error) {
	access, refresh, expiry, raw, err := s.store.GetOAuthToken(ctx, provider)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialUnavailable
		}
		return nil, err
	}
	if access == "" && refresh == "" {
		return nil, ErrCredentialUnavailable
	}
	var tok oauth2.Token
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &tok)
	}
	if tok.AccessToken == "" {
		tok.AccessToken = access
	}
	tok.RefreshToken = refresh
	tok.Expiry = expiry
	if time.Until(tok.Expiry) > 2*time.Minute {
		return &tok, nil
	}
	newTok, err := s.oauth.TokenSource(ctx, &tok).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh failed: %v", ErrCredentialUnavailable, err)
	}
	rawBytes, _ := json.Marshal(newTok)
	_ = s.store.UpsertOAuthToken(ctx, provider, newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, string(rawBytes))
	return newTok, nil
}

// Client builds a typed YouTube client authenticated with a fresh token. Call sites in
// the provisioning chain build a new client per upstream call, since the chain may span
// a token refresh boundary.
func (s *Service) Client(ctx context.Context) (*yt.Service, error) {
	tok, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithHTTPClient(s.oauth.Client(ctx, tok))}, s.opts...)
	return yt.NewService(ctx, opts...)
}
