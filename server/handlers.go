package server

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/Kamikozz/discord-bot-twitch-vods-links/config"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/session"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/subscriptions"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/twitchapi"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/webhook"
)

// SessionDispatcher is the orchestrator surface the webhook handlers drive.
type SessionDispatcher interface {
	HandleOnline(ctx context.Context, broadcasterID, login string) error
	HandleOffline(ctx context.Context, broadcasterID string)
	Snapshots() []session.Snapshot
	ActiveCount() int
}

// SubscriptionManager is the Twitch subscription surface behind slash commands and
// scheduler callbacks. Satisfied by subscriptions.Manager.
type SubscriptionManager interface {
	Subscribe(ctx context.Context, login string) (*twitchapi.User, error)
	Unsubscribe(ctx context.Context, login string) error
	Resubscribe(ctx context.Context, userID, login string) error
	List(ctx context.Context) ([]subscriptions.SubscriptionInfo, error)
	Reauth(ctx context.Context) error
}

// Notifier posts operator-facing Discord messages. Satisfied by discordapi.Client.
type Notifier interface {
	CreateMessage(ctx context.Context, content string, mentionUserIDs ...string) error
	EditFollowup(ctx context.Context, applicationID, interactionToken, content string, mentionUserIDs ...string) error
}

// ConsentService is the YouTube OAuth consent surface. Satisfied by youtubeapi.Service.
type ConsentService interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// TokenSink persists exchanged user tokens. Satisfied by db.Store.
type TokenSink interface {
	UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, raw string) error
}

// HeartbeatState exposes the idle heartbeat's running flag for /status.
type HeartbeatState interface {
	IsRunning() bool
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Cfg *config.Config
	DB  *sql.DB

	EventVerifier       *webhook.EventSubVerifier
	InteractionVerifier *webhook.InteractionVerifier
	Dedup               *webhook.Deduplicator

	Sessions   SessionDispatcher
	Subs       SubscriptionManager
	Discord    Notifier
	YouTube    ConsentService
	TwitchAuth *twitchapi.UserAuth
	Tokens     TokenSink
	Heartbeat  HeartbeatState
}

// HandleRoot serves a tiny landing page. Also the target of heartbeat self-pings.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(`<b>For more information <a href="https://github.com/kamikozz">@see</a></b>`))
}
