package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Kamikozz/discord-bot-twitch-vods-links/telemetry"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/twitchapi"
)

// HandleReauth is the scheduler callback that forces a fresh app token and arms the
// next forced refresh. Plain-text response so the scheduler logs stay readable.
func (h *Handlers) HandleReauth(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context())
	log.Info("scheduled reauth callback", slog.String("client_id", r.URL.Query().Get("clientId")))

	w.Header().Set("Content-Type", "text/plain")
	if err := h.Subs.Reauth(r.Context()); err != nil {
		log.Error("reauth failed", slog.Any("err", err))
		http.Error(w, "reauth failed: "+err.Error(), http.StatusUnauthorized)
		return
	}
	_, _ = w.Write([]byte("OK"))
}

// HandleResubscribe is the scheduler callback that renews a broadcaster's webhook
// subscriptions before their lease lapses. Failures are surfaced to Discord so a human
// notices a broadcaster silently dropping off.
func (h *Handlers) HandleResubscribe(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context())
	q := r.URL.Query()
	userID, login := q.Get("userId"), q.Get("login")
	log.Info("scheduled resubscribe callback", slog.String("user_id", userID), slog.String("login", login))

	w.Header().Set("Content-Type", "text/plain")
	if userID == "" || login == "" {
		http.Error(w, "missing userId/login", http.StatusBadRequest)
		return
	}
	if err := h.Subs.Resubscribe(r.Context(), userID, login); err != nil {
		log.Error("resubscribe failed", slog.String("login", login), slog.Any("err", err))
		http.Error(w, "resubscribe failed: "+err.Error(), http.StatusUnauthorized)
		if h.Discord != nil {
			msg := "Subscription renewal for " + login + " failed: " + err.Error()
			if derr := h.Discord.CreateMessage(context.WithoutCancel(r.Context()), msg); derr != nil {
				log.Warn("failed to notify renewal failure", slog.Any("err", derr))
			}
		}
		return
	}
	_, _ = w.Write([]byte("OK"))
}

// HandleYouTubeOAuthStart redirects the operator into the YouTube consent flow.
func (h *Handlers) HandleYouTubeOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.Cfg.YTClientID == "" {
		http.Error(w, "youtube oauth not configured", http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, h.YouTube.AuthCodeURL("consent"), http.StatusFound)
}

// consentCallbackPage closes the consent popup; the outcome is delivered to Discord.
const consentCallbackPage = `<html>
  <head></head>
  <body>
    <script>
      window.onload = function() {
        window.close();
      };
    </script>
  </body>
</html>`

// HandleYouTubeOAuthCallback completes the consent flow: the page response closes the
// browser window immediately and the code exchange happens after, reporting the result
// through Discord rather than the (already closed) page.
func (h *Handlers) HandleYouTubeOAuthCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(consentCallbackPage))

	code := r.URL.Query().Get("code")
	if code == "" {
		return
	}
	ctx := context.WithoutCancel(r.Context())
	go func() {
		log := telemetry.LoggerWithCorr(ctx)
		outcome := "success"
		if _, err := h.YouTube.Exchange(ctx, code); err != nil {
			log.Error("youtube code exchange failed", slog.Any("err", err))
			outcome = "failed"
		} else {
			log.Info("youtube authorization completed")
		}
		if h.Discord != nil {
			if err := h.Discord.CreateMessage(ctx, "[YouTube] Authorization **"+outcome+"**"); err != nil {
				log.Warn("failed to notify authorization outcome", slog.Any("err", err))
			}
		}
	}()
}

// HandleTwitchOAuthStart redirects the operator into the Twitch consent flow for the
// optional user credential.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if !h.TwitchAuth.Configured() {
		http.Error(w, "twitch oauth not configured", http.StatusBadRequest)
		return
	}
	u, err := h.TwitchAuth.AuthorizeURL("consent")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

// HandleTwitchOAuthCallback completes the Twitch consent flow the same way the YouTube
// callback does: close the window first, exchange and persist after, report via Discord.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(consentCallbackPage))

	code := r.URL.Query().Get("code")
	if code == "" || !h.TwitchAuth.Configured() {
		return
	}
	ctx := context.WithoutCancel(r.Context())
	go func() {
		log := telemetry.LoggerWithCorr(ctx)
		outcome := "success"
		res, err := h.TwitchAuth.Exchange(ctx, code)
		if err != nil {
			log.Error("twitch code exchange failed", slog.Any("err", err))
			outcome = "failed"
		} else if h.Tokens != nil {
			expiry := twitchapi.ComputeExpiry(res.ExpiresIn)
			if err := h.Tokens.UpsertOAuthToken(ctx, "twitch_user", res.AccessToken, res.RefreshToken, expiry, ""); err != nil {
				log.Error("failed to persist twitch user token", slog.Any("err", err))
				outcome = "failed"
			} else {
				log.Info("twitch user authorization completed", slog.String("scopes", strings.Join(res.Scope, " ")))
			}
		}
		if h.Discord != nil {
			if err := h.Discord.CreateMessage(ctx, "[Twitch] Authorization **"+outcome+"**"); err != nil {
				log.Warn("failed to notify authorization outcome", slog.Any("err", err))
			}
		}
	}()
}
