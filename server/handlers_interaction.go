package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Kamikozz/discord-bot-twitch-vods-links/discordapi"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/telemetry"
)

// HandleBotInteraction receives Discord slash commands. The payload is Ed25519-signed;
// a failed check must produce a 401 for Discord's endpoint validation to pass. Commands
// are acknowledged with a deferred reply and processed in the background, editing the
// reply with the outcome.
func (h *Handlers) HandleBotInteraction(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context())
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	if !h.InteractionVerifier.Verify(r.Header, body) {
		log.Warn("interaction signature invalid")
		http.Error(w, "Invalid request signature", http.StatusUnauthorized)
		return
	}

	var in discordapi.Interaction
	if err := json.Unmarshal(body, &in); err != nil {
		http.Error(w, "malformed interaction", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if in.Type == discordapi.InteractionTypePing {
		log.Info("interaction ping")
		_ = json.NewEncoder(w).Encode(discordapi.InteractionResponse{Type: discordapi.ResponseTypePong})
		return
	}

	// defer the reply, then work in the background and edit it
	_ = json.NewEncoder(w).Encode(discordapi.InteractionResponse{
		Type: discordapi.ResponseTypeDeferred,
		Data: &discordapi.InteractionResponseData{Content: discordapi.RandomAwaitPhrase()},
	})

	go h.runCommand(context.WithoutCancel(r.Context()), &in)
}

func (h *Handlers) runCommand(ctx context.Context, in *discordapi.Interaction) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("command", in.Data.Name))
	reply := func(content string, mentions ...string) {
		if err := h.Discord.EditFollowup(ctx, in.ApplicationID, in.Token, content, mentions...); err != nil {
			log.Warn("failed to edit interaction reply", slog.Any("err", err))
		}
	}

	userID := in.Member.User.ID
	switch in.Data.Name {
	case "auth_youtube":
		log.Info("youtube auth command")
		reply("**Click this link to authorize** " + h.YouTube.AuthCodeURL("interaction"))

	case "subscriptions":
		log.Info("subscriptions command")
		infos, err := h.Subs.List(ctx)
		if err != nil {
			reply("Failed to list subscriptions: " + err.Error())
			return
		}
		if len(infos) == 0 {
			reply("No active subscriptions")
			return
		}
		var b strings.Builder
		b.WriteString("Current subscriptions:\n")
		for _, s := range infos {
			fmt.Fprintf(&b, "- %s | %s | %s\n", s.DisplayName, s.Type, s.ExpiresAt)
		}
		reply(b.String())

	case "subscribe":
		login := in.FirstOption()
		log.Info("subscribe command", slog.String("login", login))
		if login == "" {
			reply("Usage: /subscribe requires a broadcaster name")
			return
		}
		user, err := h.Subs.Subscribe(ctx, login)
		if err != nil {
			reply("Subscribe failed: " + err.Error())
			return
		}
		reply(fmt.Sprintf("<@%s> subscribed to %s", userID, user.Login), userID)

	case "unsubscribe":
		login := in.FirstOption()
		log.Info("unsubscribe command", slog.String("login", login))
		if login == "" {
			reply("Usage: /unsubscribe requires a broadcaster name")
			return
		}
		if err := h.Subs.Unsubscribe(ctx, login); err != nil {
			reply("Unsubscribe failed: " + err.Error())
			return
		}
		reply(fmt.Sprintf("<@%s> unsubscribed from %s", userID, login), userID)

	case "auth":
		log.Info("twitch reauth command")
		if err := h.Subs.Reauth(ctx); err != nil {
			reply("Twitch re-authorization failed")
			return
		}
		reply("Twitch re-authorization succeeded")

	default:
		log.Warn("unknown command")
		reply("Unknown command: " + in.Data.Name)
	}
}
