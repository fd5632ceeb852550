package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/Kamikozz/discord-bot-twitch-vods-links/telemetry"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/webhook"
)

// message type header values sent by the event source
const (
	messageTypeNotification = "notification"
	messageTypeVerification = "webhook_callback_verification"
	messageTypeRevocation   = "revocation"
)

// eventEnvelope is the raw JSON body of a webhook delivery.
type eventEnvelope struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
	Event struct {
		BroadcasterUserID    string `json:"broadcaster_user_id"`
		BroadcasterUserLogin string `json:"broadcaster_user_login"`
	} `json:"event"`
}

// HandleSourceWebhook serves both the legacy GET handshake and signed POST deliveries.
func (h *Handlers) HandleSourceWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleWebhookHandshake(w, r)
	case http.MethodPost:
		h.handleWebhookEvent(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWebhookHandshake echoes the hub.challenge query parameter as plain text.
func (h *Handlers) handleWebhookHandshake(w http.ResponseWriter, r *http.Request) {
	challenge := r.URL.Query().Get("hub.challenge")
	telemetry.LoggerWithCorr(r.Context()).Info("webhook handshake", slog.String("challenge", challenge))
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// handleWebhookEvent verifies, deduplicates and acknowledges a signed delivery, then
// hands the event to the orchestrator in the background. The sender treats slow
// responses as delivery failures and retries, so the 200 must go out before any
// session work happens.
func (h *Handlers) handleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context())

	// Verification needs the exact raw bytes; re-serializing the parsed body would
	// break the signature when key order or whitespace differs.
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if !h.EventVerifier.Verify(r.Header, body) {
		telemetry.EventsRejected.Inc()
		log.Warn("webhook rejected", slog.String("message_id", r.Header.Get(webhook.HeaderMessageID)))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// authenticated but malformed; acknowledge so the sender stops retrying
		log.Warn("malformed webhook body", slog.Any("err", err))
		w.WriteHeader(http.StatusOK)
		return
	}

	msgType := r.Header.Get(webhook.HeaderMessageType)
	if msgType == messageTypeVerification {
		log.Info("webhook verification challenge")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(env.Challenge))
		return
	}

	msgID := r.Header.Get(webhook.HeaderMessageID)
	if h.Dedup.Seen(msgID) {
		telemetry.EventsDuplicate.Inc()
		log.Info("duplicate webhook delivery", slog.String("message_id", msgID))
		w.WriteHeader(http.StatusOK)
		return
	}
	telemetry.EventsReceived.Inc()

	// acknowledge before doing any session work
	w.WriteHeader(http.StatusOK)

	if msgType == messageTypeRevocation {
		log.Warn("subscription revoked", slog.String("type", env.Subscription.Type))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	switch env.Subscription.Type {
	case "stream.online":
		go func() {
			if err := h.Sessions.HandleOnline(ctx, env.Event.BroadcasterUserID, env.Event.BroadcasterUserLogin); err != nil {
				telemetry.LoggerWithCorr(ctx).Error("online event handling failed", slog.Any("err", err))
			}
		}()
	case "stream.offline":
		go h.Sessions.HandleOffline(ctx, env.Event.BroadcasterUserID)
	default:
		log.Info("ignoring event type", slog.String("type", env.Subscription.Type))
	}
}
