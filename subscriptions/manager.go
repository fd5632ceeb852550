// Package subscriptions manages EventSub stream.online/stream.offline subscriptions per
// broadcaster, plus the timed renewals that keep them and the app token alive. Renewal
// timing lives in the scheduler SaaS; the ids needed to cancel a pending renewal are
// kept in settings slots ("sub:<login>" for per-broadcaster renewals, "twitch_reauth_id"
// for the app token).
package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Kamikozz/discord-bot-twitch-vods-links/config"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/scheduler"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/twitchapi"
)

const reauthSlot = "twitch_reauth_id"

const subSlotPrefix = "sub:"

// subscribed event types per broadcaster
var eventTypes = []string{twitchapi.EventStreamOnline, twitchapi.EventStreamOffline}

// TwitchAPI is the Helix surface the manager needs.
type TwitchAPI interface {
	GetUserByLogin(ctx context.Context, login string) (*twitchapi.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]twitchapi.User, error)
	Subscribe(ctx context.Context, eventType, broadcasterID, callbackURL, secret string) (string, error)
	Unsubscribe(ctx context.Context, subscriptionID string) error
	ListSubscriptions(ctx context.Context) ([]twitchapi.Subscription, error)
}

// Scheduler is the renewal-callback surface.
type Scheduler interface {
	Schedule(ctx context.Context, when time.Time, callbackURL string) (string, error)
	Cancel(ctx context.Context, id, hostURL string) error
}

// SettingsStore holds renewal bookkeeping slots.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
	ListSettingsPrefix(ctx context.Context, prefix string) (map[string]string, error)
}

// TokenRefresher forces a fresh app token. Satisfied by twitchapi.TokenSource.
type TokenRefresher interface {
	Invalidate()
	Get(ctx context.Context) (string, error)
}

// Manager drives subscribe/unsubscribe/renewal flows.
type Manager struct {
	Cfg      *config.Config
	Twitch   TwitchAPI
	Sched    Scheduler
	Settings SettingsStore
	Tokens   TokenRefresher
}

// SubscriptionInfo is one row of the current-subscription listing.
type SubscriptionInfo struct {
	BroadcasterID string
	DisplayName   string
	Type          string
	ExpiresAt     string
}

func (m *Manager) callbackURL() string { return m.Cfg.HostURL + "/source-webhook" }

// Subscribe resolves the login, subscribes both stream events, and schedules a renewal
// just before the lease expires. An existing renewal for the login is cancelled first.
func (m *Manager) Subscribe(ctx context.Context, login string) (*twitchapi.User, error) {
	user, err := m.Twitch.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("twitch user %q not found", login)
	}

	var subIDs []string
	for _, et := range eventTypes {
		id, err := m.Twitch.Subscribe(ctx, et, user.ID, m.callbackURL(), m.Cfg.TwitchEventSubSecret)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", et, err)
		}
		subIDs = append(subIDs, id)
	}

	if err := m.scheduleRenewal(ctx, user); err != nil {
		// subscriptions are live; a missing renewal only means they lapse at lease end
		slog.Warn("failed to schedule subscription renewal",
			slog.String("login", user.Login), slog.Any("err", err))
	}
	if err := m.Settings.SetSetting(ctx, "subid:"+user.Login, strings.Join(subIDs, ",")); err != nil {
		slog.Warn("failed to persist subscription ids", slog.Any("err", err))
	}
	slog.Info("subscribed to broadcaster", slog.String("login", user.Login), slog.String("user_id", user.ID))
	return user, nil
}

// Resubscribe renews the subscriptions for a broadcaster already known by id and login.
// Used by the scheduler callback, where no user lookup round trip is needed.
func (m *Manager) Resubscribe(ctx context.Context, userID, login string) error {
	user := &twitchapi.User{ID: userID, Login: login}
	var subIDs []string
	for _, et := range eventTypes {
		id, err := m.Twitch.Subscribe(ctx, et, userID, m.callbackURL(), m.Cfg.TwitchEventSubSecret)
		if err != nil {
			return fmt.Errorf("resubscribe %s: %w", et, err)
		}
		subIDs = append(subIDs, id)
	}
	if err := m.scheduleRenewal(ctx, user); err != nil {
		slog.Warn("failed to schedule subscription renewal",
			slog.String("login", login), slog.Any("err", err))
	}
	if err := m.Settings.SetSetting(ctx, "subid:"+login, strings.Join(subIDs, ",")); err != nil {
		slog.Warn("failed to persist subscription ids", slog.Any("err", err))
	}
	return nil
}

// Unsubscribe removes the broadcaster's subscriptions and cancels its pending renewal.
func (m *Manager) Unsubscribe(ctx context.Context, login string) error {
	user, err := m.Twitch.GetUserByLogin(ctx, login)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("twitch user %q not found", login)
	}

	if schedID, _ := m.Settings.GetSetting(ctx, subSlotPrefix+user.Login); schedID != "" {
		if err := m.Sched.Cancel(ctx, schedID, m.Cfg.HostURL); err != nil {
			slog.Warn("failed to cancel renewal schedule", slog.Any("err", err))
		}
		if err := m.Settings.DeleteSetting(ctx, subSlotPrefix+user.Login); err != nil {
			slog.Warn("failed to clear renewal slot", slog.Any("err", err))
		}
	}

	stored, _ := m.Settings.GetSetting(ctx, "subid:"+user.Login)
	ids := splitIDs(stored)
	if len(ids) == 0 {
		// fall back to listing upstream when local bookkeeping is missing
		subs, err := m.Twitch.ListSubscriptions(ctx)
		if err != nil {
			return err
		}
		for _, s := range subs {
			if s.BroadcasterID() == user.ID {
				ids = append(ids, s.ID)
			}
		}
	}
	for _, id := range ids {
		if err := m.Twitch.Unsubscribe(ctx, id); err != nil {
			return fmt.Errorf("unsubscribe %s: %w", id, err)
		}
	}
	if err := m.Settings.DeleteSetting(ctx, "subid:"+user.Login); err != nil {
		slog.Warn("failed to clear subscription ids", slog.Any("err", err))
	}
	slog.Info("unsubscribed from broadcaster", slog.String("login", user.Login))
	return nil
}

// List returns the current upstream subscriptions with display names resolved.
func (m *Manager) List(ctx context.Context) ([]SubscriptionInfo, error) {
	subs, err := m.Twitch.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	idSet := map[string]bool{}
	for _, s := range subs {
		if id := s.BroadcasterID(); id != "" {
			idSet[id] = true
		}
	}
	names := map[string]string{}
	if len(idSet) > 0 {
		ids := make([]string, 0, len(idSet))
		for id := range idSet {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		users, err := m.Twitch.GetUsersByIDs(ctx, ids)
		if err != nil {
			slog.Warn("failed to resolve broadcaster names", slog.Any("err", err))
		}
		for _, u := range users {
			names[u.ID] = u.DisplayName
		}
	}
	out := make([]SubscriptionInfo, 0, len(subs))
	for _, s := range subs {
		id := s.BroadcasterID()
		out = append(out, SubscriptionInfo{
			BroadcasterID: id,
			DisplayName:   names[id],
			Type:          s.Type,
			ExpiresAt:     s.CreatedAt,
		})
	}
	return out, nil
}

// Reauth forces a fresh app token and schedules the next forced refresh before the
// token's long lease runs out.
func (m *Manager) Reauth(ctx context.Context) error {
	m.Tokens.Invalidate()
	if _, err := m.Tokens.Get(ctx); err != nil {
		return err
	}
	if m.Sched == nil || m.Cfg.SchedulerAPIKey == "" {
		return nil
	}
	if old, _ := m.Settings.GetSetting(ctx, reauthSlot); old != "" {
		if err := m.Sched.Cancel(ctx, old, m.Cfg.HostURL); err != nil {
			slog.Warn("failed to cancel previous reauth schedule", slog.Any("err", err))
		}
	}
	when := time.Now().Add(m.Cfg.TwitchTokenLease)
	id, err := m.Sched.Schedule(ctx, when, scheduler.ReauthURL(m.Cfg.HostURL, m.Cfg.TwitchClientID))
	if err != nil {
		return err
	}
	return m.Settings.SetSetting(ctx, reauthSlot, id)
}

func (m *Manager) scheduleRenewal(ctx context.Context, user *twitchapi.User) error {
	if m.Sched == nil || m.Cfg.SchedulerAPIKey == "" {
		return nil
	}
	if old, _ := m.Settings.GetSetting(ctx, subSlotPrefix+user.Login); old != "" {
		if err := m.Sched.Cancel(ctx, old, m.Cfg.HostURL); err != nil {
			slog.Warn("failed to cancel previous renewal schedule", slog.Any("err", err))
		}
	}
	when := time.Now().Add(m.Cfg.SubscriptionLease)
	id, err := m.Sched.Schedule(ctx, when,
		scheduler.ResubscribeURL(m.Cfg.HostURL, m.Cfg.TwitchClientID, user.ID, user.Login))
	if err != nil {
		return err
	}
	return m.Settings.SetSetting(ctx, subSlotPrefix+user.Login, id)
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
