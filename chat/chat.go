// Package chat posts the restream link into the broadcaster's own Twitch chat.
//
// The announcer keeps a single IRC connection and joins channels on demand. The
// IRC client requires a bot username and an OAuth token with chat:read/chat:edit
// scopes; without both the announcer is disabled and Say becomes a no-op.
package chat

import (
	"log/slog"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Announcer says messages in Twitch channels over IRC. Connection management is
// lazy: the connection is established on the first Say and rejoined per channel.
type Announcer struct {
	username string
	oauth    string

	mu        sync.Mutex
	client    *twitch.Client
	connected bool
	joined    map[string]bool
}

// NewAnnouncer returns a chat announcer. Empty credentials disable it.
func NewAnnouncer(username, oauth string) *Announcer {
	return &Announcer{username: username, oauth: oauth, joined: make(map[string]bool)}
}

// Enabled reports whether credentials were provided.
func (a *Announcer) Enabled() bool { return a.username != "" && a.oauth != "" }

// Say sends message to the channel's chat. Failures are logged and swallowed; chat
// delivery is cosmetic and never affects the relay session.
func (a *Announcer) Say(channel, message string) {
	if !a.Enabled() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureLocked()
	if !a.joined[channel] {
		a.client.Join(channel)
		a.joined[channel] = true
	}
	a.client.Say(channel, message)
	slog.Info("chat announcement sent", slog.String("channel", channel))
}

// Close disconnects the IRC client.
func (a *Announcer) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil || !a.connected {
		return
	}
	if err := a.client.Disconnect(); err != nil {
		slog.Warn("chat disconnect failed", slog.Any("err", err))
	}
	a.connected = false
}

func (a *Announcer) ensureLocked() {
	if a.client == nil {
		a.client = twitch.NewClient(a.username, a.oauth)
	}
	if !a.connected {
		a.connected = true
		go func() {
			// Connect blocks for the lifetime of the connection.
			if err := a.client.Connect(); err != nil {
				slog.Warn("twitch chat connect ended", slog.Any("err", err))
				a.mu.Lock()
				a.connected = false
				a.joined = make(map[string]bool)
				a.mu.Unlock()
			}
		}()
	}
}
