// Package session owns the per-broadcaster relay lifecycle. The orchestrator takes
// authenticated go-live and go-offline notifications and drives destination
// provisioning, relay supervision, the idle heartbeat and announcements. At most one
// non-idle session exists per broadcaster at any time.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Kamikozz/discord-bot-twitch-vods-links/relay"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/telemetry"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/twitchapi"
	"github.com/Kamikozz/discord-bot-twitch-vods-links/youtubeapi"
)

// State of one broadcaster's session.
type State string

const (
	StateIdle         State = "idle"
	StateProvisioning State = "provisioning"
	StateRelaying     State = "relaying"
	StateStopping     State = "stopping"
)

// Provisioner creates the relay destination. Satisfied by youtubeapi.Provisioner.
type Provisioner interface {
	Provision(ctx context.Context, title string) (*youtubeapi.Destination, error)
	UpdateBroadcastTitle(ctx context.Context, broadcastID, title string) error
}

// PlaylistResolver turns a broadcaster login into a live playlist URL.
type PlaylistResolver interface {
	Resolve(ctx context.Context, login string) (string, error)
}

// StreamLookup fetches live stream metadata. Nil stream means offline.
type StreamLookup interface {
	GetStream(ctx context.Context, userID string) (*twitchapi.Stream, error)
}

// Announcer publishes the session's watch link once the relay is up.
type Announcer interface {
	AnnounceStream(ctx context.Context, title, watchURL, imageURL string) error
}

// ChatAnnouncer says the watch link in the broadcaster's own chat.
type ChatAnnouncer interface {
	Say(login, message string)
}

// Pacemaker is started while any session relays and stopped when none do.
// Satisfied by heartbeat.Heartbeat.
type Pacemaker interface {
	Start()
	Stop()
}

// Session is the live record for one broadcaster.
type Session struct {
	BroadcasterID string
	Login         string
	State         State
	Title         string
	WatchURL      string
	BroadcastID   string
	StartedAt     time.Time

	supervisor *relay.Supervisor
	cancelled  bool // offline arrived while provisioning
}

// Snapshot is a read-only copy of a session for status reporting.
type Snapshot struct {
	BroadcasterID string    `json:"broadcaster_id"`
	Login         string    `json:"login"`
	State         State     `json:"state"`
	Title         string    `json:"title,omitempty"`
	WatchURL      string    `json:"watch_url,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}

// Orchestrator coordinates sessions across broadcasters. All state transitions happen
// under mu; the slow work (provisioning, network calls) runs outside it.
type Orchestrator struct {
	Provisioner Provisioner
	Playlists   PlaylistResolver
	Streams     StreamLookup
	Launcher    relay.Launcher
	Heartbeat   Pacemaker
	Announce    Announcer     // optional
	Chat        ChatAnnouncer // optional

	RestartDelay time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// New wires an orchestrator with an empty session table.
func New(prov Provisioner, playlists PlaylistResolver, streams StreamLookup, launcher relay.Launcher, hb Pacemaker) *Orchestrator {
	return &Orchestrator{
		Provisioner: prov,
		Playlists:   playlists,
		Streams:     streams,
		Launcher:    launcher,
		Heartbeat:   hb,
		sessions:    make(map[string]*Session),
	}
}

// HandleOnline starts a relay session for the broadcaster. Redeliveries and overlapping
// go-live notifications are absorbed: if a non-idle session already exists the call
// returns immediately without provisioning a second destination.
func (o *Orchestrator) HandleOnline(ctx context.Context, broadcasterID, login string) error {
	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("broadcaster_id", broadcasterID), slog.String("login", login))

	o.mu.Lock()
	if s, ok := o.sessions[broadcasterID]; ok && s.State != StateIdle {
		o.mu.Unlock()
		log.Info("session already in progress, ignoring go-live", slog.String("state", string(s.State)))
		return nil
	}
	sess := &Session{
		BroadcasterID: broadcasterID,
		Login:         login,
		State:         StateProvisioning,
		StartedAt:     time.Now(),
	}
	o.sessions[broadcasterID] = sess
	o.updateGaugeLocked()
	o.mu.Unlock()

	title := o.sourceTitle(ctx, broadcasterID, login)

	dest, err := o.provision(ctx, title)
	if err != nil {
		o.failSession(ctx, broadcasterID, err)
		return err
	}

	playlist, err := o.Playlists.Resolve(ctx, login)
	if err != nil {
		o.failSession(ctx, broadcasterID, err)
		return err
	}

	o.mu.Lock()
	if sess.cancelled {
		// offline overtook provisioning; never spawn
		delete(o.sessions, broadcasterID)
		o.updateGaugeLocked()
		o.mu.Unlock()
		log.Info("session cancelled during provisioning")
		return nil
	}
	sup := relay.NewSupervisor(o.Launcher, o.RestartDelay)
	sess.supervisor = sup
	sess.State = StateRelaying
	sess.Title = title
	sess.WatchURL = dest.WatchURL
	sess.BroadcastID = dest.BroadcastID
	o.updateGaugeLocked()
	o.startHeartbeatLocked()
	// under the lock so an offline arriving now cannot observe Relaying before the
	// supervisor is startable; Start only flips the active flag and spawns the loop
	sup.Start(ctx, playlist, dest.IngestionURI)
	o.mu.Unlock()

	log.Info("relay session started",
		slog.String("watch_url", dest.WatchURL), slog.String("broadcast_id", dest.BroadcastID))

	// Cosmetic follow-ups happen off the critical path and never fail the session.
	go o.announce(context.WithoutCancel(ctx), title, dest.WatchURL, login)
	go o.syncTitle(context.WithoutCancel(ctx), sess, broadcasterID, dest.BroadcastID, title)
	return nil
}

// HandleOffline tears down the broadcaster's session. A notification with no matching
// session is a no-op; a second offline for the same session stops nothing twice.
func (o *Orchestrator) HandleOffline(ctx context.Context, broadcasterID string) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("broadcaster_id", broadcasterID))

	o.mu.Lock()
	sess, ok := o.sessions[broadcasterID]
	if !ok || sess.State == StateIdle || sess.State == StateStopping {
		o.mu.Unlock()
		log.Info("go-offline with no active session, ignoring")
		return
	}
	if sess.State == StateProvisioning {
		sess.cancelled = true
		sess.State = StateStopping
		o.mu.Unlock()
		log.Info("go-offline during provisioning, session will be discarded")
		return
	}
	sess.State = StateStopping
	sup := sess.supervisor
	o.mu.Unlock()

	if sup != nil {
		sup.Stop()
	}

	o.mu.Lock()
	delete(o.sessions, broadcasterID)
	o.updateGaugeLocked()
	o.stopHeartbeatLocked()
	o.mu.Unlock()
	log.Info("relay session stopped", slog.String("login", sess.Login))
}

// Shutdown stops every active relay. Used on process exit.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	sups := make([]*relay.Supervisor, 0, len(o.sessions))
	for id, s := range o.sessions {
		if s.supervisor != nil {
			sups = append(sups, s.supervisor)
		}
		delete(o.sessions, id)
	}
	o.updateGaugeLocked()
	o.stopHeartbeatLocked()
	o.mu.Unlock()
	for _, sup := range sups {
		sup.Stop()
	}
}

// ActiveCount is the number of sessions currently relaying.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.relayingLocked()
}

// Snapshots lists all non-idle sessions for status reporting.
func (o *Orchestrator) Snapshots() []Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Snapshot, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, Snapshot{
			BroadcasterID: s.BroadcasterID,
			Login:         s.Login,
			State:         s.State,
			Title:         s.Title,
			WatchURL:      s.WatchURL,
			StartedAt:     s.StartedAt,
		})
	}
	return out
}

func (o *Orchestrator) provision(ctx context.Context, title string) (*youtubeapi.Destination, error) {
	var dest *youtubeapi.Destination
	var err error
	telemetry.TimeFunc(telemetry.ProvisionDuration, func() {
		dest, err = o.Provisioner.Provision(ctx, title)
	})
	if err != nil {
		telemetry.ProvisionFailures.Inc()
	}
	return dest, err
}

func (o *Orchestrator) failSession(ctx context.Context, broadcasterID string, err error) {
	o.mu.Lock()
	delete(o.sessions, broadcasterID)
	o.updateGaugeLocked()
	o.mu.Unlock()

	log := telemetry.LoggerWithCorr(ctx).With(slog.String("broadcaster_id", broadcasterID))
	if errors.Is(err, youtubeapi.ErrCredentialUnavailable) {
		log.Error("destination credentials unavailable, session abandoned")
		if o.Announce != nil {
			msg := "Restream skipped: the destination account needs re-authorization."
			if aerr := o.Announce.AnnounceStream(ctx, msg, "", ""); aerr != nil {
				log.Warn("failed to announce credential failure", slog.Any("err", aerr))
			}
		}
		return
	}
	log.Error("session setup failed", slog.Any("err", err))
}

// sourceTitle best-effort fetches the live title for the destination broadcast.
func (o *Orchestrator) sourceTitle(ctx context.Context, broadcasterID, login string) string {
	if o.Streams == nil {
		return ""
	}
	stream, err := o.Streams.GetStream(ctx, broadcasterID)
	if err != nil {
		slog.Warn("stream metadata lookup failed", slog.String("login", login), slog.Any("err", err))
		return ""
	}
	if stream == nil {
		return ""
	}
	return stream.Title
}

func (o *Orchestrator) announce(ctx context.Context, title, watchURL, login string) {
	if o.Announce != nil {
		if err := o.Announce.AnnounceStream(ctx, title, watchURL, ""); err != nil {
			slog.Warn("announcement failed", slog.Any("err", err))
		} else {
			telemetry.Announcements.Inc()
		}
	}
	if o.Chat != nil && watchURL != "" {
		o.Chat.Say(login, "Restream is live: "+watchURL)
	}
}

// syncTitle pushes the source title onto the destination broadcast after the fact. The
// go-live notification can race the title being set, so re-read it once relaying.
func (o *Orchestrator) syncTitle(ctx context.Context, sess *Session, broadcasterID, broadcastID, knownTitle string) {
	if o.Streams == nil || broadcastID == "" {
		return
	}
	stream, err := o.Streams.GetStream(ctx, broadcasterID)
	if err != nil || stream == nil || stream.Title == "" || stream.Title == knownTitle {
		return
	}
	if err := o.Provisioner.UpdateBroadcastTitle(ctx, broadcastID, stream.Title); err != nil {
		slog.Warn("broadcast title sync failed", slog.Any("err", err))
		return
	}
	o.mu.Lock()
	sess.Title = stream.Title
	o.mu.Unlock()
}

func (o *Orchestrator) relayingLocked() int {
	n := 0
	for _, s := range o.sessions {
		if s.State == StateRelaying {
			n++
		}
	}
	return n
}

func (o *Orchestrator) updateGaugeLocked() {
	n := 0
	for _, s := range o.sessions {
		if s.State != StateIdle {
			n++
		}
	}
	telemetry.SetActiveSessions(n)
}

func (o *Orchestrator) startHeartbeatLocked() {
	if o.Heartbeat != nil && o.relayingLocked() > 0 {
		o.Heartbeat.Start()
	}
}

func (o *Orchestrator) stopHeartbeatLocked() {
	if o.Heartbeat != nil && o.relayingLocked() == 0 {
		o.Heartbeat.Stop()
	}
}
