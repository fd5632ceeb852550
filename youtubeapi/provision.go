package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	yt "google.golang.org/api/youtube/v3"
)

// StreamIDSlot is the settings key holding the reusable liveStream id. One ingestion
// endpoint per deployment: liveStreams are meant to be long-lived and rebound to a new
// broadcast each session rather than recreated.
const StreamIDSlot = "youtube_rtmp_stream_id"

// SettingsStore persists the cached liveStream id across process restarts.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Destination is the provisioned relay target.
type Destination struct {
	BroadcastID  string
	IngestionURI string // rtmp address + stream key path, ready for ffmpeg
	WatchURL     string
}

// ProvisioningError wraps a failure of one step of the provisioning chain. Retry policy
// belongs to the caller; nothing here retries.
type ProvisioningError struct {
	Step string
	Err  error
}

func (e *ProvisioningError) Error() string { return fmt.Sprintf("provision %s: %v", e.Step, e.Err) }
func (e *ProvisioningError) Unwrap() error { return e.Err }

// Provisioner resolves or creates the reusable ingestion stream and a fresh broadcast,
// binds them, and hands back the concrete ingestion address.
type Provisioner struct {
	Creds    *Service
	Settings SettingsStore

	// now is injectable for tests; the broadcast's scheduled start is just ahead of now.
	now func() time.Time
}

func NewProvisioner(creds *Service, settings SettingsStore) *Provisioner {
	return &Provisioner{Creds: creds, Settings: settings, now: time.Now}
}

// Provision creates the destination for one relay session. Each upstream call builds a
// fresh authenticated client: the chain may cross a token refresh boundary, so a token
// is requested immediately before each call rather than cached across the whole chain.
func (p *Provisioner) Provision(ctx context.Context, title string) (*Destination, error) {
	stream, err := p.resolveStream(ctx)
	if err != nil {
		return nil, err
	}

	if title == "" {
		title = "Restream"
	}
	broadcast, err := p.createBroadcast(ctx, title)
	if err != nil {
		return nil, err
	}

	if err := p.bind(ctx, broadcast.Id, stream.Id); err != nil {
		return nil, err
	}

	if stream.Cdn == nil || stream.Cdn.IngestionInfo == nil {
		return nil, &ProvisioningError{Step: "stream ingestion", Err: fmt.Errorf("stream %s has no ingestion info", stream.Id)}
	}
	ing := stream.Cdn.IngestionInfo
	return &Destination{
		BroadcastID:  broadcast.Id,
		IngestionURI: ing.IngestionAddress + "/" + ing.StreamName,
		WatchURL:     "https://www.youtube.com/watch?v=" + broadcast.Id,
	}, nil
}

// resolveStream returns the cached liveStream if it still exists upstream, creating and
// persisting a new one otherwise.
func (p *Provisioner) resolveStream(ctx context.Context) (*yt.LiveStream, error) {
	cachedID, err := p.Settings.GetSetting(ctx, StreamIDSlot)
	if err != nil {
		return nil, &ProvisioningError{Step: "stream lookup", Err: err}
	}
	if cachedID != "" {
		svc, err := p.Creds.Client(ctx)
		if err != nil {
			return nil, credentialOrStep("stream confirm", err)
		}
		res, err := svc.LiveStreams.List([]string{"id", "cdn"}).Id(cachedID).Context(ctx).Do()
		if err != nil {
			return nil, &ProvisioningError{Step: "stream confirm", Err: err}
		}
		if len(res.Items) > 0 {
			return res.Items[0], nil
		}
		// cached id no longer exists upstream; fall through and recreate
		slog.Warn("cached ingestion stream missing upstream, recreating", slog.String("stream_id", cachedID))
	}

	svc, err := p.Creds.Client(ctx)
	if err != nil {
		return nil, credentialOrStep("stream create", err)
	}
	created, err := svc.LiveStreams.Insert([]string{"snippet", "cdn"}, &yt.LiveStream{
		Snippet: &yt.LiveStreamSnippet{Title: "Restream ingest"},
		Cdn: &yt.CdnSettings{
			IngestionType: "rtmp",
			FrameRate:     "variable",
			Resolution:    "variable",
		},
	}).Context(ctx).Do()
	if err != nil {
		return nil, &ProvisioningError{Step: "stream create", Err: err}
	}
	if err := p.Settings.SetSetting(ctx, StreamIDSlot, created.Id); err != nil {
		// endpoint churn on the next session, but this one can proceed
		slog.Warn("failed to persist ingestion stream id", slog.Any("err", err))
	}
	return created, nil
}

func (p *Provisioner) createBroadcast(ctx context.Context, title string) (*yt.LiveBroadcast, error) {
	svc, err := p.Creds.Client(ctx)
	if err != nil {
		return nil, credentialOrStep("broadcast create", err)
	}
	broadcast, err := svc.LiveBroadcasts.Insert([]string{"snippet", "status", "contentDetails"}, &yt.LiveBroadcast{
		Snippet: &yt.LiveBroadcastSnippet{
			Title:              title,
			ScheduledStartTime: p.now().Add(time.Minute).UTC().Format(time.RFC3339),
		},
		Status: &yt.LiveBroadcastStatus{PrivacyStatus: "unlisted"},
		ContentDetails: &yt.LiveBroadcastContentDetails{
			EnableAutoStart: true,
			EnableAutoStop:  true,
		},
	}).Context(ctx).Do()
	if err != nil {
		return nil, &ProvisioningError{Step: "broadcast create", Err: err}
	}
	return broadcast, nil
}

func (p *Provisioner) bind(ctx context.Context, broadcastID, streamID string) error {
	svc, err := p.Creds.Client(ctx)
	if err != nil {
		return credentialOrStep("bind", err)
	}
	_, err = svc.LiveBroadcasts.Bind(broadcastID, []string{"id", "contentDetails"}).StreamId(streamID).Context(ctx).Do()
	if err != nil {
		return &ProvisioningError{Step: "bind", Err: err}
	}
	return nil
}

// UpdateBroadcastTitle pushes the source stream's title onto the destination broadcast.
// Cosmetic: callers treat failures as log-only.
func (p *Provisioner) UpdateBroadcastTitle(ctx context.Context, broadcastID, title string) error {
	svc, err := p.Creds.Client(ctx)
	if err != nil {
		return err
	}
	res, err := svc.LiveBroadcasts.List([]string{"id", "snippet"}).Id(broadcastID).Context(ctx).Do()
	if err != nil {
		return err
	}
	if len(res.Items) == 0 {
		return fmt.Errorf("broadcast %s not found", broadcastID)
	}
	b := res.Items[0]
	b.Snippet.Title = title
	_, err = svc.LiveBroadcasts.Update([]string{"snippet"}, b).Context(ctx).Do()
	return err
}

// credentialOrStep keeps ErrCredentialUnavailable recognizable through the wrap.
func credentialOrStep(step string, err error) error {
	if errors.Is(err, ErrCredentialUnavailable) {
		return err
	}
	return &ProvisioningError{Step: step, Err: err}
}
