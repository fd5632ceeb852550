package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.FFmpegPath != "ffmpeg" {
		t.Errorf("FFmpegPath = %q, want ffmpeg", cfg.FFmpegPath)
	}
	if cfg.RelayRestartDelay != 5*time.Second {
		t.Errorf("RelayRestartDelay = %v, want 5s", cfg.RelayRestartDelay)
	}
	if cfg.HeartbeatInterval != 25*time.Minute {
		t.Errorf("HeartbeatInterval = %v, want 25m", cfg.HeartbeatInterval)
	}
	if cfg.YTScopes != "https://www.googleapis.com/auth/youtube" {
		t.Errorf("YTScopes = %q, want full youtube scope", cfg.YTScopes)
	}
	if cfg.SubscriptionLease != 10*24*time.Hour {
		t.Errorf("SubscriptionLease = %v, want 240h", cfg.SubscriptionLease)
	}
	if cfg.TwitchScopes != "chat:read chat:edit" {
		t.Errorf("TwitchScopes = %q, want chat defaults", cfg.TwitchScopes)
	}
	if cfg.DBDsn == "" {
		t.Error("DBDsn empty, want local default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RELAY_RESTART_DELAY", "500ms")
	t.Setenv("HEARTBEAT_INTERVAL", "1m")
	t.Setenv("HOST_URL", "https://relay.example.com")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RelayRestartDelay != 500*time.Millisecond {
		t.Errorf("RelayRestartDelay = %v, want 500ms", cfg.RelayRestartDelay)
	}
	if cfg.HeartbeatInterval != time.Minute {
		t.Errorf("HeartbeatInterval = %v, want 1m", cfg.HeartbeatInterval)
	}
	if cfg.YTRedirectURI != "https://relay.example.com/youtube" {
		t.Errorf("YTRedirectURI = %q, want derived from HOST_URL", cfg.YTRedirectURI)
	}
	if cfg.TwitchRedirectURI != "https://relay.example.com/twitch" {
		t.Errorf("TwitchRedirectURI = %q, want derived from HOST_URL", cfg.TwitchRedirectURI)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("RELAY_RESTART_DELAY", "nope")
	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for invalid RELAY_RESTART_DELAY")
	}
}

func TestValidateWebhookReady(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateWebhookReady(); err == nil {
		t.Error("expected error when TWITCH_EVENTSUB_SECRET missing")
	}
	cfg.TwitchEventSubSecret = "s3cret"
	if err := cfg.ValidateWebhookReady(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
