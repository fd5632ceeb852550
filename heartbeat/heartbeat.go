// Package heartbeat keeps the host platform from idling the process while a relay
// session is active. Free-tier dynos are shut down after ~30 minutes without inbound
// traffic, which would kill the ffmpeg subprocess mid-stream; a periodic self-request
// counts as traffic. The loop must not run while no relay is active, to avoid keeping
// an idle process billed and awake for nothing.
package heartbeat

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Kamikozz/discord-bot-twitch-vods-links/telemetry"
)

// Heartbeat issues a low-cost GET to the service's own public URL on a fixed interval.
// Start while running and Stop while stopped are no-ops.
type Heartbeat struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New returns a heartbeat targeting url (the deployment's public address) every interval.
func New(url string, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = 25 * time.Minute
	}
	return &Heartbeat{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Start launches the ping loop. Idempotent: calling Start while already running does nothing.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	telemetry.SetHeartbeatRunning(true)
	slog.Info("heartbeat started", slog.Duration("interval", h.interval))
	go h.loop(ctx)
}

// Stop cancels the pending timer and clears the running flag. Idempotent.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	telemetry.SetHeartbeatRunning(false)
	slog.Info("heartbeat stopped")
}

// IsRunning reports whether the ping loop is active.
func (h *Heartbeat) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

func (h *Heartbeat) loop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.ping(ctx)
		}
	}
}

func (h *Heartbeat) ping(ctx context.Context) {
	if h.url == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		slog.Warn("heartbeat request build failed", slog.Any("err", err))
		return
	}
	resp, err := h.client.Do(req)
	if err != nil {
		slog.Warn("heartbeat ping failed", slog.Any("err", err))
		return
	}
	_ = resp.Body.Close()
	slog.Debug("heartbeat ping", slog.Int("status", resp.StatusCode))
}
