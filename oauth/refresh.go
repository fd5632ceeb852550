// Package oauth provides background refresh scheduling for providers whose tokens are
// persisted in the oauth_tokens table. A refresher wakes on a jittered interval and
// refreshes the row when its remaining lifetime falls inside the configured window, so
// the destination credential is usually valid before any session needs it.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// RefreshFunc exchanges a refresh token for a new grant and returns
// (access, refresh, expiry).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, error)

// TokenStore reads and writes one provider's token row.
type TokenStore interface {
	GetOAuthToken(ctx context.Context, provider string) (accessToken, refreshToken string, expiry time.Time, raw string, err error)
	UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, raw string) error
}

// Refresher keeps one provider's token fresh.
type Refresher struct {
	Provider string
	Store    TokenStore
	Refresh  RefreshFunc
	Interval time.Duration // wake period; default 5m
	Window   time.Duration // refresh when remaining lifetime <= window; default 15m
}

// Start launches the refresh loop in the background. It returns immediately and the
// loop ends when ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	window := r.Window
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomized initial delay spreads wakeups across instances.
	//nolint:gosec // G404: scheduling jitter, not security
	initial := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initial):
		}
		for {
			r.tick(ctx, window)
			// +/-20% per-iteration jitter
			jitterRange := int64(interval / 5)
			sleep := interval
			if jitterRange > 0 {
				//nolint:gosec // G404: scheduling jitter, not security
				sleep += time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
		}
	}()
}

func (r *Refresher) tick(ctx context.Context, window time.Duration) {
	_, rt, exp, _, err := r.Store.GetOAuthToken(ctx, r.Provider)
	if err != nil || rt == "" {
		return
	}
	if time.Until(exp) > window {
		return
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, err := r.Refresh(ctx2, rt)
	cancel()
	if err != nil {
		slog.Warn("token refresh failed", slog.String("provider", r.Provider), slog.Any("err", err))
		return
	}
	if newRT == "" {
		newRT = rt
	}
	if err := r.Store.UpsertOAuthToken(ctx, r.Provider, newAT, newRT, newExp, ""); err != nil {
		slog.Warn("token persist failed", slog.String("provider", r.Provider), slog.Any("err", err))
		return
	}
	slog.Info("token refreshed", slog.String("provider", r.Provider),
		slog.Time("expires_at", newExp))
}
