// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsReceived    prometheus.Counter
	EventsDuplicate   prometheus.Counter
	EventsRejected    prometheus.Counter
	RelayStarts       prometheus.Counter
	RelayRestarts     prometheus.Counter
	ProvisionFailures prometheus.Counter
	Announcements     prometheus.Counter

	// Histograms (seconds)
	ProvisionDuration prometheus.Observer

	// Gauges
	ActiveSessionsGauge    prometheus.Gauge
	HeartbeatRunningGauge  prometheus.Gauge // 1=running,0=stopped
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "restream_webhook_events_total", Help: "Number of authenticated webhook notifications received"})
		EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{Name: "restream_webhook_duplicates_total", Help: "Number of webhook notifications dropped as redeliveries"})
		EventsRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "restream_webhook_rejected_total", Help: "Number of webhook requests rejected by signature or freshness checks"})
		RelayStarts = promauto.NewCounter(prometheus.CounterOpts{Name: "restream_relay_starts_total", Help: "Number of relay sessions started"})
		RelayRestarts = promauto.NewCounter(prometheus.CounterOpts{Name: "restream_relay_restarts_total", Help: "Number of relay subprocess respawns after unexpected exit"})
		ProvisionFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "restream_provision_failures_total", Help: "Number of failed destination provisioning attempts"})
		Announcements = promauto.NewCounter(prometheus.CounterOpts{Name: "restream_announcements_total", Help: "Number of announcement messages posted"})
		ProvisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "restream_provision_duration_seconds", Help: "Destination provisioning duration seconds", Buckets: prometheus.DefBuckets})
		ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "restream_active_sessions", Help: "Current number of non-idle relay sessions"})
		HeartbeatRunningGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "restream_heartbeat_running", Help: "Idle heartbeat running=1 stopped=0"})
	})
}

// SetActiveSessions records the current non-idle session count.
func SetActiveSessions(n int) {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Set(float64(n))
	}
}

// SetHeartbeatRunning sets the heartbeat gauge to 1 if running else 0.
func SetHeartbeatRunning(running bool) {
	if HeartbeatRunningGauge != nil {
		if running {
			HeartbeatRunningGauge.Set(1)
		} else {
			HeartbeatRunningGauge.Set(0)
		}
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
