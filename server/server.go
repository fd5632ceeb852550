// Package server exposes the HTTP surface: the signed webhook routes that drive relay
// sessions, the Discord interaction endpoint, OAuth and scheduler callbacks, health,
// status and metrics. It injects correlation IDs into request contexts for consistent
// logging and opens a tracing span per request.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Kamikozz/discord-bot-twitch-vods-links/telemetry"
)

// NewMux returns the HTTP handler with all routes.
func NewMux(h *Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", h.HandleRoot)

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Signed inbound webhooks
	mux.HandleFunc("/source-webhook", h.HandleSourceWebhook)
	mux.HandleFunc("/bot-interaction", h.HandleBotInteraction)

	// Scheduler SaaS callbacks
	mux.HandleFunc("/auth", h.HandleReauth)
	mux.HandleFunc("/resubscribe", h.HandleResubscribe)

	// YouTube OAuth consent flow
	mux.HandleFunc("/auth/youtube/start", h.HandleYouTubeOAuthStart)
	mux.HandleFunc("/youtube", h.HandleYouTubeOAuthCallback)
	mux.HandleFunc("/auth/twitch/start", h.HandleTwitchOAuthStart)
	mux.HandleFunc("/twitch", h.HandleTwitchOAuthCallback)

	// Health and status endpoints
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/status", h.HandleStatus)

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		if wrappedWriter.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", wrappedWriter.statusCode))
			span.SetStatus(code, msg)
		}
	})
	return handler
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, h *Handlers, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(h),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
