package youtubeapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/Kamikozz/discord-bot-twitch-vods-links/config"
)

type memTokenStore struct {
	mu     sync.Mutex
	access string
	expiry time.Time
}

func (m *memTokenStore) UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access, m.expiry = accessToken, expiry
	return nil
}

func (m *memTokenStore) GetOAuthToken(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access, "", m.expiry, "", nil
}

type memSettings struct {
	mu sync.Mutex
	m  map[string]string
}

func (s *memSettings) GetSetting(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key], nil
}

func (s *memSettings) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = map[string]string{}
	}
	s.m[key] = value
	return nil
}

// mockYouTube is a fake youtube/v3 endpoint recording per-route call counts.
type mockYouTube struct {
	*httptest.Server
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]http.HandlerFunc
}

func newMockYouTube(t *testing.T) *mockYouTube {
	t.Helper()
	m := &mockYouTube{calls: map[string]int{}, handlers: map[string]http.HandlerFunc{}}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		m.mu.Lock()
		m.calls[key]++
		h, ok := m.handlers[key]
		m.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockYouTube) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}

func jsonHandler(v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}

func streamJSON(id string) map[string]any {
	return map[string]any{
		"id": id,
		"cdn": map[string]any{
			"ingestionInfo": map[string]any{
				"ingestionAddress": "rtmp://a.rtmp.youtube.com/live2",
				"streamName":       "key-123",
			},
		},
	}
}

func newTestProvisioner(t *testing.T, mock *mockYouTube, settings *memSettings) *Provisioner {
	t.Helper()
	cfg := &config.Config{YTClientID: "cid", YTClientSecret: "cs"}
	tokens := &memTokenStore{access: "ya29.token", expiry: time.Now().Add(time.Hour)}
	svc := New(cfg, tokens, option.WithEndpoint(mock.URL))
	p := NewProvisioner(svc, settings)
	p.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestProvisionCreatesStreamAndBroadcast(t *testing.T) {
	mock := newMockYouTube(t)
	mock.handlers["POST /youtube/v3/liveStreams"] = jsonHandler(streamJSON("ls-new"))
	mock.handlers["POST /youtube/v3/liveBroadcasts"] = jsonHandler(map[string]any{"id": "bc-1"})
	mock.handlers["POST /youtube/v3/liveBroadcasts/bind"] = jsonHandler(map[string]any{"id": "bc-1"})

	settings := &memSettings{}
	p := newTestProvisioner(t, mock, settings)

	dst, err := p.Provision(context.Background(), "Speedrun Sunday")
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if dst.BroadcastID != "bc-1" {
		t.Errorf("BroadcastID = %q, want bc-1", dst.BroadcastID)
	}
	if dst.IngestionURI != "rtmp://a.rtmp.youtube.com/live2/key-123" {
		t.Errorf("IngestionURI = %q", dst.IngestionURI)
	}
	if dst.WatchURL != "https://www.youtube.com/watch?v=bc-1" {
		t.Errorf("WatchURL = %q", dst.WatchURL)
	}
	if got, _ := settings.GetSetting(context.Background(), StreamIDSlot); got != "ls-new" {
		t.Errorf("persisted stream id = %q, want ls-new", got)
	}
	if mock.count("POST /youtube/v3/liveBroadcasts/bind") != 1 {
		t.Error("bind not called")
	}
}

func TestProvisionReusesCachedStream(t *testing.T) {
	mock := newMockYouTube(t)
	mock.handlers["GET /youtube/v3/liveStreams"] = jsonHandler(map[string]any{"items": []any{streamJSON("ls-cached")}})
	mock.handlers["POST /youtube/v3/liveBroadcasts"] = jsonHandler(map[string]any{"id": "bc-2"})
	mock.handlers["POST /youtube/v3/liveBroadcasts/bind"] = jsonHandler(map[string]any{"id": "bc-2"})

	settings := &memSettings{m: map[string]string{StreamIDSlot: "ls-cached"}}
	p := newTestProvisioner(t, mock, settings)

	if _, err := p.Provision(context.Background(), "t"); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if mock.count("POST /youtube/v3/liveStreams") != 0 {
		t.Error("stream recreated despite valid cached id")
	}
}

func TestProvisionRecreatesMissingStream(t *testing.T) {
	mock := newMockYouTube(t)
	mock.handlers["GET /youtube/v3/liveStreams"] = jsonHandler(map[string]any{"items": []any{}})
	mock.handlers["POST /youtube/v3/liveStreams"] = jsonHandler(streamJSON("ls-fresh"))
	mock.handlers["POST /youtube/v3/liveBroadcasts"] = jsonHandler(map[string]any{"id": "bc-3"})
	mock.handlers["POST /youtube/v3/liveBroadcasts/bind"] = jsonHandler(map[string]any{"id": "bc-3"})

	settings := &memSettings{m: map[string]string{StreamIDSlot: "ls-gone"}}
	p := newTestProvisioner(t, mock, settings)

	if _, err := p.Provision(context.Background(), "t"); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if got, _ := settings.GetSetting(context.Background(), StreamIDSlot); got != "ls-fresh" {
		t.Errorf("persisted stream id = %q, want ls-fresh", got)
	}
}

func TestProvisionBroadcastFailure(t *testing.T) {
	mock := newMockYouTube(t)
	mock.handlers["POST /youtube/v3/liveStreams"] = jsonHandler(streamJSON("ls-1"))
	mock.handlers["POST /youtube/v3/liveBroadcasts"] = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403}}`, http.StatusForbidden)
	}

	p := newTestProvisioner(t, mock, &memSettings{})
	_, err := p.Provision(context.Background(), "t")
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *ProvisioningError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %T, want *ProvisioningError", err)
	}
	if pe.Step != "broadcast create" {
		t.Errorf("step = %q, want broadcast create", pe.Step)
	}
	if mock.count("POST /youtube/v3/liveBroadcasts/bind") != 0 {
		t.Error("bind called despite broadcast failure")
	}
}

func TestProvisionStreamWithoutIngestionInfo(t *testing.T) {
	mock := newMockYouTube(t)
	mock.handlers["POST /youtube/v3/liveStreams"] = jsonHandler(map[string]any{
		"id":  "ls-bare",
		"cdn": map[string]any{"ingestionType": "rtmp"},
	})
	mock.handlers["POST /youtube/v3/liveBroadcasts"] = jsonHandler(map[string]any{"id": "bc-4"})
	mock.handlers["POST /youtube/v3/liveBroadcasts/bind"] = jsonHandler(map[string]any{"id": "bc-4"})

	p := newTestProvisioner(t, mock, &memSettings{})
	_, err := p.Provision(context.Background(), "t")
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *ProvisioningError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %T, want *ProvisioningError", err)
	}
	if pe.Step != "stream ingestion" {
		t.Errorf("step = %q, want stream ingestion", pe.Step)
	}
}

func TestProvisionCredentialUnavailable(t *testing.T) {
	mock := newMockYouTube(t)
	cfg := &config.Config{YTClientID: "cid", YTClientSecret: "cs"}
	svc := New(cfg, &memTokenStore{}, option.WithEndpoint(mock.URL)) // nothing stored
	p := NewProvisioner(svc, &memSettings{})

	_, err := p.Provision(context.Background(), "t")
	if !errors.Is(err, ErrCredentialUnavailable) {
		t.Fatalf("error = %v, want ErrCredentialUnavailable", err)
	}
	if mock.count("POST /youtube/v3/liveStreams") != 0 {
		t.Error("upstream called despite missing credential")
	}
}
