package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestPlaylistResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/channels/somestreamer/access_token" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": `{"chan":"somestreamer"}`, "sig": "abc"})
	}))
	defer srv.Close()

	pr := &PlaylistResolver{ClientID: "c", APIBaseURL: srv.URL, UsherBaseURL: "https://usher.example.com"}
	got, err := pr.Resolve(context.Background(), "somestreamer")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !strings.HasPrefix(got, "https://usher.example.com/api/channel/hls/somestreamer.m3u8?") {
		t.Fatalf("playlist url = %q", got)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse playlist url: %v", err)
	}
	q := u.Query()
	if q.Get("sig") != "abc" || q.Get("token") == "" {
		t.Errorf("query = %v", q)
	}
	if q.Get("allow_source") != "true" {
		t.Errorf("allow_source = %q, want true", q.Get("allow_source"))
	}
}

func TestPlaylistResolveUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	pr := &PlaylistResolver{ClientID: "c", APIBaseURL: srv.URL}
	if _, err := pr.Resolve(context.Background(), "somestreamer"); err == nil {
		t.Fatal("expected error on upstream failure")
	}
}
