package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestHelix(t *testing.T, handler http.HandlerFunc) *HelixClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tokenSrv, _ := tokenServer(t, []string{"app-token"}, 3600)
	return &HelixClient{
		AppTokenSource: &TokenSource{ClientID: "c", ClientSecret: "s", AuthBaseURL: tokenSrv.URL},
		ClientID:       "c",
		BaseURL:        srv.URL,
	}
}

func TestGetUserByLogin(t *testing.T) {
	hc := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/users" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("login"); got != "somestreamer" {
			t.Errorf("login query = %q, want somestreamer", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer app-token" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": "42", "login": "somestreamer", "display_name": "SomeStreamer"}},
		})
	})
	u, err := hc.GetUserByLogin(context.Background(), "somestreamer")
	if err != nil {
		t.Fatalf("GetUserByLogin() error = %v", err)
	}
	if u.ID != "42" || u.DisplayName != "SomeStreamer" {
		t.Errorf("user = %+v", u)
	}
}

func TestGetUserByLoginNotFound(t *testing.T) {
	hc := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})
	if _, err := hc.GetUserByLogin(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestGetStream(t *testing.T) {
	hc := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/streams" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("user_id"); got != "42" {
			t.Errorf("user_id query = %q, want 42", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{
				"id": "s1", "user_id": "42", "user_login": "somestreamer",
				"title": "Speedrun Sunday", "type": "live",
			}},
		})
	})
	s, err := hc.GetStream(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetStream() error = %v", err)
	}
	if s == nil || s.Title != "Speedrun Sunday" {
		t.Errorf("stream = %+v", s)
	}
}

func TestGetStreamOffline(t *testing.T) {
	hc := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})
	s, err := hc.GetStream(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetStream() error = %v", err)
	}
	if s != nil {
		t.Errorf("expected nil stream for offline user, got %+v", s)
	}
}

func TestSubscribe(t *testing.T) {
	hc := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/eventsub/subscriptions" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req subscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode subscribe request: %v", err)
		}
		if req.Type != EventStreamOnline || req.Condition.BroadcasterUserID != "42" {
			t.Errorf("subscribe request = %+v", req)
		}
		if req.Transport.Method != "webhook" || req.Transport.Callback != "https://relay.example.com/source-webhook" {
			t.Errorf("transport = %+v", req.Transport)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": "sub-1", "type": req.Type, "status": "webhook_callback_verification_pending"}},
		})
	})
	id, err := hc.Subscribe(context.Background(), EventStreamOnline, "42", "https://relay.example.com/source-webhook", "s3cret")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if id != "sub-1" {
		t.Errorf("subscription id = %q, want sub-1", id)
	}
}

func TestUnsubscribe(t *testing.T) {
	var deletedID string
	hc := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.NotFound(w, r)
			return
		}
		deletedID = r.URL.Query().Get("id")
		w.WriteHeader(http.StatusNoContent)
	})
	if err := hc.Unsubscribe(context.Background(), "sub-1"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if deletedID != "sub-1" {
		t.Errorf("deleted id = %q, want sub-1", deletedID)
	}
}

func TestListSubscriptions(t *testing.T) {
	hc := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "sub-1", "type": EventStreamOnline, "status": "enabled", "condition": map[string]string{"broadcaster_user_id": "42"}},
				{"id": "sub-2", "type": EventStreamOffline, "status": "enabled", "condition": map[string]string{"broadcaster_user_id": "42"}},
			},
		})
	})
	subs, err := hc.ListSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("ListSubscriptions() error = %v", err)
	}
	if len(subs) != 2 || subs[0].Condition.BroadcasterUserID != "42" {
		t.Errorf("subs = %+v", subs)
	}
}
