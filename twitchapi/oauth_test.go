package twitchapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAuthorizeURL(t *testing.T) {
	tests := []struct {
		name      string
		ua        UserAuth
		state     string
		wantErr   bool
		wantParts []string
	}{
		{
			name:      "valid request",
			ua:        UserAuth{ClientID: "cid", RedirectURI: "http://localhost/twitch", Scopes: "chat:read chat:edit"},
			state:     "consent",
			wantParts: []string{"client_id=cid", "state=consent", "scope=chat%3Aread+chat%3Aedit"},
		},
		{
			name:    "missing client id",
			ua:      UserAuth{RedirectURI: "http://localhost/twitch"},
			wantErr: true,
		},
		{
			name:    "missing redirect uri",
			ua:      UserAuth{ClientID: "cid"},
			wantErr: true,
		},
		{
			name:      "comma separated scopes normalized",
			ua:        UserAuth{ClientID: "cid", RedirectURI: "http://localhost/twitch", Scopes: "chat:read,chat:edit"},
			wantParts: []string{"scope=chat%3Aread+chat%3Aedit"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := tt.ua.AuthorizeURL(tt.state)
			if tt.wantErr {
				if err == nil {
					t.Error("AuthorizeURL() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("AuthorizeURL() error = %v", err)
			}
			if !strings.HasPrefix(u, "https://id.twitch.tv/oauth2/authorize?") {
				t.Errorf("URL has wrong endpoint: %s", u)
			}
			for _, part := range tt.wantParts {
				if !strings.Contains(u, part) {
					t.Errorf("URL missing %q: %s", part, u)
				}
			}
		})
	}
}

func TestExchangeSendsCodeGrant(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,"scope":["chat:read"]}`))
	}))
	defer srv.Close()

	ua := &UserAuth{ClientID: "cid", ClientSecret: "cs", RedirectURI: "http://localhost/twitch", AuthBaseURL: srv.URL}
	res, err := ua.Exchange(context.Background(), "code-123")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if res.AccessToken != "at-1" || res.RefreshToken != "rt-1" {
		t.Errorf("tokens = %q/%q", res.AccessToken, res.RefreshToken)
	}
	if gotForm["grant_type"] != "authorization_code" || gotForm["code"] != "code-123" {
		t.Errorf("form = %v", gotForm)
	}
	if gotForm["redirect_uri"] != "http://localhost/twitch" {
		t.Errorf("redirect_uri = %q", gotForm["redirect_uri"])
	}
}

func TestRefreshSendsRefreshGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "rt-old" {
			http.Error(w, `{"message":"bad grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-2","refresh_token":"rt-new","expires_in":14400}`))
	}))
	defer srv.Close()

	ua := &UserAuth{ClientID: "cid", ClientSecret: "cs", RedirectURI: "http://localhost/twitch", AuthBaseURL: srv.URL}
	res, err := ua.Refresh(context.Background(), "rt-old")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if res.AccessToken != "at-2" || res.RefreshToken != "rt-new" {
		t.Errorf("tokens = %q/%q", res.AccessToken, res.RefreshToken)
	}
}

func TestGrantUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid client"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	ua := &UserAuth{ClientID: "cid", ClientSecret: "cs", RedirectURI: "http://localhost/twitch", AuthBaseURL: srv.URL}
	_, err := ua.Refresh(context.Background(), "rt")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("error = %v, want status in message", err)
	}
}

func TestComputeExpiry(t *testing.T) {
	if got := ComputeExpiry(3600); time.Until(got) < 59*time.Minute {
		t.Errorf("expiry too close: %v", got)
	}
	// unknown lifetime falls back to an hour rather than an already-expired token
	if got := ComputeExpiry(0); time.Until(got) < 59*time.Minute {
		t.Errorf("fallback expiry too close: %v", got)
	}
}
