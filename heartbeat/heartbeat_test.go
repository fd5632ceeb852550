package heartbeat

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartStopIdempotent(t *testing.T) {
	h := New("", time.Minute)
	if h.IsRunning() {
		t.Fatal("new heartbeat should not be running")
	}
	h.Start()
	if !h.IsRunning() {
		t.Fatal("heartbeat not running after Start")
	}
	h.Start() // no-op
	if !h.IsRunning() {
		t.Fatal("second Start should leave heartbeat running")
	}
	h.Stop()
	if h.IsRunning() {
		t.Fatal("heartbeat running after Stop")
	}
	h.Stop() // no-op
	if h.IsRunning() {
		t.Fatal("second Stop should leave heartbeat stopped")
	}
}

func TestPingsOwnURL(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := New(srv.URL, 20*time.Millisecond)
	h.Start()
	defer h.Stop()

	deadline := time.After(2 * time.Second)
	for hits.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no self-ping observed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStopCancelsPendingTick(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	h := New(srv.URL, 30*time.Millisecond)
	h.Start()
	h.Stop()
	before := hits.Load()
	time.Sleep(100 * time.Millisecond)
	if hits.Load() != before {
		t.Fatal("heartbeat kept pinging after Stop")
	}
}
