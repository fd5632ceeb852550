package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Kamikozz/discord-bot-twitch-vods-links/telemetry"
)

func init() { telemetry.Init() }

type fakeProcess struct {
	exit       chan error
	terminated chan struct{}
	termOnce   sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{exit: make(chan error, 1), terminated: make(chan struct{})}
}

func (p *fakeProcess) Wait() error { return <-p.exit }

func (p *fakeProcess) Terminate() error {
	p.termOnce.Do(func() {
		close(p.terminated)
		p.exit <- nil
	})
	return nil
}

type fakeLauncher struct {
	mu      sync.Mutex
	spawned []*fakeProcess
}

func (l *fakeLauncher) Launch(ctx context.Context, playlistURL, ingestionURI string) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := newFakeProcess()
	l.spawned = append(l.spawned, p)
	return p, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.spawned)
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.spawned) == 0 {
		return nil
	}
	return l.spawned[len(l.spawned)-1]
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRespawnWhileActive(t *testing.T) {
	l := &fakeLauncher{}
	s := NewSupervisor(l, 10*time.Millisecond)
	s.Start(context.Background(), "https://src/playlist.m3u8", "rtmp://dst/key")
	defer s.Stop()

	waitFor(t, func() bool { return l.count() == 1 }, "first spawn missing")
	l.last().exit <- nil // simulate crash/network drop
	waitFor(t, func() bool { return l.count() == 2 }, "no respawn after exit")
	if !s.IsActive() {
		t.Fatal("supervisor should stay active across respawns")
	}
}

func TestStopPreventsRespawn(t *testing.T) {
	l := &fakeLauncher{}
	s := NewSupervisor(l, 10*time.Millisecond)
	s.Start(context.Background(), "src", "dst")

	waitFor(t, func() bool { return l.count() == 1 }, "first spawn missing")
	s.Stop()
	<-s.Done()
	if got := l.count(); got != 1 {
		t.Fatalf("spawn count after stop = %d, want 1", got)
	}
	if s.IsActive() {
		t.Fatal("supervisor active after Stop")
	}
}

func TestStopDuringRestartDelay(t *testing.T) {
	l := &fakeLauncher{}
	s := NewSupervisor(l, 5*time.Second) // long delay; Stop must abort it
	s.Start(context.Background(), "src", "dst")

	waitFor(t, func() bool { return l.count() == 1 }, "first spawn missing")
	l.last().exit <- nil

	// give the loop a moment to enter the delay, then stop
	time.Sleep(20 * time.Millisecond)
	done := make(chan struct{})
	go func() { s.Stop(); <-s.Done(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not abort the restart delay")
	}
	if got := l.count(); got != 1 {
		t.Fatalf("spawn count = %d, want 1", got)
	}
}

func TestStartIdempotent(t *testing.T) {
	l := &fakeLauncher{}
	s := NewSupervisor(l, 10*time.Millisecond)
	ctx := context.Background()
	s.Start(ctx, "src", "dst")
	s.Start(ctx, "src", "dst") // duplicate signal; must not spawn a second loop
	defer s.Stop()

	waitFor(t, func() bool { return l.count() >= 1 }, "first spawn missing")
	time.Sleep(50 * time.Millisecond)
	if got := l.count(); got != 1 {
		t.Fatalf("spawn count = %d, want 1", got)
	}
}

func TestStopIdempotent(t *testing.T) {
	l := &fakeLauncher{}
	s := NewSupervisor(l, 10*time.Millisecond)
	s.Start(context.Background(), "src", "dst")
	waitFor(t, func() bool { return l.count() == 1 }, "first spawn missing")
	s.Stop()
	s.Stop() // second stop must be a no-op, not a panic
	<-s.Done()
}

func TestContextCancelEndsSupervision(t *testing.T) {
	l := &fakeLauncher{}
	s := NewSupervisor(l, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx, "src", "dst")
	waitFor(t, func() bool { return l.count() == 1 }, "first spawn missing")
	cancel()
	l.last().exit <- nil
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not end after context cancellation")
	}
}
