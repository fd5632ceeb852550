// Package relay owns the stream-copy subprocess for one session: it spawns ffmpeg to
// copy the source HLS playlist into the destination RTMP ingestion address without
// re-encoding, and respawns it after any exit for as long as the session is active.
package relay

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Kamikozz/discord-bot-twitch-vods-links/telemetry"
)

// Process is a handle to a running relay subprocess.
type Process interface {
	// Wait blocks until the process exits. The exit cause is observed but not interpreted.
	Wait() error
	// Terminate asks the process to stop (SIGTERM).
	Terminate() error
}

// Launcher starts a relay subprocess. Injectable so the supervisor loop is testable
// without ffmpeg on the path.
type Launcher interface {
	Launch(ctx context.Context, playlistURL, ingestionURI string) (Process, error)
}

// Supervisor runs the spawn/wait/respawn loop for a single session. The only way
// supervision ends is Stop (offline event) or process-wide shutdown via ctx.
type Supervisor struct {
	launcher     Launcher
	restartDelay time.Duration

	active  atomic.Bool
	stopped chan struct{} // closed by Stop; aborts the restart delay

	mu   sync.Mutex
	proc Process
	done chan struct{} // closed when the loop returns
}

// NewSupervisor returns an idle supervisor. delay is the fixed pause between an exit
// and the respawn, to avoid a tight loop against a transient failure.
func NewSupervisor(launcher Launcher, delay time.Duration) *Supervisor {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Supervisor{launcher: launcher, restartDelay: delay}
}

// Start begins supervision in the background and returns promptly. Calling Start on an
// already-active supervisor is a no-op.
func (s *Supervisor) Start(ctx context.Context, playlistURL, ingestionURI string) {
	if !s.active.CompareAndSwap(false, true) {
		return
	}
	s.stopped = make(chan struct{})
	s.done = make(chan struct{})
	telemetry.RelayStarts.Inc()
	go s.loop(ctx, playlistURL, ingestionURI)
}

// Stop prevents further respawns and terminates the current subprocess. The subprocess
// may still be exiting when Stop returns; the loop observes the cleared flag and ends
// instead of respawning.
func (s *Supervisor) Stop() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	close(s.stopped)
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc != nil {
		if err := proc.Terminate(); err != nil {
			slog.Warn("relay terminate failed", slog.Any("err", err))
		}
	}
}

// IsActive reports whether the supervisor is between Start and Stop.
func (s *Supervisor) IsActive() bool { return s.active.Load() }

// Done returns a channel closed when the supervision loop has fully ended.
// Nil before the first Start.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

func (s *Supervisor) loop(ctx context.Context, playlistURL, ingestionURI string) {
	defer close(s.done)
	first := true
	for {
		if !s.active.Load() || ctx.Err() != nil {
			return
		}
		if !first {
			telemetry.RelayRestarts.Inc()
		}
		first = false

		proc, err := s.launcher.Launch(ctx, playlistURL, ingestionURI)
		if err != nil {
			slog.Error("relay spawn failed", slog.Any("err", err))
		} else {
			s.mu.Lock()
			s.proc = proc
			s.mu.Unlock()
			exitErr := proc.Wait()
			s.mu.Lock()
			s.proc = nil
			s.mu.Unlock()
			if exitErr != nil {
				slog.Warn("relay process exited", slog.Any("err", exitErr))
			} else {
				slog.Info("relay process exited cleanly")
			}
		}

		if !s.active.Load() {
			slog.Info("relay supervision ended")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		case <-time.After(s.restartDelay):
		}
	}
}

// FFmpegLauncher spawns ffmpeg with the fixed argument contract: read the playlist,
// copy all streams verbatim, write an FLV container to the RTMP address.
type FFmpegLauncher struct {
	Path string // ffmpeg binary; defaults to "ffmpeg"
}

type ffmpegProcess struct {
	cmd *exec.Cmd
}

func (p *ffmpegProcess) Wait() error { return p.cmd.Wait() }

func (p *ffmpegProcess) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

// Launch starts the ffmpeg copy. Stdout/stderr are logged for diagnostics only and
// never parsed for control decisions.
func (l *FFmpegLauncher) Launch(ctx context.Context, playlistURL, ingestionURI string) (Process, error) {
	bin := l.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-i", playlistURL,
		"-c", "copy",
		"-f", "flv",
		ingestionURI,
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	slog.Info("relay process started", slog.Int("pid", cmd.Process.Pid), slog.String("dst", ingestionURI))
	go logOutput(stdout, "stdout")
	go logOutput(stderr, "stderr")
	return &ffmpegProcess{cmd: cmd}, nil
}

func logOutput(r io.Reader, stream string) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		slog.Debug("ffmpeg", slog.String("stream", stream), slog.String("line", sc.Text()))
	}
}
