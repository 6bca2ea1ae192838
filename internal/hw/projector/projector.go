// Package projector loops print videos on the projector output through an
// external mpv process, controlled over mpv's JSON IPC socket.
package projector

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/opencal/calpanel/internal/capability"
	"github.com/opencal/calpanel/internal/debug"
)

// Player runs one mpv instance at a time.
type Player struct {
	binary string
	socket string

	mu    sync.Mutex
	scale int
	cmd   *exec.Cmd
	done  chan struct{}

	// command builds the process; replaced in tests.
	command func(name string, args ...string) *exec.Cmd
	// ipc sends one command to the running player; replaced in tests.
	ipc func(socket string, args ...any) error
}

// NewPlayer creates a player using binary (usually "mpv") with the given
// IPC socket path and initial scale in percent.
func NewPlayer(binary, socket string, scale int) *Player {
	return &Player{
		binary:  binary,
		socket:  socket,
		scale:   scale,
		command: exec.Command,
		ipc:     sendIPC,
	}
}

// ScaleFactor converts a percentage into mpv's video-scale factor.
func ScaleFactor(percent int) float64 {
	return float64(percent) / 100
}

// PlayArgs returns the mpv arguments for looping videoRef at scale.
func PlayArgs(videoRef string, scale int, socket string) []string {
	f := ScaleFactor(scale)
	return []string{
		"--fullscreen",
		"--loop-file=inf",
		"--no-osc",
		"--no-audio",
		"--really-quiet",
		"--input-ipc-server=" + socket,
		fmt.Sprintf("--video-scale-x=%.2f", f),
		fmt.Sprintf("--video-scale-y=%.2f", f),
		videoRef,
	}
}

// ImageArgs returns the mpv arguments for holding a still image.
func ImageArgs(path, socket string) []string {
	return []string{
		"--fullscreen",
		"--no-osc",
		"--really-quiet",
		"--image-display-duration=inf",
		"--input-ipc-server=" + socket,
		path,
	}
}

// Play starts looping videoRef, replacing anything already shown.
func (p *Player) Play(videoRef string, scale int) error {
	if _, err := os.Stat(videoRef); err != nil {
		return fmt.Errorf("projector: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.scale = scale
	debug.Actuator("projector", fmt.Sprintf("play %s at %d%%", videoRef, scale))
	return p.startLocked(PlayArgs(videoRef, scale, p.socket))
}

// ShowImage projects a still image until Stop.
func (p *Player) ShowImage(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("projector: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	debug.Actuator("projector", "show image "+path)
	return p.startLocked(ImageArgs(path, p.socket))
}

func (p *Player) startLocked(args []string) error {
	cmd := p.command(p.binary, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("projector: start %s: %w", p.binary, err)
	}
	done := make(chan struct{})
	go func() {
		err := cmd.Wait()
		debug.Verbose("projector: player exited: %v", err)
		close(done)
	}()
	p.cmd, p.done = cmd, done
	return nil
}

// Stop terminates the player and waits for it to exit.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return nil
	}
	debug.Actuator("projector", "stop")
	return p.stopLocked()
}

func (p *Player) stopLocked() error {
	cmd, done := p.cmd, p.done
	p.cmd, p.done = nil, nil
	if cmd == nil {
		return nil
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("projector: signal player: %w", err)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	}
	return nil
}

// Resize changes the scale, live when something is playing.
func (p *Player) Resize(scale int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scale = scale
	debug.Actuator("projector", fmt.Sprintf("resize to %d%%", scale))
	if p.cmd == nil {
		return nil
	}
	f := ScaleFactor(scale)
	if err := p.ipc(p.socket, "set_property", "video-scale-x", f); err != nil {
		return err
	}
	return p.ipc(p.socket, "set_property", "video-scale-y", f)
}

// Scale returns the current scale in percent.
func (p *Player) Scale() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scale
}

// Done is closed when the current player process exits on its own or is
// stopped. It is nil when nothing was started.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func sendIPC(socket string, args ...any) error {
	conn, err := net.DialTimeout("unix", socket, time.Second)
	if err != nil {
		return fmt.Errorf("projector ipc: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(time.Second))
	msg := struct {
		Command []any `json:"command"`
	}{Command: args}
	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return fmt.Errorf("projector ipc: %w", err)
	}
	return nil
}

var (
	_ capability.ProjectorPlayback = (*Player)(nil)
	_ capability.PlaybackWatcher   = (*Player)(nil)
	_ capability.ImageProjector    = (*Player)(nil)
)
