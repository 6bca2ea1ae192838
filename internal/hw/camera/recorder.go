package camera

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/opencal/calpanel/internal/capability"
	"github.com/opencal/calpanel/internal/debug"
)

// ErrRecording is returned when the camera kind is changed mid-recording.
var ErrRecording = errors.New("camera: recording in progress")

// Recorder starts and stops one capture process at a time. With type
// "none" recording is a no-op.
type Recorder struct {
	mu      sync.Mutex
	typ     string
	index   int
	saveDir string
	cmd     *exec.Cmd
	done    chan struct{}
	output  string

	command func(name string, args ...string) *exec.Cmd
	now     func() time.Time
	grace   time.Duration
}

// NewRecorder creates a recorder writing files under saveDir.
func NewRecorder(typ string, index int, saveDir string) (*Recorder, error) {
	if !ValidType(typ) {
		return nil, fmt.Errorf("camera: unknown type %q", typ)
	}
	return &Recorder{
		typ:     typ,
		index:   index,
		saveDir: saveDir,
		command: exec.Command,
		now:     time.Now,
		grace:   5 * time.Second,
	}, nil
}

// SetType switches the camera kind used by the next recording.
func (r *Recorder) SetType(typ string) error {
	if !ValidType(typ) {
		return fmt.Errorf("camera: unknown type %q", typ)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return ErrRecording
	}
	debug.Info("camera: type %s -> %s", r.typ, typ)
	r.typ = typ
	return nil
}

// Type returns the configured camera kind.
func (r *Recorder) Type() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.typ
}

// Output returns the file being (or last) recorded.
func (r *Recorder) Output() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output
}

// StartRecording launches the capture program.
func (r *Recorder) StartRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.typ == TypeNone {
		debug.Verbose("camera: type none, not recording")
		return nil
	}
	if r.cmd != nil {
		return ErrRecording
	}
	if err := os.MkdirAll(r.saveDir, 0o755); err != nil {
		return fmt.Errorf("camera: create save dir: %w", err)
	}
	out := OutputPath(r.saveDir, r.now())
	name, args, err := Command(r.typ, r.index, out)
	if err != nil {
		return err
	}
	cmd := r.command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("camera: start %s: %w", name, err)
	}
	done := make(chan struct{})
	go func() {
		err := cmd.Wait()
		debug.Verbose("camera: %s exited: %v", name, err)
		close(done)
	}()
	r.cmd, r.done, r.output = cmd, done, out
	debug.Actuator("camera", "record "+out)
	return nil
}

// StopRecording interrupts the capture program so it can finalize the
// file, and waits for it to exit.
func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, done := r.cmd, r.done
	r.cmd, r.done = nil, nil
	if cmd == nil {
		return nil
	}
	debug.Actuator("camera", "stop recording")
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("camera: signal recorder: %w", err)
	}
	select {
	case <-done:
	case <-time.After(r.grace):
		debug.Warn("camera: recorder ignored SIGINT, killing")
		_ = cmd.Process.Kill()
		<-done
	}
	return nil
}

var (
	_ capability.CameraRecorder = (*Recorder)(nil)
	_ capability.CameraSwitcher = (*Recorder)(nil)
)
