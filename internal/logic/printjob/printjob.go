// Package printjob runs one print at a time: it starts the rotation stage,
// the illumination ring, the projector and the optional camera as a unit,
// keeps them running off the control loop, and tears them down again.
package printjob

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencal/calpanel/internal/capability"
	"github.com/opencal/calpanel/internal/debug"
)

// ErrJobActive is returned by Start while another job has not finished.
var ErrJobActive = errors.New("printjob: a job is already active")

// State of the orchestrator.
type State int32

const (
	Idle State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Config holds the fixed parameters of every job.
type Config struct {
	Direction capability.Direction
	Color     capability.Color
	Selector  capability.Selector
	// Poll is how often the worker checks the running flag.
	Poll time.Duration
}

// Job describes one print.
type Job struct {
	Video     string
	Scale     int
	StartTime time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	startErr error
	stopErr  error
}

// Orchestrator owns the print lifecycle.
type Orchestrator struct {
	motion    capability.Motion
	light     capability.Illumination
	projector capability.ProjectorPlayback
	camera    capability.CameraRecorder
	cfg       Config
	now       func() time.Time

	running atomic.Bool

	mu    sync.Mutex
	state State
	job   *Job
	last  *Job
}

// New creates an orchestrator. camera may be nil.
func New(m capability.Motion, l capability.Illumination, p capability.ProjectorPlayback, c capability.CameraRecorder, cfg Config) *Orchestrator {
	if cfg.Poll <= 0 {
		cfg.Poll = time.Second
	}
	if cfg.Direction == "" {
		cfg.Direction = capability.CounterClockwise
	}
	return &Orchestrator{
		motion:    m,
		light:     l,
		projector: p,
		camera:    c,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start begins printing video. It returns once the job is handed to its
// worker; the actuators are started there.
func (o *Orchestrator) Start(video string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Idle {
		return ErrJobActive
	}
	j := &Job{
		Video:     video,
		Scale:     o.projector.Scale(),
		StartTime: o.now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	o.job = j
	o.state = Starting
	o.running.Store(true)
	debug.Info("print: starting %s at %d%%", video, j.Scale)
	go o.run(j)
	return nil
}

// Running reports whether a job is active. It falls to false as soon as the
// job is cancelled, before the stop sequence finishes.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// StartTime returns when the running job started.
func (o *Orchestrator) StartTime() (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.job == nil || !o.running.Load() {
		return time.Time{}, false
	}
	return o.job.StartTime, true
}

// Elapsed returns how long the running job has been going at now.
func (o *Orchestrator) Elapsed(now time.Time) (time.Duration, bool) {
	start, ok := o.StartTime()
	if !ok {
		return 0, false
	}
	return now.Sub(start), true
}

// Cancel clears the running flag. The worker notices on its next poll and
// runs the stop sequence.
func (o *Orchestrator) Cancel() {
	if o.running.CompareAndSwap(true, false) {
		debug.Info("print: cancel requested")
	}
}

// Stop ends the active job and waits for the stop sequence. It returns the
// joined errors of the steps that failed; nil when idle.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	j := o.job
	o.mu.Unlock()
	if j == nil {
		return nil
	}
	o.running.Store(false)
	j.stopOnce.Do(func() { close(j.stop) })
	<-j.done
	return j.stopErr
}

// Wait blocks until the active job, if any, has fully stopped.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	j := o.job
	o.mu.Unlock()
	if j != nil {
		<-j.done
	}
}

// LastError returns why the most recent job failed to start, if it did.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	return o.last.startErr
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	debug.Verbose("print: %s", s)
}

func (o *Orchestrator) run(j *Job) {
	defer close(j.done)

	if err := o.startActuators(j); err != nil {
		j.startErr = err
		debug.Error(err)
	} else {
		o.setState(Running)
		o.watch(j)
	}

	o.setState(Stopping)
	o.running.Store(false)
	j.stopErr = o.stopSequence()

	o.mu.Lock()
	o.state = Idle
	o.job = nil
	o.last = j
	o.mu.Unlock()
	debug.Info("print: stopped after %s", o.now().Sub(j.StartTime).Round(time.Second))
}

func (o *Orchestrator) startActuators(j *Job) error {
	if err := o.motion.StartRotation(o.cfg.Direction); err != nil {
		return fmt.Errorf("print start: rotation: %w", err)
	}
	if err := o.light.Set(o.cfg.Color, o.cfg.Selector); err != nil {
		return fmt.Errorf("print start: illumination: %w", err)
	}
	if err := o.projector.Play(j.Video, j.Scale); err != nil {
		return fmt.Errorf("print start: projector: %w", err)
	}
	if o.camera != nil {
		if err := o.camera.StartRecording(); err != nil {
			// Printing goes on without a recording.
			debug.Warn("print: camera: %v", err)
		}
	}
	return nil
}

// watch idles until the job is stopped, cancelled, or the media ends.
func (o *Orchestrator) watch(j *Job) {
	var ended <-chan struct{}
	if w, ok := o.projector.(capability.PlaybackWatcher); ok {
		ended = w.Done()
	}
	ticker := time.NewTicker(o.cfg.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-j.stop:
			return
		case <-ended:
			debug.Info("print: playback ended")
			return
		case <-ticker.C:
			if !o.running.Load() {
				return
			}
		}
	}
}

// stopSequence stops every actuator, continuing past failures.
func (o *Orchestrator) stopSequence() error {
	var errs []error
	if err := o.projector.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop projector: %w", err))
	}
	if err := o.motion.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop rotation: %w", err))
	}
	if err := o.light.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("clear illumination: %w", err))
	}
	if o.camera != nil {
		if err := o.camera.StopRecording(); err != nil {
			errs = append(errs, fmt.Errorf("stop camera: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		debug.Error(err)
	}
	return err
}

// FormatElapsed renders d as MM:SS; minutes keep counting past 59.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
