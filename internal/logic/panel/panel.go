// Package panel runs the front panel control loop: it polls the encoder,
// drives the menu engine, shows the elapsed print time and shuts down on a
// kill request.
package panel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/opencal/calpanel/internal/capability"
	"github.com/opencal/calpanel/internal/debug"
	"github.com/opencal/calpanel/internal/logic/menu"
	"github.com/opencal/calpanel/internal/logic/navigation"
	"github.com/opencal/calpanel/internal/logic/printjob"
	"github.com/opencal/calpanel/internal/store"
)

// ElapsedRow is the display row used for the running print timer.
const ElapsedRow = 3

// Saver persists "save as default".
type Saver interface {
	Save(store.Defaults) error
}

// Deps are the capabilities the panel drives. Images, Camera and Saver
// may be nil.
type Deps struct {
	Display   capability.Display
	Input     capability.InputDevice
	Motion    capability.Motion
	Light     capability.Illumination
	Projector capability.ProjectorPlayback
	Images    capability.ImageProjector
	Camera    capability.CameraSwitcher
	Catalog   capability.FileCatalog
	Saver     Saver
	Jobs      *printjob.Orchestrator
}

// Options tune the loop and the menu contents.
type Options struct {
	Width      int
	LoopPeriod time.Duration
	Debounce   time.Duration
	Splash     time.Duration

	Direction        capability.Direction
	LightColor       capability.Color
	MinScale         int
	MaxSpeed         int
	CalibrationImage string
}

// Command is a request queued from outside the control loop.
type Command string

// CommandStop stops the running print.
const CommandStop Command = "stop"

// Status is a snapshot of what the panel shows.
type Status struct {
	Lines     []string  `json:"lines"`
	Menu      string    `json:"menu"`
	Cursor    int       `json:"cursor"`
	Adjusting bool      `json:"adjusting"`
	Variable  string    `json:"variable,omitempty"`
	Value     int       `json:"value,omitempty"`
	Running   bool      `json:"running"`
	State     string    `json:"state"`
	Elapsed   string    `json:"elapsed,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	SpeedRPM  int       `json:"speed_rpm"`
	Scale     int       `json:"scale_percent"`
	Camera    string    `json:"camera,omitempty"`
}

// Panel is the control loop. Everything except Submit, Kill and Status
// runs on the loop goroutine.
type Panel struct {
	deps Deps
	opts Options

	display *mirror
	nav     *navigation.Engine
	root    *menu.Submenu
	print   *menu.Submenu
	calib   *menu.Submenu

	lastPress  time.Time
	wasRunning bool

	killMu sync.Mutex
	kill   bool

	commands chan Command

	statusMu sync.RWMutex
	status   Status

	now   func() time.Time
	sleep func(time.Duration)
}

// New builds the menus and the navigation engine.
func New(deps Deps, opts Options) *Panel {
	if opts.Width <= 0 {
		opts.Width = 20
	}
	if opts.LoopPeriod <= 0 {
		opts.LoopPeriod = 50 * time.Millisecond
	}
	if opts.MinScale <= 0 {
		opts.MinScale = 100
	}
	if opts.Direction == "" {
		opts.Direction = capability.CounterClockwise
	}
	p := &Panel{
		deps:     deps,
		opts:     opts,
		display:  newMirror(deps.Display, navigation.ViewSize),
		commands: make(chan Command, 4),
		now:      time.Now,
		sleep:    time.Sleep,
	}
	p.root = p.buildMenus()
	p.nav = navigation.New(p.display, p.root, opts.Width, deps.Input.Position())
	return p
}

// Navigation exposes the menu engine.
func (p *Panel) Navigation() *navigation.Engine { return p.nav }

// Root returns the main menu.
func (p *Panel) Root() *menu.Submenu { return p.root }

// Kill asks the loop to shut down after the current tick.
func (p *Panel) Kill() {
	p.killMu.Lock()
	p.kill = true
	p.killMu.Unlock()
}

func (p *Panel) killed() bool {
	p.killMu.Lock()
	defer p.killMu.Unlock()
	return p.kill
}

// Submit queues a command for the loop. It reports false when the queue is
// full.
func (p *Panel) Submit(c Command) bool {
	select {
	case p.commands <- c:
		return true
	default:
		return false
	}
}

// Status returns the latest snapshot.
func (p *Panel) Status() Status {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	s := p.status
	s.Lines = append([]string(nil), s.Lines...)
	return s
}

// Run shows the startup splash and polls until ctx ends or a kill request
// arrives, then shuts down.
func (p *Panel) Run(ctx context.Context) error {
	p.showStartup()
	if err := p.nav.Render(); err != nil {
		debug.Error(err)
	}
	p.publish(p.now())

	ticker := time.NewTicker(p.opts.LoopPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return nil
		case now := <-ticker.C:
			p.Step(now)
			if p.killed() {
				p.shutdown()
				return nil
			}
		}
	}
}

// Step runs one loop iteration. A panic inside it is logged and swallowed
// so the loop keeps running.
func (p *Panel) Step(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			debug.Error(fmt.Errorf("panel: recovered: %v", r))
		}
	}()

	p.drainCommands()
	p.refreshJob()
	if p.deps.Jobs.Running() {
		p.writeElapsed(now)
	}

	pressed := p.deps.Input.ButtonPressed()
	if err := p.nav.Tick(p.deps.Input.Position()); err != nil {
		debug.Error(err)
	}
	if pressed && now.Sub(p.lastPress) > p.opts.Debounce {
		p.lastPress = now
		if err := p.nav.Press(); err != nil {
			debug.Error(err)
			p.splash("Action failed")
		}
	}
	p.publish(now)
}

func (p *Panel) drainCommands() {
	for {
		select {
		case c := <-p.commands:
			debug.Info("panel: command %s", c)
			if c == CommandStop && p.deps.Jobs.State() != printjob.Idle {
				if err := p.stopPrint(); err != nil {
					debug.Error(err)
				}
			}
		default:
			return
		}
	}
}

// refreshJob notices a job that ended without the panel asking.
func (p *Panel) refreshJob() {
	running := p.deps.Jobs.Running()
	if running {
		p.wasRunning = true
		return
	}
	if !p.wasRunning {
		return
	}
	p.wasRunning = false
	if p.deps.Jobs.State() != printjob.Idle {
		// Cancelled: let the stop sequence finish before leaving the print menu.
		p.deps.Jobs.Wait()
	}
	if err := p.nav.ShowRoot(); err != nil {
		debug.Error(err)
	}
	if err := p.deps.Jobs.LastError(); err != nil {
		p.splash("Print failed")
	}
}

func (p *Panel) writeElapsed(now time.Time) {
	d, ok := p.deps.Jobs.Elapsed(now)
	if !ok {
		return
	}
	if err := p.display.WriteLine("Elapsed: "+printjob.FormatElapsed(d), ElapsedRow); err != nil {
		debug.Error(err)
	}
}

// splash shows a centred message for the splash duration, then redraws the
// menu.
func (p *Panel) splash(text string) {
	p.message(text)
	p.sleep(p.opts.Splash)
	if err := p.nav.Render(); err != nil {
		debug.Error(err)
	}
}

func (p *Panel) message(lines ...string) {
	if err := p.display.Clear(); err != nil {
		debug.Error(err)
	}
	for i, l := range lines {
		if err := p.display.WriteLine(center(l, p.opts.Width), i+1); err != nil {
			debug.Error(err)
		}
	}
}

func (p *Panel) showStartup() {
	p.message("OpenCAL", "FOR THE COMMUNITY")
	p.sleep(p.opts.Splash)
}

func (p *Panel) shutdown() {
	debug.Info("panel: shutting down")
	if p.deps.Jobs.Running() || p.deps.Jobs.State() != printjob.Idle {
		if err := p.deps.Jobs.Stop(); err != nil {
			debug.Error(err)
		}
	}
	p.message("Goodbye!")
	p.sleep(p.opts.Splash)
	if err := p.display.Clear(); err != nil {
		debug.Error(err)
	}
	p.publish(p.now())
}

func (p *Panel) publish(now time.Time) {
	s := Status{
		Lines:    p.display.Lines(),
		Menu:     p.nav.Current().Name,
		Cursor:   p.nav.Cursor(),
		Running:  p.deps.Jobs.Running(),
		State:    p.deps.Jobs.State().String(),
		SpeedRPM: p.deps.Motion.Speed(),
		Scale:    p.deps.Projector.Scale(),
	}
	if a := p.nav.Adjustment(); a != nil {
		s.Adjusting = true
		s.Variable = a.Variable()
		s.Value = a.Value()
	}
	if start, ok := p.deps.Jobs.StartTime(); ok {
		s.StartedAt = start
		s.Elapsed = printjob.FormatElapsed(now.Sub(start))
	}
	if p.deps.Camera != nil {
		s.Camera = p.deps.Camera.Type()
	}
	p.statusMu.Lock()
	p.status = s
	p.statusMu.Unlock()
}

func center(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return runewidth.Truncate(s, width, "")
	}
	left := (width - w) / 2
	return runewidth.FillLeft(s, w+left)
}

// mirror forwards to the real display and remembers each row.
type mirror struct {
	capability.Display
	mu    sync.Mutex
	lines []string
}

func newMirror(d capability.Display, rows int) *mirror {
	return &mirror{Display: d, lines: make([]string, rows)}
}

func (m *mirror) Clear() error {
	m.mu.Lock()
	for i := range m.lines {
		m.lines[i] = ""
	}
	m.mu.Unlock()
	return m.Display.Clear()
}

func (m *mirror) WriteLine(text string, row int) error {
	m.mu.Lock()
	if row >= 0 && row < len(m.lines) {
		m.lines[row] = text
	}
	m.mu.Unlock()
	return m.Display.WriteLine(text, row)
}

func (m *mirror) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}
