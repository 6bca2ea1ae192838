package panel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opencal/calpanel/internal/capability"
	"github.com/opencal/calpanel/internal/logic/navigation"
	"github.com/opencal/calpanel/internal/logic/printjob"
	"github.com/opencal/calpanel/internal/store"
)

type fakeDisplay struct {
	rows    [navigation.ViewSize]string
	history []string
}

func (d *fakeDisplay) Clear() error {
	d.rows = [navigation.ViewSize]string{}
	return nil
}

func (d *fakeDisplay) WriteLine(text string, row int) error {
	t := strings.TrimSpace(text)
	d.rows[row] = t
	d.history = append(d.history, t)
	return nil
}

func (d *fakeDisplay) shown(text string) bool {
	for _, h := range d.history {
		if h == text {
			return true
		}
	}
	return false
}

type fakeInput struct {
	pos     int
	pressed bool
	panicky bool
	onRead  func()
}

func (i *fakeInput) Position() int {
	if i.panicky {
		i.panicky = false
		panic("encoder read failed")
	}
	return i.pos
}

func (i *fakeInput) ButtonPressed() bool {
	if i.onRead != nil {
		i.onRead()
	}
	return i.pressed
}

// fakeHW implements the actuator capabilities; the print worker calls it
// from its own goroutine.
type fakeHW struct {
	mu       sync.Mutex
	speed    int
	rotating bool
	lit      bool
	scale    int
	playing  string
	playErr  error
	image    string
	camera   string
	files    map[string]string
	saved    []store.Defaults
}

func (h *fakeHW) StartRotation(capability.Direction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rotating = true
	return nil
}

func (h *fakeHW) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rotating = false
	return nil
}

func (h *fakeHW) SetSpeed(rpm int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.speed = rpm
	return nil
}

func (h *fakeHW) Speed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.speed
}

type fakeLight struct{ hw *fakeHW }

func (l fakeLight) Set(capability.Color, capability.Selector) error {
	l.hw.mu.Lock()
	defer l.hw.mu.Unlock()
	l.hw.lit = true
	return nil
}

func (l fakeLight) Clear() error {
	l.hw.mu.Lock()
	defer l.hw.mu.Unlock()
	l.hw.lit = false
	return nil
}

type fakeProjector struct{ hw *fakeHW }

func (p fakeProjector) Play(ref string, scale int) error {
	p.hw.mu.Lock()
	defer p.hw.mu.Unlock()
	if p.hw.playErr != nil {
		return p.hw.playErr
	}
	p.hw.playing = ref
	return nil
}

func (p fakeProjector) Stop() error {
	p.hw.mu.Lock()
	defer p.hw.mu.Unlock()
	p.hw.playing = ""
	p.hw.image = ""
	return nil
}

func (p fakeProjector) Resize(s int) error {
	p.hw.mu.Lock()
	defer p.hw.mu.Unlock()
	p.hw.scale = s
	return nil
}

func (p fakeProjector) Scale() int {
	p.hw.mu.Lock()
	defer p.hw.mu.Unlock()
	return p.hw.scale
}

func (p fakeProjector) ShowImage(path string) error {
	p.hw.mu.Lock()
	defer p.hw.mu.Unlock()
	p.hw.image = path
	return nil
}

type fakeCamera struct{ hw *fakeHW }

func (c fakeCamera) SetType(t string) error { c.hw.camera = t; return nil }
func (c fakeCamera) Type() string          { return c.hw.camera }

type fakeCatalog struct{ hw *fakeHW }

func (c fakeCatalog) ListNames() ([]string, error) {
	var names []string
	for n := range c.hw.files {
		names = append(names, n)
	}
	return names, nil
}

func (c fakeCatalog) Resolve(label string) (string, error) {
	if p, ok := c.hw.files[label]; ok {
		return p, nil
	}
	return "", errors.New("not found")
}

func (h *fakeHW) Save(d store.Defaults) error {
	h.saved = append(h.saved, d)
	return nil
}

type hwState struct {
	rotating bool
	lit      bool
	playing  string
	image    string
	scale    int
}

func (h *fakeHW) snapshot() hwState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return hwState{rotating: h.rotating, lit: h.lit, playing: h.playing, image: h.image, scale: h.scale}
}

type harness struct {
	p       *Panel
	display *fakeDisplay
	input   *fakeInput
	hw      *fakeHW
	jobs    *printjob.Orchestrator
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hw := &fakeHW{
		speed:  20,
		scale:  100,
		camera: "rpi",
		files:  map[string]string{"gear.mp4": "/media/opencal/gear.mp4"},
	}
	proj := fakeProjector{hw}
	jobs := printjob.New(hw, fakeLight{hw}, proj, nil, printjob.Config{Poll: 2 * time.Millisecond})
	h := &harness{
		display: &fakeDisplay{},
		input:   &fakeInput{},
		hw:      hw,
		jobs:    jobs,
		now:     time.Now(),
	}
	h.p = New(Deps{
		Display:   h.display,
		Input:     h.input,
		Motion:    hw,
		Light:     fakeLight{hw},
		Projector: proj,
		Images:    proj,
		Camera:    fakeCamera{hw},
		Catalog:   fakeCatalog{hw},
		Saver:     hw,
		Jobs:      jobs,
	}, Options{
		Width:            20,
		LoopPeriod:       time.Millisecond,
		Debounce:         time.Second,
		MinScale:         100,
		MaxSpeed:         60,
		CalibrationImage: "/opt/cal.png",
	})
	h.p.sleep = func(time.Duration) {}
	if err := h.p.nav.Render(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = jobs.Stop() })
	return h
}

// turn moves the encoder by delta, one tick per detent.
func (h *harness) turn(delta int) {
	step := 1
	if delta < 0 {
		step, delta = -1, -delta
	}
	for i := 0; i < delta; i++ {
		h.input.pos += step
		h.now = h.now.Add(50 * time.Millisecond)
		h.p.Step(h.now)
	}
}

// click presses the button after the debounce window has passed.
func (h *harness) click() {
	h.now = h.now.Add(2 * time.Second)
	h.input.pressed = true
	h.p.Step(h.now)
	h.input.pressed = false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRootMenu(t *testing.T) {
	h := newHarness(t)
	want := [navigation.ViewSize]string{">Print from USB", "Manual Control", "Settings", "Power Options"}
	if h.display.rows != want {
		t.Errorf("rows = %q, want %q", h.display.rows, want)
	}
}

func TestDebounce(t *testing.T) {
	h := newHarness(t)
	t0 := h.now.Add(time.Minute)

	h.input.pressed = true
	h.p.Step(t0) // descend into Print from USB
	h.p.Step(t0.Add(500 * time.Millisecond))
	h.input.pressed = false

	if h.p.nav.Current().Name != "Print from USB" || h.p.nav.Depth() != 1 {
		t.Fatalf("menu=%q depth=%d, want one actioned press", h.p.nav.Current().Name, h.p.nav.Depth())
	}

	h.input.pressed = true
	h.p.Step(t0.Add(1500 * time.Millisecond)) // "back"
	if h.p.nav.Current() != h.p.Root() {
		t.Errorf("press after the threshold should act, menu=%q", h.p.nav.Current().Name)
	}
}

func TestPrintFlow(t *testing.T) {
	h := newHarness(t)

	h.click() // Print from USB
	h.turn(1) // gear.mp4
	h.click() // adjust RPM
	if !h.p.nav.Adjusting() {
		t.Fatal("selecting a file should ask for the speed")
	}
	if h.display.rows[0] != "Current RPM: 20" || h.display.rows[3] != "gear.mp4" {
		t.Errorf("adjust rows = %q", h.display.rows)
	}
	h.turn(2)
	h.click() // commit and start

	if got := h.hw.Speed(); got != 22 {
		t.Errorf("speed = %d, want 22", got)
	}
	if !h.jobs.Running() {
		t.Fatal("job should be running")
	}
	if h.p.nav.Current().Name != "print" || h.display.rows[0] != ">stop" {
		t.Errorf("menu=%q row0=%q", h.p.nav.Current().Name, h.display.rows[0])
	}
	waitFor(t, "projector playing", func() bool { return h.hw.snapshot().playing != "" })
	if got := h.hw.snapshot().playing; got != "/media/opencal/gear.mp4" {
		t.Errorf("playing %q", got)
	}

	start, _ := h.jobs.StartTime()
	h.p.Step(start.Add(75*time.Second + 100*time.Millisecond))
	if h.display.rows[ElapsedRow] != "Elapsed: 01:15" {
		t.Errorf("elapsed row = %q", h.display.rows[ElapsedRow])
	}
	st := h.p.Status()
	if !st.Running || st.Elapsed != "01:15" || st.Menu != "print" {
		t.Errorf("status = %+v", st)
	}

	h.click() // stop
	if h.jobs.Running() || h.jobs.State() != printjob.Idle {
		t.Errorf("running=%v state=%s after stop", h.jobs.Running(), h.jobs.State())
	}
	snap := h.hw.snapshot()
	if snap.rotating || snap.lit || snap.playing != "" {
		t.Errorf("actuators left on: %+v", snap)
	}
	if h.p.nav.Current() != h.p.Root() {
		t.Errorf("menu = %q, want main", h.p.nav.Current().Name)
	}
	if h.display.rows[ElapsedRow] != "Power Options" {
		t.Errorf("elapsed line not cleared: %q", h.display.rows[ElapsedRow])
	}
}

func TestStopCommand(t *testing.T) {
	h := newHarness(t)
	h.p.nav.Show(h.p.print)
	if err := h.jobs.Start("/media/opencal/gear.mp4"); err != nil {
		t.Fatal(err)
	}
	h.p.Step(h.now)

	if !h.p.Submit(CommandStop) {
		t.Fatal("Submit rejected")
	}
	h.p.Step(h.now.Add(time.Second))
	if h.jobs.State() != printjob.Idle {
		t.Errorf("state = %s, want idle", h.jobs.State())
	}
	if h.p.nav.Current() != h.p.Root() {
		t.Errorf("menu = %q, want main", h.p.nav.Current().Name)
	}
}

func TestStopCommand_IdleKeepsMenu(t *testing.T) {
	h := newHarness(t)
	h.click() // into Print from USB
	h.p.Submit(CommandStop)
	h.p.Step(h.now.Add(time.Second))
	if h.p.nav.Current().Name != "Print from USB" {
		t.Errorf("idle stop moved the panel to %q", h.p.nav.Current().Name)
	}
}

func TestStartFailure_ShowsSplashAndRoot(t *testing.T) {
	h := newHarness(t)
	h.hw.playErr = errors.New("cannot open video")

	h.click()
	h.turn(1)
	h.click()
	h.click() // commit

	waitFor(t, "job to fail", func() bool { return h.jobs.State() == printjob.Idle })
	h.p.Step(h.now.Add(time.Second))
	if !h.display.shown("Print failed") {
		t.Error(`expected a "Print failed" splash`)
	}
	if h.p.nav.Current() != h.p.Root() {
		t.Errorf("menu = %q, want main", h.p.nav.Current().Name)
	}
}

func TestResizeFloor(t *testing.T) {
	h := newHarness(t)
	h.turn(2)
	h.click() // Settings
	h.turn(2)
	h.click() // Resize Print
	h.turn(-1)
	if h.display.rows[3] != "Cannot go below 100" {
		t.Errorf("row 3 = %q", h.display.rows[3])
	}
	if !h.p.nav.Adjusting() {
		t.Error("floor violation must not leave adjustment")
	}
	h.turn(3)
	h.click()
	if got := h.hw.snapshot().scale; got != 103 {
		t.Errorf("scale = %d, want 103", got)
	}
}

func TestSettingsActions(t *testing.T) {
	h := newHarness(t)
	h.turn(2)
	h.click() // Settings
	h.turn(1)
	h.click() // save as default
	if len(h.hw.saved) != 1 || h.hw.saved[0] != (store.Defaults{SpeedRPM: 20, ScalePercent: 100, CameraType: "rpi"}) {
		t.Errorf("saved = %+v", h.hw.saved)
	}
	if !h.display.shown("Saved") {
		t.Error(`expected a "Saved" splash`)
	}

	h.turn(3)
	h.click() // Calibration img
	if h.hw.snapshot().image != "/opt/cal.png" || h.p.nav.Current().Name != "calibration" {
		t.Fatalf("image=%q menu=%q", h.hw.snapshot().image, h.p.nav.Current().Name)
	}
	h.click() // stop
	if h.hw.snapshot().image != "" || h.p.nav.Current() != h.p.Root() {
		t.Errorf("calibration not stopped: image=%q menu=%q", h.hw.snapshot().image, h.p.nav.Current().Name)
	}
}

func TestChangeCamera(t *testing.T) {
	h := newHarness(t)
	h.turn(2)
	h.click() // Settings
	h.turn(5)
	h.click() // change camera
	h.turn(2)
	h.click() // usb
	if h.hw.camera != "usb" {
		t.Errorf("camera = %q, want usb", h.hw.camera)
	}
	if h.p.Status().Camera != "usb" {
		t.Errorf("status camera = %q", h.p.Status().Camera)
	}
}

func TestManualControl(t *testing.T) {
	h := newHarness(t)
	h.turn(1)
	h.click() // Manual Control
	h.turn(1)
	h.click() // Turn on LEDs
	h.turn(2)
	h.click() // start stepper
	snap := h.hw.snapshot()
	if !snap.lit || !snap.rotating {
		t.Errorf("lit=%v rotating=%v", snap.lit, snap.rotating)
	}
	h.turn(-1)
	h.click() // Turn off LEDs
	h.turn(2)
	h.click() // stop stepper
	snap = h.hw.snapshot()
	if snap.lit || snap.rotating {
		t.Errorf("lit=%v rotating=%v", snap.lit, snap.rotating)
	}
}

func TestKillGUI(t *testing.T) {
	h := newHarness(t)
	h.turn(3)
	h.click() // Power Options
	h.turn(1)
	h.click() // Kill GUI
	if !h.p.killed() {
		t.Fatal("Kill GUI should set the kill request")
	}

	done := make(chan error, 1)
	go func() { done <- h.p.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after a kill request")
	}
	if !h.display.shown("OpenCAL") || !h.display.shown("Goodbye!") {
		t.Error("expected startup and farewell messages")
	}
	if h.display.rows != [navigation.ViewSize]string{} {
		t.Errorf("display not cleared: %q", h.display.rows)
	}
}

func TestRun_ContextCancelStopsJob(t *testing.T) {
	h := newHarness(t)
	if err := h.jobs.Start("/media/opencal/gear.mp4"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.p.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if h.jobs.State() != printjob.Idle || h.hw.snapshot().rotating {
		t.Error("shutdown should stop the running job")
	}
}

func TestStep_RecoversPanic(t *testing.T) {
	h := newHarness(t)
	h.input.panicky = true
	h.p.Step(h.now)
	h.turn(1)
	if h.p.nav.Cursor() != 1 {
		t.Errorf("loop did not continue after a panic, cursor=%d", h.p.nav.Cursor())
	}
}

func TestCenter(t *testing.T) {
	if got := center("Goodbye!", 20); got != "      Goodbye!" {
		t.Errorf("center = %q", got)
	}
	if got := center(strings.Repeat("x", 25), 20); len(got) != 20 {
		t.Errorf("long text not truncated: %d", len(got))
	}
}

func TestStep_ElapsedRefreshedBeforeInput(t *testing.T) {
	h := newHarness(t)
	if err := h.jobs.Start("/media/opencal/gear.mp4"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.jobs.Stop()

	var seen string
	h.input.onRead = func() { seen = h.display.rows[ElapsedRow] }
	start, _ := h.jobs.StartTime()
	h.p.Step(start.Add(5 * time.Second))

	if seen != "Elapsed: 00:05" {
		t.Errorf("elapsed row when input was read = %q, want %q", seen, "Elapsed: 00:05")
	}
}
