package stepper

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opencal/calpanel/internal/capability"
	"github.com/opencal/calpanel/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	mu    sync.Mutex
	calls []gpioCall
}

type gpioCall struct {
	op    string // "setup", "write"
	pin   int
	level gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error {
	return nil
}

func (d *recordingDriver) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

func (d *recordingDriver) writeCalls() []gpioCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" {
			result = append(result, c)
		}
	}
	return result
}

func (d *recordingDriver) writeCallsForPin(pin int) []gpioCall {
	var result []gpioCall
	for _, c := range d.writeCalls() {
		if c.pin == pin {
			result = append(result, c)
		}
	}
	return result
}

// fastConfig pulses in tens of microseconds so tests stay quick.
func fastConfig() Config {
	return Config{
		StepPin:       17,
		DirPin:        27,
		EnablePin:     5,
		StepsPerRev:   200,
		Microstepping: 1,
		DefaultRPM:    6000,
	}
}

func TestStepper_StartsDisabled(t *testing.T) {
	drv := &recordingDriver{}
	NewStepper(drv, fastConfig())

	en := drv.writeCallsForPin(5)
	if len(en) != 1 || en[0].level != gpio.High {
		t.Errorf("enable pin should be driven HIGH (disabled) at init, got %v", en)
	}
}

func TestStepper_ContinuousRotation(t *testing.T) {
	drv := &recordingDriver{}
	s := NewStepper(drv, fastConfig())
	drv.reset()

	if err := s.StartRotation(capability.CounterClockwise); err != nil {
		t.Fatalf("StartRotation: %v", err)
	}
	if !s.Rotating() {
		t.Fatal("expected Rotating() after StartRotation")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(drv.writeCallsForPin(17)) < 10 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(drv.writeCallsForPin(17)) < 10 {
		t.Fatal("expected step pulses while rotating")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Rotating() {
		t.Error("expected Rotating() false after Stop")
	}

	// Once stopped, no further pulses may appear.
	n := len(drv.writeCallsForPin(17))
	time.Sleep(5 * time.Millisecond)
	if got := len(drv.writeCallsForPin(17)); got != n {
		t.Errorf("pulses continued after Stop: %d -> %d", n, got)
	}

	en := drv.writeCallsForPin(5)
	if len(en) < 2 || en[0].level != gpio.Low || en[len(en)-1].level != gpio.High {
		t.Errorf("driver should be enabled while rotating and disabled after, got %v", en)
	}
	dir := drv.writeCallsForPin(27)
	if len(dir) == 0 || dir[0].level != gpio.Low {
		t.Errorf("CCW should drive dir LOW, got %v", dir)
	}
}

func TestStepper_StartTwiceSingleGoroutine(t *testing.T) {
	drv := &recordingDriver{}
	s := NewStepper(drv, fastConfig())

	if err := s.StartRotation(""); err != nil {
		t.Fatal(err)
	}
	if err := s.StartRotation(capability.Clockwise); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}

// flakyDriver fails STEP pin writes while failing is set.
type flakyDriver struct {
	*recordingDriver
	stepPin int
	failing atomic.Bool
}

func (d *flakyDriver) WritePin(pin int, level gpio.Level) error {
	if pin == d.stepPin && d.failing.Load() {
		return errors.New("i/o error")
	}
	return d.recordingDriver.WritePin(pin, level)
}

func TestStepper_RestartsAfterPulseFailure(t *testing.T) {
	drv := &flakyDriver{recordingDriver: &recordingDriver{}, stepPin: 17}
	s := NewStepper(drv, fastConfig())
	drv.failing.Store(true)

	if err := s.StartRotation(""); err != nil {
		t.Fatalf("StartRotation: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Rotating() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.Rotating() {
		t.Fatal("Rotating() should be false once the pulse loop died")
	}
	en := drv.writeCallsForPin(5)
	if len(en) == 0 || en[len(en)-1].level != gpio.High {
		t.Errorf("driver should be disabled after the failure, got %v", en)
	}

	drv.failing.Store(false)
	drv.reset()
	if err := s.StartRotation(""); err != nil {
		t.Fatalf("second StartRotation: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for len(drv.writeCallsForPin(17)) < 10 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := len(drv.writeCallsForPin(17)); n < 10 {
		t.Errorf("expected pulses after restart, got %d", n)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Rotating() {
		t.Error("expected Rotating() false after Stop")
	}
}

func TestStepper_SetSpeed(t *testing.T) {
	s := NewStepper(&gpio.MockDriver{}, fastConfig())
	if err := s.SetSpeed(25); err != nil {
		t.Fatalf("SetSpeed: %v", err)
	}
	if s.Speed() != 25 {
		t.Errorf("Speed() = %d, want 25", s.Speed())
	}
	if err := s.SetSpeed(0); err == nil {
		t.Error("SetSpeed(0) should fail")
	}
	if s.Speed() != 25 {
		t.Errorf("failed SetSpeed must not change speed, got %d", s.Speed())
	}
}

func TestHalfPeriod(t *testing.T) {
	cases := []struct {
		rpm, micro int
		want       time.Duration
	}{
		{20, 3200, time.Minute / (20 * 3200) / 2},
		{60, 200, 2500 * time.Microsecond},
		{0, 200, 0},
		{10, 0, 0},
	}
	for _, tc := range cases {
		if got := HalfPeriod(tc.rpm, tc.micro); got != tc.want {
			t.Errorf("HalfPeriod(%d, %d) = %v, want %v", tc.rpm, tc.micro, got, tc.want)
		}
	}
}

func TestStepper_NoEnablePin(t *testing.T) {
	drv := &recordingDriver{}
	cfg := fastConfig()
	cfg.EnablePin = 0
	s := NewStepper(drv, cfg)
	drv.reset()

	if err := s.Enable(); err != nil {
		t.Errorf("Enable without pin: %v", err)
	}
	if err := s.Disable(); err != nil {
		t.Errorf("Disable without pin: %v", err)
	}
	if len(drv.writeCalls()) != 0 {
		t.Errorf("no writes expected without enable pin, got %v", drv.writeCalls())
	}
}
