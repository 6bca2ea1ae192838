package stepper

import (
	"fmt"
	"sync"
	"time"

	"github.com/opencal/calpanel/internal/capability"
	"github.com/opencal/calpanel/internal/debug"
	"github.com/opencal/calpanel/internal/hw/gpio"
)

// Config holds the hardware configuration for a stepper motor.
type Config struct {
	StepPin          int
	DirPin           int
	EnablePin        int // driver ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	StepsPerRev      int
	Microstepping    int
	DefaultRPM       int
	DefaultDirection capability.Direction
}

// Stepper drives the rotation stage through a STEP/DIR driver. Continuous
// rotation runs on its own goroutine until Stop or a failed pulse.
type Stepper struct {
	gpio gpio.Driver
	cfg  Config

	mu      sync.Mutex
	rpm     int
	stop    chan struct{}
	stopped chan struct{}
}

// NewStepper creates a new stepper motor controller. The driver starts
// disabled; it is enabled while rotating.
func NewStepper(g gpio.Driver, cfg Config) *Stepper {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)

	if cfg.StepsPerRev <= 0 {
		cfg.StepsPerRev = 200
	}
	if cfg.Microstepping <= 0 {
		cfg.Microstepping = 1
	}
	if cfg.DefaultRPM <= 0 {
		cfg.DefaultRPM = 20
	}
	if cfg.DefaultDirection == "" {
		cfg.DefaultDirection = capability.CounterClockwise
	}

	s := &Stepper{
		gpio: g,
		cfg:  cfg,
		rpm:  cfg.DefaultRPM,
	}

	// ENABLE is active LOW. HIGH = disabled.
	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
		_ = g.WritePin(cfg.EnablePin, gpio.High)
	}

	return s
}

// HalfPeriod returns the delay per half-cycle of the STEP pulse for a speed.
func HalfPeriod(rpm, microstepsPerRev int) time.Duration {
	if rpm <= 0 || microstepsPerRev <= 0 {
		return 0
	}
	period := time.Minute / time.Duration(rpm*microstepsPerRev)
	return period / 2
}

func (s *Stepper) halfPeriod() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return HalfPeriod(s.rpm, s.cfg.StepsPerRev*s.cfg.Microstepping)
}

// SetSpeed sets the rotation speed in RPM. A running rotation picks up the
// new speed on its next pulse.
func (s *Stepper) SetSpeed(rpm int) error {
	if rpm <= 0 {
		return fmt.Errorf("speed must be > 0 rpm, got %d", rpm)
	}
	s.mu.Lock()
	s.rpm = rpm
	s.mu.Unlock()
	debug.Actuator("stepper", fmt.Sprintf("speed set to %d RPM", rpm))
	return nil
}

// Speed returns the current speed in RPM.
func (s *Stepper) Speed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rpm
}

// Rotating reports whether continuous rotation is active.
func (s *Stepper) Rotating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func (s *Stepper) setDirection(dir capability.Direction) error {
	if dir == "" {
		dir = s.cfg.DefaultDirection
	}
	level := gpio.Low
	if dir == capability.Clockwise {
		level = gpio.High
	}
	return s.gpio.WritePin(s.cfg.DirPin, level)
}

// StartRotation starts rotating continuously in dir (the configured default
// direction when empty). Calling it while already rotating only changes
// the direction.
func (s *Stepper) StartRotation(dir capability.Direction) error {
	debug.Actuator("stepper", fmt.Sprintf("start continuous rotation %s", dir))
	if err := s.setDirection(dir); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	if err := s.Enable(); err != nil {
		return err
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.rotate(s.stop, s.stopped)
	return nil
}

func (s *Stepper) rotate(stop, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := s.stepPulse(s.halfPeriod()); err != nil {
			debug.Error(fmt.Errorf("stepper pulse: %w", err))
			s.abandon(stop)
			return
		}
	}
}

// abandon forgets a rotation whose pulse loop died so the next
// StartRotation restarts it. A concurrent Stop has already taken the
// channels and is left to finish on its own.
func (s *Stepper) abandon(stop chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != stop {
		return
	}
	s.stop, s.stopped = nil, nil
	if err := s.Disable(); err != nil {
		debug.Error(fmt.Errorf("stepper disable: %w", err))
	}
}

// Stop halts continuous rotation, waits for the pulse goroutine to exit and
// disables the driver. Stopping an idle motor is a no-op.
func (s *Stepper) Stop() error {
	s.mu.Lock()
	stop, stopped := s.stop, s.stopped
	s.stop, s.stopped = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return nil
	}
	debug.Actuator("stepper", "stop")
	close(stop)
	<-stopped

	var err error
	if werr := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); werr != nil {
		err = werr
	}
	if derr := s.Disable(); derr != nil && err == nil {
		err = derr
	}
	return err
}

func (s *Stepper) stepPulse(delay time.Duration) error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	time.Sleep(delay)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(delay)
	return nil
}

// Enable turns on the motor driver (ENABLE=LOW). Motors hold position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (ENABLE=HIGH). Motors freewheel.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}

var _ capability.Motion = (*Stepper)(nil)
