package rotary

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencal/calpanel/internal/capability"
	"github.com/opencal/calpanel/internal/debug"
	"github.com/opencal/calpanel/internal/hw/gpio"
)

// Config holds the encoder wiring.
type Config struct {
	ClkPin   int
	DtPin    int
	BtnPin   int
	MaxSteps int           // position wraps within [-MaxSteps, MaxSteps]
	Poll     time.Duration // sampling period of the quadrature lines
}

// transitions maps (previous AB << 2 | current AB) to a quarter-step
// direction. Invalid double transitions count as 0.
var transitions = [16]int{
	0, -1, 1, 0,
	1, 0, 0, -1,
	-1, 0, 0, 1,
	0, 1, -1, 0,
}

// Encoder decodes a quadrature rotary encoder with a push button by
// polling GPIO. One detent (four quarter-steps) is one position step.
type Encoder struct {
	gpio gpio.Driver
	cfg  Config

	position atomic.Int64
	pressed  atomic.Bool

	state    int // previous AB
	quarters int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewEncoder configures the pins as pulled-up inputs.
func NewEncoder(g gpio.Driver, cfg Config) (*Encoder, error) {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 1000
	}
	if cfg.Poll <= 0 {
		cfg.Poll = time.Millisecond
	}
	for _, pin := range []int{cfg.ClkPin, cfg.DtPin, cfg.BtnPin} {
		if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
			return nil, err
		}
	}
	e := &Encoder{gpio: g, cfg: cfg}
	e.state = e.readAB()
	return e, nil
}

func (e *Encoder) readAB() int {
	a, _ := e.gpio.ReadPin(e.cfg.ClkPin)
	b, _ := e.gpio.ReadPin(e.cfg.DtPin)
	ab := 0
	if a == gpio.High {
		ab |= 2
	}
	if b == gpio.High {
		ab |= 1
	}
	return ab
}

// Sample reads the lines once and updates position and button state.
func (e *Encoder) Sample() {
	ab := e.readAB()
	if ab != e.state {
		e.quarters += transitions[e.state<<2|ab]
		e.state = ab
		switch {
		case e.quarters >= 4:
			e.quarters = 0
			e.move(1)
		case e.quarters <= -4:
			e.quarters = 0
			e.move(-1)
		}
	}

	btn, err := e.gpio.ReadPin(e.cfg.BtnPin)
	if err == nil {
		e.pressed.Store(btn == gpio.Low)
	}
}

func (e *Encoder) move(delta int) {
	next := e.position.Load() + int64(delta)
	limit := int64(e.cfg.MaxSteps)
	if next > limit {
		next = -limit
	} else if next < -limit {
		next = limit
	}
	e.position.Store(next)
	debug.Trace("rotary position %d", next)
}

// Start samples the encoder on its own goroutine until ctx is done or Close.
func (e *Encoder) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.Poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Sample()
			}
		}
	}()
}

// Close stops sampling.
func (e *Encoder) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	return nil
}

// Position returns the absolute encoder position.
func (e *Encoder) Position() int {
	return int(e.position.Load())
}

// ButtonPressed reports whether the button is currently held down.
func (e *Encoder) ButtonPressed() bool {
	return e.pressed.Load()
}

var _ capability.InputDevice = (*Encoder)(nil)
