// Package led drives a WS2812 (NeoPixel) ring through a Linux spidev
// device. Every WS2812 data bit is sent as one SPI byte so that, at 8x the
// LED bit rate, the high time of the SPI byte matches the WS2812 timing.
package led

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/opencal/calpanel/internal/capability"
	"github.com/opencal/calpanel/internal/debug"
)

// spiIOCWrMaxSpeedHz is SPI_IOC_WR_MAX_SPEED_HZ from linux/spi/spidev.h.
const spiIOCWrMaxSpeedHz = 0x40046b04

const (
	bitOne  = 0xF8 // 11111000
	bitZero = 0xC0 // 11000000
	// resetBytes of low level latch the frame (>50us at 6.4MHz).
	resetBytes = 42
)

// Ring is an addressable LED ring.
type Ring struct {
	mu     sync.Mutex
	out    io.Writer
	pixels []capability.Color
	rings  map[string][]int
}

// Open opens the spidev device and sets its clock.
func Open(device string, speedHz, numLED int, rings map[string][]int) (*Ring, io.Closer, error) {
	f, err := os.OpenFile(device, os.O_WRONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open spi device %s: %w", device, err)
	}
	if err := unix.IoctlSetPointerInt(int(f.Fd()), spiIOCWrMaxSpeedHz, speedHz); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("set spi speed %d Hz: %w", speedHz, err)
	}
	return New(f, numLED, rings), f, nil
}

// New creates a ring writing frames to out.
func New(out io.Writer, numLED int, rings map[string][]int) *Ring {
	return &Ring{
		out:    out,
		pixels: make([]capability.Color, numLED),
		rings:  rings,
	}
}

// Set colors the selected LEDs and pushes the frame.
func (r *Ring) Set(c capability.Color, sel capability.Selector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sel.Ring == "" {
		debug.Actuator("led", fmt.Sprintf("all LEDs -> %v", c))
		for i := range r.pixels {
			r.pixels[i] = c
		}
	} else {
		idx, ok := r.rings[sel.Ring]
		if !ok {
			return fmt.Errorf("led: unknown ring %q", sel.Ring)
		}
		debug.Actuator("led", fmt.Sprintf("ring %s -> %v", sel.Ring, c))
		for _, i := range idx {
			if i >= 0 && i < len(r.pixels) {
				r.pixels[i] = c
			}
		}
	}
	return r.flush()
}

// Clear turns every LED off.
func (r *Ring) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	debug.Actuator("led", "clear")
	for i := range r.pixels {
		r.pixels[i] = capability.Color{}
	}
	return r.flush()
}

// Pixels returns a copy of the current frame.
func (r *Ring) Pixels() []capability.Color {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]capability.Color, len(r.pixels))
	copy(out, r.pixels)
	return out
}

func (r *Ring) flush() error {
	if _, err := r.out.Write(Encode(r.pixels)); err != nil {
		return fmt.Errorf("led: write frame: %w", err)
	}
	return nil
}

// Encode renders pixels into the SPI byte stream, GRB order, MSB first,
// followed by the reset gap.
func Encode(pixels []capability.Color) []byte {
	buf := make([]byte, 0, len(pixels)*24+resetBytes)
	for _, p := range pixels {
		for _, v := range [3]uint8{p.G, p.R, p.B} {
			for bit := 7; bit >= 0; bit-- {
				if v&(1<<bit) != 0 {
					buf = append(buf, bitOne)
				} else {
					buf = append(buf, bitZero)
				}
			}
		}
	}
	return append(buf, make([]byte, resetBytes)...)
}

var _ capability.Illumination = (*Ring)(nil)
