// Package lcd drives an HD44780 character display through a PCF8574 I2C
// backpack in 4-bit mode.
package lcd

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"golang.org/x/sys/unix"

	"github.com/opencal/calpanel/internal/capability"
	"github.com/opencal/calpanel/internal/debug"
)

// i2cSlave is the I2C_SLAVE ioctl request from linux/i2c-dev.h.
const i2cSlave = 0x0703

// PCF8574 pin mapping: P0=RS P1=RW P2=E P3=backlight P4..P7=D4..D7.
const (
	bitRS        = 0x01
	bitEnable    = 0x04
	bitBacklight = 0x08
)

// HD44780 commands.
const (
	cmdClear       = 0x01
	cmdEntryMode   = 0x06 // increment, no shift
	cmdDisplayOn   = 0x0C // display on, cursor off, blink off
	cmdFunctionSet = 0x28 // 4-bit, 2 lines, 5x8
	cmdSetDDRAM    = 0x80
)

var rowOffsets = [4]byte{0x00, 0x40, 0x14, 0x54}

// Display is a rows x cols character LCD. Rows are cached so rewriting an
// unchanged line costs no bus traffic.
type Display struct {
	mu    sync.Mutex
	bus   io.Writer
	cols  int
	rows  int
	lines []string
	sleep func(time.Duration)
}

// Open opens the I2C bus device and addresses the backpack.
func Open(bus string, address, cols, rows int) (*Display, io.Closer, error) {
	f, err := os.OpenFile(bus, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open i2c bus %s: %w", bus, err)
	}
	if err := unix.IoctlSetInt(int(f.Fd()), i2cSlave, address); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("select i2c address %#x: %w", address, err)
	}
	d, err := New(f, cols, rows)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return d, f, nil
}

// New initialises the controller behind bus.
func New(bus io.Writer, cols, rows int) (*Display, error) {
	if rows > len(rowOffsets) {
		return nil, fmt.Errorf("lcd: at most %d rows supported, got %d", len(rowOffsets), rows)
	}
	d := &Display{
		bus:   bus,
		cols:  cols,
		rows:  rows,
		lines: make([]string, rows),
		sleep: time.Sleep,
	}
	if err := d.init(); err != nil {
		return nil, fmt.Errorf("lcd init: %w", err)
	}
	return d, nil
}

func (d *Display) init() error {
	// Force 8-bit mode three times, then switch to 4-bit.
	for _, n := range []byte{0x03, 0x03, 0x03, 0x02} {
		if err := d.writeNibble(n, 0); err != nil {
			return err
		}
		d.sleep(5 * time.Millisecond)
	}
	for _, c := range []byte{cmdFunctionSet, cmdDisplayOn, cmdClear, cmdEntryMode} {
		if err := d.command(c); err != nil {
			return err
		}
	}
	d.sleep(2 * time.Millisecond)
	return nil
}

func (d *Display) writeNibble(n byte, mode byte) error {
	data := n<<4 | mode | bitBacklight
	_, err := d.bus.Write([]byte{data | bitEnable, data})
	return err
}

func (d *Display) send(b byte, mode byte) error {
	if err := d.writeNibble(b>>4, mode); err != nil {
		return err
	}
	return d.writeNibble(b&0x0F, mode)
}

func (d *Display) command(c byte) error {
	return d.send(c, 0)
}

// Clear blanks the display.
func (d *Display) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	debug.Trace("lcd clear")
	if err := d.command(cmdClear); err != nil {
		return err
	}
	d.sleep(2 * time.Millisecond)
	for i := range d.lines {
		d.lines[i] = ""
	}
	return nil
}

// WriteLine writes text on row, padded or truncated to the display width.
func (d *Display) WriteLine(text string, row int) error {
	if row < 0 || row >= d.rows {
		return fmt.Errorf("lcd: row %d out of range 0-%d", row, d.rows-1)
	}
	line := runewidth.FillRight(runewidth.Truncate(text, d.cols, ""), d.cols)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lines[row] == line {
		return nil
	}
	debug.Trace("lcd row %d %q", row, line)
	if err := d.command(cmdSetDDRAM | rowOffsets[row]); err != nil {
		return err
	}
	for _, r := range line {
		if err := d.send(charCode(r), bitRS); err != nil {
			return err
		}
	}
	d.lines[row] = line
	return nil
}

// Lines returns the cached content of every row.
func (d *Display) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.lines))
	copy(out, d.lines)
	return out
}

// charCode maps a rune onto the HD44780 A00 ROM; anything outside ASCII
// becomes '?'.
func charCode(r rune) byte {
	if r < 0x20 || r > 0x7D {
		return '?'
	}
	return byte(r)
}

var _ capability.Display = (*Display)(nil)
