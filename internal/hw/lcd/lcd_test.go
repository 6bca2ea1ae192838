package lcd

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func newTestDisplay(t *testing.T) (*Display, *bytes.Buffer) {
	t.Helper()
	var bus bytes.Buffer
	d, err := New(&bus, 20, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.sleep = func(time.Duration) {}
	bus.Reset()
	return d, &bus
}

// decode rebuilds the bytes sent in data mode (RS set) from the nibble
// stream, keeping only the latched (E high) writes.
func decode(raw []byte) (data []byte, cmds []byte) {
	var nibbles []byte
	var modes []byte
	for _, b := range raw {
		if b&bitEnable == 0 {
			continue
		}
		nibbles = append(nibbles, b>>4)
		modes = append(modes, b&bitRS)
	}
	for i := 0; i+1 < len(nibbles); i += 2 {
		v := nibbles[i]<<4 | nibbles[i+1]
		if modes[i] != 0 {
			data = append(data, v)
		} else {
			cmds = append(cmds, v)
		}
	}
	return data, cmds
}

func TestWriteLine_PadsAndPositions(t *testing.T) {
	d, bus := newTestDisplay(t)

	if err := d.WriteLine(">Settings", 2); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	data, cmds := decode(bus.Bytes())
	if len(cmds) != 1 || cmds[0] != cmdSetDDRAM|0x14 {
		t.Errorf("expected DDRAM address for row 2, got %x", cmds)
	}
	want := ">Settings" + strings.Repeat(" ", 11)
	if string(data) != want {
		t.Errorf("data = %q, want %q", data, want)
	}
}

func TestWriteLine_Truncates(t *testing.T) {
	d, bus := newTestDisplay(t)
	long := strings.Repeat("x", 30)
	if err := d.WriteLine(long, 0); err != nil {
		t.Fatal(err)
	}
	data, _ := decode(bus.Bytes())
	if len(data) != 20 {
		t.Errorf("expected 20 characters on the bus, got %d", len(data))
	}
}

func TestWriteLine_SkipsUnchanged(t *testing.T) {
	d, bus := newTestDisplay(t)
	_ = d.WriteLine("Elapsed: 00:01", 3)
	bus.Reset()
	_ = d.WriteLine("Elapsed: 00:01", 3)
	if bus.Len() != 0 {
		t.Errorf("rewriting identical text should not touch the bus, wrote %d bytes", bus.Len())
	}
}

func TestClear_ResetsCache(t *testing.T) {
	d, bus := newTestDisplay(t)
	_ = d.WriteLine("hello", 1)
	if err := d.Clear(); err != nil {
		t.Fatal(err)
	}
	for i, l := range d.Lines() {
		if l != "" {
			t.Errorf("row %d not cleared: %q", i, l)
		}
	}
	bus.Reset()
	_ = d.WriteLine("hello", 1)
	if bus.Len() == 0 {
		t.Error("write after Clear must reach the bus")
	}
}

func TestWriteLine_RowOutOfRange(t *testing.T) {
	d, _ := newTestDisplay(t)
	if err := d.WriteLine("x", 4); err == nil {
		t.Error("expected error for row 4 on a 4-row display")
	}
	if err := d.WriteLine("x", -1); err == nil {
		t.Error("expected error for negative row")
	}
}

func TestCharCode(t *testing.T) {
	if charCode('A') != 'A' {
		t.Error("ASCII should pass through")
	}
	if charCode('é') != '?' {
		t.Error("non-ASCII should map to '?'")
	}
}
