// Package navigation moves a cursor through the menu tree from rotary
// encoder positions and renders the visible window on the display.
package navigation

import (
	"fmt"

	"github.com/mattn/go-runewidth"

	"github.com/opencal/calpanel/internal/capability"
	"github.com/opencal/calpanel/internal/debug"
	"github.com/opencal/calpanel/internal/logic/menu"
)

// ViewSize is the number of menu rows visible at once.
const ViewSize = 4

// Engine owns the navigation state. It is not safe for concurrent use; the
// control loop is its only caller.
type Engine struct {
	display capability.Display
	width   int

	root    *menu.Submenu
	stack   []*menu.Submenu
	current *menu.Submenu
	items   []menu.Node

	cursor    int
	viewStart int
	lastPos   int

	adjust *Adjustment
}

// New creates an engine showing root. position is the encoder reading at
// startup, used as the reference for the first delta.
func New(display capability.Display, root *menu.Submenu, width, position int) *Engine {
	e := &Engine{
		display: display,
		width:   width,
		root:    root,
		lastPos: position,
	}
	e.enter(root)
	return e
}

// Current returns the submenu being shown.
func (e *Engine) Current() *menu.Submenu { return e.current }

// Items returns the item snapshot taken when the current menu was entered.
func (e *Engine) Items() []menu.Node { return e.items }

// Cursor returns the selected index.
func (e *Engine) Cursor() int { return e.cursor }

// ViewStart returns the index of the first visible row.
func (e *Engine) ViewStart() int { return e.viewStart }

// Depth returns the number of menus on the back stack.
func (e *Engine) Depth() int { return len(e.stack) }

// Adjustment returns the active adjustment, or nil while navigating.
func (e *Engine) Adjustment() *Adjustment { return e.adjust }

// Adjusting reports whether input is routed to the adjustment mode.
func (e *Engine) Adjusting() bool { return e.adjust != nil }

func (e *Engine) enter(m *menu.Submenu) {
	e.current = m
	e.items = m.Items()
	e.cursor = 0
	e.viewStart = 0
	debug.Verbose("nav: enter %q (%d items)", m.Name, len(e.items))
}

// Show replaces the screen with m, emptying the back stack and cancelling
// any adjustment in progress.
func (e *Engine) Show(m *menu.Submenu) error {
	e.adjust = nil
	e.stack = e.stack[:0]
	e.enter(m)
	return e.Render()
}

// ShowRoot returns to the root menu.
func (e *Engine) ShowRoot() error { return e.Show(e.root) }

// Tick feeds one encoder reading. It re-renders only when something
// visible changed.
func (e *Engine) Tick(position int) error {
	delta := position - e.lastPos
	e.lastPos = position
	if delta == 0 {
		return nil
	}
	if e.adjust != nil {
		if !e.adjust.step(delta) {
			return nil
		}
		return e.Render()
	}
	if !e.move(delta) {
		return nil
	}
	return e.Render()
}

// move applies the sign of delta to the cursor, one row per tick.
func (e *Engine) move(delta int) bool {
	n := len(e.items)
	if n == 0 {
		return false
	}
	switch {
	case delta > 0 && e.cursor < n-1:
		e.cursor++
	case delta < 0 && e.cursor > 0:
		e.cursor--
	default:
		return false
	}
	if e.cursor < e.viewStart {
		e.viewStart = e.cursor
	} else if e.cursor >= e.viewStart+ViewSize {
		e.viewStart = e.cursor - ViewSize + 1
	}
	return true
}

// Press handles a debounced button press: commit while adjusting, select
// otherwise.
func (e *Engine) Press() error {
	if e.adjust != nil {
		return e.Commit()
	}
	return e.Select()
}

// Select activates the item under the cursor.
func (e *Engine) Select() error {
	if len(e.items) == 0 {
		return nil
	}
	item := e.items[e.cursor]
	debug.Live("select %s > %s", e.current.Name, item.Label())

	if item.Label() == menu.Back {
		prev := e.root
		if n := len(e.stack); n > 0 {
			prev = e.stack[n-1]
			e.stack = e.stack[:n-1]
		}
		e.enter(prev)
		return e.Render()
	}

	switch n := item.(type) {
	case *menu.Submenu:
		e.stack = append(e.stack, e.current)
		e.enter(n)
		return e.Render()
	case *menu.Action:
		var err error
		if n.Invoke != nil {
			err = n.Invoke()
		}
		// The action may have navigated; draw whatever is current.
		if rerr := e.Render(); err == nil {
			err = rerr
		}
		return err
	case *menu.VariableTrigger:
		e.adjust = newAdjustment(n, e.current)
		debug.Verbose("nav: adjust %s from %d", n.Variable, e.adjust.value)
		return e.Render()
	}
	return nil
}

// Commit stores the adjusted value and leaves the adjustment mode.
func (e *Engine) Commit() error {
	a := e.adjust
	if a == nil {
		return nil
	}
	e.adjust = nil
	debug.Info("%s set to %d", a.trigger.Variable, a.value)

	var err error
	if a.trigger.Set != nil {
		err = a.trigger.Set(a.value)
	}
	next := a.returnMenu
	if err == nil && a.trigger.Then != nil {
		if m := a.trigger.Then(); m != nil {
			return e.Show(m)
		}
	}
	e.current = next
	e.items = next.Items()
	if e.cursor >= len(e.items) {
		e.cursor, e.viewStart = 0, 0
	}
	if rerr := e.Render(); err == nil {
		err = rerr
	}
	return err
}

// Render draws the current screen.
func (e *Engine) Render() error {
	if e.adjust != nil {
		return e.writeRows(e.adjust.lines())
	}
	rows := make([]string, ViewSize)
	for i := range rows {
		idx := e.viewStart + i
		if idx >= len(e.items) {
			continue
		}
		marker := " "
		if idx == e.cursor {
			marker = ">"
		}
		rows[i] = marker + e.items[idx].Label()
	}
	return e.writeRows(rows)
}

func (e *Engine) writeRows(rows []string) error {
	for i, r := range rows {
		if err := e.display.WriteLine(fit(r, e.width), i); err != nil {
			return fmt.Errorf("render row %d: %w", i, err)
		}
	}
	return nil
}

// fit pads or truncates s to exactly width cells.
func fit(s string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(s, width, ""), width)
}
