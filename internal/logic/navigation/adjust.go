package navigation

import (
	"fmt"

	"github.com/opencal/calpanel/internal/logic/menu"
)

// Static hint rows shown while adjusting.
const (
	HintAdjust = "Use rotary to adjust"
	HintCommit = "Click to set"
)

// Adjustment is the state of the value adjustment mode. It exists only
// while a VariableTrigger is being edited.
type Adjustment struct {
	trigger    *menu.VariableTrigger
	value      int
	returnMenu *menu.Submenu
	warning    string
}

func newAdjustment(t *menu.VariableTrigger, from *menu.Submenu) *Adjustment {
	a := &Adjustment{trigger: t, returnMenu: from}
	if t.Get != nil {
		a.value = t.Get()
	}
	return a
}

// Variable returns the name of the setting being edited.
func (a *Adjustment) Variable() string { return a.trigger.Variable }

// Value returns the pending value.
func (a *Adjustment) Value() int { return a.value }

// Warning returns the bound violation message, empty when none.
func (a *Adjustment) Warning() string { return a.warning }

// ReturnMenu is the menu restored on commit.
func (a *Adjustment) ReturnMenu() *menu.Submenu { return a.returnMenu }

// step moves the value by one in the direction of delta, refusing to cross
// the trigger's bounds.
func (a *Adjustment) step(delta int) bool {
	t := a.trigger
	next := a.value + 1
	if delta < 0 {
		next = a.value - 1
	}
	switch {
	case t.Floor != nil && next < *t.Floor:
		a.warning = t.FloorWarning
		if a.warning == "" {
			a.warning = fmt.Sprintf("Cannot go below %d", *t.Floor)
		}
	case t.Ceiling != nil && next > *t.Ceiling:
		a.warning = fmt.Sprintf("Cannot go above %d", *t.Ceiling)
	default:
		a.value = next
		a.warning = ""
	}
	return true
}

func (a *Adjustment) lines() []string {
	last := a.trigger.Caption
	if a.warning != "" {
		last = a.warning
	}
	return []string{
		fmt.Sprintf("Current %s: %d", a.trigger.Variable, a.value),
		HintAdjust,
		HintCommit,
		last,
	}
}
