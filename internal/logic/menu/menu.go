// Package menu defines the front panel menu tree. A node is one of three
// kinds: a Submenu to descend into, an Action run for its side effects, or
// a VariableTrigger that opens the value adjustment mode.
package menu

import (
	"fmt"

	"github.com/opencal/calpanel/internal/debug"
)

// Back is the reserved label that returns to the previous menu.
const Back = "back"

// Node is a menu entry.
type Node interface {
	Label() string
	node()
}

// Submenu is a named list of nodes. Static submenus keep a fixed item list;
// dynamic ones rebuild their items from a loader every time they are
// entered.
type Submenu struct {
	Name  string
	items []Node
	lead  []Node
	load  func() ([]Node, error)
}

// NewSubmenu builds a static submenu. Duplicate labels are a programming
// error and panic.
func NewSubmenu(name string, items ...Node) *Submenu {
	if dup := firstDuplicate(items); dup != "" {
		panic(fmt.Sprintf("menu %q: duplicate label %q", name, dup))
	}
	return &Submenu{Name: name, items: items}
}

// NewDynamic builds a submenu whose items are lead followed by whatever load
// returns at entry time.
func NewDynamic(name string, load func() ([]Node, error), lead ...Node) *Submenu {
	return &Submenu{Name: name, lead: lead, load: load}
}

func (s *Submenu) Label() string { return s.Name }
func (s *Submenu) node()          {}

// Dynamic reports whether the items are rebuilt on entry.
func (s *Submenu) Dynamic() bool { return s.load != nil }

// Items returns the current item list. For dynamic submenus the loader is
// queried again; a loader failure leaves only the lead items. Entries whose
// label was already seen are dropped, so items stay unique by label.
func (s *Submenu) Items() []Node {
	if s.load == nil {
		return s.items
	}
	loaded, err := s.load()
	if err != nil {
		debug.Error(fmt.Errorf("menu %q: %w", s.Name, err))
	}
	out := make([]Node, 0, len(s.lead)+len(loaded))
	seen := make(map[string]bool, cap(out))
	for _, n := range append(append([]Node{}, s.lead...), loaded...) {
		if seen[n.Label()] {
			continue
		}
		seen[n.Label()] = true
		out = append(out, n)
	}
	return out
}

// Action runs Invoke when selected.
type Action struct {
	Name   string
	Invoke func() error
}

func (a *Action) Label() string { return a.Name }
func (a *Action) node()          {}

// BackItem returns the "back" entry placed at the top of child menus.
func BackItem() *Action {
	return &Action{Name: Back}
}

// VariableTrigger opens the adjustment mode for one integer setting.
type VariableTrigger struct {
	Name     string
	Variable string
	Get      func() int
	Set      func(int) error

	// Floor and Ceiling bound the value when non-nil.
	Floor   *int
	Ceiling *int
	// FloorWarning replaces the default "Cannot go below N" message.
	FloorWarning string

	// Caption is shown on the last row while adjusting.
	Caption string
	// Then, when set, is called after a successful commit. A non-nil
	// result is shown instead of the menu the trigger was selected from.
	Then func() *Submenu
}

func (v *VariableTrigger) Label() string { return v.Name }
func (v *VariableTrigger) node()          {}

// Int returns a pointer to n, for Floor and Ceiling.
func Int(n int) *int { return &n }

// Labels lists the labels of nodes in order.
func Labels(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Label()
	}
	return out
}

func firstDuplicate(nodes []Node) string {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.Label()] {
			return n.Label()
		}
		seen[n.Label()] = true
	}
	return ""
}
