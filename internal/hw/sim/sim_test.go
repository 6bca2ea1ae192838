package sim

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestPanel_DisplayRows(t *testing.T) {
	p := NewPanel(20, 4)
	_ = p.WriteLine(">Print from USB", 0)
	_ = p.WriteLine(strings.Repeat("x", 25), 1)
	_ = p.WriteLine("ignored", 9)

	lines := p.Lines()
	if lines[0] != ">Print from USB" {
		t.Errorf("row 0 = %q", lines[0])
	}
	if len(lines[1]) != 20 {
		t.Errorf("row 1 should be truncated to 20, got %d", len(lines[1]))
	}
	_ = p.Clear()
	for i, l := range p.Lines() {
		if l != "" {
			t.Errorf("row %d not cleared", i)
		}
	}
}

func TestPanel_Keys(t *testing.T) {
	p := NewPanel(20, 4)
	now := time.Unix(100, 0)
	p.now = func() time.Time { return now }
	quit := false
	var m tea.Model = model{panel: p, quit: func() { quit = true }}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	if p.Position() != 1 {
		t.Errorf("position = %d, want 1", p.Position())
	}

	if p.ButtonPressed() {
		t.Error("button should start released")
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if !p.ButtonPressed() {
		t.Error("enter should press the button")
	}
	now = now.Add(time.Second)
	if p.ButtonPressed() {
		t.Error("press should be released after the hold time")
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !quit || cmd == nil {
		t.Error("ctrl+c should cancel and quit")
	}
}

func TestRender_ContainsRows(t *testing.T) {
	out := Render([]string{">main", " Settings"}, 20)
	if !strings.Contains(out, ">main") || !strings.Contains(out, " Settings") {
		t.Errorf("render missing rows:\n%s", out)
	}
}
