// Package sim is a terminal stand-in for the front panel: it renders the
// LCD rows in a framed box and turns keystrokes into encoder steps and
// button presses, so the panel can be driven on a development machine.
package sim

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/opencal/calpanel/internal/capability"
	"github.com/opencal/calpanel/internal/debug"
)

// pressHold is how long a key press keeps the button reported as down.
const pressHold = 150 * time.Millisecond

// Panel implements Display and InputDevice in memory.
type Panel struct {
	cols int

	mu    sync.Mutex
	lines []string

	position   atomic.Int64
	pressUntil atomic.Int64

	now func() time.Time
}

// NewPanel creates a cols x rows simulated panel.
func NewPanel(cols, rows int) *Panel {
	return &Panel{cols: cols, lines: make([]string, rows), now: time.Now}
}

func (p *Panel) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.lines {
		p.lines[i] = ""
	}
	return nil
}

func (p *Panel) WriteLine(text string, row int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if row < 0 || row >= len(p.lines) {
		return nil
	}
	p.lines[row] = runewidth.Truncate(text, p.cols, "")
	return nil
}

// Lines returns a copy of the rows.
func (p *Panel) Lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.lines))
	copy(out, p.lines)
	return out
}

func (p *Panel) Position() int { return int(p.position.Load()) }

func (p *Panel) ButtonPressed() bool {
	return p.now().UnixNano() < p.pressUntil.Load()
}

// Turn moves the virtual encoder by delta steps.
func (p *Panel) Turn(delta int) {
	p.position.Add(int64(delta))
}

// Press holds the virtual button down briefly.
func (p *Panel) Press() {
	p.pressUntil.Store(p.now().Add(pressHold).UnixNano())
}

var (
	frameStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("33")).
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("22")).
			Padding(0, 1)
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type refreshMsg time.Time

func refresh() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

type model struct {
	panel *Panel
	quit  func()
}

func (m model) Init() tea.Cmd { return refresh() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "j", "down", "right":
			m.panel.Turn(1)
		case "k", "up", "left":
			m.panel.Turn(-1)
		case "enter", " ":
			m.panel.Press()
		case "q", "ctrl+c":
			m.quit()
			return m, tea.Quit
		}
	case refreshMsg:
		return m, refresh()
	}
	return m, nil
}

func (m model) View() string {
	return Render(m.panel.Lines(), m.panel.cols) + "\n" +
		helpStyle.Render("j/k or arrows: turn  enter/space: click  q: quit") + "\n"
}

// Render frames the rows the way the LCD shows them.
func Render(lines []string, cols int) string {
	rows := make([]string, len(lines))
	for i, l := range lines {
		rows[i] = runewidth.FillRight(runewidth.Truncate(l, cols, ""), cols)
	}
	return frameStyle.Render(strings.Join(rows, "\n"))
}

// Run shows the panel until ctx ends or the user quits; quitting calls
// cancel so the control loop shuts down too.
func (p *Panel) Run(ctx context.Context, cancel context.CancelFunc) error {
	prog := tea.NewProgram(model{panel: p, quit: cancel}, tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		prog.Quit()
	}()
	_, err := prog.Run()
	debug.Verbose("sim: terminal panel closed: %v", err)
	return err
}

var (
	_ capability.Display     = (*Panel)(nil)
	_ capability.InputDevice = (*Panel)(nil)
)
