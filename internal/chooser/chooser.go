// Package chooser implements the transient full-screen goroutine picker
// from SPEC_FULL.md §4.10 (C10), modeled on napisani-proctmux's
// internal/tui/toggle_model.go tea.Model idiom: a radio list with Debug/Exit
// buttons, Tab/Shift-Tab moving focus between them, bound to whatever
// streams the caller supplies.
package chooser

import (
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ianremillard/rdbg/internal/inject"
)

// Candidate is one selectable live goroutine (spec.md §4.10: "name +
// identity").
type Candidate struct {
	ID   inject.ID
	Name string
}

type focusTarget int

const (
	focusList focusTarget = iota
	focusDebug
	focusExit
)

type keyMap struct {
	Up, Down, Tab, ShiftTab, Enter, Quit key.Binding
}

var keys = keyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k")),
	Down:     key.NewBinding(key.WithKeys("down", "j")),
	Tab:      key.NewBinding(key.WithKeys("tab")),
	ShiftTab: key.NewBinding(key.WithKeys("shift+tab")),
	Enter:    key.NewBinding(key.WithKeys("enter")),
	Quit:     key.NewBinding(key.WithKeys("esc", "ctrl+c")),
}

var (
	titleStyle        = lipgloss.NewStyle().Bold(true)
	itemStyle         = lipgloss.NewStyle().PaddingLeft(2)
	selectedItemStyle = itemStyle.Copy().Foreground(lipgloss.Color("212"))
	dimStyle          = lipgloss.NewStyle().Faint(true)
)

type model struct {
	candidates *orderedmap.OrderedMap[inject.ID, string]
	order      []inject.ID

	cursor int
	focus  focusTarget

	chosen   inject.ID
	chosenOK bool
	quitting bool
}

func newModel(candidates []Candidate) model {
	om := orderedmap.New[inject.ID, string]()
	order := make([]inject.ID, 0, len(candidates))
	for _, c := range candidates {
		om.Set(c.ID, c.Name)
		order = append(order, c.ID)
	}
	return model{candidates: om, order: order}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(keyMsg, keys.Quit):
		m.chosenOK = false
		m.quitting = true
		return m, tea.Quit
	case key.Matches(keyMsg, keys.Up):
		if m.focus == focusList && m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(keyMsg, keys.Down):
		if m.focus == focusList && m.cursor < len(m.order)-1 {
			m.cursor++
		}
	case key.Matches(keyMsg, keys.Tab):
		m.focus = (m.focus + 1) % 3
	case key.Matches(keyMsg, keys.ShiftTab):
		m.focus = (m.focus + 2) % 3
	case key.Matches(keyMsg, keys.Enter):
		switch m.focus {
		case focusList, focusDebug:
			if len(m.order) > 0 {
				m.chosen = m.order[m.cursor]
				m.chosenOK = true
			}
		case focusExit:
			m.chosenOK = false
		}
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Choose a goroutine to debug"))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(dimStyle.Render("  (no live goroutines)"))
		b.WriteString("\n")
	}
	for i, id := range m.order {
		name, _ := m.candidates.Get(id)
		line := fmt.Sprintf("%s (#%d)", name, uint64(id))
		if i == m.cursor && m.focus == focusList {
			b.WriteString(selectedItemStyle.Render("> " + line))
		} else {
			b.WriteString(itemStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(renderButton("Debug", m.focus == focusDebug))
	b.WriteString("  ")
	b.WriteString(renderButton("Exit", m.focus == focusExit))
	b.WriteString("\n")
	return b.String()
}

func renderButton(label string, focused bool) string {
	if focused {
		return color.New(color.FgBlack, color.BgYellow).Sprintf(" %s ", label)
	}
	return dimStyle.Render(fmt.Sprintf("[%s]", label))
}

// Run displays the chooser bound to in/out until the user picks a
// candidate, picks Exit, or ctx is cancelled (spec.md §4.9 step 3: "a
// client sending EOF mid-chooser causes the chooser task to cancel
// cleanly"). It returns the chosen goroutine's ID and true, or ok=false on
// Exit/cancellation/EOF.
func Run(ctx context.Context, in io.Reader, out io.Writer, candidates []Candidate) (inject.ID, bool, error) {
	m := newModel(candidates)
	p := tea.NewProgram(m, tea.WithInput(in), tea.WithOutput(out))

	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-stopWatch:
		}
	}()

	final, err := p.Run()
	close(stopWatch)
	if err != nil {
		return 0, false, err
	}

	fm, ok := final.(model)
	if !ok {
		return 0, false, nil
	}
	return fm.chosen, fm.chosenOK, nil
}
