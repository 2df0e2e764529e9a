package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tally/internal/hub"
	"tally/internal/model"
	"tally/internal/session"
	"tally/internal/view"
)

type mode int

const (
	modeList mode = iota
	modeAdd
	modeEdit
)

// Messages pushed from the session controller into the program.
type viewMsg struct {
	kind  hub.Kind
	items []view.ItemView
}

type errMsg struct{ err error }

type tickMsg time.Time

type appModel struct {
	ctrl   *session.Controller
	events <-chan tea.Msg

	items    []view.ItemView
	cursor   int
	mode     mode
	input    textinput.Model
	editID   int64
	lastErr  string
	width    int
	height   int
	showDone bool
}

func newAppModel(ctrl *session.Controller, events <-chan tea.Msg) appModel {
	ti := textinput.New()
	ti.Placeholder = "what are you working on?"
	ti.CharLimit = 500
	ti.Width = 48
	return appModel{
		ctrl:     ctrl,
		events:   events,
		input:    ti,
		showDone: true,
	}
}

func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-ch }
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m appModel) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tick())
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case viewMsg:
		m.items = msg.items
		if m.cursor >= len(m.items) {
			m.cursor = len(m.items) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		m.lastErr = ""
		return m, waitForEvent(m.events)

	case errMsg:
		m.lastErr = msg.err.Error()
		return m, waitForEvent(m.events)

	case tickMsg:
		// Re-render only; running elapsed values derive from time.Now
		// at view time.
		return m, tick()

	case tea.KeyMsg:
		if m.mode == modeAdd || m.mode == modeEdit {
			return m.updateInput(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

func (m appModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}

	case "a":
		m.mode = modeAdd
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink

	case "e":
		if it, ok := m.selected(); ok {
			m.mode = modeEdit
			m.editID = it.ID
			m.input.SetValue(it.Text)
			m.input.Focus()
			return m, textinput.Blink
		}

	case " ", "d":
		if it, ok := m.selected(); ok {
			next := model.StatusDone
			if it.Status == model.StatusDone {
				next = model.StatusActive
			}
			m.do(session.Action{Op: session.OpToggle, ItemID: it.ID, Status: next})
		}

	case "s":
		if it, ok := m.selected(); ok {
			if it.Running {
				if tm, ok := runningTimer(it); ok {
					m.do(session.Action{Op: session.OpStop, TimerID: tm.ID})
				}
			} else {
				m.do(session.Action{Op: session.OpStart, ItemID: it.ID})
			}
		}

	case "x":
		if it, ok := m.selected(); ok {
			m.do(session.Action{Op: session.OpArchive, ItemID: it.ID})
		}

	case "h":
		m.showDone = !m.showDone
	}
	return m, nil
}

func (m appModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeList
		m.input.Blur()
		return m, nil

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if m.mode == modeEdit {
			m.do(session.Action{Op: session.OpEdit, ItemID: m.editID, Text: text})
		} else {
			m.do(session.Action{Op: session.OpCreate, Text: text})
		}
		m.mode = modeList
		m.input.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// do hands an action to the session mailbox. The result arrives later
// as a viewMsg or errMsg; a terminated session surfaces immediately.
func (m *appModel) do(a session.Action) {
	if err := m.ctrl.Do(a); err != nil {
		m.lastErr = err.Error()
	}
}

func (m appModel) selected() (view.ItemView, bool) {
	vis := m.visible()
	if len(vis) == 0 || m.cursor >= len(vis) {
		return view.ItemView{}, false
	}
	return vis[m.cursor], true
}

func (m appModel) visible() []view.ItemView {
	if m.showDone {
		return m.items
	}
	out := make([]view.ItemView, 0, len(m.items))
	for _, it := range m.items {
		if it.Status != model.StatusDone {
			out = append(out, it)
		}
	}
	return out
}

func runningTimer(it view.ItemView) (model.Timer, bool) {
	for _, tm := range it.Timers {
		if tm.Running() {
			return tm, true
		}
	}
	return model.Timer{}, false
}

func (m appModel) View() string {
	var b strings.Builder

	b.WriteString(styleTitle.Render("tally"))
	b.WriteString("\n\n")

	now := time.Now()
	vis := m.visible()
	if len(vis) == 0 {
		b.WriteString(styleMuted.Render("no items yet; press a to add one"))
		b.WriteString("\n")
	}
	for i, it := range vis {
		line := renderItemLine(it, now)
		if i == m.cursor && m.mode == modeList {
			line = styleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.mode == modeAdd || m.mode == modeEdit {
		b.WriteString("\n")
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	if m.lastErr != "" {
		b.WriteString("\n")
		b.WriteString(styleError.Render(m.lastErr))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(styleMuted.Render("a add · e edit · space done · s start/stop · x archive · h hide done · q quit"))
	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}

func renderItemLine(it view.ItemView, now time.Time) string {
	mark := "[ ]"
	if it.Status == model.StatusDone {
		mark = "[x]"
	}

	elapsed := it.Elapsed
	if it.Running {
		// Extend open segments up to the render instant.
		elapsed = model.TotalElapsed(it.Timers, now)
	}

	meta := formatElapsed(elapsed)
	if it.Running {
		meta = styleRunning.Render("▶ " + meta)
	} else {
		meta = styleMuted.Render(meta)
	}

	text := it.Text
	if it.Status == model.StatusDone {
		text = styleDone.Render(text)
	}
	return fmt.Sprintf("%s %s  %s", mark, text, meta)
}

func formatElapsed(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
