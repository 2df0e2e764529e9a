package tui

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"tally/internal/hub"
	"tally/internal/model"
	"tally/internal/session"
	"tally/internal/store"
	"tally/internal/view"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{45 * time.Second, "0:45"},
		{30 * time.Minute, "30:00"},
		{75 * time.Minute, "1:15:00"},
	}
	for _, tt := range tests {
		if got := formatElapsed(tt.d); got != tt.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestCursorNavigationAndHideDone(t *testing.T) {
	m := newAppModel(nil, nil)
	m.items = []view.ItemView{
		{ID: 1, Text: "one", Status: model.StatusActive},
		{ID: 2, Text: "two", Status: model.StatusDone},
		{ID: 3, Text: "three", Status: model.StatusActive},
	}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	m = next.(appModel)
	if it, _ := m.selected(); it.ID != 2 {
		t.Fatalf("cursor after j: %d", it.ID)
	}

	// Hiding done items collapses the visible list; selection follows
	// the visible index, not the underlying slice.
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("h")})
	m = next.(appModel)
	if len(m.visible()) != 2 {
		t.Fatalf("visible after hide: %d", len(m.visible()))
	}
	if it, _ := m.selected(); it.ID != 3 {
		t.Fatalf("selected after hide: %d", it.ID)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	m = next.(appModel)
	if it, _ := m.selected(); it.ID != 1 {
		t.Fatalf("cursor after k: %d", it.ID)
	}
}

func TestViewShowsRunningMarker(t *testing.T) {
	now := time.Now()
	start := now.Add(-10 * time.Minute)
	line := renderItemLine(view.ItemView{
		ID:      1,
		Text:    "Learn Elixir",
		Status:  model.StatusActive,
		Running: true,
		Timers:  []model.Timer{{ID: 1, ItemID: 1, Start: start}},
	}, now)
	if !strings.Contains(line, "Learn Elixir") {
		t.Fatalf("line missing text: %q", line)
	}
	if !strings.Contains(line, "10:00") {
		t.Fatalf("line missing live elapsed: %q", line)
	}
}

func TestAddFlowRoundTrip(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	h := hub.New()
	defer h.Shutdown()

	events := make(chan tea.Msg, 32)
	ctrl := session.New(session.Config{
		Store:  st,
		Hub:    h,
		Render: func(kind hub.Kind, items []view.ItemView) { events <- viewMsg{kind: kind, items: items} },
		Error:  func(err error) { events <- errMsg{err: err} },
	})
	go ctrl.Run(context.Background())
	defer func() {
		ctrl.Terminate()
		<-ctrl.Done()
	}()

	// Initial snapshot.
	waitMsg(t, events)

	m := newAppModel(ctrl, events)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")})
	m = next.(appModel)
	if m.mode != modeAdd {
		t.Fatalf("mode after a: %d", m.mode)
	}

	for _, r := range "tea break" {
		next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = next.(appModel)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(appModel)
	if m.mode != modeList {
		t.Fatalf("mode after enter: %d", m.mode)
	}

	msg := waitMsg(t, events)
	vm, ok := msg.(viewMsg)
	if !ok {
		t.Fatalf("expected viewMsg, got %T", msg)
	}
	if len(vm.items) != 1 || vm.items[0].Text != "tea break" {
		t.Fatalf("render after add: %+v", vm.items)
	}
}

func TestTerminateCompletesWhenProgramStopsDraining(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	h := hub.New()
	defer h.Shutdown()

	// Nobody drains this channel, as after the program has exited.
	events := make(chan tea.Msg, 1)
	ctrl := newController(st, h, events)
	go ctrl.Run(context.Background())

	for i := 0; i < 8; i++ {
		if err := ctrl.Do(session.Action{Op: session.OpCreate, Text: "backlog"}); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}

	ctrl.Terminate()
	select {
	case <-ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("controller wedged on an undrained event channel")
	}
}

func waitMsg(t *testing.T, ch <-chan tea.Msg) tea.Msg {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session message")
		return nil
	}
}
