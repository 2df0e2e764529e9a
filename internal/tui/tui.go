package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"tally/internal/hub"
	"tally/internal/session"
	"tally/internal/store"
	"tally/internal/view"
)

// Run drives a full-screen TUI backed by its own session controller.
// The controller's renders and errors arrive through a channel the
// program drains with a waitForEvent command, so the model never
// touches the store directly.
func Run(st *store.Store) error {
	applyColorProfilePreference()
	applyThemePreference()

	h := hub.New()
	defer h.Shutdown()

	events := make(chan tea.Msg, 32)
	ctrl := newController(st, h, events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)
	defer func() {
		ctrl.Terminate()
		<-ctrl.Done()
	}()

	m := newAppModel(ctrl, events)
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// newController wires a session controller whose renders and errors
// feed the program's event channel. Sends never block: once the
// program stops draining (it already exited), events are dropped so
// Terminate and the Done wait cannot wedge on the loop goroutine.
func newController(st *store.Store, h *hub.Hub, events chan<- tea.Msg) *session.Controller {
	push := func(m tea.Msg) {
		select {
		case events <- m:
		default:
		}
	}
	return session.New(session.Config{
		Store: st,
		Hub:   h,
		Render: func(kind hub.Kind, items []view.ItemView) {
			push(viewMsg{kind: kind, items: items})
		},
		Error: func(err error) {
			push(errMsg{err: err})
		},
	})
}
