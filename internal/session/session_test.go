package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tally/internal/hub"
	"tally/internal/store"
	"tally/internal/view"
)

type rendered struct {
	kind  hub.Kind
	items []view.ItemView
}

type harness struct {
	ctrl    *Controller
	renders chan rendered
	errs    chan error
}

func startSession(t *testing.T, st *store.Store, h *hub.Hub, viewer *int64) *harness {
	t.Helper()
	out := &harness{
		renders: make(chan rendered, 32),
		errs:    make(chan error, 32),
	}
	out.ctrl = New(Config{
		Store:  st,
		Hub:    h,
		Viewer: viewer,
		Render: func(k hub.Kind, items []view.ItemView) {
			out.renders <- rendered{kind: k, items: items}
		},
		Error: func(err error) { out.errs <- err },
	})
	go out.ctrl.Run(context.Background())
	t.Cleanup(func() {
		out.ctrl.Terminate()
		<-out.ctrl.Done()
	})

	// Initial snapshot marks the session ready.
	out.waitRender(t)
	return out
}

func (h *harness) waitRender(t *testing.T) rendered {
	t.Helper()
	select {
	case r := <-h.renders:
		return r
	case err := <-h.errs:
		t.Fatalf("unexpected session error: %v", err)
		return rendered{}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for render")
		return rendered{}
	}
}

func (h *harness) waitError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errs:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for error")
		return nil
	}
}

func (h *harness) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case r := <-h.renders:
		t.Fatalf("unexpected render: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCreatePropagatesToOtherSession(t *testing.T) {
	st := openStore(t)
	h := hub.New()
	defer h.Shutdown()

	a := startSession(t, st, h, nil)
	b := startSession(t, st, h, nil)

	if err := a.ctrl.Do(Action{Op: OpCreate, Text: "shared task"}); err != nil {
		t.Fatalf("Do: %v", err)
	}

	// Originator renders from its own mutation, then again when its
	// published event loops back. Both show the new row.
	ra := a.waitRender(t)
	if ra.kind != hub.KindCreate || len(ra.items) != 1 || ra.items[0].Text != "shared task" {
		t.Fatalf("originator render: %+v", ra)
	}

	// The unrelated subscribed session observes the mutation.
	rb := b.waitRender(t)
	if rb.kind != hub.KindCreate || len(rb.items) != 1 || rb.items[0].Text != "shared task" {
		t.Fatalf("observer render: %+v", rb)
	}
}

func TestFailedActionKeepsViewAndSurfacesError(t *testing.T) {
	st := openStore(t)
	h := hub.New()
	defer h.Shutdown()

	s := startSession(t, st, h, nil)

	if err := s.ctrl.Do(Action{Op: OpCreate, Text: "   "}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if err := s.waitError(t); err == nil {
		t.Fatalf("expected validation error surfaced")
	}
	// No render, no publish, session still alive.
	s.assertQuiet(t)
	if s.ctrl.State() != StateReady {
		t.Fatalf("session must stay ready after a failed action, got %s", s.ctrl.State())
	}

	// The session keeps working afterwards.
	if err := s.ctrl.Do(Action{Op: OpCreate, Text: "recovered"}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	r := s.waitRender(t)
	if len(r.items) != 1 || r.items[0].Text != "recovered" {
		t.Fatalf("post-failure render: %+v", r)
	}
}

func TestPrivateMutationInvisibleToPublicSession(t *testing.T) {
	st := openStore(t)
	h := hub.New()
	defer h.Shutdown()

	alice, err := st.EnsurePerson(context.Background(), 0, "Alice", "github")
	if err != nil {
		t.Fatalf("EnsurePerson: %v", err)
	}

	owner := startSession(t, st, h, &alice.ID)
	public := startSession(t, st, h, nil)

	if err := owner.ctrl.Do(Action{Op: OpCreate, Text: "private plan"}); err != nil {
		t.Fatalf("Do: %v", err)
	}

	r := owner.waitRender(t)
	if len(r.items) != 1 || r.items[0].Text != "private plan" {
		t.Fatalf("owner render: %+v", r)
	}

	// The anonymous session must observe nothing at all.
	public.assertQuiet(t)
}

func TestTimerActionsRender(t *testing.T) {
	st := openStore(t)
	h := hub.New()
	defer h.Shutdown()

	s := startSession(t, st, h, nil)

	if err := s.ctrl.Do(Action{Op: OpCreate, Text: "Learn Elixir"}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	r := s.waitRender(t)
	itemID := r.items[0].ID
	drain(s)

	t0 := time.Now().Add(-time.Minute)
	if err := s.ctrl.Do(Action{Op: OpStart, ItemID: itemID, At: t0}); err != nil {
		t.Fatalf("Do start: %v", err)
	}
	r = s.waitRender(t)
	if r.kind != hub.KindStart || !r.items[0].Running {
		t.Fatalf("start render: kind=%s running=%v", r.kind, r.items[0].Running)
	}
	if r.items[0].Elapsed <= 0 {
		t.Fatalf("running elapsed must be positive, got %v", r.items[0].Elapsed)
	}
	timerID := r.items[0].Timers[0].ID
	drain(s)

	if err := s.ctrl.Do(Action{Op: OpStop, TimerID: timerID}); err != nil {
		t.Fatalf("Do stop: %v", err)
	}
	r = s.waitRender(t)
	if r.kind != hub.KindStop || r.items[0].Running {
		t.Fatalf("stop render: kind=%s running=%v", r.kind, r.items[0].Running)
	}
}

func TestTerminateRejectsFurtherActions(t *testing.T) {
	st := openStore(t)
	h := hub.New()
	defer h.Shutdown()

	s := startSession(t, st, h, nil)
	s.ctrl.Terminate()
	<-s.ctrl.Done()

	if s.ctrl.State() != StateTerminated {
		t.Fatalf("expected terminated, got %s", s.ctrl.State())
	}
	if err := s.ctrl.Do(Action{Op: OpCreate, Text: "too late"}); err == nil {
		t.Fatalf("expected rejection after terminate")
	}
}

// drain discards the loop-back render caused by the session's own
// published event, so the next waitRender sees the next action.
func drain(h *harness) {
	for {
		select {
		case <-h.renders:
		case <-time.After(150 * time.Millisecond):
			return
		}
	}
}
