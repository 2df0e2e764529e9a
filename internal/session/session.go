// Package session runs one controller per connected client. Each
// controller is a single-goroutine event loop consuming a mailbox of
// user actions and hub events, so no two operations of the same
// session ever run concurrently; separate sessions are fully parallel.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tally/internal/hub"
	"tally/internal/model"
	"tally/internal/store"
	"tally/internal/view"
)

type State int32

const (
	StateInitializing State = iota
	StateReady
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

type Op string

const (
	OpCreate  Op = "create"
	OpEdit    Op = "edit"
	OpToggle  Op = "toggle"
	OpArchive Op = "archive"
	OpStart   Op = "start"
	OpStop    Op = "stop"
	OpResume  Op = "resume"
)

// Action is one typed user request, validated at the transport boundary
// before it reaches the loop.
type Action struct {
	Op      Op
	ItemID  int64
	TimerID int64
	Text    string
	Status  model.Status
	At      time.Time // start/stop instant; zero means "now"
}

type Config struct {
	Store  *store.Store
	Hub    *hub.Hub
	Viewer *int64 // nil = anonymous

	// Render receives every recomputed snapshot, including re-renders
	// triggered by this session's own mutations arriving back through
	// the hub (idempotent by design). Called only from the loop
	// goroutine.
	Render func(kind hub.Kind, items []view.ItemView)

	// Error surfaces a failed action inline; the previous view stays
	// rendered. Called only from the loop goroutine.
	Error func(err error)

	Now func() time.Time
}

type Controller struct {
	cfg     Config
	mailbox chan Action
	quit    chan struct{}
	done    chan struct{}
	state   atomic.Int32

	stopOnce sync.Once
}

func New(cfg Config) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Render == nil {
		cfg.Render = func(hub.Kind, []view.ItemView) {}
	}
	if cfg.Error == nil {
		cfg.Error = func(error) {}
	}
	return &Controller{
		cfg:     cfg,
		mailbox: make(chan Action, 16),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *Controller) State() State { return State(c.state.Load()) }

// Done closes when the loop has fully terminated and unsubscribed.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Do enqueues a user action for the loop. Actions submitted after
// termination are rejected.
func (c *Controller) Do(a Action) error {
	select {
	case <-c.quit:
		return fmt.Errorf("session terminated")
	case c.mailbox <- a:
		return nil
	}
}

// Terminate asks the loop to stop. It returns immediately; wait on
// Done for the unsubscribe to land. In-flight storage results are
// discarded, never rendered.
func (c *Controller) Terminate() {
	c.stopOnce.Do(func() { close(c.quit) })
}

// Run subscribes, renders the initial view and consumes the mailbox
// until terminated. It blocks; callers start it in a goroutine.
//
// Every session watches the public scope; an authenticated session
// additionally watches its own owner scope, since its list contains
// both public and private items.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	defer c.state.Store(int32(StateTerminated))

	publicEvents, cancelPublic := c.cfg.Hub.Subscribe(hub.Public)
	defer cancelPublic()

	var ownerEvents <-chan hub.Event
	if c.cfg.Viewer != nil {
		var cancelOwner func()
		ownerEvents, cancelOwner = c.cfg.Hub.Subscribe(hub.OwnerScope(*c.cfg.Viewer))
		defer cancelOwner()
	}

	if items, err := view.Build(ctx, c.cfg.Store, c.cfg.Viewer, c.cfg.Now()); err != nil {
		c.cfg.Error(err)
	} else {
		c.cfg.Render(hub.KindUpdate, items)
	}
	c.state.Store(int32(StateReady))

	for {
		select {
		case <-c.quit:
			return
		case <-ctx.Done():
			return
		case a := <-c.mailbox:
			c.apply(ctx, a)
		case ev, ok := <-publicEvents:
			if !ok {
				return
			}
			c.rerender(ctx, ev.Kind)
		case ev, ok := <-ownerEvents:
			if !ok {
				return
			}
			c.rerender(ctx, ev.Kind)
		}
	}
}

// rerender recomputes this viewer's snapshot after a broadcast. The
// event payload carries the publisher's scope snapshot, but each viewer
// rebuilds through the aggregation query so private and public rows
// merge correctly.
func (c *Controller) rerender(ctx context.Context, kind hub.Kind) {
	items, err := view.Build(ctx, c.cfg.Store, c.cfg.Viewer, c.cfg.Now())
	if err != nil {
		c.cfg.Error(err)
		return
	}
	c.cfg.Render(kind, items)
}

// apply executes one user action: mutate, re-render locally, publish to
// the affected scope. On failure the last-good view is kept and the
// error is surfaced inline; the session never crashes.
func (c *Controller) apply(ctx context.Context, a Action) {
	at := a.At
	if at.IsZero() {
		at = c.cfg.Now()
	}

	var (
		kind  hub.Kind
		owner *int64
		err   error
	)
	switch a.Op {
	case OpCreate:
		var it model.Item
		it, err = c.cfg.Store.CreateItem(ctx, a.Text, c.cfg.Viewer, model.StatusActive)
		kind, owner = hub.KindCreate, it.OwnerID
	case OpEdit:
		var it model.Item
		it, err = c.cfg.Store.EditItem(ctx, a.ItemID, a.Text)
		kind, owner = hub.KindUpdate, it.OwnerID
	case OpToggle:
		var it model.Item
		it, err = c.cfg.Store.SetStatus(ctx, a.ItemID, a.Status)
		kind, owner = hub.KindUpdate, it.OwnerID
	case OpArchive:
		var it model.Item
		it, err = c.cfg.Store.Archive(ctx, a.ItemID)
		kind, owner = hub.KindDelete, it.OwnerID
	case OpStart, OpResume:
		_, err = c.cfg.Store.StartTimer(ctx, a.ItemID, at)
		kind = hub.KindStart
		if err == nil {
			owner, err = c.itemOwner(ctx, a.ItemID)
		}
	case OpStop:
		var tm model.Timer
		tm, err = c.cfg.Store.StopTimer(ctx, a.TimerID, at)
		kind = hub.KindStop
		if err == nil {
			owner, err = c.itemOwner(ctx, tm.ItemID)
		}
	default:
		err = fmt.Errorf("unknown op: %s", a.Op)
	}
	if err != nil {
		c.cfg.Error(err)
		return
	}

	now := c.cfg.Now()
	items, err := view.Build(ctx, c.cfg.Store, c.cfg.Viewer, now)
	if err != nil {
		c.cfg.Error(err)
		return
	}
	c.cfg.Render(kind, items)

	// Publish the scope's own snapshot, not this viewer's: public
	// subscribers must never receive private rows.
	scope := hub.ScopeFor(owner)
	snapshot := items
	if owner == nil && c.cfg.Viewer != nil {
		snapshot, err = view.Build(ctx, c.cfg.Store, nil, now)
		if err != nil {
			c.cfg.Error(err)
			return
		}
	}
	c.cfg.Hub.Publish(scope, kind, snapshot)
}

func (c *Controller) itemOwner(ctx context.Context, itemID int64) (*int64, error) {
	it, err := c.cfg.Store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return it.OwnerID, nil
}
