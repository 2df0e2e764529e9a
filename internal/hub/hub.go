// Package hub fans out mutation events to connected sessions. The hub
// is an explicit service passed to each session at construction, never
// ambient global state.
//
// Delivery is best-effort, at-most-once per subscriber per publish:
// sends never block, a slow subscriber simply misses events (its next
// rebuild catches up). Per scope, events arrive in publish order.
// There is no persistence and no replay for late subscribers.
package hub

import (
	"fmt"
	"sync"

	"tally/internal/view"
)

type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindStart  Kind = "start"
	KindStop   Kind = "stop"
	KindDelete Kind = "delete"
)

// Public is the visibility scope shared by every viewer.
const Public = "public"

// OwnerScope names the private scope for one person's items.
func OwnerScope(id int64) string {
	return fmt.Sprintf("owner:%d", id)
}

// ScopeFor maps an item owner to its event scope.
func ScopeFor(owner *int64) string {
	if owner == nil {
		return Public
	}
	return OwnerScope(*owner)
}

// Event is the wire message: what happened, where, and the recomputed
// visible list for that scope.
type Event struct {
	Kind  Kind            `json:"kind"`
	Scope string          `json:"scope"`
	Items []view.ItemView `json:"items"`
}

type scopeHub struct {
	subs map[chan Event]struct{}
}

// Hub is the process-wide pub/sub channel keyed by visibility scope.
type Hub struct {
	mu     sync.Mutex
	scopes map[string]*scopeHub
	closed bool
}

func New() *Hub {
	return &Hub{scopes: map[string]*scopeHub{}}
}

// Subscribe registers a subscriber under scope. The returned cancel
// removes the registration and closes the channel; calling it twice is
// safe.
func (h *Hub) Subscribe(scope string) (<-chan Event, func()) {
	ch := make(chan Event, 8)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	sh := h.scopes[scope]
	if sh == nil {
		sh = &scopeHub{subs: map[chan Event]struct{}{}}
		h.scopes[scope] = sh
	}
	sh.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sh, ok := h.scopes[scope]; ok {
				delete(sh.subs, ch)
			}
			alreadyClosed := h.closed
			h.mu.Unlock()
			if !alreadyClosed {
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers an event to every current subscriber of scope. The
// publish happens under the hub lock, so per-scope ordering matches
// publish order; sends are non-blocking.
func (h *Hub) Publish(scope string, kind Kind, items []view.ItemView) {
	ev := Event{Kind: kind, Scope: scope, Items: items}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	sh := h.scopes[scope]
	if sh == nil {
		return
	}
	for ch := range sh.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Shutdown closes every subscriber channel and rejects further
// publishes and subscriptions.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, sh := range h.scopes {
		for ch := range sh.subs {
			close(ch)
		}
	}
	h.scopes = map[string]*scopeHub{}
}
