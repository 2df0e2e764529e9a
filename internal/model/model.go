package model

import "time"

type Status string

const (
	StatusActive   Status = "active"
	StatusDone     Status = "done"
	StatusArchived Status = "archived"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusDone, StatusArchived:
		return true
	}
	return false
}

// CanTransition reports whether an item may move from s to next.
// Active and done toggle freely; both may be archived. Archived is
// terminal — the only accepted "transition" is archiving again, which
// callers treat as a no-op.
func (s Status) CanTransition(next Status) bool {
	if !next.Valid() {
		return false
	}
	switch s {
	case StatusActive, StatusDone:
		return true
	case StatusArchived:
		return next == StatusArchived
	}
	return false
}

// Person is an authenticated identity. The tuple (id, name, provider)
// comes from the identity boundary as-is; no credentials live here.
type Person struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Provider  string    `json:"provider"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
}

// Item is a unit of trackable work. OwnerID nil means public: visible
// to every viewer, anonymous or not.
type Item struct {
	ID        int64     `json:"id"`
	OwnerID   *int64    `json:"ownerId,omitempty"`
	Text      string    `json:"text"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (it Item) Public() bool { return it.OwnerID == nil }

// VisibleTo reports whether viewer (nil = anonymous) may see the item.
func (it Item) VisibleTo(viewer *int64) bool {
	if it.OwnerID == nil {
		return true
	}
	return viewer != nil && *viewer == *it.OwnerID
}

// Timer is one measured work segment on an item. Stop nil means the
// segment is still running. Segments are never reopened: resuming work
// creates a new Timer so history stays auditable.
type Timer struct {
	ID     int64      `json:"id"`
	ItemID int64      `json:"itemId"`
	Start  time.Time  `json:"start"`
	Stop   *time.Time `json:"stop,omitempty"`
}

func (t Timer) Running() bool { return t.Stop == nil }

// Elapsed returns the segment length, evaluating a running segment at now.
func (t Timer) Elapsed(now time.Time) time.Duration {
	end := now
	if t.Stop != nil {
		end = *t.Stop
	}
	d := end.Sub(t.Start)
	if d < 0 {
		return 0
	}
	return d
}

// TotalElapsed sums segment lengths across timers, evaluating running
// segments at now. Non-decreasing as now advances.
func TotalElapsed(timers []Timer, now time.Time) time.Duration {
	var total time.Duration
	for _, t := range timers {
		total += t.Elapsed(now)
	}
	return total
}
