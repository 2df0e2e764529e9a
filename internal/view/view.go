// Package view builds the per-client item list: items visible to a
// viewer joined with their timers and accumulated elapsed time.
package view

import (
	"context"
	"time"

	"tally/internal/model"
	"tally/internal/store"
)

// ItemView is one row of the rendered list. Elapsed is evaluated at
// build time, so a running timer shows a live, growing value on each
// rebuild.
type ItemView struct {
	ID        int64         `json:"id"`
	OwnerID   *int64        `json:"ownerId,omitempty"`
	Text      string        `json:"text"`
	Status    model.Status  `json:"status"`
	Running   bool          `json:"running"`
	Elapsed   time.Duration `json:"elapsedNs"`
	Timers    []model.Timer `json:"timers"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Build produces a snapshot of the list visible to viewer (nil =
// anonymous), newest item first, timers per item in creation order.
// The snapshot does not update itself; callers rebuild on every
// reconciliation tick or broadcast event.
func Build(ctx context.Context, st *store.Store, viewer *int64, now time.Time) ([]ItemView, error) {
	items, err := st.ListItems(ctx, viewer, false)
	if err != nil {
		return nil, err
	}

	out := make([]ItemView, 0, len(items))
	for _, it := range items {
		timers, err := st.ListTimers(ctx, it.ID)
		if err != nil {
			return nil, err
		}
		running := false
		for _, t := range timers {
			if t.Running() {
				running = true
				break
			}
		}
		out = append(out, ItemView{
			ID:        it.ID,
			OwnerID:   it.OwnerID,
			Text:      it.Text,
			Status:    it.Status,
			Running:   running,
			Elapsed:   model.TotalElapsed(timers, now),
			Timers:    timers,
			CreatedAt: it.CreatedAt,
			UpdatedAt: it.UpdatedAt,
		})
	}
	return out, nil
}
