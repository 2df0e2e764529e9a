package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"tally/internal/interval"
)

func TestTimerLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	it, err := st.CreateItem(ctx, "Learn Elixir", nil, "")
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	t0 := time.Date(2022, 7, 17, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(30 * time.Minute)
	t2 := t0.Add(2 * time.Hour)
	t3 := t2.Add(45 * time.Minute)

	first, err := st.StartTimer(ctx, it.ID, t0)
	if err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	if !first.Running() {
		t.Fatalf("new timer must be running")
	}

	// Accumulated duration ticks while the segment is open.
	mid, err := st.TotalElapsed(ctx, it.ID, t0.Add(10*time.Minute))
	if err != nil || mid != 10*time.Minute {
		t.Fatalf("running elapsed: %v (%v)", mid, err)
	}

	if _, err := st.StopTimer(ctx, first.ID, t1); err != nil {
		t.Fatalf("StopTimer: %v", err)
	}

	// Resume creates a second, independent segment.
	second, err := st.StartTimer(ctx, it.ID, t2)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("resume must create a new timer record")
	}
	if _, err := st.StopTimer(ctx, second.ID, t3); err != nil {
		t.Fatalf("StopTimer: %v", err)
	}

	timers, err := st.ListTimers(ctx, it.ID)
	if err != nil {
		t.Fatalf("ListTimers: %v", err)
	}
	if len(timers) != 2 {
		t.Fatalf("expected exactly two segments, got %d", len(timers))
	}
	if timers[0].ID != first.ID || timers[1].ID != second.ID {
		t.Fatalf("segments must be oldest first")
	}

	total, err := st.TotalElapsed(ctx, it.ID, t3.Add(time.Hour))
	if err != nil {
		t.Fatalf("TotalElapsed: %v", err)
	}
	if want := (30 + 45) * time.Minute; total != want {
		t.Fatalf("total elapsed: got %v, want %v", total, want)
	}
}

func TestStartTimerUnknownItem(t *testing.T) {
	st := openTestStore(t)

	_, err := st.StartTimer(context.Background(), 42, time.Now())
	var nf NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.Kind != "item" {
		t.Fatalf("expected item kind, got %q", nf.Kind)
	}
}

func TestStopBeforeStartRejectedWithoutSideEffects(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	it, _ := st.CreateItem(ctx, "timed", nil, "")
	start := time.Date(2022, 7, 17, 13, 0, 0, 0, time.UTC)
	bad := time.Date(2022, 7, 17, 9, 0, 0, 0, time.UTC)

	tm, err := st.StartTimer(ctx, it.ID, start)
	if err != nil {
		t.Fatalf("StartTimer: %v", err)
	}

	_, err = st.StopTimer(ctx, tm.ID, bad)
	var ie *interval.Error
	if !errors.As(err, &ie) {
		t.Fatalf("expected interval error, got %v", err)
	}

	// Prior state unchanged: the segment is still open.
	got, err := st.GetTimer(ctx, tm.ID)
	if err != nil {
		t.Fatalf("GetTimer: %v", err)
	}
	if !got.Running() {
		t.Fatalf("rejected stop must not be applied")
	}
}

func TestUpdateTimerRevalidates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	it, _ := st.CreateItem(ctx, "corrections", nil, "")
	start := time.Date(2022, 7, 17, 9, 0, 0, 0, time.UTC)
	stop := start.Add(time.Hour)

	tm, _ := st.StartTimer(ctx, it.ID, start)
	if _, err := st.StopTimer(ctx, tm.ID, stop); err != nil {
		t.Fatalf("StopTimer: %v", err)
	}

	// Valid correction applies both bounds.
	newStart := start.Add(-15 * time.Minute)
	updated, err := st.UpdateTimer(ctx, tm.ID, newStart, &stop)
	if err != nil {
		t.Fatalf("UpdateTimer: %v", err)
	}
	if !updated.Start.Equal(newStart) {
		t.Fatalf("start not updated: %v", updated.Start)
	}

	// Invalid correction is rejected whole — no partial apply.
	badStop := newStart.Add(-time.Minute)
	if _, err := st.UpdateTimer(ctx, tm.ID, newStart, &badStop); err == nil {
		t.Fatalf("expected interval rejection")
	}
	after, _ := st.GetTimer(ctx, tm.ID)
	if after.Stop == nil || !after.Stop.Equal(stop) {
		t.Fatalf("rejected update leaked: %v", after.Stop)
	}

	// Clearing stop reopens the segment (manual correction path).
	reopened, err := st.UpdateTimer(ctx, tm.ID, newStart, nil)
	if err != nil {
		t.Fatalf("UpdateTimer reopen: %v", err)
	}
	if !reopened.Running() {
		t.Fatalf("expected running after clearing stop")
	}

	var nf NotFoundError
	if _, err := st.StopTimer(ctx, 9999, stop); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for unknown timer, got %v", err)
	}
}

func TestConcurrentStartsBothLand(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	it, _ := st.CreateItem(ctx, "racy", nil, "")
	now := time.Now()

	// Two starts on the same item are not serialized: both succeed and
	// both segments show up as running. Accepted data-quality race.
	a, err := st.StartTimer(ctx, it.ID, now)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	b, err := st.StartTimer(ctx, it.ID, now)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct timer rows")
	}

	timers, _ := st.ListTimers(ctx, it.ID)
	open := 0
	for _, tm := range timers {
		if tm.Running() {
			open++
		}
	}
	if open != 2 {
		t.Fatalf("expected two open segments, got %d", open)
	}
}
