package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tally/internal/model"
	"tally/internal/view"
)

func newAddCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Create a public item",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(app)
			if err != nil {
				return err
			}
			defer st.Close()

			it, err := st.CreateItem(cmd.Context(), strings.Join(args, " "), nil, model.StatusActive)
			if err != nil {
				return err
			}
			return writeOut(cmd, app, map[string]any{"item": it})
		},
	}
	return cmd
}

func newListCmd(app *App) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items with running state and total elapsed time",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(app)
			if err != nil {
				return err
			}
			defer st.Close()

			items, err := view.Build(cmd.Context(), st, nil, time.Now())
			if err != nil {
				return err
			}
			if !all {
				return writeOut(cmd, app, map[string]any{"items": items})
			}

			full, err := st.ListItems(cmd.Context(), nil, true)
			if err != nil {
				return err
			}
			return writeOut(cmd, app, map[string]any{"items": full})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include archived items")
	return cmd
}

func newEditCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <item-id> <text>",
		Short: "Replace an item's text",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := openStore(app)
			if err != nil {
				return err
			}
			defer st.Close()

			it, err := st.EditItem(cmd.Context(), id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return writeOut(cmd, app, map[string]any{"item": it})
		},
	}
	return cmd
}

func newDoneCmd(app *App) *cobra.Command {
	var reopen bool

	cmd := &cobra.Command{
		Use:   "done <item-id>",
		Short: "Mark an item done (or active again with --undo)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := openStore(app)
			if err != nil {
				return err
			}
			defer st.Close()

			status := model.StatusDone
			if reopen {
				status = model.StatusActive
			}
			it, err := st.SetStatus(cmd.Context(), id, status)
			if err != nil {
				return err
			}
			return writeOut(cmd, app, map[string]any{"item": it})
		},
	}

	cmd.Flags().BoolVar(&reopen, "undo", false, "Set the item back to active")
	return cmd
}

func newArchiveCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <item-id>",
		Short: "Archive an item (terminal; it keeps its rows but leaves all lists)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := openStore(app)
			if err != nil {
				return err
			}
			defer st.Close()

			it, err := st.Archive(cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeOut(cmd, app, map[string]any{"item": it})
		},
	}
	return cmd
}

func newStartCmd(app *App) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "start <item-id>",
		Short: "Start (or resume) timing an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			start, err := parseAt(at)
			if err != nil {
				return err
			}
			st, err := openStore(app)
			if err != nil {
				return err
			}
			defer st.Close()

			tm, err := st.StartTimer(cmd.Context(), id, start)
			if err != nil {
				return err
			}
			return writeOut(cmd, app, map[string]any{"timer": tm})
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Start instant (RFC3339, default now)")
	return cmd
}

func newStopCmd(app *App) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "stop <item-id>",
		Short: "Stop the item's running timer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			stop, err := parseAt(at)
			if err != nil {
				return err
			}
			st, err := openStore(app)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			timer, err := runningTimer(ctx, st, id)
			if err != nil {
				return err
			}
			tm, err := st.StopTimer(ctx, timer.ID, stop)
			if err != nil {
				return err
			}
			total, err := st.TotalElapsed(ctx, id, time.Now())
			if err != nil {
				return err
			}
			return writeOut(cmd, app, map[string]any{"timer": tm, "totalElapsed": total.String()})
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Stop instant (RFC3339, default now)")
	return cmd
}

// runningTimer resolves an item id to its open timer. With the
// unserialized start race two timers can be running at once; the oldest
// is stopped first.
func runningTimer(ctx context.Context, st storeAPI, itemID int64) (model.Timer, error) {
	timers, err := st.ListTimers(ctx, itemID)
	if err != nil {
		return model.Timer{}, err
	}
	for _, tm := range timers {
		if tm.Running() {
			return tm, nil
		}
	}
	return model.Timer{}, fmt.Errorf("item %d has no running timer", itemID)
}

// storeAPI is the slice of the store the timer helpers need.
type storeAPI interface {
	ListTimers(ctx context.Context, itemID int64) ([]model.Timer, error)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("malformed item reference: %q", raw)
	}
	return id, nil
}

func parseAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		return t, nil
	}
	return time.Time{}, errors.New("invalid instant, want RFC3339")
}
